// Package httpapi exposes the upload coordination services over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/michalmalinowski87/photovault/internal/common"
	"github.com/michalmalinowski87/photovault/internal/logging"
	"github.com/michalmalinowski87/photovault/internal/server/models"
	"github.com/michalmalinowski87/photovault/internal/server/services"
)

type Handler struct {
	uploads *services.UploadService
	logger  logging.Logger
}

func NewHandler(uploads *services.UploadService, logger logging.Logger) *Handler {
	return &Handler{uploads: uploads, logger: logger.With("module", "httpapi")}
}

// Routes registers every endpoint on mux. Everything except the health check
// goes through auth, which stores the caller id in the request context.
func (h *Handler) Routes(mux *http.ServeMux, auth func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /health", h.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/galleries", h.handleCreateGallery)
	api.HandleFunc("GET /api/galleries/{id}", h.handleGetGallery)
	api.HandleFunc("GET /api/galleries/{id}/quota", h.handleQuota)
	api.HandleFunc("POST /api/galleries/{id}/uploads/plan", h.handlePlanBatch)
	api.HandleFunc("POST /api/galleries/{id}/uploads/credentials", h.handleIssueCredential)
	api.HandleFunc("POST /api/galleries/{id}/uploads/multipart", h.handleCreateMultipart)
	api.HandleFunc("GET /api/galleries/{id}/uploads/multipart/{uploadID}", h.handleResumeMultipart)
	api.HandleFunc("POST /api/galleries/{id}/uploads/multipart/{uploadID}/complete", h.handleCompleteMultipart)
	api.HandleFunc("DELETE /api/galleries/{id}/uploads/multipart/{uploadID}", h.handleAbortMultipart)
	api.HandleFunc("POST /api/galleries/{id}/uploads/completions", h.handleRecordCompletion)
	api.HandleFunc("PUT /api/galleries/{id}/expiry", h.handleSetExpiry)
	api.HandleFunc("DELETE /api/galleries/{id}/expiry", h.handleClearExpiry)
	api.HandleFunc("POST /api/galleries/{id}/deletion", h.handleScheduleDeletion)

	mux.Handle("/api/", auth(api))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type createGalleryRequest struct {
	Name string `json:"name"`
}

type galleryResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func toGalleryResponse(g *models.Gallery) galleryResponse {
	return galleryResponse{ID: g.ID, Name: g.Name, ExpiresAt: g.ExpiresAt, CreatedAt: g.CreatedAt}
}

func (h *Handler) handleCreateGallery(w http.ResponseWriter, r *http.Request) {
	var req createGalleryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		h.writeError(w, "InvalidRequest", "gallery name is required", http.StatusBadRequest, nil)
		return
	}

	g, err := h.uploads.CreateGallery(r.Context(), ownerFrom(r.Context()), req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toGalleryResponse(g))
}

func (h *Handler) handleGetGallery(w http.ResponseWriter, r *http.Request) {
	g, err := h.uploads.GetGallery(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toGalleryResponse(g))
}

type quotaResponse struct {
	Pool       string `json:"pool"`
	UsedBytes  int64  `json:"usedBytes"`
	LimitBytes int64  `json:"limitBytes"`
}

func (h *Handler) handleQuota(w http.ResponseWriter, r *http.Request) {
	pool := models.Pool(r.URL.Query().Get("pool"))
	adm, err := h.uploads.QuotaUsage(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), pool)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, quotaResponse{
		Pool: string(pool), UsedBytes: adm.UsedBytes, LimitBytes: adm.LimitBytes,
	})
}

type planFileRequest struct {
	FileID      string `json:"fileId"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	ContentType string `json:"contentType"`
}

type planBatchRequest struct {
	Pool        string            `json:"pool"`
	SubPath     string            `json:"subPath,omitempty"`
	OnCollision *collisionRequest `json:"onCollision,omitempty"`
	Files       []planFileRequest `json:"files"`
}

type collisionRequest struct {
	Action     string `json:"action"`
	ApplyToAll bool   `json:"applyToAll"`
}

type plannedUploadResponse struct {
	FileID    string `json:"fileId"`
	FileName  string `json:"fileName"`
	Key       string `json:"key,omitempty"`
	Multipart bool   `json:"multipart"`
	Skipped   bool   `json:"skipped"`
}

type planBatchResponse struct {
	Files      []plannedUploadResponse `json:"files"`
	UsedBytes  int64                   `json:"usedBytes"`
	LimitBytes int64                   `json:"limitBytes"`
}

func collisionChoice(req *collisionRequest) (*services.CollisionChoice, error) {
	if req == nil {
		return nil, nil
	}
	var action services.CollisionAction
	switch req.Action {
	case "stop":
		action = services.ActionStop
	case "skip":
		action = services.ActionSkip
	case "replace":
		action = services.ActionReplace
	case "duplicate":
		action = services.ActionDuplicate
	default:
		return nil, errors.New("unknown collision action " + req.Action)
	}
	return &services.CollisionChoice{Action: action, ApplyToAll: req.ApplyToAll}, nil
}

func (h *Handler) handlePlanBatch(w http.ResponseWriter, r *http.Request) {
	var req planBatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	choice, err := collisionChoice(req.OnCollision)
	if err != nil {
		h.writeError(w, "InvalidRequest", err.Error(), http.StatusBadRequest, nil)
		return
	}

	files := make([]services.PlannedFile, len(req.Files))
	for i, f := range req.Files {
		files[i] = services.PlannedFile{
			FileID: f.FileID, FileName: f.FileName, FileSize: f.FileSize, ContentType: f.ContentType,
		}
	}

	plan, err := h.uploads.PlanBatch(r.Context(), ownerFrom(r.Context()), &services.BatchPlanRequest{
		GalleryID:   r.PathValue("id"),
		Pool:        models.Pool(req.Pool),
		SubPath:     req.SubPath,
		OnCollision: choice,
		Files:       files,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := planBatchResponse{
		Files:      make([]plannedUploadResponse, len(plan.Files)),
		UsedBytes:  plan.Admission.UsedBytes,
		LimitBytes: plan.Admission.LimitBytes,
	}
	for i, f := range plan.Files {
		resp.Files[i] = plannedUploadResponse{
			FileID: f.FileID, FileName: f.FileName, Key: f.Key, Multipart: f.Multipart, Skipped: f.Skipped,
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type credentialRequest struct {
	FileID      string `json:"fileId"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	ContentType string `json:"contentType"`
	Pool        string `json:"pool"`
	SubPath     string `json:"subPath,omitempty"`
}

type credentialResponse struct {
	URL          string `json:"url"`
	ObjectKey    string `json:"objectKey"`
	PreviewURL   string `json:"previewUrl,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

func (h *Handler) handleIssueCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !h.decode(w, r, &req) {
		return
	}

	cred, err := h.uploads.IssueCredential(r.Context(), &models.UploadRequest{
		FileID:      req.FileID,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		ContentType: req.ContentType,
		Pool:        models.Pool(req.Pool),
		OwnerID:     ownerFrom(r.Context()),
		GalleryID:   r.PathValue("id"),
		SubPath:     req.SubPath,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, credentialResponse{
		URL: cred.URL, ObjectKey: cred.ObjectKey,
		PreviewURL: cred.PreviewURL, ThumbnailURL: cred.ThumbnailURL,
	})
}

type createMultipartRequest struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	ContentType string `json:"contentType"`
	Pool        string `json:"pool"`
	SubPath     string `json:"subPath,omitempty"`
	PartSize    int64  `json:"partSize"`
}

type createMultipartResponse struct {
	UploadID   string   `json:"uploadId"`
	ObjectKey  string   `json:"objectKey"`
	PartSize   int64    `json:"partSize"`
	TotalParts int      `json:"totalParts"`
	PartURLs   []string `json:"partUrls"`
}

func (h *Handler) handleCreateMultipart(w http.ResponseWriter, r *http.Request) {
	var req createMultipartRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.uploads.CreateMultipart(r.Context(), ownerFrom(r.Context()), &models.UploadRequest{
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		ContentType: req.ContentType,
		Pool:        models.Pool(req.Pool),
		OwnerID:     ownerFrom(r.Context()),
		GalleryID:   r.PathValue("id"),
		SubPath:     req.SubPath,
	}, req.PartSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, createMultipartResponse{
		UploadID:   created.UploadID,
		ObjectKey:  created.ObjectKey,
		PartSize:   created.PartSize,
		TotalParts: created.TotalParts,
		PartURLs:   created.PartURLs,
	})
}

type partResponse struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}

type resumeResponse struct {
	Parts     []partResponse `json:"parts"`
	Uncertain bool           `json:"uncertain"`
}

func (h *Handler) handleResumeMultipart(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		h.writeError(w, "InvalidRequest", "key query parameter is required", http.StatusBadRequest, nil)
		return
	}

	res, err := h.uploads.ResumeMultipart(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), r.PathValue("uploadID"), key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := resumeResponse{Parts: make([]partResponse, len(res.Parts)), Uncertain: res.Uncertain}
	for i, p := range res.Parts {
		resp.Parts[i] = partResponse{PartNumber: p.PartNumber, ETag: p.ETag, Size: p.Size}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type completeMultipartRequest struct {
	Key   string `json:"key"`
	Parts []struct {
		PartNumber int32  `json:"partNumber"`
		ETag       string `json:"etag"`
	} `json:"parts"`
}

type completeMultipartResponse struct {
	Location string `json:"location"`
	ETag     string `json:"etag"`
}

func (h *Handler) handleCompleteMultipart(w http.ResponseWriter, r *http.Request) {
	var req completeMultipartRequest
	if !h.decode(w, r, &req) {
		return
	}

	parts := make([]models.CompletedPart, len(req.Parts))
	for i, p := range req.Parts {
		parts[i] = models.CompletedPart{PartNumber: p.PartNumber, ETag: p.ETag}
	}

	res, err := h.uploads.CompleteMultipart(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), r.PathValue("uploadID"), req.Key, parts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, completeMultipartResponse{Location: res.Location, ETag: res.ETag})
}

func (h *Handler) handleAbortMultipart(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		h.writeError(w, "InvalidRequest", "key query parameter is required", http.StatusBadRequest, nil)
		return
	}

	err := h.uploads.AbortMultipart(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), r.PathValue("uploadID"), key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type completionRequest struct {
	ObjectKey         string `json:"objectKey"`
	Pool              string `json:"pool"`
	Size              int64  `json:"size"`
	ETag              string `json:"etag"`
	LastModifiedEpoch int64  `json:"lastModifiedEpoch"`
}

type completionResponse struct {
	Status string `json:"status"`
}

func (h *Handler) handleRecordCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if !h.decode(w, r, &req) {
		return
	}

	status, err := h.uploads.RecordCompletion(r.Context(), ownerFrom(r.Context()), &models.ObjectMetadata{
		GalleryID:         r.PathValue("id"),
		ObjectKey:         req.ObjectKey,
		Pool:              models.Pool(req.Pool),
		Size:              req.Size,
		ETag:              req.ETag,
		LastModifiedEpoch: req.LastModifiedEpoch,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := completionResponse{Status: "recorded"}
	if status == services.CompletionAlreadyRecorded {
		resp.Status = "alreadyRecorded"
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type expiryRequest struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handler) handleSetExpiry(w http.ResponseWriter, r *http.Request) {
	var req expiryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ExpiresAt.IsZero() {
		h.writeError(w, "InvalidRequest", "expiresAt is required", http.StatusBadRequest, nil)
		return
	}

	if err := h.uploads.SetExpiry(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), req.ExpiresAt); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClearExpiry(w http.ResponseWriter, r *http.Request) {
	if err := h.uploads.ClearExpiry(r.Context(), ownerFrom(r.Context()), r.PathValue("id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deletionRequest struct {
	DeleteAt time.Time `json:"deleteAt"`
}

func (h *Handler) handleScheduleDeletion(w http.ResponseWriter, r *http.Request) {
	var req deletionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.DeleteAt.IsZero() {
		h.writeError(w, "InvalidRequest", "deleteAt is required", http.StatusBadRequest, nil)
		return
	}

	if err := h.uploads.ScheduleDeletion(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), req.DeleteAt); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, "InvalidRequest", "malformed JSON body", http.StatusBadRequest, nil)
		return false
	}
	return true
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Quota figures, present only on quota rejections.
	UsedBytes      *int64 `json:"usedBytes,omitempty"`
	LimitBytes     *int64 `json:"limitBytes,omitempty"`
	CandidateBytes *int64 `json:"candidateBytes,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// writeServiceError maps service errors to machine-checkable reason codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var qerr *common.QuotaExceededError
	switch {
	case errors.As(err, &qerr):
		h.writeError(w, "QuotaExceeded", qerr.Error(), http.StatusRequestEntityTooLarge, qerr)
	case errors.Is(err, common.ErrorNotFound):
		h.writeError(w, "NotFound", "gallery not found", http.StatusNotFound, nil)
	case errors.Is(err, common.ErrorUnauthorized):
		h.writeError(w, "AccessDenied", "caller does not own this gallery", http.StatusForbidden, nil)
	case errors.Is(err, common.ErrBatchStopped):
		h.writeError(w, "BatchStopped", err.Error(), http.StatusConflict, nil)
	case errors.Is(err, common.ErrUploadInProgress):
		h.writeError(w, "UploadInProgress", err.Error(), http.StatusConflict, nil)
	case errors.Is(err, common.ErrUnknownPool):
		h.writeError(w, "InvalidRequest", err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, common.ErrPartSizeOutOfRange), errors.Is(err, common.ErrTooManyParts):
		h.writeError(w, "MultipartProtocolError", err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, common.ErrWindowClosed):
		h.writeError(w, "ShuttingDown", "server is shutting down", http.StatusServiceUnavailable, nil)
	case errors.Is(err, common.ErrCredentialIssuance):
		h.writeError(w, "CredentialIssuanceFailed", err.Error(), http.StatusBadGateway, nil)
	default:
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		h.writeError(w, "InternalError", "internal error", http.StatusInternalServerError, nil)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code, message string, status int, qerr *common.QuotaExceededError) {
	body := errorBody{Code: code, Message: message}
	if qerr != nil {
		body.UsedBytes = &qerr.UsedBytes
		body.LimitBytes = &qerr.LimitBytes
		body.CandidateBytes = &qerr.CandidateBytes
	}
	h.writeJSON(w, status, errorResponse{Error: body})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error(context.Background(), "failed to encode response", "error", err)
	}
}
