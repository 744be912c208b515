package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/michalmalinowski87/photovault/internal/clock"
	"github.com/michalmalinowski87/photovault/internal/dbx"
	"github.com/michalmalinowski87/photovault/internal/common"
	"github.com/michalmalinowski87/photovault/internal/logging"
	"github.com/michalmalinowski87/photovault/internal/server/models"
	"github.com/michalmalinowski87/photovault/internal/server/repositories/repomanager"
	"github.com/michalmalinowski87/photovault/internal/server/storage"
)

// SchedulerTargets holds the invocation targets handed to the scheduling
// service for the two deferred gallery actions.
type SchedulerTargets struct {
	ExpireTargetRef string
	DeleteTargetRef string
	RoleRef         string
	DeadLetterRef   string
}

// PlannedFile is one client-enumerated file entering batch planning.
type PlannedFile struct {
	FileID      string
	FileName    string
	FileSize    int64
	ContentType string
}

// BatchPlanRequest is the input of PlanBatch: the gallery scope, the files,
// and an optional pre-supplied collision choice.
type BatchPlanRequest struct {
	GalleryID string
	Pool      models.Pool
	SubPath   string
	// OnCollision, when set, answers every collision without prompting.
	OnCollision *CollisionChoice
	Files       []PlannedFile
}

// PlannedUpload is the planning outcome for one file.
type PlannedUpload struct {
	FileID   string
	FileName string
	Key      string
	// Multipart marks files that must go through the multipart path.
	Multipart bool
	Skipped   bool
}

// BatchPlan is an admitted upload plan: collision-resolved names, the
// direct-PUT/multipart split, and the quota figures the admission saw.
type BatchPlan struct {
	Files     []PlannedUpload
	Admission Admission
}

// UploadService ties the coordination pieces together the way the product's
// upload flow drives them: plan a batch, issue credentials, shepherd large
// files through multipart, record completions, and keep gallery deadlines in
// the scheduling service. Ownership is checked against the gallery row
// before any credential or mutation.
type UploadService struct {
	db    *sql.DB
	repos repomanager.RepositoryManager

	batcher   *CredentialBatcher
	multipart *MultipartCoordinator
	ledger    *QuotaLedger
	recorder  *CompletionRecorder
	scheduler *DeferredActionScheduler

	targets SchedulerTargets
	clk     clock.Clock
	logger  logging.Logger
}

func NewUploadService(
	db *sql.DB,
	repos repomanager.RepositoryManager,
	batcher *CredentialBatcher,
	multipart *MultipartCoordinator,
	ledger *QuotaLedger,
	recorder *CompletionRecorder,
	scheduler *DeferredActionScheduler,
	targets SchedulerTargets,
	clk clock.Clock,
	logger logging.Logger,
) *UploadService {
	return &UploadService{
		db:        db,
		repos:     repos,
		batcher:   batcher,
		multipart: multipart,
		ledger:    ledger,
		recorder:  recorder,
		scheduler: scheduler,
		targets:   targets,
		clk:       clk,
		logger:    logger.With("module", "upload_service"),
	}
}

// objectKey builds the storage key for a file in a gallery pool.
func objectKey(galleryID string, pool models.Pool, subPath, fileName string) string {
	if subPath != "" {
		return fmt.Sprintf("galleries/%s/%s/%s/%s", galleryID, pool, subPath, fileName)
	}
	return fmt.Sprintf("galleries/%s/%s/%s", galleryID, pool, fileName)
}

func objectKeyPrefix(galleryID string, pool models.Pool, subPath string) string {
	if subPath != "" {
		return fmt.Sprintf("galleries/%s/%s/%s/", galleryID, pool, subPath)
	}
	return fmt.Sprintf("galleries/%s/%s/", galleryID, pool)
}

// keyInGallery reports whether a client-supplied object key lies under the
// gallery's storage prefix. All galleries share one bucket, so every
// operation taking a key from the caller must hold this invariant before
// touching storage.
func keyInGallery(galleryID, key string) bool {
	return strings.HasPrefix(key, "galleries/"+galleryID+"/")
}

// CreateGallery registers a new gallery owned by the caller. The gallery row
// and its zeroed pool counters are written in one transaction, so the first
// admission always reads an existing counter.
func (s *UploadService) CreateGallery(ctx context.Context, ownerID, name string) (*models.Gallery, error) {
	g := &models.Gallery{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: s.clk.Now(),
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Galleries(tx).Create(ctx, g); err != nil {
			return err
		}
		for _, pool := range []models.Pool{models.PoolSource, models.PoolDelivered} {
			if err := s.repos.Quotas(tx).AddUsage(ctx, g.ID, pool, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gallery: %w", err)
	}

	return g, nil
}

// GetGallery returns the caller's gallery.
func (s *UploadService) GetGallery(ctx context.Context, ownerID, galleryID string) (*models.Gallery, error) {
	return s.authorize(ctx, ownerID, galleryID)
}

// QuotaUsage reports the current counter figures for one pool.
func (s *UploadService) QuotaUsage(ctx context.Context, ownerID, galleryID string, pool models.Pool) (*Admission, error) {
	if _, err := s.authorize(ctx, ownerID, galleryID); err != nil {
		return nil, err
	}
	if !pool.Valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownPool, pool)
	}
	return s.ledger.Admit(ctx, galleryID, pool, 0)
}

// PlanBatch prepares one upload batch: a single authoritative listing of
// existing keys, collision resolution, quota admission on the batch total,
// and the direct-PUT versus multipart split. A quota rejection is returned
// as *common.QuotaExceededError carrying the figures.
func (s *UploadService) PlanBatch(ctx context.Context, ownerID string, req *BatchPlanRequest) (*BatchPlan, error) {

	if _, err := s.authorize(ctx, ownerID, req.GalleryID); err != nil {
		return nil, err
	}
	if !req.Pool.Valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownPool, req.Pool)
	}

	keys, err := s.repos.Objects(s.db).ListKeys(ctx, req.GalleryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing keys: %w", err)
	}
	existing := namesUnder(keys, objectKeyPrefix(req.GalleryID, req.Pool, req.SubPath))

	var prompter CollisionPrompter
	if req.OnCollision != nil {
		prompter = staticPrompter{choice: *req.OnCollision}
	}
	resolver := NewCollisionResolver(existing, prompter)

	plan := &BatchPlan{Files: make([]PlannedUpload, 0, len(req.Files))}
	var totalBytes int64

	for _, f := range req.Files {
		res, err := resolver.Resolve(ctx, f.FileName)
		if err != nil {
			return nil, err
		}
		if res.Skip {
			plan.Files = append(plan.Files, PlannedUpload{FileID: f.FileID, FileName: f.FileName, Skipped: true})
			continue
		}
		plan.Files = append(plan.Files, PlannedUpload{
			FileID:    f.FileID,
			FileName:  res.FileName,
			Key:       objectKey(req.GalleryID, req.Pool, req.SubPath, res.FileName),
			Multipart: f.FileSize >= common.MultipartThreshold,
		})
		totalBytes += f.FileSize
	}

	adm, err := s.ledger.Admit(ctx, req.GalleryID, req.Pool, totalBytes)
	if err != nil {
		return nil, err
	}
	if !adm.Allowed {
		return nil, &common.QuotaExceededError{
			GalleryID:      req.GalleryID,
			Pool:           string(req.Pool),
			UsedBytes:      adm.UsedBytes,
			LimitBytes:     adm.LimitBytes,
			CandidateBytes: totalBytes,
		}
	}
	plan.Admission = *adm

	s.logger.Debug(ctx, "batch planned",
		"gallery", req.GalleryID, "pool", req.Pool, "files", len(req.Files), "bytes", totalBytes)
	return plan, nil
}

// IssueCredential obtains a transfer credential for one planned small file
// through the batching window.
func (s *UploadService) IssueCredential(ctx context.Context, req *models.UploadRequest) (models.TransferCredential, error) {
	if _, err := s.authorize(ctx, req.OwnerID, req.GalleryID); err != nil {
		return models.TransferCredential{}, err
	}
	if !req.Pool.Valid() {
		return models.TransferCredential{}, fmt.Errorf("%w: %q", common.ErrUnknownPool, req.Pool)
	}
	return s.batcher.RequestCredential(ctx, req)
}

// CreateMultipart starts the multipart path for one large file.
func (s *UploadService) CreateMultipart(ctx context.Context, ownerID string, req *models.UploadRequest, partSize int64) (*MultipartCreation, error) {
	if _, err := s.authorize(ctx, ownerID, req.GalleryID); err != nil {
		return nil, err
	}
	if !req.Pool.Valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownPool, req.Pool)
	}
	key := objectKey(req.GalleryID, req.Pool, req.SubPath, req.FileName)
	return s.multipart.Create(ctx, key, req.ContentType, req.FileSize, partSize)
}

// ResumeMultipart returns the parts storage acknowledges for an in-flight
// upload.
func (s *UploadService) ResumeMultipart(ctx context.Context, ownerID, galleryID, uploadID, key string) (*ResumeResult, error) {
	if _, err := s.authorize(ctx, ownerID, galleryID); err != nil {
		return nil, err
	}
	if !keyInGallery(galleryID, key) {
		return nil, common.ErrorUnauthorized
	}
	return s.multipart.Resume(ctx, uploadID, key)
}

// CompleteMultipart assembles a finished multipart upload.
func (s *UploadService) CompleteMultipart(ctx context.Context, ownerID, galleryID, uploadID, key string, parts []models.CompletedPart) (*storage.CompleteResult, error) {
	if _, err := s.authorize(ctx, ownerID, galleryID); err != nil {
		return nil, err
	}
	if !keyInGallery(galleryID, key) {
		return nil, common.ErrorUnauthorized
	}
	return s.multipart.Complete(ctx, uploadID, key, parts)
}

// AbortMultipart cancels an in-flight multipart upload.
func (s *UploadService) AbortMultipart(ctx context.Context, ownerID, galleryID, uploadID, key string) error {
	if _, err := s.authorize(ctx, ownerID, galleryID); err != nil {
		return err
	}
	if !keyInGallery(galleryID, key) {
		return common.ErrorUnauthorized
	}
	return s.multipart.Abort(ctx, uploadID, key)
}

// RecordCompletion finalizes one transferred object.
func (s *UploadService) RecordCompletion(ctx context.Context, ownerID string, meta *models.ObjectMetadata) (CompletionStatus, error) {
	if _, err := s.authorize(ctx, ownerID, meta.GalleryID); err != nil {
		return 0, err
	}
	if !keyInGallery(meta.GalleryID, meta.ObjectKey) {
		return 0, common.ErrorUnauthorized
	}
	return s.recorder.Record(ctx, meta)
}

// SetExpiry stores the gallery's expiry deadline and keeps exactly one
// expiry schedule for it.
func (s *UploadService) SetExpiry(ctx context.Context, ownerID, galleryID string, expiresAt time.Time) error {
	if _, err := s.authorize(ctx, ownerID, galleryID); err != nil {
		return err
	}

	patch := models.GalleryPatch{ExpiresAt: models.SetTime(expiresAt.UTC())}
	if err := s.repos.Galleries(s.db).Update(ctx, galleryID, patch); err != nil {
		return fmt.Errorf("failed to update gallery expiry: %w", err)
	}

	_, err := s.scheduler.Upsert(ctx, &DeferredAction{
		EntityID:      "expire-" + galleryID,
		FireAt:        expiresAt,
		TargetRef:     s.targets.ExpireTargetRef,
		RoleRef:       s.targets.RoleRef,
		Payload:       schedulePayload(galleryID),
		DeadLetterRef: s.targets.DeadLetterRef,
	})
	return err
}

// ClearExpiry removes the deadline and cancels any pending expiry schedule.
func (s *UploadService) ClearExpiry(ctx context.Context, ownerID, galleryID string) error {
	if _, err := s.authorize(ctx, ownerID, galleryID); err != nil {
		return err
	}

	patch := models.GalleryPatch{ExpiresAt: models.ClearTime()}
	if err := s.repos.Galleries(s.db).Update(ctx, galleryID, patch); err != nil {
		return fmt.Errorf("failed to clear gallery expiry: %w", err)
	}

	_, err := s.scheduler.Cancel(ctx, "expire-"+galleryID)
	return err
}

// ScheduleDeletion arranges the gallery's one-shot deletion.
func (s *UploadService) ScheduleDeletion(ctx context.Context, ownerID, galleryID string, deleteAt time.Time) error {
	if _, err := s.authorize(ctx, ownerID, galleryID); err != nil {
		return err
	}

	_, err := s.scheduler.Upsert(ctx, &DeferredAction{
		EntityID:      "delete-" + galleryID,
		FireAt:        deleteAt,
		TargetRef:     s.targets.DeleteTargetRef,
		RoleRef:       s.targets.RoleRef,
		Payload:       schedulePayload(galleryID),
		DeadLetterRef: s.targets.DeadLetterRef,
	})
	return err
}

// Close stops accepting work: pending credential windows are rejected and
// every open multipart session is aborted.
func (s *UploadService) Close(ctx context.Context) {
	s.batcher.Close()
	s.multipart.AbortAll(ctx)
}

func (s *UploadService) authorize(ctx context.Context, ownerID, galleryID string) (*models.Gallery, error) {
	g, err := s.repos.Galleries(s.db).Get(ctx, galleryID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read gallery: %w", err)
	}
	if g.OwnerID != ownerID {
		return nil, common.ErrorUnauthorized
	}
	return g, nil
}

// namesUnder extracts the direct child names below prefix from the full key
// listing. Keys in deeper sub paths do not participate in collision checks.
func namesUnder(keys []string, prefix string) []string {
	var names []string
	for _, k := range keys {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, rest)
	}
	return names
}

func schedulePayload(galleryID string) []byte {
	b, _ := json.Marshal(struct {
		GalleryID string `json:"galleryId"`
	}{GalleryID: galleryID})
	return b
}

// staticPrompter answers every collision with one pre-supplied choice.
type staticPrompter struct {
	choice CollisionChoice
}

func (p staticPrompter) Prompt(ctx context.Context, fileName string) (CollisionChoice, error) {
	return p.choice, nil
}
