package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/michalmalinowski87/photovault/internal/clock"
	"github.com/michalmalinowski87/photovault/internal/common"
	"github.com/michalmalinowski87/photovault/internal/dbx"
	"github.com/michalmalinowski87/photovault/internal/logging"
	"github.com/michalmalinowski87/photovault/internal/server/auth"
	"github.com/michalmalinowski87/photovault/internal/server/models"
	"github.com/michalmalinowski87/photovault/internal/server/repositories/galleries"
	"github.com/michalmalinowski87/photovault/internal/server/repositories/objects"
	"github.com/michalmalinowski87/photovault/internal/server/repositories/quotas"
	"github.com/michalmalinowski87/photovault/internal/server/scheduling"
	"github.com/michalmalinowski87/photovault/internal/server/services"
	"github.com/michalmalinowski87/photovault/internal/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

// ---- in-memory collaborators ----

type memRepos struct {
	mu   sync.Mutex
	gals map[string]*models.Gallery
	qs   map[string]*models.QuotaCounter
	objs map[string]*models.ObjectMetadata
}

func newMemRepos() *memRepos {
	return &memRepos{
		gals: make(map[string]*models.Gallery),
		qs:   make(map[string]*models.QuotaCounter),
		objs: make(map[string]*models.ObjectMetadata),
	}
}

func (m *memRepos) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }
func (m *memRepos) Galleries(db dbx.DBTX) galleries.Repository          { return (*memGalleries)(m) }
func (m *memRepos) Quotas(db dbx.DBTX) quotas.Repository                { return (*memQuotas)(m) }
func (m *memRepos) Objects(db dbx.DBTX) objects.Repository              { return (*memObjects)(m) }

type memGalleries memRepos

func (m *memGalleries) Get(ctx context.Context, id string) (*models.Gallery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gals[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memGalleries) Create(ctx context.Context, g *models.Gallery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.gals[g.ID] = &cp
	return nil
}

func (m *memGalleries) Update(ctx context.Context, id string, patch models.GalleryPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gals[id]
	if !ok {
		return common.ErrorNotFound
	}
	if patch.ExpiresAt.Set {
		g.ExpiresAt = patch.ExpiresAt.Value
	}
	if patch.Name.Set && patch.Name.Value != nil {
		g.Name = *patch.Name.Value
	}
	return nil
}

type memQuotas memRepos

func (m *memQuotas) Get(ctx context.Context, galleryID string, pool models.Pool) (*models.QuotaCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.qs[galleryID+"/"+string(pool)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memQuotas) AddUsage(ctx context.Context, galleryID string, pool models.Pool, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := galleryID + "/" + string(pool)
	c, ok := m.qs[k]
	if !ok {
		c = &models.QuotaCounter{GalleryID: galleryID, Pool: pool}
		m.qs[k] = c
	}
	c.UsedBytes += delta
	return nil
}

type memObjects memRepos

func (m *memObjects) RecordCompletion(ctx context.Context, meta *models.ObjectMetadata) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := meta.GalleryID + "/" + meta.ObjectKey
	prev, ok := m.objs[k]
	if ok && (prev.ETag == meta.ETag || prev.LastModifiedEpoch > meta.LastModifiedEpoch) {
		return false, nil
	}
	cp := *meta
	m.objs[k] = &cp
	return true, nil
}

func (m *memObjects) ListKeys(ctx context.Context, galleryID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for _, o := range m.objs {
		if o.GalleryID == galleryID {
			keys = append(keys, o.ObjectKey)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

type memStore struct{}

func (memStore) IssuePutURL(ctx context.Context, key, contentType string) (string, error) {
	return "https://signed/put/" + key, nil
}

func (memStore) IssueGetURL(ctx context.Context, key string) (string, error) {
	return "https://signed/get/" + key, nil
}

func (memStore) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	return "upload-1", nil
}

func (memStore) IssuePartURL(ctx context.Context, uploadID, key string, partNumber int32) (string, error) {
	return fmt.Sprintf("https://signed/%s/part/%d", key, partNumber), nil
}

func (memStore) ListParts(ctx context.Context, uploadID, key string) ([]models.PartInfo, error) {
	return []models.PartInfo{{PartNumber: 1, ETag: "e1", Size: 5 << 20}}, nil
}

func (memStore) CompleteMultipartUpload(ctx context.Context, uploadID, key string, parts []models.CompletedPart) (*storage.CompleteResult, error) {
	return &storage.CompleteResult{Location: "https://bucket/" + key, ETag: "etag-final"}, nil
}

func (memStore) AbortMultipartUpload(ctx context.Context, uploadID, key string) error { return nil }

type memScheduler struct {
	mu      sync.Mutex
	entries map[string]*models.ScheduleEntry
}

func (m *memScheduler) Create(ctx context.Context, entry *models.ScheduleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.Name]; ok {
		return scheduling.ErrAlreadyExists
	}
	cp := *entry
	m.entries[entry.Name] = &cp
	return nil
}

func (m *memScheduler) Update(ctx context.Context, entry *models.ScheduleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.Name]; !ok {
		return scheduling.ErrNotFound
	}
	cp := *entry
	m.entries[entry.Name] = &cp
	return nil
}

func (m *memScheduler) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[name]; !ok {
		return scheduling.ErrNotFound
	}
	delete(m.entries, name)
	return nil
}

// ---- fixture ----

type apiFixture struct {
	handler http.Handler
	repos   *memRepos
	sched   *memScheduler
	dbm     sqlmock.Sqlmock
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := logging.NewJSON(io.Discard)
	clk := clock.Real{}
	db, dbm, err := sqlmock.New()
	require.NoError(t, err)
	repos := newMemRepos()
	sched := &memScheduler{entries: make(map[string]*models.ScheduleEntry)}
	store := memStore{}

	ledger := services.NewQuotaLedger(db, repos)
	uploads := services.NewUploadService(
		db,
		repos,
		services.NewCredentialBatcher(storage.NewPresignIssuer(store), clk, logger),
		services.NewMultipartCoordinator(store, clk, logger),
		ledger,
		services.NewCompletionRecorder(ledger, (*memObjects)(repos), logger),
		services.NewDeferredActionScheduler(sched, clk, logger),
		services.SchedulerTargets{ExpireTargetRef: "arn:expire", DeleteTargetRef: "arn:delete", RoleRef: "arn:role"},
		clk,
		logger,
	)
	t.Cleanup(func() { uploads.Close(context.Background()) })

	mux := http.NewServeMux()
	NewHandler(uploads, logger).Routes(mux, Auth(testSecret, logger))
	return &apiFixture{handler: mux, repos: repos, sched: sched, dbm: dbm}
}

func (fx *apiFixture) seedGallery(id, ownerID string) {
	fx.repos.gals[id] = &models.Gallery{ID: id, OwnerID: ownerID, Name: "Wedding"}
}

func (fx *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set(common.AccessTokenHeaderName, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.GenerateToken(userID, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

// ---- tests ----

func TestHealth_BypassesAuth(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_RequiresBearerToken(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedGallery("gal_1", "u1")

	rec := fx.do(t, http.MethodGet, "/api/galleries/gal_1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/galleries/gal_1", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetGallery_ForeignGalleryIsForbidden(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedGallery("gal_1", "u1")

	rec := fx.do(t, http.MethodGet, "/api/galleries/gal_1", token(t, "intruder"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AccessDenied", resp.Error.Code)
}

func TestCreateAndGetGallery(t *testing.T) {
	fx := newAPIFixture(t)
	tok := token(t, "u1")
	fx.dbm.ExpectBegin()
	fx.dbm.ExpectCommit()

	rec := fx.do(t, http.MethodPost, "/api/galleries", tok, map[string]any{"name": "Family"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = fx.do(t, http.MethodGet, "/api/galleries/"+created.ID, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Family")
}

func TestPlanBatch_QuotaRejectionCarriesFigures(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedGallery("gal_1", "u1")
	fx.repos.qs["gal_1/source"] = &models.QuotaCounter{
		GalleryID: "gal_1", Pool: models.PoolSource, UsedBytes: 900, LimitBytes: int64ptr(1000),
	}

	rec := fx.do(t, http.MethodPost, "/api/galleries/gal_1/uploads/plan", token(t, "u1"), map[string]any{
		"pool": "source",
		"files": []map[string]any{
			{"fileId": "f1", "fileName": "a.jpg", "fileSize": 101, "contentType": "image/jpeg"},
		},
	})
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	var resp struct {
		Error struct {
			Code       string `json:"code"`
			UsedBytes  int64  `json:"usedBytes"`
			LimitBytes int64  `json:"limitBytes"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "QuotaExceeded", resp.Error.Code)
	assert.Equal(t, int64(900), resp.Error.UsedBytes)
	assert.Equal(t, int64(1000), resp.Error.LimitBytes)
}

func TestPlanBatch_SplitsAndResolvesCollisions(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedGallery("gal_1", "u1")
	fx.repos.objs["gal_1/galleries/gal_1/source/dup.jpg"] = &models.ObjectMetadata{
		GalleryID: "gal_1", ObjectKey: "galleries/gal_1/source/dup.jpg",
		Pool: models.PoolSource, ETag: "seed", LastModifiedEpoch: 1,
	}

	rec := fx.do(t, http.MethodPost, "/api/galleries/gal_1/uploads/plan", token(t, "u1"), map[string]any{
		"pool":        "source",
		"onCollision": map[string]any{"action": "skip", "applyToAll": true},
		"files": []map[string]any{
			{"fileId": "f1", "fileName": "dup.jpg", "fileSize": 1024, "contentType": "image/jpeg"},
			{"fileId": "f2", "fileName": "big.tiff", "fileSize": common.MultipartThreshold, "contentType": "image/tiff"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp planBatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 2)
	assert.True(t, resp.Files[0].Skipped)
	assert.True(t, resp.Files[1].Multipart)
}

func TestIssueCredential_ReturnsSignedURLs(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedGallery("gal_1", "u1")

	rec := fx.do(t, http.MethodPost, "/api/galleries/gal_1/uploads/credentials", token(t, "u1"), map[string]any{
		"fileId": "f1", "fileName": "a.jpg", "fileSize": 1024,
		"contentType": "image/jpeg", "pool": "source",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp credentialResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "galleries/gal_1/source/a.jpg", resp.ObjectKey)
	assert.Equal(t, "https://signed/put/galleries/gal_1/source/a.jpg", resp.URL)
	assert.NotEmpty(t, resp.PreviewURL)
	assert.NotEmpty(t, resp.ThumbnailURL)
}

func TestMultipartLifecycleOverHTTP(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedGallery("gal_1", "u1")
	tok := token(t, "u1")

	rec := fx.do(t, http.MethodPost, "/api/galleries/gal_1/uploads/multipart", tok, map[string]any{
		"fileName": "big.tiff", "fileSize": common.MultipartThreshold,
		"contentType": "image/tiff", "pool": "source", "partSize": common.MinPartSize,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created createMultipartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, 20, created.TotalParts)
	require.NotEmpty(t, created.PartURLs)

	rec = fx.do(t, http.MethodGet,
		"/api/galleries/gal_1/uploads/multipart/"+created.UploadID+"?key="+created.ObjectKey, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resumed resumeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resumed))
	assert.False(t, resumed.Uncertain)
	require.Len(t, resumed.Parts, 1)

	rec = fx.do(t, http.MethodPost,
		"/api/galleries/gal_1/uploads/multipart/"+created.UploadID+"/complete", tok, map[string]any{
			"key":   created.ObjectKey,
			"parts": []map[string]any{{"partNumber": 1, "etag": "e1"}},
		})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "etag-final")
}

func TestMultipart_ForeignGalleryKeyIsForbidden(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedGallery("gal_1", "u1")
	tok := token(t, "u1")

	rec := fx.do(t, http.MethodPost, "/api/galleries/gal_1/uploads/multipart/up-123/complete", tok, map[string]any{
		"key":   "galleries/gal_victim/source/wedding.jpg",
		"parts": []map[string]any{{"partNumber": 1, "etag": "e1"}},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "AccessDenied")

	rec = fx.do(t, http.MethodDelete,
		"/api/galleries/gal_1/uploads/multipart/up-123?key=galleries/gal_victim/source/wedding.jpg", tok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestQuota_UnknownPoolIsBadRequest(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedGallery("gal_1", "u1")
	tok := token(t, "u1")

	rec := fx.do(t, http.MethodGet, "/api/galleries/gal_1/quota", tok, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "InvalidRequest")

	rec = fx.do(t, http.MethodGet, "/api/galleries/gal_1/quota?pool=archive", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMultipart_BadPartSizeIsRejected(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedGallery("gal_1", "u1")

	rec := fx.do(t, http.MethodPost, "/api/galleries/gal_1/uploads/multipart", token(t, "u1"), map[string]any{
		"fileName": "big.tiff", "fileSize": common.MultipartThreshold,
		"contentType": "image/tiff", "pool": "source", "partSize": 1024,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MultipartProtocolError")
}

func TestRecordCompletion_IsIdempotentOverHTTP(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedGallery("gal_1", "u1")
	tok := token(t, "u1")

	body := map[string]any{
		"objectKey": "galleries/gal_1/source/a.jpg", "pool": "source",
		"size": 1024, "etag": "e1", "lastModifiedEpoch": 100,
	}

	rec := fx.do(t, http.MethodPost, "/api/galleries/gal_1/uploads/completions", tok, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"recorded"`)

	rec = fx.do(t, http.MethodPost, "/api/galleries/gal_1/uploads/completions", tok, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alreadyRecorded"`)
}

func TestExpiryEndpoints_DriveTheScheduler(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedGallery("gal_1", "u1")
	tok := token(t, "u1")

	expiresAt := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second)
	rec := fx.do(t, http.MethodPut, "/api/galleries/gal_1/expiry", tok, map[string]any{
		"expiresAt": expiresAt,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, fx.sched.entries["pv-expire-gal_1"])

	rec = fx.do(t, http.MethodDelete, "/api/galleries/gal_1/expiry", tok, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, fx.sched.entries["pv-expire-gal_1"])
}

func int64ptr(v int64) *int64 { return &v }
