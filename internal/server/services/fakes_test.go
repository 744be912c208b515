package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/michalmalinowski87/photovault/internal/common"
	"github.com/michalmalinowski87/photovault/internal/dbx"
	"github.com/michalmalinowski87/photovault/internal/server/models"
	"github.com/michalmalinowski87/photovault/internal/server/repositories/galleries"
	"github.com/michalmalinowski87/photovault/internal/server/repositories/objects"
	"github.com/michalmalinowski87/photovault/internal/server/repositories/quotas"
	"github.com/michalmalinowski87/photovault/internal/server/repositories/repomanager"
)

// -------- test fakes --------

type fakeQuotasRepo struct {
	quotas.Repository
	mu       sync.Mutex
	counters map[string]*models.QuotaCounter
	getErr   error
	addErr   error
}

func newFakeQuotasRepo() *fakeQuotasRepo {
	return &fakeQuotasRepo{counters: make(map[string]*models.QuotaCounter)}
}

func quotaKey(galleryID string, pool models.Pool) string {
	return galleryID + "/" + string(pool)
}

func (f *fakeQuotasRepo) Get(ctx context.Context, galleryID string, pool models.Pool) (*models.QuotaCounter, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.counters[quotaKey(galleryID, pool)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeQuotasRepo) AddUsage(ctx context.Context, galleryID string, pool models.Pool, delta int64) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := quotaKey(galleryID, pool)
	c, ok := f.counters[k]
	if !ok {
		c = &models.QuotaCounter{GalleryID: galleryID, Pool: pool}
		f.counters[k] = c
	}
	c.UsedBytes += delta
	return nil
}

func (f *fakeQuotasRepo) set(galleryID string, pool models.Pool, used int64, limit *int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[quotaKey(galleryID, pool)] = &models.QuotaCounter{
		GalleryID: galleryID, Pool: pool, UsedBytes: used, LimitBytes: limit,
	}
}

type fakeObjectsRepo struct {
	objects.Repository
	mu        sync.Mutex
	records   map[string]*models.ObjectMetadata
	recordErr error
	listErr   error
}

func newFakeObjectsRepo() *fakeObjectsRepo {
	return &fakeObjectsRepo{records: make(map[string]*models.ObjectMetadata)}
}

func (f *fakeObjectsRepo) RecordCompletion(ctx context.Context, meta *models.ObjectMetadata) (bool, error) {
	if f.recordErr != nil {
		return false, f.recordErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := meta.GalleryID + "/" + meta.ObjectKey
	prev, ok := f.records[k]
	if ok && (prev.ETag == meta.ETag || prev.LastModifiedEpoch > meta.LastModifiedEpoch) {
		return false, nil
	}
	cp := *meta
	f.records[k] = &cp
	return true, nil
}

func (f *fakeObjectsRepo) ListKeys(ctx context.Context, galleryID string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for _, m := range f.records {
		if m.GalleryID == galleryID {
			keys = append(keys, m.ObjectKey)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

type fakeGalleriesRepo struct {
	galleries.Repository
	mu        sync.Mutex
	galleries map[string]*models.Gallery
	patches   []models.GalleryPatch
	getErr    error
	updateErr error
}

func newFakeGalleriesRepo(gs ...*models.Gallery) *fakeGalleriesRepo {
	f := &fakeGalleriesRepo{galleries: make(map[string]*models.Gallery)}
	for _, g := range gs {
		f.galleries[g.ID] = g
	}
	return f
}

func (f *fakeGalleriesRepo) Get(ctx context.Context, id string) (*models.Gallery, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.galleries[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGalleriesRepo) Create(ctx context.Context, g *models.Gallery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.galleries[g.ID] = g
	return nil
}

func (f *fakeGalleriesRepo) Update(ctx context.Context, id string, patch models.GalleryPatch) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.galleries[id]; !ok {
		return common.ErrorNotFound
	}
	f.patches = append(f.patches, patch)
	return nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	q *fakeQuotasRepo
	o *fakeObjectsRepo
	g *fakeGalleriesRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		q: newFakeQuotasRepo(),
		o: newFakeObjectsRepo(),
		g: newFakeGalleriesRepo(),
	}
}

func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }
func (m *fakeRepoManager) Quotas(db dbx.DBTX) quotas.Repository               { return m.q }
func (m *fakeRepoManager) Objects(db dbx.DBTX) objects.Repository             { return m.o }
func (m *fakeRepoManager) Galleries(db dbx.DBTX) galleries.Repository         { return m.g }
