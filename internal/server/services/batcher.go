package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/michalmalinowski87/photovault/internal/clock"
	"github.com/michalmalinowski87/photovault/internal/common"
	"github.com/michalmalinowski87/photovault/internal/logging"
	"github.com/michalmalinowski87/photovault/internal/server/models"
)

// BulkCredentialIssuer is the collaborator the batcher calls once per
// window: an ordered list of descriptors in, an equally long ordered list of
// credentials out.
type BulkCredentialIssuer interface {
	IssueBatch(ctx context.Context, files []models.FileDescriptor) ([]models.TransferCredential, error)
}

type windowKey struct {
	galleryID string
	pool      models.Pool
	subPath   string
}

type credentialResult struct {
	cred models.TransferCredential
	err  error
}

type pendingRequest struct {
	desc models.FileDescriptor
	ch   chan credentialResult
}

// batchWindow accumulates requests for one key until it flushes. A window
// is single-use: once it leaves the registry nothing can join it, so the
// pending slice needs no further synchronization during the flush.
type batchWindow struct {
	key      windowKey
	pending  []pendingRequest
	flushNow chan struct{}
	abort    chan struct{}
}

// CredentialBatcher collapses concurrent per-file credential requests into
// one bulk issuance call per window. Individual signed-URL calls would
// multiply control-plane round trips linearly with file count; the window
// amortizes this to one call per UI-visible batch while keeping per-file
// ergonomics for callers.
//
// The registry is owned by this instance; window mutation and flush
// hand-off happen under one mutex, so a window can never be flushed twice.
type CredentialBatcher struct {
	issuer BulkCredentialIssuer
	clk    clock.Clock
	logger logging.Logger

	window   time.Duration
	maxBatch int

	mu      sync.Mutex
	windows map[windowKey]*batchWindow
	closed  bool
}

func NewCredentialBatcher(issuer BulkCredentialIssuer, clk clock.Clock, logger logging.Logger) *CredentialBatcher {
	return &CredentialBatcher{
		issuer:   issuer,
		clk:      clk,
		logger:   logger.With("module", "credential_batcher"),
		window:   common.BatchWindow,
		maxBatch: common.MaxBatchSize,
		windows:  make(map[windowKey]*batchWindow),
	}
}

// RequestCredential enqueues one upload request into the current window for
// its (gallery, pool, subPath) key, creating the window lazily, and blocks
// until the window flushes or ctx is done.
func (b *CredentialBatcher) RequestCredential(ctx context.Context, req *models.UploadRequest) (models.TransferCredential, error) {

	desc := models.FileDescriptor{
		Key:         objectKey(req.GalleryID, req.Pool, req.SubPath, req.FileName),
		ContentType: req.ContentType,
		FileSize:    req.FileSize,
	}
	ch := make(chan credentialResult, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return models.TransferCredential{}, common.ErrWindowClosed
	}

	key := windowKey{galleryID: req.GalleryID, pool: req.Pool, subPath: req.SubPath}
	w := b.windows[key]
	if w == nil {
		w = &batchWindow{
			key:      key,
			flushNow: make(chan struct{}),
			abort:    make(chan struct{}),
		}
		b.windows[key] = w
		go b.run(w)
	}

	w.pending = append(w.pending, pendingRequest{desc: desc, ch: ch})
	if len(w.pending) >= b.maxBatch {
		// size limit reached: retire the window now so the next request
		// starts a fresh one, and flush without waiting for the timer
		delete(b.windows, key)
		close(w.flushNow)
	}
	b.mu.Unlock()

	select {
	case res := <-ch:
		return res.cred, res.err
	case <-ctx.Done():
		return models.TransferCredential{}, ctx.Err()
	}
}

// Close aborts every window that has not reached its deadline. Pending
// callers are rejected; nothing is flushed and no timers keep running.
func (b *CredentialBatcher) Close() {
	b.mu.Lock()
	b.closed = true
	for key, w := range b.windows {
		delete(b.windows, key)
		close(w.abort)
	}
	b.mu.Unlock()
}

// run waits for whichever comes first: the window deadline, a size-limit
// flush, or an abort.
func (b *CredentialBatcher) run(w *batchWindow) {
	select {
	case <-b.clk.After(b.window):
		b.mu.Lock()
		owned := b.windows[w.key] == w
		if owned {
			delete(b.windows, w.key)
		}
		b.mu.Unlock()
		if !owned {
			// a size flush or Close retired the window first; honor it
			select {
			case <-w.flushNow:
			case <-w.abort:
				b.reject(w, common.ErrWindowClosed)
				return
			}
		}
	case <-w.flushNow:
	case <-w.abort:
		b.reject(w, common.ErrWindowClosed)
		return
	}

	b.flush(w)
}

func (b *CredentialBatcher) flush(w *batchWindow) {
	ctx := context.Background()

	descs := make([]models.FileDescriptor, len(w.pending))
	for i, p := range w.pending {
		descs[i] = p.desc
	}

	creds, err := b.issuer.IssueBatch(ctx, descs)
	if err == nil && len(creds) != len(descs) {
		// a length mismatch is a contract violation, not a partial failure
		err = fmt.Errorf("got %d credentials for %d requests", len(creds), len(descs))
	}
	if err != nil {
		if !errors.Is(err, common.ErrCredentialIssuance) {
			err = fmt.Errorf("%w: %v", common.ErrCredentialIssuance, err)
		}
		b.logger.Error(ctx, "credential window flush failed",
			"gallery", w.key.galleryID, "pool", w.key.pool, "size", len(descs), "error", err)
		b.reject(w, err)
		return
	}

	b.logger.Debug(ctx, "credential window flushed",
		"gallery", w.key.galleryID, "pool", w.key.pool, "size", len(descs))

	// results map back strictly by index
	for i, p := range w.pending {
		p.ch <- credentialResult{cred: creds[i]}
	}
}

// reject fails every pending caller in the window with the same error.
func (b *CredentialBatcher) reject(w *batchWindow, err error) {
	for _, p := range w.pending {
		p.ch <- credentialResult{err: err}
	}
}

// pendingLen reports the size of the live window for a key.
func (b *CredentialBatcher) pendingLen(key windowKey) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w := b.windows[key]; w != nil {
		return len(w.pending)
	}
	return 0
}
