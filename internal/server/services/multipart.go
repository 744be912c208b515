package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/michalmalinowski87/photovault/internal/clock"
	"github.com/michalmalinowski87/photovault/internal/common"
	"github.com/michalmalinowski87/photovault/internal/logging"
	"github.com/michalmalinowski87/photovault/internal/server/models"
	"github.com/michalmalinowski87/photovault/internal/server/storage"
)

// MultipartCreation is the full set of credentials for one large upload:
// every part URL is pre-signed upfront so the client can pause and resume
// without another control-plane round trip.
type MultipartCreation struct {
	UploadID   string
	ObjectKey  string
	PartSize   int64
	TotalParts int
	// PartURLs[i] is the signed URL for part i+1.
	PartURLs []string
}

// ResumeResult carries the parts storage acknowledges for an in-flight
// upload. Uncertain is set when the listing could not be obtained and the
// empty part list is a degraded answer, not an authoritative one.
type ResumeResult struct {
	Parts     []models.PartInfo
	Uncertain bool
}

type retryConfig struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

var defaultRetry = retryConfig{maxAttempts: 4, baseDelay: 100 * time.Millisecond, maxDelay: 2 * time.Second}

// MultipartCoordinator owns the lifecycle of large uploads, one session per
// object key. Sessions are in-memory bookkeeping; the authoritative part
// state lives in storage and is re-read on resume.
type MultipartCoordinator struct {
	store  storage.ObjectStore
	clk    clock.Clock
	logger logging.Logger
	retry  retryConfig

	mu       sync.Mutex
	sessions map[string]*models.MultipartSession
}

func NewMultipartCoordinator(store storage.ObjectStore, clk clock.Clock, logger logging.Logger) *MultipartCoordinator {
	return &MultipartCoordinator{
		store:    store,
		clk:      clk,
		logger:   logger.With("module", "multipart_coordinator"),
		retry:    defaultRetry,
		sessions: make(map[string]*models.MultipartSession),
	}
}

// Create starts a multipart upload for key and pre-signs every part URL.
// Parameter problems are rejected before any network call.
func (c *MultipartCoordinator) Create(ctx context.Context, key, contentType string, fileSize, partSize int64) (*MultipartCreation, error) {

	if partSize < common.MinPartSize || partSize > common.MaxPartSize {
		return nil, fmt.Errorf("%w: %d bytes", common.ErrPartSizeOutOfRange, partSize)
	}
	if fileSize <= 0 {
		return nil, fmt.Errorf("%w: file size %d", common.ErrPartSizeOutOfRange, fileSize)
	}
	totalParts := int((fileSize + partSize - 1) / partSize)
	if totalParts > common.MaxParts {
		return nil, fmt.Errorf("%w: %d parts", common.ErrTooManyParts, totalParts)
	}

	// reserve the key before the network call so a concurrent Create for
	// the same key is refused instead of racing two sessions
	c.mu.Lock()
	if _, exists := c.sessions[key]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", common.ErrUploadInProgress, key)
	}
	session := &models.MultipartSession{
		ObjectKey:      key,
		PartSize:       partSize,
		TotalParts:     totalParts,
		CreatedAt:      c.clk.Now(),
		CompletedParts: make(map[int32]string),
	}
	c.sessions[key] = session
	c.mu.Unlock()

	uploadID, err := c.store.CreateMultipartUpload(ctx, key, contentType)
	if err != nil {
		c.release(key)
		return nil, fmt.Errorf("failed to create multipart upload: %w", err)
	}

	urls := make([]string, totalParts)
	for i := 0; i < totalParts; i++ {
		url, err := c.store.IssuePartURL(ctx, uploadID, key, int32(i+1))
		if err != nil {
			c.release(key)
			if abortErr := c.store.AbortMultipartUpload(ctx, uploadID, key); abortErr != nil {
				c.logger.Warn(ctx, "failed to abort half-created multipart upload",
					"key", key, "upload_id", uploadID, "error", abortErr)
			}
			return nil, fmt.Errorf("failed to sign part %d: %w", i+1, err)
		}
		urls[i] = url
	}

	c.mu.Lock()
	session.UploadID = uploadID
	c.mu.Unlock()

	c.logger.Debug(ctx, "multipart upload created",
		"key", key, "upload_id", uploadID, "parts", totalParts)

	return &MultipartCreation{
		UploadID:   uploadID,
		ObjectKey:  key,
		PartSize:   partSize,
		TotalParts: totalParts,
		PartURLs:   urls,
	}, nil
}

// Resume fetches the parts storage already acknowledges for an upload,
// retrying transient listing failures with bounded backoff. When the listing
// cannot be obtained, the result degrades to an empty list flagged Uncertain
// so the caller can warn before re-transferring.
func (c *MultipartCoordinator) Resume(ctx context.Context, uploadID, key string) (*ResumeResult, error) {

	var lastErr error
	for attempt := 0; attempt < c.retry.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retry.baseDelay << (attempt - 1)
			if delay > c.retry.maxDelay {
				delay = c.retry.maxDelay
			}
			select {
			case <-c.clk.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		parts, err := c.store.ListParts(ctx, uploadID, key)
		if err == nil {
			return &ResumeResult{Parts: parts}, nil
		}
		lastErr = err
		if !storage.IsTransient(err) {
			break
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	c.logger.Warn(ctx, "part listing unavailable, resuming from scratch",
		"key", key, "upload_id", uploadID, "error", lastErr)
	return &ResumeResult{Parts: []models.PartInfo{}, Uncertain: true}, nil
}

// CompletePart records a client-acknowledged part. Advisory only; the part
// list consulted at complete time is storage's, not this map.
func (c *MultipartCoordinator) CompletePart(key string, partNumber int32, etag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[key]; ok && s.CompletedParts != nil {
		s.CompletedParts[partNumber] = etag
	}
}

// Complete assembles the object from the given ordered parts and discards
// the session on success.
func (c *MultipartCoordinator) Complete(ctx context.Context, uploadID, key string, parts []models.CompletedPart) (*storage.CompleteResult, error) {
	res, err := c.store.CompleteMultipartUpload(ctx, uploadID, key, parts)
	if err != nil {
		return nil, fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	c.release(key)
	return res, nil
}

// Abort cancels an in-flight upload and discards its session.
func (c *MultipartCoordinator) Abort(ctx context.Context, uploadID, key string) error {
	c.release(key)
	if err := c.store.AbortMultipartUpload(ctx, uploadID, key); err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	return nil
}

// AbortAll cancels every still-open session. Called on shutdown or when the
// owning batch is closed without finishing.
func (c *MultipartCoordinator) AbortAll(ctx context.Context) {
	c.mu.Lock()
	open := make([]*models.MultipartSession, 0, len(c.sessions))
	for key, s := range c.sessions {
		delete(c.sessions, key)
		open = append(open, s)
	}
	c.mu.Unlock()

	for _, s := range open {
		if s.UploadID == "" {
			continue
		}
		if err := c.store.AbortMultipartUpload(ctx, s.UploadID, s.ObjectKey); err != nil {
			c.logger.Warn(ctx, "failed to abort multipart upload",
				"key", s.ObjectKey, "upload_id", s.UploadID, "error", err)
		}
	}
}

func (c *MultipartCoordinator) release(key string) {
	c.mu.Lock()
	delete(c.sessions, key)
	c.mu.Unlock()
}

// openSessions reports the number of live sessions.
func (c *MultipartCoordinator) openSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
