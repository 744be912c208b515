package services

import (
	"context"
	"fmt"

	"github.com/michalmalinowski87/photovault/internal/common"
	"github.com/michalmalinowski87/photovault/internal/logging"
	"github.com/michalmalinowski87/photovault/internal/server/models"
)

// CompletionStatus is the outcome of recording one finished upload.
type CompletionStatus int

const (
	// CompletionRecorded means this call wrote the metadata and charged quota.
	CompletionRecorded CompletionStatus = iota
	// CompletionAlreadyRecorded means an equal or newer record already
	// exists; the retry is a no-op and reported as success.
	CompletionAlreadyRecorded
)

// CompletionRecorder finalizes uploads: a conditional metadata write guarded
// by etag and last-modified, then a quota commit for the object's bytes.
// The metadata write goes first so a retried completion can never charge the
// same bytes twice; if the quota commit then fails for a freshly recorded
// object, the drift is logged and left to a reconciliation sweep rather than
// failing an already-durable upload.
type CompletionRecorder struct {
	ledger  *QuotaLedger
	objects objectsReader
	logger  logging.Logger
}

type objectsReader interface {
	RecordCompletion(ctx context.Context, meta *models.ObjectMetadata) (bool, error)
}

func NewCompletionRecorder(ledger *QuotaLedger, objects objectsReader, logger logging.Logger) *CompletionRecorder {
	return &CompletionRecorder{
		ledger:  ledger,
		objects: objects,
		logger:  logger.With("module", "completion_recorder"),
	}
}

// Record registers one durably stored object.
func (r *CompletionRecorder) Record(ctx context.Context, meta *models.ObjectMetadata) (CompletionStatus, error) {

	if !meta.Pool.Valid() {
		return 0, fmt.Errorf("%w: %q", common.ErrUnknownPool, meta.Pool)
	}

	recorded, err := r.objects.RecordCompletion(ctx, meta)
	if err != nil {
		return 0, fmt.Errorf("failed to record object metadata: %w", err)
	}
	if !recorded {
		return CompletionAlreadyRecorded, nil
	}

	if err := r.ledger.Commit(ctx, meta.GalleryID, meta.Pool, meta.Size); err != nil {
		// the object is durable and its metadata is written; storage
		// accounting may be eventually consistent
		r.logger.Error(ctx, "quota commit failed for recorded object",
			"gallery", meta.GalleryID, "key", meta.ObjectKey, "size", meta.Size, "error", err)
	}

	return CompletionRecorded, nil
}
