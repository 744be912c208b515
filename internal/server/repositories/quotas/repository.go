package quotas

import (
	"context"

	"github.com/michalmalinowski87/photovault/internal/server/models"
)

type Repository interface {
	// Get returns the counter row for (galleryID, pool), or
	// common.ErrorNotFound when no bytes have ever been committed.
	Get(ctx context.Context, galleryID string, pool models.Pool) (*models.QuotaCounter, error)

	// AddUsage applies an additive delta to used_bytes, creating the row on
	// first commit. Never read-modify-write.
	AddUsage(ctx context.Context, galleryID string, pool models.Pool, delta int64) error
}
