package objects

import (
	"context"

	"github.com/michalmalinowski87/photovault/internal/server/models"
)

type Repository interface {
	// RecordCompletion writes the completion record conditionally: a new
	// key is inserted; an existing record is overwritten only when the
	// incoming etag differs and the incoming lastModified is not older.
	// Returns false when the existing record already supersedes the write.
	RecordCompletion(ctx context.Context, meta *models.ObjectMetadata) (bool, error)

	// ListKeys returns every object key stored for the gallery. Fetched
	// once per upload batch for collision resolution.
	ListKeys(ctx context.Context, galleryID string) ([]string, error)
}
