package galleries

import (
	"context"

	"github.com/michalmalinowski87/photovault/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, id string) (*models.Gallery, error)
	Create(ctx context.Context, g *models.Gallery) error

	// Update applies a typed partial update: only fields marked Set are
	// written, and a Set field with a nil value writes NULL.
	Update(ctx context.Context, id string, patch models.GalleryPatch) error
}
