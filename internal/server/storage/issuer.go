package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/michalmalinowski87/photovault/internal/server/models"
)

// PresignIssuer is the bulk credential-issuance collaborator: one call per
// credential window, an ordered list of descriptors in, an ordered list of
// credentials out. Results map back to requests strictly by index.
type PresignIssuer struct {
	store ObjectStore
}

func NewPresignIssuer(store ObjectStore) *PresignIssuer {
	return &PresignIssuer{store: store}
}

func (i *PresignIssuer) IssueBatch(ctx context.Context, files []models.FileDescriptor) ([]models.TransferCredential, error) {

	creds := make([]models.TransferCredential, 0, len(files))

	for _, f := range files {
		url, err := i.store.IssuePutURL(ctx, f.Key, f.ContentType)
		if err != nil {
			return nil, fmt.Errorf("issue put url for %s: %w", f.Key, err)
		}

		cred := models.TransferCredential{
			URL:       url,
			ObjectKey: f.Key,
		}

		// image objects get read links for the derived assets rendered
		// by the delivery pipeline
		if strings.HasPrefix(f.ContentType, "image/") {
			if cred.PreviewURL, err = i.store.IssueGetURL(ctx, PreviewKey(f.Key)); err != nil {
				return nil, fmt.Errorf("issue preview url for %s: %w", f.Key, err)
			}
			if cred.ThumbnailURL, err = i.store.IssueGetURL(ctx, ThumbnailKey(f.Key)); err != nil {
				return nil, fmt.Errorf("issue thumbnail url for %s: %w", f.Key, err)
			}
		}

		creds = append(creds, cred)
	}

	return creds, nil
}

// PreviewKey maps an object key to its rendered preview key.
func PreviewKey(key string) string {
	return "previews/" + key
}

// ThumbnailKey maps an object key to its rendered thumbnail key.
func ThumbnailKey(key string) string {
	return "thumbs/" + key
}
