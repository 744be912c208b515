package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/michalmalinowski87/photovault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	ObjectStore
	putErr error
	issued []string
}

func (f *fakeStore) IssuePutURL(ctx context.Context, key, contentType string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	f.issued = append(f.issued, key)
	return "https://storage.test/put/" + key, nil
}

func (f *fakeStore) IssueGetURL(ctx context.Context, key string) (string, error) {
	return "https://storage.test/get/" + key, nil
}

func TestIssueBatch_PreservesDescriptorOrder(t *testing.T) {
	store := &fakeStore{}
	issuer := NewPresignIssuer(store)

	files := []models.FileDescriptor{
		{Key: "g/a.jpg", ContentType: "image/jpeg", FileSize: 1},
		{Key: "g/b.zip", ContentType: "application/zip", FileSize: 2},
		{Key: "g/c.png", ContentType: "image/png", FileSize: 3},
	}

	creds, err := issuer.IssueBatch(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, creds, 3)

	assert.Equal(t, []string{"g/a.jpg", "g/b.zip", "g/c.png"}, store.issued)
	for i, c := range creds {
		assert.Equal(t, files[i].Key, c.ObjectKey)
	}
}

func TestIssueBatch_ImagesGetPreviewLinks(t *testing.T) {
	issuer := NewPresignIssuer(&fakeStore{})

	creds, err := issuer.IssueBatch(context.Background(), []models.FileDescriptor{
		{Key: "g/a.jpg", ContentType: "image/jpeg"},
		{Key: "g/b.zip", ContentType: "application/zip"},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://storage.test/get/previews/g/a.jpg", creds[0].PreviewURL)
	assert.Equal(t, "https://storage.test/get/thumbs/g/a.jpg", creds[0].ThumbnailURL)
	assert.Empty(t, creds[1].PreviewURL)
	assert.Empty(t, creds[1].ThumbnailURL)
}

func TestIssueBatch_FailsWholeBatchOnError(t *testing.T) {
	issuer := NewPresignIssuer(&fakeStore{putErr: errors.New("boom")})

	creds, err := issuer.IssueBatch(context.Background(), []models.FileDescriptor{
		{Key: "g/a.jpg", ContentType: "image/jpeg"},
	})
	require.Error(t, err)
	assert.Nil(t, creds)
}
