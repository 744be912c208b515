package storage

import (
	"context"
	"errors"
	"testing"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuePutURL_UsesPresignSeam(t *testing.T) {
	orig := presignPutObject
	defer func() { presignPutObject = orig }()

	var gotKey, gotContentType string
	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		gotKey = *in.Key
		gotContentType = *in.ContentType
		return &v4.PresignedHTTPRequest{URL: "https://signed.example/put"}, nil
	}

	store := &S3Store{bucket: "vault"}
	url, err := store.IssuePutURL(context.Background(), "galleries/g1/source/a.jpg", "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/put", url)
	assert.Equal(t, "galleries/g1/source/a.jpg", gotKey)
	assert.Equal(t, "image/jpeg", gotContentType)
}

func TestIssuePartURL_PropagatesError(t *testing.T) {
	orig := presignUploadPart
	defer func() { presignUploadPart = orig }()

	presignUploadPart = func(pc *s3.PresignClient, ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return nil, errors.New("presign failed")
	}

	store := &S3Store{bucket: "vault"}
	_, err := store.IssuePartURL(context.Background(), "up-1", "k", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "part 3")
}

func TestIssueGetURL_UsesPresignSeam(t *testing.T) {
	orig := presignGetObject
	defer func() { presignGetObject = orig }()

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return &v4.PresignedHTTPRequest{URL: "https://signed.example/get/" + *in.Key}, nil
	}

	store := &S3Store{bucket: "vault"}
	url, err := store.IssueGetURL(context.Background(), "previews/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/get/previews/a.jpg", url)
}
