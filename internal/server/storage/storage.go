// Package storage defines the object-storage contract consumed by the
// upload services and its S3 implementation.
package storage

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
	"github.com/michalmalinowski87/photovault/internal/server/models"
)

// CompleteResult is what storage reports after assembling a multipart upload.
type CompleteResult struct {
	Location string
	ETag     string
}

// ObjectStore is the transfer-credential and multipart surface of the
// object-storage collaborator. Implementations must not retain locks across
// calls; every method is an independent network operation.
type ObjectStore interface {
	// IssuePutURL returns a presigned URL the client can PUT the object to.
	IssuePutURL(ctx context.Context, key, contentType string) (string, error)

	// IssueGetURL returns a presigned URL for reading an object, used for
	// preview/thumbnail links on issued credentials.
	IssueGetURL(ctx context.Context, key string) (string, error)

	CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error)
	IssuePartURL(ctx context.Context, uploadID, key string, partNumber int32) (string, error)
	ListParts(ctx context.Context, uploadID, key string) ([]models.PartInfo, error)
	CompleteMultipartUpload(ctx context.Context, uploadID, key string, parts []models.CompletedPart) (*CompleteResult, error)
	AbortMultipartUpload(ctx context.Context, uploadID, key string) error
}

// transientCodes are API error codes worth retrying.
var transientCodes = map[string]struct{}{
	"RequestTimeout":      {},
	"SlowDown":            {},
	"InternalError":       {},
	"ServiceUnavailable":  {},
	"ThrottlingException": {},
}

// IsTransient reports whether err looks like a temporary storage failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := transientCodes[apiErr.ErrorCode()]; ok {
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}

	// non-API transport errors (connection reset, DNS, ...) are retryable
	return true
}
