// Package common defines shared constants and sentinel errors used across
// PhotoVault layers. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// ErrUnknownPool marks a pool name outside the known set. Caller-fixable.
	ErrUnknownPool = errors.New("unknown pool")

	// Batching errors.
	ErrWindowClosed       = errors.New("credential window closed")
	ErrCredentialIssuance = errors.New("credential issuance failed")

	// Collision resolution: the user chose to stop the batch. A terminal
	// state, not a failure.
	ErrBatchStopped = errors.New("batch stopped")

	// Multipart protocol errors, rejected before any network call.
	ErrPartSizeOutOfRange = errors.New("part size out of range")
	ErrTooManyParts       = errors.New("too many parts")
	ErrUploadInProgress   = errors.New("multipart upload already in progress")
	ErrUnknownUpload      = errors.New("unknown multipart upload")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
)

// QuotaExceededError is returned when an admission check fails. It carries
// the figures the client needs to render a precise remediation message.
type QuotaExceededError struct {
	GalleryID      string
	Pool           string
	UsedBytes      int64
	LimitBytes     int64
	CandidateBytes int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for gallery %s pool %s: used %d + candidate %d > limit %d",
		e.GalleryID, e.Pool, e.UsedBytes, e.CandidateBytes, e.LimitBytes)
}
