// Package models defines server-side data models persisted in the database
// and the value types exchanged by the upload coordination services.
package models

import "time"

// Pool identifies which storage accounting pool an object belongs to.
// Source assets and delivered assets have separate limits and lifecycles.
type Pool string

const (
	PoolSource    Pool = "source"
	PoolDelivered Pool = "delivered"
)

// Valid reports whether p is one of the known pools.
func (p Pool) Valid() bool {
	return p == PoolSource || p == PoolDelivered
}

// UploadRequest describes one client-selected file awaiting credentials.
// Immutable; consumed once a credential is issued.
type UploadRequest struct {
	// FileID is the client-assigned id used to correlate results.
	FileID string
	// FileName is the name chosen by the client, after collision resolution.
	FileName string
	FileSize int64

	ContentType string

	Pool Pool

	// OwnerID is the authenticated caller.
	OwnerID string
	// GalleryID is the gallery the file is uploaded into.
	GalleryID string
	// SubPath optionally scopes the upload inside the gallery (e.g. an
	// order folder); part of the batching key.
	SubPath string
}

// FileDescriptor is the per-file payload of one bulk credential-issuance
// call. Order is significant: results map back by index.
type FileDescriptor struct {
	Key         string
	ContentType string
	FileSize    int64
}

// TransferCredential is what a caller needs to move one object's bytes
// directly to storage.
type TransferCredential struct {
	// URL is a temporary presigned HTTP URL for the client to PUT the bytes.
	URL string
	// ObjectKey is the storage key the object will live under.
	ObjectKey string
	// PreviewURL and ThumbnailURL are optional presigned GET URLs for the
	// derived assets, when the pool produces them.
	PreviewURL   string
	ThumbnailURL string
}

// MultipartSession tracks one in-flight large upload. Sessions live in
// memory; the authoritative part state is storage's own listing, which is
// what makes resume survive a page reload.
type MultipartSession struct {
	UploadID   string
	ObjectKey  string
	PartSize   int64
	TotalParts int
	CreatedAt  time.Time

	// CompletedParts is advisory client-side bookkeeping; storage's listing
	// is consulted at complete time.
	CompletedParts map[int32]string
}

// PartInfo describes one already-acknowledged part of a multipart upload.
type PartInfo struct {
	PartNumber int32
	ETag       string
	Size       int64
}

// CompletedPart is the (partNumber, etag) pair forwarded to storage when
// completing a multipart upload.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}
