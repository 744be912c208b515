package models

// QuotaCounter is the persisted per-gallery, per-pool byte counter.
// UsedBytes is mutated only via atomic additive deltas, never
// read-modify-write, so concurrent commits cannot lose updates.
type QuotaCounter struct {
	GalleryID string
	Pool      Pool
	UsedBytes int64
	// LimitBytes is nil for unpaid/draft galleries; a hard ceiling constant
	// applies instead.
	LimitBytes *int64
}

// ObjectMetadata is the immutable completion record of one stored object.
// Uniqueness key is (GalleryID, ObjectKey); an overwrite is accepted only
// when the incoming etag/lastModified strictly supersedes the stored one.
type ObjectMetadata struct {
	GalleryID string
	ObjectKey string
	Pool      Pool
	Size      int64
	ETag      string
	// LastModifiedEpoch is the storage-reported modification time in epoch
	// milliseconds; the idempotent retry guard compares against it.
	LastModifiedEpoch int64
}
