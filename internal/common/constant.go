// Package common contains shared constants and sentinel errors used across
// PhotoVault components.
package common

import "time"

// AccessTokenHeaderName is the HTTP header used to carry the access token
// on inbound API requests.
const AccessTokenHeaderName = "Authorization"

// Upload coordination constants. These are behavioral, not tunables: the
// client protocol depends on them.
const (
	// MaxBatchSize is the number of pending credential requests that forces
	// an immediate window flush.
	MaxBatchSize = 50

	// BatchWindow is how long a credential window stays open before its
	// timer flushes it.
	BatchWindow = 100 * time.Millisecond

	// MultipartThreshold is the file size at and above which uploads go
	// through the multipart coordinator instead of a single presigned PUT.
	MultipartThreshold int64 = 100 << 20

	// MinPartSize and MaxPartSize bound the part size of a multipart upload.
	MinPartSize int64 = 5 << 20
	MaxPartSize int64 = 5 << 30

	// MaxParts is the storage-imposed cap on parts per multipart upload.
	MaxParts = 10000

	// DraftPlanLimitBytes is the quota ceiling applied to galleries that
	// have no paid plan yet, so uploads are not blocked before checkout.
	DraftPlanLimitBytes int64 = 1 << 40

	// MinScheduleLead is the earliest a deferred action may fire; sooner
	// deadlines are collapsed forward to now+MinScheduleLead.
	MinScheduleLead = time.Minute
)
