package models

import "time"

// Gallery is the minimal gallery row the upload path needs: ownership for
// authorization, per-pool plan limits for admission, and the expiry
// deadline driving deferred deletion.
type Gallery struct {
	ID      string
	OwnerID string
	Name    string

	// SourceLimitBytes / DeliveredLimitBytes are the plan-assigned quota
	// limits; nil until the gallery has a paid plan.
	SourceLimitBytes    *int64
	DeliveredLimitBytes *int64

	ExpiresAt *time.Time

	CreatedAt time.Time
}

// GalleryPatch is a typed partial update. Every field carries an explicit
// set/unset tri-state so "set to NULL" and "leave untouched" stay distinct.
type GalleryPatch struct {
	Name                OptString
	SourceLimitBytes    OptInt64
	DeliveredLimitBytes OptInt64
	ExpiresAt           OptTime
}

// OptString is an optional string field of a patch. Set selects the field
// for update; a nil Value writes NULL.
type OptString struct {
	Set   bool
	Value *string
}

type OptInt64 struct {
	Set   bool
	Value *int64
}

type OptTime struct {
	Set   bool
	Value *time.Time
}

// SetString marks a string field for update.
func SetString(v string) OptString { return OptString{Set: true, Value: &v} }

// SetInt64 marks an int64 field for update.
func SetInt64(v int64) OptInt64 { return OptInt64{Set: true, Value: &v} }

// SetTime marks a time field for update.
func SetTime(v time.Time) OptTime { return OptTime{Set: true, Value: &v} }

// ClearTime marks a time field for update with NULL.
func ClearTime() OptTime { return OptTime{Set: true} }
