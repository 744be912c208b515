package models

import "time"

// ScheduleEntry is a one-shot deferred invocation. Exactly one active entry
// exists per entity, or zero; the name is derived deterministically from the
// entity id, which is what makes upserts idempotent.
type ScheduleEntry struct {
	Name      string
	FireAt    time.Time
	TargetRef string
	// RoleRef is the execution role the scheduling service assumes when
	// invoking the target.
	RoleRef string
	Payload []byte
	// DeadLetterRef optionally routes failed invocations; empty disables it.
	DeadLetterRef string
}
