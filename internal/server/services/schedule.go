package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/michalmalinowski87/photovault/internal/clock"
	"github.com/michalmalinowski87/photovault/internal/common"
	"github.com/michalmalinowski87/photovault/internal/logging"
	"github.com/michalmalinowski87/photovault/internal/server/models"
	"github.com/michalmalinowski87/photovault/internal/server/scheduling"
)

// DeferredAction describes one deferred invocation keyed by entity id.
type DeferredAction struct {
	EntityID string
	FireAt   time.Time
	// TargetRef and RoleRef identify what the scheduling service invokes and
	// under which execution role.
	TargetRef string
	RoleRef   string
	Payload   []byte
	// DeadLetterRef optionally routes failed invocations.
	DeadLetterRef string
}

// DeferredActionScheduler maintains at most one active schedule per entity.
// Names derive deterministically from the entity id, so upserts converge on
// the same entry no matter how many times they run.
type DeferredActionScheduler struct {
	client scheduling.Client
	clk    clock.Clock
	logger logging.Logger
}

func NewDeferredActionScheduler(client scheduling.Client, clk clock.Clock, logger logging.Logger) *DeferredActionScheduler {
	return &DeferredActionScheduler{
		client: client,
		clk:    clk,
		logger: logger.With("module", "deferred_scheduler"),
	}
}

// ScheduleName derives the deterministic schedule name for an entity id.
// Characters outside the scheduling service's charset are replaced.
func ScheduleName(entityID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, entityID)
	return "pv-" + sanitized
}

// Upsert creates or replaces the entity's schedule. A deadline sooner than
// the scheduling service's near-future precision is clamped forward.
func (s *DeferredActionScheduler) Upsert(ctx context.Context, action *DeferredAction) (string, error) {

	fireAt := action.FireAt.UTC()
	if min := s.clk.Now().Add(common.MinScheduleLead); fireAt.Before(min) {
		fireAt = min
	}

	entry := &models.ScheduleEntry{
		Name:          ScheduleName(action.EntityID),
		FireAt:        fireAt,
		TargetRef:     action.TargetRef,
		RoleRef:       action.RoleRef,
		Payload:       action.Payload,
		DeadLetterRef: action.DeadLetterRef,
	}

	err := s.client.Update(ctx, entry)
	if errors.Is(err, scheduling.ErrNotFound) {
		err = s.client.Create(ctx, entry)
		if errors.Is(err, scheduling.ErrAlreadyExists) {
			// lost the create race to a concurrent upsert; the entry exists,
			// which is what this call was after
			err = nil
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to upsert schedule %s: %w", entry.Name, err)
	}

	s.logger.Debug(ctx, "schedule upserted",
		"entity", action.EntityID, "name", entry.Name, "fire_at", entry.FireAt)
	return entry.Name, nil
}

// Cancel removes the entity's schedule. Cancelling one that does not exist
// reports existed=false, never an error; deletion races with the schedule
// firing are expected.
func (s *DeferredActionScheduler) Cancel(ctx context.Context, entityID string) (bool, error) {
	name := ScheduleName(entityID)
	err := s.client.Delete(ctx, name)
	if errors.Is(err, scheduling.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to cancel schedule %s: %w", name, err)
	}
	return true, nil
}
