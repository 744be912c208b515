// Package scheduling wraps the external scheduling service: one-shot timed
// invocations created, replaced and deleted by name.
package scheduling

import (
	"context"
	"errors"

	"github.com/michalmalinowski87/photovault/internal/server/models"
)

var (
	// ErrNotFound signals that no schedule exists under the given name. It
	// is distinguishable from other failures so callers can decide the
	// create-vs-update fallback.
	ErrNotFound = errors.New("schedule not found")

	// ErrAlreadyExists signals that a schedule with the given name already
	// exists.
	ErrAlreadyExists = errors.New("schedule already exists")
)

// Client is the scheduling-service collaborator contract.
type Client interface {
	Create(ctx context.Context, entry *models.ScheduleEntry) error
	Update(ctx context.Context, entry *models.ScheduleEntry) error
	Delete(ctx context.Context, name string) error
}
