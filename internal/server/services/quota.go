package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/michalmalinowski87/photovault/internal/common"
	"github.com/michalmalinowski87/photovault/internal/server/models"
	"github.com/michalmalinowski87/photovault/internal/server/repositories/repomanager"
)

// Admission is the outcome of one quota check. A rejection is a normal
// outcome, not an error; the figures let the client render remediation.
type Admission struct {
	Allowed    bool
	UsedBytes  int64
	LimitBytes int64
}

// QuotaLedger enforces per-gallery, per-pool storage limits. Admission is a
// soft check against the authoritative counter (no reservation, no lock held
// across the transfer that follows); the commit is an atomic additive delta,
// so concurrent commits never lose updates. The accepted cost is an
// occasional overshoot bounded by the size of one in-flight batch.
type QuotaLedger struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
}

func NewQuotaLedger(db *sql.DB, repos repomanager.RepositoryManager) *QuotaLedger {
	return &QuotaLedger{db: db, repos: repos}
}

// Admit checks whether candidateBytes more bytes fit the pool's limit.
func (l *QuotaLedger) Admit(ctx context.Context, galleryID string, pool models.Pool, candidateBytes int64) (*Admission, error) {

	var used int64
	var counterLimit *int64

	counter, err := l.repos.Quotas(l.db).Get(ctx, galleryID, pool)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		// nothing committed yet
	case err != nil:
		return nil, fmt.Errorf("failed to read quota counter: %w", err)
	default:
		used = counter.UsedBytes
		counterLimit = counter.LimitBytes
	}

	limit, err := l.effectiveLimit(ctx, galleryID, pool, counterLimit)
	if err != nil {
		return nil, err
	}

	return &Admission{
		Allowed:    used+candidateBytes <= limit,
		UsedBytes:  used,
		LimitBytes: limit,
	}, nil
}

// Commit applies the actual byte count of one durably stored object.
func (l *QuotaLedger) Commit(ctx context.Context, galleryID string, pool models.Pool, actualBytes int64) error {
	return l.repos.Quotas(l.db).AddUsage(ctx, galleryID, pool, actualBytes)
}

// effectiveLimit resolves, in order: the counter's assigned limit, the
// gallery's plan limit for the pool, and finally the draft ceiling used for
// galleries that have not checked out yet.
func (l *QuotaLedger) effectiveLimit(ctx context.Context, galleryID string, pool models.Pool, counterLimit *int64) (int64, error) {
	if counterLimit != nil {
		return *counterLimit, nil
	}

	g, err := l.repos.Galleries(l.db).Get(ctx, galleryID)
	if errors.Is(err, common.ErrorNotFound) {
		return common.DraftPlanLimitBytes, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read gallery: %w", err)
	}

	var planLimit *int64
	switch pool {
	case models.PoolDelivered:
		planLimit = g.DeliveredLimitBytes
	default:
		planLimit = g.SourceLimitBytes
	}

	if planLimit != nil {
		return *planLimit, nil
	}
	return common.DraftPlanLimitBytes, nil
}
