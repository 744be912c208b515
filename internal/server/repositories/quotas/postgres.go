package quotas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/michalmalinowski87/photovault/internal/common"
	"github.com/michalmalinowski87/photovault/internal/dbx"
	"github.com/michalmalinowski87/photovault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, galleryID string, pool models.Pool) (*models.QuotaCounter, error) {

	query := `SELECT gallery_id, pool, used_bytes, limit_bytes FROM quota_counters
		WHERE gallery_id=$1 AND pool=$2`

	c := &models.QuotaCounter{}
	var limit sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, galleryID, string(pool)).
		Scan(&c.GalleryID, &c.Pool, &c.UsedBytes, &limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select quota counter: %w", err)
	}

	if limit.Valid {
		c.LimitBytes = &limit.Int64
	}

	return c, nil
}

// AddUsage is the only write path for used_bytes. The delta is applied in
// SQL so concurrent commits serialize on the row, not in the application.
func (r *PostgresRepository) AddUsage(ctx context.Context, galleryID string, pool models.Pool, delta int64) error {

	query :=
		`INSERT INTO quota_counters (gallery_id, pool, used_bytes)
		VALUES ($1, $2, $3)
		ON CONFLICT (gallery_id, pool)
		DO UPDATE SET used_bytes = quota_counters.used_bytes + EXCLUDED.used_bytes;
		`

	res, err := r.db.ExecContext(ctx, query, galleryID, string(pool), delta)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}

	return nil
}
