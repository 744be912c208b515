package objects

import (
	"context"
	"fmt"

	"github.com/michalmalinowski87/photovault/internal/dbx"
	"github.com/michalmalinowski87/photovault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// RecordCompletion relies on the conditional DO UPDATE ... WHERE clause to
// make retries commutative: an equal etag or a newer stored record leaves
// the row untouched and reports zero affected rows.
func (r *PostgresRepository) RecordCompletion(ctx context.Context, meta *models.ObjectMetadata) (bool, error) {

	query :=
		`INSERT INTO objects (gallery_id, object_key, pool, size, etag, last_modified_epoch)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (gallery_id, object_key)
		DO UPDATE SET
			pool = EXCLUDED.pool,
			size = EXCLUDED.size,
			etag = EXCLUDED.etag,
			last_modified_epoch = EXCLUDED.last_modified_epoch
			WHERE objects.etag <> EXCLUDED.etag
			AND objects.last_modified_epoch <= EXCLUDED.last_modified_epoch;
		`

	res, err := r.db.ExecContext(ctx, query,
		meta.GalleryID, meta.ObjectKey, string(meta.Pool), meta.Size, meta.ETag, meta.LastModifiedEpoch)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}

	switch n {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) ListKeys(ctx context.Context, galleryID string) ([]string, error) {

	query := `SELECT object_key FROM objects WHERE gallery_id=$1 ORDER BY object_key`

	rows, err := r.db.QueryContext(ctx, query, galleryID)
	if err != nil {
		return nil, fmt.Errorf("failed to select object keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}
