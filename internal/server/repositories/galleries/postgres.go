package galleries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

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

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Gallery, error) {

	query := `SELECT id, owner_id, name, source_limit_bytes, delivered_limit_bytes, expires_at, created_at
		FROM galleries WHERE id=$1`

	g := &models.Gallery{}
	var sourceLimit, deliveredLimit sql.NullInt64
	var expiresAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&g.ID, &g.OwnerID, &g.Name, &sourceLimit, &deliveredLimit, &expiresAt, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select gallery: %w", err)
	}

	if sourceLimit.Valid {
		g.SourceLimitBytes = &sourceLimit.Int64
	}
	if deliveredLimit.Valid {
		g.DeliveredLimitBytes = &deliveredLimit.Int64
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		g.ExpiresAt = &t
	}

	return g, nil
}

func (r *PostgresRepository) Create(ctx context.Context, g *models.Gallery) error {

	query :=
		`INSERT INTO galleries (id, owner_id, name, source_limit_bytes, delivered_limit_bytes, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	var sourceLimit, deliveredLimit any
	if g.SourceLimitBytes != nil {
		sourceLimit = *g.SourceLimitBytes
	}
	if g.DeliveredLimitBytes != nil {
		deliveredLimit = *g.DeliveredLimitBytes
	}
	var expiresAt any
	if g.ExpiresAt != nil {
		expiresAt = *g.ExpiresAt
	}

	_, err := r.db.ExecContext(ctx, query, g.ID, g.OwnerID, g.Name, sourceLimit, deliveredLimit, expiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

// Update builds the SET list from the patch's tri-state fields. The column
// list is fixed at compile time; only membership is dynamic.
func (r *PostgresRepository) Update(ctx context.Context, id string, patch models.GalleryPatch) error {

	var sets []string
	var args []any

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Name.Set {
		add("name", optStringArg(patch.Name))
	}
	if patch.SourceLimitBytes.Set {
		add("source_limit_bytes", optInt64Arg(patch.SourceLimitBytes))
	}
	if patch.DeliveredLimitBytes.Set {
		add("delivered_limit_bytes", optInt64Arg(patch.DeliveredLimitBytes))
	}
	if patch.ExpiresAt.Set {
		add("expires_at", optTimeArg(patch.ExpiresAt))
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE galleries SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}

	return nil
}

func optStringArg(o models.OptString) any {
	if o.Value == nil {
		return nil
	}
	return *o.Value
}

func optInt64Arg(o models.OptInt64) any {
	if o.Value == nil {
		return nil
	}
	return *o.Value
}

func optTimeArg(o models.OptTime) any {
	if o.Value == nil {
		return nil
	}
	return *o.Value
}
