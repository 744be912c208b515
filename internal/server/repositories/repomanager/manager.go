package repomanager

import (
	"context"
	"database/sql"

	"github.com/michalmalinowski87/photovault/internal/dbx"
	"github.com/michalmalinowski87/photovault/internal/server/repositories/galleries"
	"github.com/michalmalinowski87/photovault/internal/server/repositories/objects"
	"github.com/michalmalinowski87/photovault/internal/server/repositories/quotas"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Galleries(db dbx.DBTX) galleries.Repository
	Quotas(db dbx.DBTX) quotas.Repository
	Objects(db dbx.DBTX) objects.Repository
}
