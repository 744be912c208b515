// Package server initializes and runs the PhotoVault upload server: it
// wires the database, object storage and scheduling collaborators into the
// upload services, runs migrations, and starts the HTTP endpoint with
// graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/michalmalinowski87/photovault/internal/clock"
	"github.com/michalmalinowski87/photovault/internal/logging"
	"github.com/michalmalinowski87/photovault/internal/server/config"
	"github.com/michalmalinowski87/photovault/internal/server/httpapi"
	"github.com/michalmalinowski87/photovault/internal/server/repositories/repomanager"
	"github.com/michalmalinowski87/photovault/internal/server/scheduling"
	"github.com/michalmalinowski87/photovault/internal/server/services"
	"github.com/michalmalinowski87/photovault/internal/server/storage"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	uploads *services.UploadService
	server  *httpapi.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSON(os.Stdout)
	clk := clock.Real{}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	store, err := storage.NewS3Store(ctx, storage.S3Config{
		User:         c.S3User,
		Password:     c.S3Password,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage init error: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.S3Region))
	if err != nil {
		return nil, fmt.Errorf("aws config error: %w", err)
	}
	schedClient := scheduling.NewEventBridgeClient(scheduler.NewFromConfig(awsCfg), c.SchedulerGroup)

	ledger := services.NewQuotaLedger(db, repos)
	uploads := services.NewUploadService(
		db,
		repos,
		services.NewCredentialBatcher(storage.NewPresignIssuer(store), clk, logger),
		services.NewMultipartCoordinator(store, clk, logger),
		ledger,
		services.NewCompletionRecorder(ledger, repos.Objects(db), logger),
		services.NewDeferredActionScheduler(schedClient, clk, logger),
		services.SchedulerTargets{
			ExpireTargetRef: c.ExpireTargetArn,
			DeleteTargetRef: c.DeleteTargetArn,
			RoleRef:         c.SchedulerRoleArn,
			DeadLetterRef:   c.SchedulerDLQArn,
		},
		clk,
		logger,
	)

	server := httpapi.NewServer(c.EndpointAddr, uploads, []byte(c.SecretKey), logger)

	return &App{config: c, logger: logger, db: db, uploads: uploads, server: server}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.server.Run(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			app.logger.Error(ctx, "http server failed", "error", err)
		}
	}

	app.shutdown()
}

func (app *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error(ctx, "http shutdown failed", "error", err)
	}

	// reject pending credential windows and abort open multipart sessions
	app.uploads.Close(ctx)

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close failed", "error", err)
	}

	app.logger.Info(ctx, "App stopped")
}
