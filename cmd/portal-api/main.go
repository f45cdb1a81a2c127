package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/studio-portal-api/api/swagger"
	"github.com/noah-isme/studio-portal-api/internal/handler"
	"github.com/noah-isme/studio-portal-api/internal/middleware"
	"github.com/noah-isme/studio-portal-api/internal/repository"
	"github.com/noah-isme/studio-portal-api/internal/service"
	"github.com/noah-isme/studio-portal-api/pkg/cache"
	"github.com/noah-isme/studio-portal-api/pkg/config"
	"github.com/noah-isme/studio-portal-api/pkg/database"
	"github.com/noah-isme/studio-portal-api/pkg/jobs"
	"github.com/noah-isme/studio-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/studio-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/studio-portal-api/pkg/middleware/requestid"
	"github.com/noah-isme/studio-portal-api/pkg/storage"
)

// @title Studio Portal API
// @version 1.0.0
// @description Recurring class occurrences, attendance and makeup credits for a fitness studio.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const confirmSweepInterval = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	var redisPing handler.Pinger
	if cfg.Backlog.CacheEnabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, backlog cache disabled", zap.Error(err))
		} else {
			defer client.Close()
			cacheRepo = repository.NewCacheRepository(client, "studio:", logr)
			redisPing = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Backlog.CacheTTL, logr, cfg.Backlog.CacheEnabled)

	slots := repository.NewFixedSlotRepository(db)
	occurrences := repository.NewOccurrenceRepository(db)
	credits := repository.NewCreditRepository(db)
	roster := repository.NewRosterRepository(db)

	engine := service.NewEngine(service.EngineDeps{
		Slots:       slots,
		Occurrences: occurrences,
		Absences:    repository.NewAbsenceRepository(db),
		Credits:     credits,
		Reschedules: repository.NewRescheduleRepository(db),
		Roster:      roster,
		Locks:       repository.NewLockRepository(),
		Tx:          database.NewTxRunner(db),
		Cache:       cacheSvc,
		Metrics:     metrics,
		Validator:   validator.New(),
		Config:      service.NewEngineConfig(cfg.Studio),
		Logger:      logr,
	})
	tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	handlers := handler.Handlers{
		Slots:       handler.NewSlotHandler(engine.Slots),
		Occurrences: handler.NewOccurrenceHandler(engine.Resolver, engine.Attendance, engine.Credits),
		Ledger:      handler.NewLedgerHandler(engine.Absences, engine.Credits),
		Reschedules: handler.NewRescheduleHandler(engine.Reschedules),
	}

	if cfg.Reports.Enabled {
		queue, err := startReports(ctx, cfg, db, engine, credits, occurrences, roster, logr, &handlers)
		if err != nil {
			logr.Fatal("failed to start report workers", zap.Error(err))
		}
		defer queue.Stop()
	}

	go sweepConfirmations(ctx, engine.Absences, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	metricsHandler := handler.NewMetricsHandler(metrics, map[string]handler.Pinger{
		"postgres": db.PingContext,
		"redis":    redisPing,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handlers, middleware.JWT(tokens), logr)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "prefix", cfg.APIPrefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

func startReports(
	ctx context.Context,
	cfg *config.Config,
	db *sqlx.DB,
	engine *service.Engine,
	credits *repository.CreditRepository,
	occurrences *repository.OccurrenceRepository,
	roster *repository.RosterRepository,
	logr *zap.Logger,
	handlers *handler.Handlers,
) (*jobs.Queue, error) {
	store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exporter := service.NewExportService(service.ExportSources{
		Backlog:     engine.Resolver,
		Credits:     credits,
		Occurrences: occurrences,
		Students:    roster,
	}, store, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
		Location:  cfg.Studio.Location,
	}, logr, nil, nil)

	reportRepo := repository.NewReportRepository(db)
	worker := service.NewReportWorker(reportRepo, exporter, cfg.Reports.WorkerRetries, logr)
	queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		RetryDelay: 2 * time.Second,
		OnExhausted: func(job jobs.Job, err error) {
			logr.Error("report job exhausted retries", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
		},
		Logger: logr,
	})
	queue.Start(ctx)

	reports := service.NewReportService(reportRepo, queue, exporter, logr, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
	})
	if n := reports.RecoverPendingJobs(ctx); n > 0 {
		logr.Info("requeued pending report jobs", zap.Int("jobs", n))
	}
	reports.StartCleanup(ctx)

	handlers.Reports = handler.NewReportHandler(reports, logr)
	return queue, nil
}

// sweepConfirmations confirms absence notices whose occurrence has started
// so their credits exist before anyone lists them.
func sweepConfirmations(ctx context.Context, absences *service.AbsenceService, logr *zap.Logger) {
	ticker := time.NewTicker(confirmSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := absences.ConfirmDue(ctx)
			if err != nil {
				logr.Warn("confirm due absences failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logr.Info("absence notices confirmed", zap.Int("confirmed", n))
			}
		}
	}
}
