package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"percolator/api/internal/app"
	"percolator/api/internal/export"
	"percolator/api/internal/gitrepo"
	"percolator/api/internal/logging"
	"percolator/api/internal/search"
	"percolator/api/internal/session"
	"percolator/api/internal/store"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if !skipMigrations {
		if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	svc := app.New(cfg, store.NewPostgresStore(db), logger)

	if cfg.RedisURL != "" {
		sessions, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer sessions.Close()
		svc.WithSessions(sessions)
		logger.Info().Msg("refresh sessions stored in redis")
	}

	var meili *search.Meili
	if cfg.MeiliURL != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	searchSvc := search.NewService(meili, search.NewPgFTS(db), logger)
	svc.WithSearch(searchSvc)

	if cfg.ReposDir != "" {
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			return fmt.Errorf("create repos dir: %w", err)
		}
		svc.WithHistory(gitrepo.New(cfg.ReposDir))
	}

	var objects export.ObjectStore
	if cfg.MinIO.Enabled() {
		minioStore, err := export.NewMinioStore(ctx, export.MinioOptions{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("minio unavailable, stored exports disabled")
		} else {
			objects = minioStore
		}
	}
	exporter := export.NewService(cfg.ChromePath, objects)
	if !exporter.PDFAvailable() {
		logger.Warn().Msg("chrome not found, pdf export disabled")
	}
	svc.WithExporter(exporter)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(svc, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Msg("percolator api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		reindex(gctx, searchSvc, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info().Msg("shutting down")
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	searchSvc.Wait()
	return err
}

func reindex(ctx context.Context, searchSvc *search.Service, logger zerolog.Logger) {
	n, err := searchSvc.Reindex(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("initial search reindex failed")
		return
	}
	if n > 0 {
		logger.Info().Int("ideas", n).Msg("search index rebuilt")
	}
}
