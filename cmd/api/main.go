package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/app"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/autosave"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/config"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/followup"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/identity"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/lifecycle"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/logging"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/media"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/search"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/session"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/sweep"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/transcribe"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/worker"
)

const sweepInterval = 5 * time.Minute

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "intake api: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Database.URL, store.WithTxAttempts(cfg.Database.FinalizeAttempts))
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer st.Close()

	var (
		sessions       identity.SessionStore = st
		sessionsPinger app.Pinger
		purger         sweep.SessionPurger = st
	)
	if strings.TrimSpace(cfg.Redis.URL) != "" {
		logger.Info("using redis for session storage")
		redisStore, err := session.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		redisStore = redisStore.WithRetention(cfg.Session.Retention())
		sessions, sessionsPinger, purger = redisStore, redisStore, nil
	}

	var blobs media.BlobStore = st
	if cfg.Storage.Backend == "minio" {
		logger.Info("using minio for audio storage", slog.String("bucket", cfg.Storage.MinIOBucket))
		minioBlobs, err := media.NewMinioBlobs(ctx, media.MinioConfig{
			Endpoint:  cfg.Storage.MinIOEndpoint,
			AccessKey: cfg.Storage.MinIOAccessKey,
			SecretKey: cfg.Storage.MinIOSecretKey,
			Bucket:    cfg.Storage.MinIOBucket,
			UseSSL:    cfg.Storage.MinIOUseSSL,
		})
		if err != nil {
			return fmt.Errorf("minio connection failed: %w", err)
		}
		blobs = minioBlobs
	}

	pool := worker.NewPool(cfg.Workers.Count, cfg.Workers.QueueSize, logger)

	mediaOpts := []media.Option{
		media.WithDispatcher(pool),
		media.WithDefaultModelSize(cfg.Transcription.DefaultModelSize),
		media.WithLogger(logger),
	}
	stt := transcribe.NewClient(transcribe.Config{
		BaseURL: cfg.Transcription.BaseURL,
		APIKey:  cfg.Transcription.APIKey,
		Model:   cfg.Transcription.Model,
		Timeout: cfg.Transcription.Timeout(),
	})
	if stt.Enabled() {
		mediaOpts = append(mediaOpts, media.WithTranscriber(stt))
	} else {
		logger.Warn("transcription disabled: no api key configured")
	}
	mediaService := media.NewService(st, blobs, mediaOpts...)

	var generator followup.Generator
	if strings.TrimSpace(cfg.FollowUps.APIKey) != "" {
		generator = followup.NewClient(followup.ClientConfig{
			BaseURL: cfg.FollowUps.BaseURL,
			APIKey:  cfg.FollowUps.APIKey,
			Model:   cfg.FollowUps.Model,
			Timeout: time.Duration(cfg.FollowUps.TimeoutSeconds) * time.Second,
		})
	} else {
		logger.Warn("follow-up generation disabled: no api key configured")
	}
	followUps := followup.NewService(st, generator, followup.WithLogger(logger))

	var meili search.MeiliBackend
	if url := strings.TrimSpace(cfg.Search.MeiliURL); url != "" {
		meiliClient := search.NewMeili(url, cfg.Search.MeiliMasterKey, logger)
		defer meiliClient.Close()
		meili = meiliClient
	}
	searchService := search.NewService(meili, search.NewSQLSearcher(st), logger)
	pool.Submit("reindex", func(ctx context.Context) error {
		_, err := searchService.ReindexAll(ctx, st, 0)
		return err
	})

	lifecycleOpts := []lifecycle.Option{
		lifecycle.WithFormTypes(cfg.Forms.Types...),
		lifecycle.WithCaseStartDate(cfg.Forms.CaseStartDate),
		lifecycle.WithDispatcher(pool),
		lifecycle.WithIndexer(searchService),
		lifecycle.WithLogger(logger),
	}
	if generator != nil {
		lifecycleOpts = append(lifecycleOpts, lifecycle.WithFollowUps(followUps))
	}
	manager := lifecycle.NewManager(st, lifecycleOpts...)

	scheduler := autosave.NewScheduler(autosave.Policy{
		IdleTimeout:      cfg.Session.IdleTimeout(),
		WarnAfter:        cfg.Session.WarningAfter(),
		AutosaveInterval: cfg.Session.AutosaveInterval(),
	}, sessions, st, autosave.WithLogger(logger))

	identityService := identity.NewService(st, sessions, identity.Config{
		TokenTTL:    cfg.Session.TokenTTL(),
		IdleTimeout: cfg.Session.IdleTimeout(),
	}, identity.WithLogger(logger))

	sweepOpts := []sweep.Option{
		sweep.WithTranscripts(mediaService),
		sweep.WithFollowUps(manager),
		sweep.WithLogger(logger),
	}
	if purger != nil {
		sweepOpts = append(sweepOpts, sweep.WithSessions(purger))
	}
	sweeper := sweep.New(sweep.Config{
		TranscriptGrace:  cfg.Transcription.RetryGrace(),
		FollowUpGrace:    cfg.FollowUps.RetryGrace(),
		SessionRetention: cfg.Session.Retention(),
	}, sweepOpts...)
	go sweeper.Loop(ctx, sweepInterval)

	service := app.NewService(app.Deps{
		Store:     st,
		Sessions:  sessionsPinger,
		Identity:  identityService,
		Lifecycle: manager,
		Autosave:  scheduler,
		Media:     mediaService,
		FollowUps: followUps,
		Search:    searchService,
		Logger:    logger,
	})

	httpServer := app.NewHTTPServer(service, cfg.Server.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("intake api listening", slog.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	pool.Shutdown(shutdownCtx)
	logger.Info("intake api stopped")
	return nil
}
