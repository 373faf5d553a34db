package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/curio-sh/curio/pkg/api"
	"github.com/curio-sh/curio/pkg/artifacts"
	"github.com/curio-sh/curio/pkg/auth"
	"github.com/curio-sh/curio/pkg/config"
	"github.com/curio-sh/curio/pkg/events"
	"github.com/curio-sh/curio/pkg/observability"
	"github.com/curio-sh/curio/pkg/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "curio: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metadata store
	var store artifacts.Store
	var db *sql.DB
	var recorder events.Recorder

	switch cfg.Store.Type {
	case "postgres":
		db, err = sql.Open("postgres", cfg.Store.PostgresURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Store.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Store.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Store.ConnMaxLifetime)

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}
		if err := artifacts.Migrate(ctx, db); err != nil {
			return err
		}

		store = artifacts.NewPostgresStore(db)

		pgRecorder := events.NewPostgresRecorder(db)
		if err := pgRecorder.Migrate(ctx); err != nil {
			return err
		}
		recorder = pgRecorder
	default:
		store = artifacts.NewMemoryStore()
		recorder = events.NewMemoryRecorder()
	}

	// Blob backend
	var backend storage.Backend
	switch cfg.Blob.Backend {
	case "s3":
		backend, err = storage.NewS3Backend(ctx, storage.S3Config{
			Bucket:       cfg.Blob.S3Bucket,
			Region:       cfg.Blob.S3Region,
			Endpoint:     cfg.Blob.S3Endpoint,
			AccessKey:    cfg.Blob.S3AccessKey,
			SecretKey:    cfg.Blob.S3SecretKey,
			UsePathStyle: cfg.Blob.S3UsePathStyle,
		})
	default:
		backend, err = storage.NewFilesystemBackend(cfg.Blob.FilesystemRoot)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize blob backend: %w", err)
	}

	// Optional cache tiers in front of content reads
	var redisClient *redis.Client
	storeOpts := []storage.ObjectStoreOption{
		storage.WithMaxRetries(uint64(cfg.Blob.MaxRetries)),
	}
	if metrics != nil {
		storeOpts = append(storeOpts, storage.WithObserver(metrics))
	}
	if cfg.Cache.Enabled {
		cacheOpts := []storage.ContentCacheOption{
			storage.WithCacheTTL(cfg.Cache.TTL),
			storage.WithMaxObjectSize(cfg.Cache.MaxObjectSize),
		}
		if cfg.Cache.RedisAddr != "" {
			redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.Cache.RedisAddr,
				Password: cfg.Cache.RedisPassword,
				DB:       cfg.Cache.RedisDB,
			})
			defer redisClient.Close()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to connect to Redis: %w", err)
			}
			cacheOpts = append(cacheOpts, storage.WithRedis(redisClient))
		}
		if metrics != nil {
			cacheOpts = append(cacheOpts, storage.WithCacheObserver(metrics))
		}
		cache, err := storage.NewContentCache(cfg.Cache.Entries, cacheOpts...)
		if err != nil {
			return err
		}
		storeOpts = append(storeOpts, storage.WithContentCache(cache))
	}

	objects := storage.NewObjectStore(backend, storeOpts...)

	// Rebuild the object index from the version table so reference counts
	// survive restarts
	if pg, ok := store.(*artifacts.PostgresStore); ok {
		refs, err := pg.LiveContentRefs(ctx)
		if err != nil {
			return err
		}
		for hash, ref := range refs {
			objects.Restore(hash, ref.Count, 0, ref.FirstSeen)
		}
		logger.WithField("objects", len(refs)).Info("object index restored")
	}

	// Periodic sweep for content left at refcount zero by aborted uploads
	// or failed releases
	if cfg.Blob.ReclaimSchedule != "" {
		c := cron.New()
		_, err := c.AddFunc(cfg.Blob.ReclaimSchedule, func() {
			reclaimed, err := objects.Reclaim(context.Background())
			if err != nil {
				logger.WithError(err).Warn("reclaim sweep failed")
				return
			}
			if reclaimed > 0 {
				logger.WithField("reclaimed", reclaimed).Info("orphaned content reclaimed")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule reclaim sweep: %w", err)
		}
		c.Start()
		defer c.Stop()
	}

	// Token issuer with a fresh key per process start; previous keys stay
	// valid only within the rotation grace window
	keyID, err := auth.GenerateKeyID()
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer(
		cfg.Auth.TokenIssuer,
		cfg.Auth.TokenAudience,
		keyID,
		[]byte(cfg.Auth.SigningSecret),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
		auth.WithRotationGrace(cfg.Auth.RotationGrace),
	)
	if err != nil {
		return err
	}

	// External identity verifier for the token endpoint
	var external auth.ExternalVerifier
	switch cfg.Auth.VerifierMode {
	case "oidc":
		external, err = auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
			IssuerURL:     cfg.Auth.OIDCIssuerURL,
			ClientID:      cfg.Auth.OIDCClientID,
			ProviderName:  cfg.Auth.OIDCProviderName,
			AdminSubjects: cfg.Auth.AdminSubjects,
			FetchUserInfo: cfg.Auth.OIDCFetchUserInfo,
		})
	default:
		external, err = auth.NewStaticVerifier(
			cfg.Auth.StaticProvider,
			cfg.Auth.StaticIssuer,
			[]byte(cfg.Auth.StaticSecret),
			cfg.Auth.AdminSubjects,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize identity verifier: %w", err)
	}

	managerOpts := []artifacts.ManagerOption{artifacts.WithLogger(logger)}
	if metrics != nil {
		managerOpts = append(managerOpts, artifacts.WithMetrics(metrics))
	}
	manager := artifacts.NewManager(store, objects, managerOpts...)

	serverOpts := []api.ServerOption{
		api.WithRecorder(recorder),
		api.WithExternalVerifier(external),
		api.WithServerLogger(logger),
	}
	if metrics != nil {
		serverOpts = append(serverOpts, api.WithServerMetrics(metrics))
	}
	server := api.NewServer(manager, issuer, serverOpts...)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisClient, objects)
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown failed")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("health server shutdown failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
