package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"example.com/sitepulse/internal/config"
	"example.com/sitepulse/internal/domain"
	"example.com/sitepulse/internal/enrich"
	"example.com/sitepulse/internal/geo"
	"example.com/sitepulse/internal/ingest"
	"example.com/sitepulse/internal/sitecache"
	"example.com/sitepulse/internal/storage/memory"
	spg "example.com/sitepulse/internal/storage/postgres"
	"example.com/sitepulse/internal/telemetry"
	transport "example.com/sitepulse/internal/transport/http"
)

// backend is what every storage option provides.
type backend interface {
	domain.EventStore
	domain.WebsiteDirectory
	domain.WebsiteRegistry
	Ping(ctx context.Context) error
}

// openBackend connects the configured store and applies migrations. The
// returned func releases it.
func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (backend, func(), error) {
	switch cfg.Storage {
	case "memory":
		log.Warn("storage: in-memory, events are lost on restart")
		return memory.NewStore(), func() {}, nil
	case "postgres", "":
		db, err := spg.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migration: %w", err)
		}
		log.Info("db: connected, migrations applied")
		return db, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORAGE %q (want postgres or memory)", cfg.Storage)
	}
}

func newGeoResolver(cfg config.Config, log *slog.Logger, m *telemetry.Metrics) (*geo.Resolver, error) {
	chain, err := geo.LoadChainConfig(cfg.GeoChainFile)
	if err != nil {
		return nil, err
	}
	if cfg.GeoTimeout > 0 {
		chain.Timeout = cfg.GeoTimeout
	}
	client := &http.Client{Timeout: chain.Timeout + time.Second}
	providers := []geo.Provider{geo.NewIPAPI(client), geo.NewIPWho(client)}
	return geo.NewResolver(chain, providers, log, m)
}

func serveCmd() *cobra.Command {
	var sites []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collector HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(config.Parse(), sites)
		},
	}
	cmd.Flags().StringSliceVar(&sites, "site", nil, "Register a website domain at startup (repeatable)")
	return cmd
}

func serve(cfg config.Config, seedSites []string) error {
	log := slog.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	for _, d := range seedSites {
		if err := registerWebsite(ctx, store, store, d, ""); err != nil {
			log.Warn("seed website skipped", "domain", d, "reason", err)
		}
	}

	metrics := telemetry.New()
	sites := sitecache.New(store, cfg.WebsiteCacheTTL)

	var resolver ingest.GeoResolver
	if !cfg.GeoDisabled {
		r, err := newGeoResolver(cfg, log, metrics)
		if err != nil {
			return fmt.Errorf("geo chain: %w", err)
		}
		resolver = r
	}

	ingestor := ingest.New(ingest.Options{
		Sites:        sites,
		Store:        store,
		Geo:          resolver,
		IPPolicy:     enrich.IPPolicy{Pick: enrich.ParseForwardedPick(cfg.ForwardedPick)},
		WriteTimeout: cfg.WriteTimeout,
		Logger:       log,
		Metrics:      metrics,
	})

	queueCtx, stopQueue := context.WithCancel(context.Background())
	queue := ingest.NewQueue(ingestor, store, ingest.QueueConfig{
		MaxSize:      cfg.PixelQueueSize,
		Workers:      cfg.PixelWorkers,
		BatchMaxSize: cfg.BatchMaxSize,
		BatchMaxWait: cfg.BatchMaxWait,
		WriteTimeout: cfg.WriteTimeout,
	}, log, metrics)
	queue.Start(queueCtx)
	log.Info("pixel queue started",
		"queue", cfg.PixelQueueSize, "workers", cfg.PixelWorkers,
		"batch", cfg.BatchMaxSize, "wait", cfg.BatchMaxWait)

	deps := &transport.ServerDeps{
		Cfg:      cfg,
		Ingestor: ingestor,
		Pixels:   queue,
		Sites:    sites,
		Store:    store,
		Metrics:  metrics,
		Logger:   log,
		Location: cfg.Location(),
		Now:      time.Now,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           deps.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			stopQueue()
			queue.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	stopQueue()
	queue.Wait()
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Parse()
			db, err := spg.Connect(cmd.Context(), cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer db.Close()
			if err := db.RunMigrations(cmd.Context()); err != nil {
				return fmt.Errorf("migration: %w", err)
			}
			slog.Info("migrations applied")
			return nil
		},
	}
}

func websiteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "website",
		Short: "Manage tracked websites",
	}

	var domainName, owner string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a website so its beacons are accepted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Parse()
			if cfg.Storage == "memory" {
				return errors.New("website add needs persistent storage (STORAGE=postgres)")
			}
			store, closeStore, err := openBackend(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}
			defer closeStore()
			if err := registerWebsite(cmd.Context(), store, store, domainName, owner); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", strings.ToLower(strings.TrimSpace(domainName)))
			return nil
		},
	}
	add.Flags().StringVar(&domainName, "domain", "", "Website domain, without scheme or path")
	add.Flags().StringVar(&owner, "owner", "", "Owner id (generated when empty)")
	_ = add.MarkFlagRequired("domain")

	cmd.AddCommand(add)
	return cmd
}

// registerWebsite validates name and creates the website unless it already
// exists.
func registerWebsite(ctx context.Context, dir domain.WebsiteDirectory, reg domain.WebsiteRegistry, name, owner string) error {
	if errs := domain.ValidateDomain(name); len(errs) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrValidation, errs[0].Error())
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if _, err := dir.WebsiteByDomain(ctx, name); err == nil {
		return fmt.Errorf("website %s already registered", name)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if owner == "" {
		owner = uuid.NewString()
	}
	return reg.CreateWebsite(ctx, domain.Website{
		ID:        uuid.NewString(),
		Domain:    name,
		OwnerID:   owner,
		CreatedAt: time.Now().UTC(),
	})
}
