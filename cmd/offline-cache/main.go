package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/bassam-ai/offline-cache"
	"github.com/bassam-ai/offline-cache/cache"
	"github.com/bassam-ai/offline-cache/config"
	"github.com/bassam-ai/offline-cache/telemetry"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// this is set by goreleaser
var version string

func init() {
	if version == "" {
		version = "DEV"
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newApp().Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("Exiting")
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "offline-cache",
		Usage:   "Offline-first caching proxy",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Config file (.yaml, .yml or .toml)"},
			&cli.StringFlag{Name: "origin", Usage: "Origin URL to proxy to"},
			&cli.StringFlag{Name: "host", Usage: "Hostname of origin"},
			&cli.StringFlag{Name: "listen", Usage: "Address to listen on"},
			&cli.StringFlag{Name: "admin-listen", Usage: "Address of the admin endpoints (not served if empty)"},
			&cli.StringFlag{Name: "db", Usage: "Cache DB file name (use 'memory' for in-memory db)"},
			&cli.StringFlag{Name: "cache-name", Usage: "Name of the cache store of this version"},
			&cli.DurationFlag{Name: "client-timeout", Usage: "Timeout of requests to the origin"},
			&cli.StringFlag{Name: "log-file", Usage: "Log file to use (in addition to stdout)"},
			&cli.BoolFlag{Name: "vv", Usage: "Verbosity: trace logging"},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "install the cache and serve requests through it",
				Action: serve,
			},
			{
				Name:   "install",
				Usage:  "install and activate the cache, then exit",
				Action: install,
			},
			{
				Name:   "stores",
				Usage:  "list cache stores with entry counts and sizes",
				Action: stores,
			},
		},
	}
}

func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	// set log level
	logLevel := zerolog.DebugLevel
	if cmd.Bool("vv") {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	cfg, err := loadConfig(cmd)
	if err != nil {
		return ctx, err
	}
	logOutputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	if cfg.LogFile != "" {
		logFileOutput, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return ctx, fmt.Errorf("open log file: %w", err)
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	log.Logger = log.Level(logLevel).Output(zerolog.MultiLevelWriter(logOutputs...)).
		With().Str("version", version).Logger()
	return ctx, nil
}

// loadConfig reads the config file and environment, then applies the flags.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return cfg, err
	}
	flags := map[string]*string{
		"origin":       &cfg.Origin,
		"host":         &cfg.OriginHost,
		"listen":       &cfg.Listen,
		"admin-listen": &cfg.AdminListen,
		"db":           &cfg.DB,
		"cache-name":   &cfg.CacheName,
		"log-file":     &cfg.LogFile,
	}
	for name, dst := range flags {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	if cmd.IsSet("client-timeout") {
		cfg.ClientTimeout = cmd.Duration("client-timeout")
	}
	return cfg, nil
}

func openStorage(cfg config.Config) (*cache.Storage, error) {
	if cfg.DB == config.MemoryDB {
		return cache.NewStorage(cache.NewMemCache(), cache.WithLogger(log.Logger)), nil
	}
	provider, err := cache.NewSQLiteCache(cfg.DB)
	if err != nil {
		return nil, err
	}
	return cache.NewStorage(provider, cache.WithLogger(log.Logger)), nil
}

func workerConfig(cfg config.Config, storage *cache.Storage) (offlinecache.Config, error) {
	originURL, err := cfg.OriginURL()
	if err != nil {
		return offlinecache.Config{}, err
	}
	opts := []offlinecache.ClientOption{offlinecache.WithTimeout(cfg.ClientTimeout)}
	if cfg.OriginHost != "" && originURL.Scheme == "https" {
		opts = append(opts, offlinecache.WithServerName(cfg.OriginHost))
	}
	return offlinecache.Config{
		Storage:     storage,
		CacheName:   cfg.CacheName,
		OfflineURLs: cfg.OfflineURLs,
		OriginURL:   originURL,
		OriginHost:  cfg.OriginHost,
		Client:      offlinecache.NewClient(opts...),
		Rules:       cfg.Rules,
		Logger:      &log.Logger,
	}, nil
}

// setup loads and validates the config and opens the storage. The caller closes the storage.
func setup(cmd *cli.Command) (config.Config, *cache.Storage, *offlinecache.Registration, error) {
	cfg, err := loadConfig(cmd)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return cfg, nil, nil, err
	}
	storage, err := openStorage(cfg)
	if err != nil {
		return cfg, nil, nil, err
	}
	workerCfg, err := workerConfig(cfg, storage)
	if err != nil {
		storage.Close()
		return cfg, nil, nil, err
	}
	return cfg, storage, offlinecache.NewRegistration(workerCfg), nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	shutdownTracing, err := telemetry.Setup(ctx, "offline-cache", version)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	cfg, storage, reg, err := setup(cmd)
	if err != nil {
		return err
	}
	defer storage.Close()

	if _, err := reg.Register(ctx); err != nil {
		return err
	}

	servers := []*http.Server{{
		Addr:    cfg.Listen,
		Handler: offlinecache.NewRouter(reg, log.Logger),
	}}
	log.Info().Msgf("Proxying %s to %s (with hostname '%s')", cfg.Listen, cfg.Origin, cfg.OriginHost)
	if cfg.AdminListen != "" {
		servers = append(servers, &http.Server{
			Addr:    cfg.AdminListen,
			Handler: offlinecache.NewAdminRouter(reg, storage, log.Logger),
		})
		log.Info().Msgf("Serving admin endpoints on %s", cfg.AdminListen)
	}
	return listen(ctx, servers)
}

// listen runs the servers until the context is done or one of them fails.
func listen(ctx context.Context, servers []*http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, server := range servers {
		g.Go(func() error {
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Str("addr", server.Addr).Msg("Could not shut down server")
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func install(ctx context.Context, cmd *cli.Command) error {
	_, storage, reg, err := setup(cmd)
	if err != nil {
		return err
	}
	defer storage.Close()

	w, err := reg.Register(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "%s %s\n", w.CacheName(), w.State())
	return nil
}

func stores(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	storage, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	names, err := storage.Keys()
	if err != nil {
		return err
	}
	for _, name := range names {
		store, err := storage.Lookup(name)
		if err != nil {
			return err
		}
		count, size, err := store.Size()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.Root().Writer, "%s\t%d\t%s\n", name, count, humanize.Bytes(uint64(size)))
	}
	return nil
}
