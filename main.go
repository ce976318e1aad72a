package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"fknsrs.biz/p/catalogfill/internal/backfill"
	"fknsrs.biz/p/catalogfill/internal/catalog"
	"fknsrs.biz/p/catalogfill/internal/config"
	"fknsrs.biz/p/catalogfill/internal/configreader"
	"fknsrs.biz/p/catalogfill/internal/ctxbackfill"
	"fknsrs.biz/p/catalogfill/internal/ctxclock"
	"fknsrs.biz/p/catalogfill/internal/ctxconfig"
	"fknsrs.biz/p/catalogfill/internal/ctxdb"
	"fknsrs.biz/p/catalogfill/internal/ctxhttpclient"
	"fknsrs.biz/p/catalogfill/internal/ctxlogger"
	"fknsrs.biz/p/catalogfill/internal/httpcache"
	"fknsrs.biz/p/catalogfill/internal/jobqueue"
	"fknsrs.biz/p/catalogfill/internal/logrusstackhook"
	"fknsrs.biz/p/catalogfill/internal/metaextract"
	"fknsrs.biz/p/catalogfill/internal/metasource"
)

func init() {
	sorm.SetParameterPrefix("?")
}

type simpleQueryLogger struct {
	logger *logrus.Logger
}

func (s *simpleQueryLogger) LogQuery(query string, args []interface{}) {
	fields := logrus.Fields{
		"db.query":      query,
		"db.args.count": len(args),
	}

	for i, e := range args {
		fields[fmt.Sprintf("db.args.%d", i)] = e
	}

	s.logger.WithFields(fields).Debug("sorm query start")
}

func (s *simpleQueryLogger) LogQueryAfter(query string, args []interface{}, duration time.Duration, err error) {
	fields := logrus.Fields{
		"db.query":      query,
		"db.duration":   duration,
		"db.error":      err,
		"db.args.count": len(args),
	}

	for i, e := range args {
		fields[fmt.Sprintf("db.args.%d", i)] = e
	}

	s.logger.WithFields(fields).Debug("sorm query finish")
}

func main() {
	os.Exit(run())
}

func readConfig() (config.Config, error) {
	cfg := config.Default()

	for _, configPath := range []string{"config.toml", "config.yaml", "config.yml"} {
		if st, err := os.Stat(configPath); err == nil && st != nil && !st.IsDir() {
			cfg.Config = configPath
		}
	}

	env, err := configreader.ReadEnvFiles(os.Environ(), ".env.local", ".env")
	if err != nil {
		return cfg, err
	}

	if err := configreader.Read(os.Args[0], os.Args[1:], env, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()

	logger.SetLevel(cfg.LogLevel)
	if len(cfg.LogDebugLevels) > 0 {
		logger.AddHook(logrusstackhook.NewStackHook(cfg.LogDebugLevels, nil))
	}

	return logger
}

func newHTTPClient(cfg config.Config) (*http.Client, func(), error) {
	if cfg.CachePath == "" {
		return &http.Client{}, func() {}, nil
	}

	cacheDB, err := bbolt.Open(cfg.CachePath, 0600, &bbolt.Options{Timeout: time.Second * 5})
	if err != nil {
		return nil, nil, fmt.Errorf("newHTTPClient: could not open cache: %w", err)
	}

	return &http.Client{
		Transport: httpcache.NewTransport(nil, httpcache.NewBBoltStorage(cacheDB), time.Duration(cfg.CacheMaxAge)),
	}, func() { cacheDB.Close() }, nil
}

func run() int {
	cfg, err := readConfig()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}

		fmt.Fprintf(os.Stderr, "%s\n", err)

		return 1
	}

	logger := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Error("invalid configuration")
		return 1
	}

	mode, _ := cfg.Mode()

	logger.WithFields(logrus.Fields{
		"config.config":             cfg.Config,
		"config.log_level":          cfg.LogLevel,
		"config.log_debug_levels":   cfg.LogDebugLevels,
		"config.log_queries":        cfg.LogQueries,
		"config.log_sorm":           cfg.LogSORM,
		"config.remote_database":    config.IsRemoteDatabase(cfg.DatabaseURL),
		"config.cache_path":         cfg.CachePath,
		"config.metadata_source":    cfg.MetadataSource,
		"config.poster_hosts":       cfg.PosterHosts,
		"config.fetch_timeout":      cfg.FetchTimeout,
		"config.request_delay":      cfg.RequestDelay,
		"config.batch_size":         cfg.BatchSize,
		"config.force_batch_size":   cfg.ForceBatchSize,
		"config.verify_batch_size":  cfg.VerifyBatchSize,
		"config.application_addr":   cfg.ApplicationAddr,
		"config.background_workers": cfg.BackgroundWorkers,
		"config.mode":               mode,
	}).Info("program starting")

	if cfg.LogSORM {
		sorm.SetQueryLogger(&simpleQueryLogger{logger})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = ctxconfig.WithConfig(ctx, cfg)
	ctx = ctxclock.WithClock(ctx, ctxclock.NewRealClock())
	ctx = ctxlogger.WithLogger(ctx, logger)

	db, err := catalog.Open(ctx, catalog.OpenOptions{
		URL:        cfg.DatabaseURL,
		Token:      cfg.DatabaseToken,
		LogQueries: cfg.LogQueries,
		IgnorePackages: []string{
			"net/http",
			"github.com/gorilla/mux",
			"github.com/urfave/negroni/v2",
			"fknsrs.biz/p/catalogfill/internal/catalog",
			"fknsrs.biz/p/catalogfill/internal/ctxdb",
			"fknsrs.biz/p/catalogfill/internal/jobqueue",
			"main",
		},
	})
	if err != nil {
		logger.WithError(err).Error("could not open catalog")
		return 1
	}
	defer db.Close()

	ctx = ctxdb.WithDB(ctx, db)

	if !config.IsRemoteDatabase(cfg.DatabaseURL) {
		if err := catalog.Migrate(ctx, db); err != nil {
			logger.WithError(err).Error("could not prepare catalog")
			return 1
		}
	}

	if mode == config.ModeServe {
		if err := jobqueue.Migrate(ctx, db); err != nil {
			logger.WithError(err).Error("could not prepare job queue")
			return 1
		}
	}

	httpClient, closeCache, err := newHTTPClient(cfg)
	if err != nil {
		logger.WithError(err).Error("could not set up http client")
		return 1
	}
	defer closeCache()

	ctx = ctxhttpclient.WithHTTPClient(ctx, httpClient)

	pipeline := backfill.New(
		catalog.NewStore(db, cfg.PosterHosts),
		metasource.New(metasource.Options{
			Kind:             cfg.MetadataSource,
			ServiceURL:       cfg.MetadataServiceURL,
			ContentURLPrefix: cfg.ContentURLPrefix,
			UserAgent:        cfg.UserAgent,
			Timeout:          time.Duration(cfg.FetchTimeout),
			Extractor:        metaextract.New(cfg.TitleBrand),
		}),
		backfill.Options{
			BatchSize:       cfg.BatchSize,
			ForceBatchSize:  cfg.ForceBatchSize,
			VerifyBatchSize: cfg.VerifyBatchSize,
			MinTitleLength:  cfg.MinTitleLength,
			Delay:           time.Duration(cfg.RequestDelay),
			PosterHosts:     cfg.PosterHosts,
		},
	)

	ctx = ctxbackfill.WithPipeline(ctx, pipeline)

	switch mode {
	case config.ModeServe:
		if err := runServe(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("server failed")
			return 1
		}

		return 0
	case config.ModeVerify, config.ModeRepair:
		report, err := ctxbackfill.Verify(ctx, mode == config.ModeRepair)
		if report != nil {
			fmt.Print(report.String())
			if report.Repair != nil {
				logger.WithFields(report.Repair.Fields()).Info("repair finished")
			}
		}
		if err != nil {
			logger.WithError(err).Error("verify failed")
			return 1
		}

		return 0
	default:
		summary, err := ctxbackfill.Run(ctx, backfill.Mode(mode), cfg.Single)
		if summary != nil {
			fmt.Print(summary.String())
			logger.WithFields(summary.Fields()).Info("backfill finished")
		}
		if err != nil {
			switch {
			case errors.Is(err, backfill.ErrNotFound):
				logger.WithField("video.external_id", cfg.Single).Error("no record with that external id")
			default:
				logger.WithError(err).Error("backfill failed")
			}

			return 1
		}

		return 0
	}
}
