// Command mailreader-worker polls registered mailboxes, classifies new
// messages and stores each one once.
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

	"github.com/nhle/mailreader/internal/classify"
	"github.com/nhle/mailreader/internal/credential"
	"github.com/nhle/mailreader/internal/crypto"
	"github.com/nhle/mailreader/internal/ingest"
	"github.com/nhle/mailreader/internal/logger"
	"github.com/nhle/mailreader/internal/metrics"
	"github.com/nhle/mailreader/internal/model"
	"github.com/nhle/mailreader/internal/source"
	"github.com/nhle/mailreader/internal/source/graph"
	"github.com/nhle/mailreader/internal/source/imap"
	"github.com/nhle/mailreader/internal/store"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	var (
		configPath = flag.String("c", "", "path to the YAML config file")
		version    = flag.Bool("version", false, "print version and exit")
		genKey     = flag.Bool("gen-key", false, "print a new random master key and exit")
		saveKey    = flag.Bool("save-key", false, "store the configured master key in the OS keyring and exit")
		once       = flag.Bool("once", false, "run a single ingestion pass and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("mailreader-worker %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	if *genKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generating key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(key)
		os.Exit(0)
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	if *saveKey {
		if err := saveMasterKey(cfg.Security); err != nil {
			fmt.Fprintf(os.Stderr, "saving master key: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := logger.Init(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Msg("mailreader worker starting")

	key, err := credential.MasterKey(cfg.Security, credential.OpenKeyring)
	if err != nil {
		logger.Fatal().Err(err).Msg("master key unavailable")
	}
	box, err := crypto.NewBox(key)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid master key")
	}

	st, err := store.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("opening store")
	}
	defer st.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = st.Ping(pingCtx)
	cancelPing()
	if err != nil {
		logger.Fatal().Err(err).Msg("store unreachable")
	}

	exporter := metrics.NewExporter()

	resolver := credential.NewResolver(box, st, credential.WithRotationHook(func(accountID string) {
		exporter.IncTokenRotation()
		logger.Info().Str("account", accountID).Msg("refresh token rotated")
	}))

	fetchers := source.NewRegistry().
		Register(model.AuthMethodIMAP, imap.NewClient(imap.WithSessionTimeout(cfg.Fetch.Timeout))).
		Register(model.AuthMethodExchange, graph.NewClient(cfg.Graph.BaseURL, graph.WithTimeout(cfg.Fetch.Timeout)))

	classifier := classify.New(cfg.LLM)
	if !classifier.Enabled() {
		logger.Warn().Msg("llm.base_url not set, classifier fallback disabled")
	}

	orch := ingest.New(st, resolver, fetchers, classifier, ingest.ConfigFrom(cfg), ingest.WithMetrics(exporter))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		stats := orch.RunOnce(ctx)
		logger.Info().Int("inserted", stats.Inserted).Int("accounts_failed", stats.AccountsFailed).Msg("single pass complete")
		return
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, exporter.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.Metrics.Addr).Str("path", cfg.Metrics.Path).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	logger.Info().
		Dur("interval", cfg.Fetch.Interval).
		Int("workers", cfg.Fetch.Workers).
		Int("limit", cfg.Fetch.Limit).
		Int("retention_days", cfg.Retention.Days).
		Msg("ingestion loop started")

	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("ingestion loop stopped")
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown")
		}
	}

	logger.Info().Msg("mailreader worker stopped")
}

func saveMasterKey(sec model.SecurityConfig) error {
	if sec.MasterKey == "" {
		return credential.ErrNoMasterKey
	}
	if _, err := crypto.NewBox(sec.MasterKey); err != nil {
		return err
	}
	ring, err := credential.OpenKeyring()
	if err != nil {
		return err
	}
	return credential.StoreMasterKey(ring, sec.MasterKey)
}
