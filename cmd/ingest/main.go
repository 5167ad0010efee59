package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/zekenewsom/hyperlocal/internal/archive"
	"github.com/zekenewsom/hyperlocal/internal/config"
	"github.com/zekenewsom/hyperlocal/internal/features"
	"github.com/zekenewsom/hyperlocal/internal/ingest"
	"github.com/zekenewsom/hyperlocal/internal/observability"
	"github.com/zekenewsom/hyperlocal/internal/storage"
	chstore "github.com/zekenewsom/hyperlocal/internal/storage/clickhouse"
	"github.com/zekenewsom/hyperlocal/internal/storage/memory"
	"github.com/zekenewsom/hyperlocal/internal/storage/migrations"
	pgstore "github.com/zekenewsom/hyperlocal/internal/storage/postgres"
	"github.com/zekenewsom/hyperlocal/internal/venue/binance"
	"github.com/zekenewsom/hyperlocal/internal/venue/hyperliquid"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of ClickHouse/PostgreSQL")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (overrides config; empty keeps config value)")
	controlAddr := flag.String("control-addr", "", "Status/control HTTP address (overrides config; empty keeps config value)")
	flag.Parse()

	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Config error: %v", err)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *controlAddr != "" {
		cfg.ControlAddr = *controlAddr
	}

	metrics := observability.NewMetrics("hyperlocal")

	// Start metrics server if enabled
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = run(ctx, logger, cfg, metrics, *useMemory)

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}
	logger.Println("Shutdown complete")
}

func run(ctx context.Context, logger *log.Logger, cfg config.Config, metrics *observability.Metrics, useMemory bool) error {
	// Create stores (use interfaces)
	var barStore storage.BarStore = memory.NewBarStore()
	var featureStore storage.FeatureStore = memory.NewFeatureStore()
	var progressStore storage.ProgressStore = memory.NewProgressStore()

	if !useMemory {
		if cfg.Storage.ClickhouseDSN == "" {
			return fmt.Errorf("storage.clickhouse_dsn is required (use --use-memory for in-memory storage)")
		}
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			return fmt.Errorf("clickhouse migrations: %w", err)
		}
		defer conn.Close()

		barStore = chstore.NewBarStore(conn)
		featureStore = chstore.NewFeatureStore(conn)

		if cfg.Storage.PostgresDSN != "" {
			pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pool.Close()
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				return fmt.Errorf("postgres migrations: %w", err)
			}
			progressStore = pgstore.NewProgressStore(pool)
		}
	}

	var archiver ingest.BarArchiver
	if cfg.Archive.Enabled {
		w, err := archive.NewWriter(cfg.Archive.Dir)
		if err != nil {
			return fmt.Errorf("create archive dir: %w", err)
		}
		archiver = w
	}

	series := cfg.SeriesKeys()
	logger.Printf("Ingesting %d series: universe %v, intervals %v", len(series), cfg.Universe, cfg.Intervals)

	engine := features.NewEngine(features.Options{
		Bars:     barStore,
		Features: featureStore,
		Logger:   log.New(os.Stdout, "[features] ", log.LstdFlags),
	})

	primary := ingest.NewBackfiller(ingest.BackfillOptions{
		Source:         hyperliquid.NewHistoricalClient(""),
		Bars:           barStore,
		Progress:       progressStore,
		Archive:        archiver,
		Metrics:        metrics,
		Logger:         log.New(os.Stdout, "[backfill] ", log.LstdFlags),
		LookbackDays:   cfg.Backfill.LookbackDays,
		WindowCandles:  cfg.Backfill.WindowCandles,
		MaxConcurrency: cfg.Backfill.MaxConcurrency,
	})

	var secondary *ingest.BinanceBackfiller
	if cfg.Binance.Enabled {
		secondary = ingest.NewBinanceBackfiller(ingest.BinanceBackfillOptions{
			Source:       binance.NewClient(cfg.Binance.BaseURL),
			Bars:         barStore,
			Archive:      archiver,
			Metrics:      metrics,
			Logger:       log.New(os.Stdout, "[binance] ", log.LstdFlags),
			WeightPerMin: cfg.Binance.WeightPerMin,
		})
	}

	gaps := ingest.NewGapService(ingest.GapServiceOptions{
		Bars:    barStore,
		Filler:  primary,
		Metrics: metrics,
		Logger:  log.New(os.Stdout, "[gaps] ", log.LstdFlags),
	})

	ingestor := ingest.NewIngestor(ingest.IngestorOptions{
		Series:    series,
		WSURL:     cfg.WS.URL,
		WSConfig:  hyperliquid.WSClientConfig{HeartbeatIdle: time.Duration(cfg.WS.HeartbeatSec) * time.Second},
		Engine:    engine,
		Primary:   primary,
		Secondary: secondary,
		Gaps:      gaps,
		Bars:      barStore,
		Metrics:   metrics,
		Logger:    logger,

		WarmupBars:    cfg.WarmupBars,
		GapScanPeriod: time.Duration(cfg.GapScanMinutes) * time.Minute,
		LookbackDays:  cfg.Backfill.LookbackDays,
	})

	if cfg.ControlAddr != "" {
		go func() {
			logger.Printf("Starting control server on %s", cfg.ControlAddr)
			if err := http.ListenAndServe(cfg.ControlAddr, controlMux(ingestor, logger)); err != nil && err != http.ErrServerClosed {
				logger.Printf("Control server error: %v", err)
			}
		}()
	}

	logger.Println("Starting ingestion...")
	if err := ingestor.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	ingestor.Stop()
	return nil
}

// controlMux builds the status/control HTTP surface.
func controlMux(ingestor *ingest.Ingestor, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Printf("Control response error: %v", err)
		}
	}

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ingestor.GetStatus())
	})

	mux.HandleFunc("/gaps", func(w http.ResponseWriter, r *http.Request) {
		sinceMs, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
		gaps, err := ingestor.ListGaps(r.Context(), sinceMs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, gaps)
	})

	mux.HandleFunc("/gaps/fill", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		sinceMs, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
		if err := ingestor.FillGapsNow(r.Context(), sinceMs); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		if err := ingestor.Start(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "started"})
	})

	mux.HandleFunc("/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		ingestor.Stop()
		writeJSON(w, map[string]string{"status": "stopped"})
	})

	return mux
}
