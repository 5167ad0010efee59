package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/zekenewsom/hyperlocal/internal/archive"
	"github.com/zekenewsom/hyperlocal/internal/config"
	"github.com/zekenewsom/hyperlocal/internal/domain"
	chstore "github.com/zekenewsom/hyperlocal/internal/storage/clickhouse"
	"github.com/zekenewsom/hyperlocal/internal/storage/migrations"
)

// Maintenance utility: clears derived feature rows (and optionally archived
// bar files) for one interval so the next ingest run recomputes them from
// stored bars.
func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	intervalStr := flag.String("interval", "", "Bar interval to reset (e.g. 1m, 1h)")
	resetArchive := flag.Bool("reset-archive", false, "Also delete archived Parquet files for the interval")
	timeout := flag.Duration("timeout", 5*time.Minute, "Operation timeout")
	flag.Parse()

	logger := log.New(os.Stdout, "[maintenance] ", log.LstdFlags|log.Lshortfile)

	if *intervalStr == "" {
		logger.Fatal("--interval is required")
	}
	interval, err := domain.ParseInterval(*intervalStr)
	if err != nil {
		logger.Fatalf("Invalid interval: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Config error: %v", err)
	}
	if cfg.Storage.ClickhouseDSN == "" {
		logger.Fatal("storage.clickhouse_dsn is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		logger.Fatalf("ClickHouse migrations: %v", err)
	}
	defer conn.Close()

	features := chstore.NewFeatureStore(conn)
	if err := features.DeleteByInterval(ctx, interval); err != nil {
		logger.Fatalf("Delete feature rows for %s: %v", interval, err)
	}
	logger.Printf("Deleted feature rows for interval %s", interval)

	if *resetArchive {
		if !cfg.Archive.Enabled {
			logger.Fatal("--reset-archive requires archive.enabled in config")
		}
		writer, err := archive.NewWriter(cfg.Archive.Dir)
		if err != nil {
			logger.Fatalf("Open archive dir: %v", err)
		}
		if err := writer.ResetInterval(interval); err != nil {
			logger.Fatalf("Reset archive for %s: %v", interval, err)
		}
		logger.Printf("Deleted archived files for interval %s", interval)
	}

	logger.Println("Done")
}
