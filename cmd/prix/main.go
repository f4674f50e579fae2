// Command prix tracks e-commerce prices: it syncs the item registry,
// scrapes tracked pages and downsamples old history.
//
// Usage:
//
//	prix sync             upsert the registry file into the store
//	prix run [item-id]    scrape one item, or every item when omitted
//	prix compact          downsample history per the retention tiers
//	prix history <item-id> [colorway]
//
// Configuration comes from PRIX_CONFIG (YAML, optional), PRIX_DB,
// PRIX_ITEMS and LOG_LEVEL.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/prix/dbopen"
	"github.com/hazyhaar/prix/tracker"
	_ "modernc.org/sqlite"
)

func main() {
	configPath := env("PRIX_CONFIG", "config.yaml")
	dbPath := env("PRIX_DB", "db/prix.db")
	itemsPath := env("PRIX_ITEMS", "items.yaml")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := tracker.LoadConfigFile(configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open db", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	svc, err := tracker.New(db, cfg, logger)
	if err != nil {
		slog.Error("create service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	switch os.Args[1] {
	case "sync":
		reg, err := tracker.LoadRegistry(itemsPath)
		if err != nil {
			slog.Error("load registry", "path", itemsPath, "error", err)
			os.Exit(1)
		}
		added, err := svc.SyncRegistry(ctx, reg)
		if err != nil {
			slog.Error("sync registry", "error", err)
			os.Exit(1)
		}
		fmt.Printf("synced %d items (%d new)\n", len(reg.Items), added)

	case "run":
		if len(os.Args) > 2 {
			out, err := svc.RunItem(ctx, os.Args[2])
			if err != nil {
				slog.Error("run item", "error", err)
				os.Exit(1)
			}
			if !out.Success {
				slog.Error("scrape failed", "item_id", out.ItemID, "error", out.Err)
				os.Exit(1)
			}
			fmt.Printf("item %s: %d facts, %d colorways skipped\n",
				out.ItemID, out.FactsWritten, out.SkippedColorways)
			break
		}
		report, err := svc.RunBatch(ctx)
		if err != nil {
			slog.Error("run batch", "error", err)
			os.Exit(1)
		}
		fmt.Printf("%d items: %d ok, %d failed, %d facts, %d colorways skipped\n",
			report.Items, report.Succeeded, report.Failed, report.FactsWritten,
			report.SkippedColorways)
		if report.Failed > 0 {
			os.Exit(1)
		}

	case "compact":
		sum, err := svc.CompactAll(ctx)
		if err != nil {
			slog.Error("compact", "error", err)
			os.Exit(1)
		}
		fmt.Printf("%d series: %d examined, %d deleted, %d kept\n",
			sum.Series, sum.Examined, sum.Deleted, sum.Kept)

	case "history":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		colorway := ""
		if len(os.Args) > 3 {
			colorway = os.Args[3]
		}
		facts, err := svc.History(ctx, os.Args[2], colorway, 0, 0)
		if err != nil {
			slog.Error("history", "error", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(facts); err != nil {
			slog.Error("encode history", "error", err)
			os.Exit(1)
		}

	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: prix sync | run [item-id] | compact | history <item-id> [colorway]")
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
