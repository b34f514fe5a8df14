package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ducminhle1904/signal-bridge/cmd/common"
	"github.com/ducminhle1904/signal-bridge/internal/config"
	"github.com/ducminhle1904/signal-bridge/internal/store"
	"github.com/ducminhle1904/signal-bridge/pkg/reporting"
	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file used to locate the state file")
		envFile    = flag.String("env", "", "Environment file path (default: .env if present)")
		statePath  = flag.String("state", "", "State file path - overrides config")
		status     = flag.String("status", "", "Only show signals with this status (PENDING, VALIDATED, PROCESSED, REJECTED, ERROR)")
		limit      = flag.Int("limit", 20, "Maximum signals and orders to print, newest first (0 = all)")
		xlsx       = flag.Bool("xlsx", false, "Export an Excel workbook to reports/")
		csvOut     = flag.Bool("csv", false, "Export orders as CSV to reports/")
		output     = flag.String("output", "", "Export path without extension (default: reports/bridge_<timestamp>)")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		common.PrintVersion("bridge-status")
		return
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Printf("Warning: %v", err)
	}

	path := *statePath
	if path == "" {
		cfg, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		path = cfg.Store.Path
	}

	snap, err := store.ReadSnapshot(path)
	if err != nil {
		log.Fatalf("Failed to read state: %v", err)
	}

	now := time.Now()
	signals := filterSignals(snap.Signals, types.SignalStatus(strings.ToUpper(*status)))

	reporting.WriteSummary(os.Stdout, reporting.Summarize(snap.Signals, snap.Orders, now))
	reporting.WriteStrategies(os.Stdout, snap.Strategies)
	reporting.WriteSignals(os.Stdout, newest(signals, *limit))
	reporting.WriteOrders(os.Stdout, newest(snap.Orders, *limit))

	if *xlsx {
		target := exportPath(*output, "xlsx", now)
		err := reporting.WriteXLSX(reporting.Export{
			Summary: reporting.Summarize(snap.Signals, snap.Orders, now),
			Signals: signals,
			Orders:  snap.Orders,
			Audit:   snap.Audit,
		}, target)
		if err != nil {
			log.Fatalf("Failed to write workbook: %v", err)
		}
		fmt.Printf("📊 Workbook written to %s\n", target)
	}
	if *csvOut {
		target := exportPath(*output, "csv", now)
		if err := reporting.WriteOrdersCSV(snap.Orders, target); err != nil {
			log.Fatalf("Failed to write CSV: %v", err)
		}
		fmt.Printf("📄 Orders written to %s\n", target)
	}
}

func filterSignals(signals []*types.Signal, status types.SignalStatus) []*types.Signal {
	if status == "" {
		return signals
	}
	out := make([]*types.Signal, 0, len(signals))
	for _, s := range signals {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

// newest keeps the last n entries of an oldest-first list
func newest[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func exportPath(base, ext string, now time.Time) string {
	if base == "" {
		return reporting.DefaultOutputPath("", ext, now)
	}
	return base + "." + ext
}
