package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/reckonlabs/reckon/internal/application/changelog"
	"github.com/reckonlabs/reckon/internal/infrastructure/config"
	"github.com/reckonlabs/reckon/internal/infrastructure/storage"
)

func main() {
	var (
		configFile = flag.String("config", "config.yaml", "Configuration file path")
		dbPath     = flag.String("db", "", "Database path (overrides config)")
		csvOut     = flag.String("csv", "", "Also write the change log to this CSV file")
	)
	flag.Parse()

	cfg := config.LoadOrEnvWithPath(*configFile)
	if *dbPath != "" {
		cfg.Storage.DatabasePath = *dbPath
	}

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	fmt.Println("CLASSIFICATION AUDIT REPORT")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Database:  %s\n", cfg.Storage.DatabasePath)
	fmt.Printf("Generated: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	stats, err := store.GetStats()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("RECORDS")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("Total:      %d\n", stats.TotalRecords)
	fmt.Printf("Unreviewed: %d\n", stats.Unreviewed)
	fmt.Printf("Classified: %d\n", stats.Classified)
	fmt.Printf("Confirmed:  %d\n", stats.Confirmed)
	fmt.Println()

	fmt.Println("CONFIDENCE TIERS")
	fmt.Println(strings.Repeat("-", 40))
	for _, tier := range []string{"high", "medium", "low", "none"} {
		fmt.Printf("%-8s %d\n", tier, stats.TierCounts[tier])
	}
	fmt.Println()

	fmt.Println("CATALOG AND RULES")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("Entities: %d\n", stats.EntityCount)
	fmt.Printf("Rules:    %d\n", stats.RuleCount)
	fmt.Println()

	fmt.Println("RECENT RUNS")
	fmt.Println(strings.Repeat("-", 40))
	runs, err := store.ListRuns(10)
	if err != nil {
		log.Fatal(err)
	}
	for _, run := range runs {
		fmt.Printf("%-4d %-14s %-20s processed=%d skipped=%d failed=%d %s\n",
			run.ID, run.Kind, run.StartedAt.Format("2006-01-02 15:04:05"),
			run.Processed, run.Skipped, run.Failed, run.Status)
	}
	fmt.Println()

	fmt.Println("CHANGE LOG")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("Active (undoable) entries: %d\n", stats.ChangeLogActive)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chlog := changelog.NewService(store, logger)
	rows, err := chlog.ExportRows(storage.ChangeLogFilters{})
	if err != nil {
		log.Fatal(err)
	}

	// Skip the header row for the console listing
	for _, row := range rows[1:] {
		fmt.Printf("  #%-4s %-20s %-11s %s\n", row[0], row[1], row[2], row[5])
	}

	if *csvOut != "" {
		f, err := os.Create(*csvOut)
		if err != nil {
			log.Fatal(err)
		}
		defer func() { _ = f.Close() }()

		if err := csv.NewWriter(f).WriteAll(rows); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("\nChange log written to %s\n", *csvOut)
	}
}
