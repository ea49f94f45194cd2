// Command recallctl is a small flag-based operator CLI for the recall
// daemon's offline/administrative operations: the metadata back-fill job,
// stream-position resets, and basic diagnostics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ramccor/recall/internal/chunk"
	"github.com/ramccor/recall/internal/config"
	"github.com/ramccor/recall/internal/embedding"
	"github.com/ramccor/recall/internal/ingest"
	"github.com/ramccor/recall/internal/obslog"
	"github.com/ramccor/recall/internal/project"
	"github.com/ramccor/recall/internal/vectorstore"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "status":
		runStatus(args)
	case "backfill":
		runBackfill(args)
	case "reset-state":
		runResetState(args)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: recallctl <status|backfill|reset-state> [flags]")
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config YAML")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := obslog.NewZerologLogger("error")
	store, err := vectorstore.NewQdrant(cfg.VectorStoreURL, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect vector store: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cols, err := store.ListCollections(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "list collections: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("embedding_provider=%s collection_count=%d\n", cfg.EmbeddingProvider, len(cols))
	for _, c := range cols {
		fmt.Println("  " + c)
	}
}

// runBackfill drives the metadata back-fill job over every transcript
// file under the configured log roots, re-extracting metadata and calling
// SetPayload without touching any vector.
func runBackfill(args []string) {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config YAML")
	statePath := fs.String("state", "state/backfill_state.json", "backfill job position file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := obslog.NewZerologLogger("info")
	store, err := vectorstore.NewQdrant(cfg.VectorStoreURL, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect vector store: %v\n", err)
		os.Exit(1)
	}

	limits := chunk.Limits{
		TokenLimit:    cfg.Chunk.TokenLimit,
		CharLimit:     cfg.Chunk.CharLimit,
		OverlapTokens: cfg.Chunk.OverlapTokens,
		OverlapChars:  cfg.Chunk.OverlapChars,
		TokenRatio:    cfg.TokenCharRatio,
	}
	bf := ingest.NewBackfill(store, limits, log)

	state, err := ingest.LoadBackfillState(*statePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load backfill state: %v\n", err)
		os.Exit(1)
	}

	files, err := ingest.Scan(cfg.LogRoots)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan log roots: %v\n", err)
		os.Exit(1)
	}

	suffix := embedding.ProviderSuffix(cfg.EmbeddingProvider)
	ctx := context.Background()
	for _, f := range files {
		conversationID := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		id := project.Resolve(f, cfg.LogMountPrefix, suffix)
		if err := bf.Run(ctx, f, id.CollectionID, conversationID, id.NormalizedName, state); err != nil {
			fmt.Fprintf(os.Stderr, "backfill %s: %v\n", f, err)
			continue
		}
		fmt.Printf("backfilled %s -> %s\n", f, id.CollectionID)
	}
}

// runResetState clears the persisted byte offset for one file (or, with
// -all, every tracked file), forcing the next scan cycle to re-ingest it
// from the start.
func runResetState(args []string) {
	fs := flag.NewFlagSet("reset-state", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config YAML")
	path := fs.String("path", "", "single file path to reset to offset 0")
	all := fs.Bool("all", false, "reset every tracked file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	st, err := ingest.LoadState(cfg.StateFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load state: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *all:
		for p := range st.Snapshot() {
			st.Set(p, ingest.StreamPosition{})
		}
		fmt.Println("reset all tracked files")
	case *path != "":
		st.Set(*path, ingest.StreamPosition{})
		fmt.Println("reset " + *path)
	default:
		fmt.Fprintln(os.Stderr, "specify -path or -all")
		os.Exit(1)
	}

	if err := st.Persist(); err != nil {
		fmt.Fprintf(os.Stderr, "persist state: %v\n", err)
		os.Exit(1)
	}
}

