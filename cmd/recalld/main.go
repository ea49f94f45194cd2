// Command recalld is the long-running daemon: it drives the ingestion
// engine against the configured log roots and exposes the retrieval
// operations as MCP tools over stdio. The MCP wiring here is a thin
// adapter; all behavior lives in internal/retrieve and internal/ingest
// and is testable without it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "go.uber.org/automaxprocs"

	"github.com/ramccor/recall/internal/config"
	"github.com/ramccor/recall/internal/embedding"
	"github.com/ramccor/recall/internal/ingest"
	"github.com/ramccor/recall/internal/obslog"
	"github.com/ramccor/recall/internal/retrieve"
	"github.com/ramccor/recall/internal/vectorstore"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config YAML (optional; env overrides always apply)")
	logLevel := flag.String("log-level", "info", "zerolog level: debug, info, warn, error")
	flag.Parse()

	log := obslog.NewZerologLogger(*logLevel)
	metrics := obslog.NewOtelMetrics()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config_load_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	store, err := vectorstore.NewQdrant(cfg.VectorStoreURL, log)
	if err != nil {
		log.Error("vector_store_init_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	embedder, err := buildEmbedder(cfg, log)
	if err != nil {
		log.Error("embedding_init_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	engine, err := ingest.New(cfg, embedder, store, log, metrics)
	if err != nil {
		log.Error("engine_init_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	decay := retrieve.DecayParams{
		Enabled:   cfg.EnableMemoryDecay,
		Weight:    cfg.DecayWeight,
		ScaleDays: cfg.DecayScaleDays,
	}
	svc := retrieve.New(store, embedder, decay, cfg.LogMountPrefix,
		retrieve.WithLogger(log),
		retrieve.WithMetrics(metrics),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ingestDone := make(chan error, 1)
	go func() {
		ingestDone <- engine.Run(ctx)
	}()

	server := newMCPServer(svc, engine, cfg)

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Run(ctx, &mcp.StdioTransport{})
	}()

	select {
	case err := <-serveDone:
		if err != nil {
			log.Error("mcp_server_error", map[string]any{"error": err.Error()})
		}
		stop()
	case <-ctx.Done():
		log.Info("shutdown_signal_received", nil)
	}

	select {
	case err := <-ingestDone:
		if err != nil {
			log.Error("ingest_engine_error", map[string]any{"error": err.Error()})
		}
	case <-time.After(10 * time.Second):
		log.Error("ingest_shutdown_deadline_exceeded", nil)
	}
}

// buildEmbedder selects the embedding variant per configuration, falling
// back from local to remote when the local model fails to initialize and
// a remote endpoint is also configured.
func buildEmbedder(cfg *config.Config, log obslog.Logger) (embedding.Provider, error) {
	if cfg.EmbeddingProvider == "remote" {
		if cfg.RemoteAPIKey == "" {
			return nil, fmt.Errorf("remote embedding provider requires REMOTE_API_KEY")
		}
		return embedding.NewRemote(cfg.RemoteURL, cfg.RemoteAPIKey, "", cfg.TokenCharRatio, cfg.RemoteTokenBudget, 30*time.Second, log), nil
	}

	local, err := embedding.NewLocal(cfg.LocalModelPath, "", 30*time.Second, log)
	if err != nil {
		if cfg.RemoteURL != "" && cfg.RemoteAPIKey != "" {
			log.Error("local_embedding_init_failed_falling_back_to_remote", map[string]any{"error": err.Error()})
			return embedding.NewRemote(cfg.RemoteURL, cfg.RemoteAPIKey, "", cfg.TokenCharRatio, cfg.RemoteTokenBudget, 30*time.Second, log), nil
		}
		return nil, err
	}
	return local, nil
}

func newMCPServer(svc *retrieve.Service, engine *ingest.Engine, cfg *config.Config) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "recall", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reflect_on_past",
		Description: "Search past conversation transcripts (and stored reflections) for semantically relevant context.",
	}, reflectOnPastHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "store_reflection",
		Description: "Store a short reflection note, searchable alongside past conversations.",
	}, storeReflectionHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_full_conversation",
		Description: "Retrieve the full, unchunked transcript for a conversation id.",
	}, getFullConversationHandler(svc, cfg))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "status",
		Description: "Report ingestion and retrieval engine diagnostics.",
	}, statusHandler(svc, engine))

	return server
}
