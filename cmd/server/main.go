package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/docenrich/internal/api"
	"github.com/dgallion1/docenrich/internal/chunker"
	"github.com/dgallion1/docenrich/internal/config"
	"github.com/dgallion1/docenrich/internal/extract"
	"github.com/dgallion1/docenrich/internal/llm"
	"github.com/dgallion1/docenrich/internal/pathstore"
	"github.com/dgallion1/docenrich/internal/pipeline"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	stageConfigs := cfg.DefaultStages()
	var defaults config.DocumentDefaults
	if cfg.PipelineFile != "" {
		pf, err := config.LoadPipelineFile(cfg.PipelineFile)
		if err != nil {
			log.Error("invalid pipeline file", "error", err)
			os.Exit(1)
		}
		pf.Apply(&cfg)
		if len(pf.Stages) > 0 {
			stageConfigs = pf.Stages
		}
		defaults = pf.Documents
		log.Info("pipeline file loaded", "path", cfg.PipelineFile, "stages", len(pf.Stages))
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the model backend.
	backend, closeBackend, err := newModel(cfg)
	if err != nil {
		log.Error("model backend", "error", err)
		os.Exit(1)
	}
	stats := llm.NewStats(time.Hour)
	model := llm.Instrument(backend, stats)

	// Initialize pipeline stages.
	chunkStage, err := chunker.NewStage(chunker.Config{
		ChunkSize: cfg.ChunkSize,
		Overlap:   cfg.ChunkOverlap,
		Separator: cfg.ChunkSeparator,
		Slack:     cfg.ChunkSlack,
	})
	if err != nil {
		log.Error("invalid chunking configuration", "error", err)
		os.Exit(1)
	}
	chunkStage.Logger = log
	stages, err := extract.Stages(stageConfigs, model, cfg.LLMMaxTokens)
	if err != nil {
		log.Error("invalid stage configuration", "error", err)
		os.Exit(1)
	}

	// Optional export target.
	var (
		ps       *pathstore.Client
		exporter pipeline.Exporter
		exports  api.ExportStore
	)
	if cfg.PathstoreURL != "" {
		ps = pathstore.NewClient(cfg.PathstoreURL, cfg.PathstoreAPIKey)
		exp := pathstore.NewExporter(ps, cfg.ConcurrencyLimit, log)
		exporter, exports = exp, exp
	}

	orch := pipeline.NewOrchestrator(cfg, chunkStage, stages, exporter, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(cfg, api.Deps{
		Orchestrator: orch,
		Model:        model,
		Stats:        stats,
		Exports:      exports,
		Defaults:     defaults,
	}, log)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		closeBackend()
		if ps != nil {
			ps.Close()
		}
	}()

	info := model.Describe()
	log.Info("starting docenrich", "port", cfg.Port, "model", info.Identifier, "stages", orch.StageNames(),
		"export", ps != nil)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// newModel builds the configured backend and a func that releases it.
func newModel(cfg config.Config) (llm.Model, func(), error) {
	switch cfg.LLMProvider {
	case "claude":
		c := llm.NewClaude(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.AnthropicURL)
		return c, c.Close, nil
	case "openai":
		return llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), func() {}, nil
	case "echo":
		return llm.NewEcho(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
}
