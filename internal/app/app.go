// Package app assembles the pipeline and its collaborators from configuration.
// Both the HTTP server and the one-shot library share this wiring.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/spherical/paper-whisperer/internal/analyzer"
	"github.com/spherical/paper-whisperer/internal/artifact"
	"github.com/spherical/paper-whisperer/internal/config"
	"github.com/spherical/paper-whisperer/internal/content"
	"github.com/spherical/paper-whisperer/internal/llm"
	"github.com/spherical/paper-whisperer/internal/observability"
	"github.com/spherical/paper-whisperer/internal/pdf"
	"github.com/spherical/paper-whisperer/internal/pipeline"
	"github.com/spherical/paper-whisperer/internal/render"
	"github.com/spherical/paper-whisperer/internal/store"
	"github.com/spherical/paper-whisperer/internal/worker"
)

// Model is everything the analyzer and the content generator call.
type Model interface {
	analyzer.LLMClient
	content.ChatClient
}

// Overrides replaces collaborators that are otherwise built from config.
type Overrides struct {
	LLM       Model
	Renderer  render.Renderer
	Store     store.Store
	Artifacts artifact.Store
	Observer  pipeline.ProgressObserver
}

// App owns the wired pipeline and the resources behind it.
type App struct {
	Pipeline  *pipeline.Pipeline
	Pool      *worker.Pool
	Store     store.Store
	Artifacts artifact.Store

	logger *observability.Logger
}

// New builds the application. The pool is created but only used by
// pipeline.Dispatch; synchronous callers may ignore it.
func New(ctx context.Context, cfg *config.Config, ov Overrides, logger *observability.Logger) (*App, error) {
	if logger == nil {
		logger = observability.Nop()
	}

	model := ov.LLM
	if model == nil {
		client, err := llm.NewClient(LLMConfig(cfg.LLM), logger)
		if err != nil {
			return nil, fmt.Errorf("create llm client: %w", err)
		}
		model = client
	}

	tasks := ov.Store
	if tasks == nil {
		var err error
		if tasks, err = store.Open(ctx, cfg.Store, logger); err != nil {
			return nil, fmt.Errorf("open task store: %w", err)
		}
	}

	arts := ov.Artifacts
	if arts == nil {
		var err error
		if arts, err = artifact.Open(ctx, cfg.Artifact, logger); err != nil {
			tasks.Close()
			return nil, fmt.Errorf("open artifact store: %w", err)
		}
	}

	renderer := ov.Renderer
	if renderer == nil {
		renderer = render.NewChromeRenderer(cfg.Render.ChromePath, cfg.Render.Timeout)
	}

	pool := worker.NewPool(cfg.Worker.Workers, cfg.Worker.QueueSize, logger)

	p := pipeline.New(pipeline.Deps{
		Store:     tasks,
		Artifacts: arts,
		Processor: pdf.NewProcessor(pdf.Options{
			MaxFileSize:  cfg.PDF.MaxFileSize,
			MaxPages:     cfg.PDF.MaxPages,
			RenderImages: cfg.PDF.RenderImages || cfg.Analyzer.UseVision,
			MaxImageDim:  cfg.PDF.MaxImageDim,
		}, logger),
		Analyzer: analyzer.New(model, analyzer.Config{
			PagesPerChunk: cfg.Analyzer.PagesPerChunk,
			MaxChunkChars: cfg.Analyzer.MaxChunkChars,
			Concurrency:   cfg.Analyzer.Concurrency,
			UseVision:     cfg.Analyzer.UseVision,
			KeyInfoChars:  cfg.Analyzer.KeyInfoChars,
			SummaryChars:  cfg.Analyzer.SummaryChars,
		}, logger),
		Content: content.NewGenerator(model, cfg.Content.UseLLM, logger),
		Images: render.NewGenerator(renderer, render.Options{
			Width:  cfg.Render.Width,
			Height: cfg.Render.Height,
		}, logger),
		Pool:      pool,
		UploadDir: cfg.PDF.UploadDir,
		TempDir:   cfg.PDF.TempDir,
		MaxSize:   cfg.PDF.MaxFileSize,
		Observer:  ov.Observer,
	}, logger)

	return &App{
		Pipeline:  p,
		Pool:      pool,
		Store:     tasks,
		Artifacts: arts,
		logger:    logger.WithComponent("app"),
	}, nil
}

// Shutdown drains the worker pool and closes the task store.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain workers: %w", err))
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close task store: %w", err))
	}
	if len(errs) == 0 {
		a.logger.Info().Msg("shutdown complete")
	}
	return errors.Join(errs...)
}

// LLMConfig maps the file/env configuration onto the client configuration.
func LLMConfig(c config.LLMConfig) llm.Config {
	return llm.Config{
		Provider: c.Provider,
		OpenAI: llm.OpenAIConfig{
			APIKey:      c.OpenAI.APIKey,
			BaseURL:     c.OpenAI.BaseURL,
			Model:       c.OpenAI.Model,
			VisionModel: c.OpenAI.VisionModel,
		},
		DashScope: llm.DashScopeConfig{
			APIKey:      c.Qwen.APIKey,
			BaseURL:     c.Qwen.BaseURL,
			Model:       c.Qwen.Model,
			VisionModel: c.Qwen.VisionModel,
		},
		Retry: llm.RetryConfig{
			MaxRetries:     c.MaxRetries,
			InitialBackoff: c.InitialBackoff,
			MaxBackoff:     c.MaxBackoff,
		},
		Timeout:   c.Timeout,
		MaxTokens: c.MaxTokens,
	}
}
