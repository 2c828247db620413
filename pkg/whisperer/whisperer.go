// Package whisperer is the library entry point: it turns a paper PDF into a
// long-form article, a social note and a note card image in one call.
package whisperer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spherical/paper-whisperer/internal/app"
	"github.com/spherical/paper-whisperer/internal/artifact"
	"github.com/spherical/paper-whisperer/internal/config"
	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/llm"
	"github.com/spherical/paper-whisperer/internal/observability"
	"github.com/spherical/paper-whisperer/internal/render"
	"github.com/spherical/paper-whisperer/internal/store"
)

// Re-export the types callers see in results and options.
type (
	Options        = domain.AnalyzeOptions
	Analysis       = domain.Analysis
	KeyInfo        = domain.KeyInfo
	StructuredNote = domain.StructuredNote
	Config         = config.Config

	// Request and Message let callers implement Model.
	Request = llm.Request
	Message = llm.Message
)

// Model is the completion surface used for analysis and writing.
type Model = app.Model

// Renderer rasterizes the note card HTML.
type Renderer interface {
	Screenshot(ctx context.Context, html string, width, height int) ([]byte, error)
}

// ProgressFunc receives progress in percent with a short message.
type ProgressFunc func(percent float64, message string)

// Result is everything produced for one paper.
type Result struct {
	TaskID         string
	NumPages       int
	Analysis       *Analysis
	Article        string
	Note           string
	StructuredNote *StructuredNote
	Image          []byte
}

// Client processes papers synchronously.
type Client struct {
	app      *app.App
	workDir  string
	progress ProgressFunc
}

// Option customises a Client.
type Option func(*clientOptions)

type clientOptions struct {
	model    Model
	renderer Renderer
	logger   *observability.Logger
	progress ProgressFunc
}

// WithModel replaces the configured LLM provider.
func WithModel(m Model) Option {
	return func(o *clientOptions) { o.model = m }
}

// WithRenderer replaces the headless browser used for note cards.
func WithRenderer(r Renderer) Option {
	return func(o *clientOptions) { o.renderer = r }
}

// WithLogger sets the logger. Logs are discarded by default.
func WithLogger(l *observability.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *clientOptions) { o.progress = fn }
}

// NewClient loads configuration from .env and the environment.
func NewClient(opts ...Option) (*Client, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	return NewClientWithConfig(cfg, opts...)
}

// NewClientWithConfig creates a client from an explicit configuration. Tasks
// and intermediate files live in a private temporary directory removed by
// Close; the configured store and artifact drivers are not used.
func NewClientWithConfig(cfg *Config, opts ...Option) (*Client, error) {
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.PDF.TempDir != "" {
		if err := os.MkdirAll(cfg.PDF.TempDir, 0o755); err != nil {
			return nil, domain.IOError("create temp directory", err)
		}
	}
	workDir, err := os.MkdirTemp(cfg.PDF.TempDir, "whisperer-")
	if err != nil {
		return nil, domain.IOError("create work directory", err)
	}

	arts, err := artifact.NewLocalStore(filepath.Join(workDir, "artifacts"))
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}

	local := *cfg
	local.PDF.UploadDir = filepath.Join(workDir, "uploads")
	local.PDF.TempDir = filepath.Join(workDir, "temp")

	c := &Client{workDir: workDir, progress: o.progress}
	ov := app.Overrides{
		LLM:       o.model,
		Store:     store.NewMemoryStore(0),
		Artifacts: arts,
		Observer:  c.observe,
	}
	if o.renderer != nil {
		ov.Renderer = o.renderer
	}

	c.app, err = app.New(context.Background(), &local, ov, o.logger)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	return c, nil
}

func (c *Client) observe(_ string, percent float64, message string) {
	if c.progress != nil {
		c.progress(percent, message)
	}
}

// Process analyzes the PDF at pdfPath and generates the requested formats.
func (c *Client) Process(ctx context.Context, pdfPath string, opts Options) (*Result, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ValidationError("PDF file not found", err)
		}
		return nil, domain.IOError("open PDF", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, domain.IOError("stat PDF", err)
	}

	p := c.app.Pipeline
	task, err := p.Ingest(ctx, filepath.Base(pdfPath), st.Size(), f)
	if err != nil {
		return nil, err
	}

	task, err = p.Process(ctx, task.ID, opts)
	if err != nil {
		return nil, err
	}

	res := &Result{TaskID: task.ID, NumPages: task.NumPages}
	if task.Result == nil {
		return res, nil
	}
	res.Analysis = task.Result.Analysis
	if gc := task.Result.Content; gc != nil {
		res.Article = gc.Article
		res.Note = gc.Note
		res.StructuredNote = gc.StructuredNote
	}
	if key, ok := task.Result.Artifacts[domain.ArtifactImage]; ok {
		if res.Image, err = c.read(ctx, key); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (c *Client) read(ctx context.Context, key string) ([]byte, error) {
	rc, err := c.app.Artifacts.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, domain.IOError(fmt.Sprintf("read %s", key), err)
	}
	return data, nil
}

// RenderCard draws note as a PNG at outPath. It needs no model, so a card
// saved by WriteFiles can be edited and rendered again.
func RenderCard(ctx context.Context, cfg *Config, note *StructuredNote, outPath string, opts ...Option) error {
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	var r render.Renderer = render.NewChromeRenderer(cfg.Render.ChromePath, cfg.Render.Timeout)
	if o.renderer != nil {
		r = o.renderer
	}
	g := render.NewGenerator(r, render.Options{
		Width:  cfg.Render.Width,
		Height: cfg.Render.Height,
	}, o.logger)
	return g.Render(ctx, note, outPath)
}

// CardFileName is the name WriteFiles gives the structured note JSON.
func CardFileName(taskID string) string {
	return taskID + "_note.json"
}

// WriteFiles saves the generated formats into dir using the same names the
// server offers for download, plus the structured note as JSON. It returns
// the written paths.
func (r *Result) WriteFiles(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.IOError("create output directory", err)
	}

	files := []struct {
		kind domain.ArtifactKind
		data []byte
	}{
		{domain.ArtifactArticle, []byte(r.Article)},
		{domain.ArtifactNote, []byte(r.Note)},
		{domain.ArtifactImage, r.Image},
	}

	var written []string
	write := func(name string, data []byte) error {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return domain.IOError("write "+path, err)
		}
		written = append(written, path)
		return nil
	}

	for _, f := range files {
		if len(f.data) == 0 {
			continue
		}
		if err := write(artifact.FileName(r.TaskID, f.kind), f.data); err != nil {
			return written, err
		}
	}

	if r.StructuredNote != nil {
		data, err := json.MarshalIndent(r.StructuredNote, "", "  ")
		if err != nil {
			return written, fmt.Errorf("encode structured note: %w", err)
		}
		if err := write(CardFileName(r.TaskID), data); err != nil {
			return written, err
		}
	}
	return written, nil
}

// Close releases the worker pool and removes temporary files.
func (c *Client) Close() error {
	err := c.app.Shutdown(context.Background())
	if rerr := os.RemoveAll(c.workDir); err == nil {
		err = rerr
	}
	return err
}
