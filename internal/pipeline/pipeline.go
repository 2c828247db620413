// Package pipeline owns the life of a task: ingesting the upload, dispatching
// the analysis to the worker pool and running extract, analyze, generate and
// render in order while keeping the task's status and progress current.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/paper-whisperer/internal/analyzer"
	"github.com/spherical/paper-whisperer/internal/artifact"
	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/observability"
	"github.com/spherical/paper-whisperer/internal/pdf"
	"github.com/spherical/paper-whisperer/internal/store"
	"github.com/spherical/paper-whisperer/internal/worker"
)

// Progress checkpoints, in percent.
const (
	progressStart     = 0
	progressExtracted = 10
	progressAnalyzed  = 60
	progressArticle   = 70
	progressNote      = 80
	progressImage     = 90
	progressDone      = 100
)

// Processor inspects and extracts PDFs.
type Processor interface {
	Inspect(ctx context.Context, path string) (*pdf.Info, error)
	Extract(ctx context.Context, path, workDir string) (*domain.ExtractedDocument, error)
}

// Analyzer produces the structured analysis of a document.
type Analyzer interface {
	Analyze(ctx context.Context, doc *domain.ExtractedDocument, opts analyzer.Options, progress domain.ProgressFunc) (*domain.Analysis, error)
}

// ContentGenerator produces the textual formats.
type ContentGenerator interface {
	Article(ctx context.Context, a *domain.Analysis) (string, error)
	Note(ctx context.Context, a *domain.Analysis) (string, error)
	StructuredNote(ctx context.Context, a *domain.Analysis) (*domain.StructuredNote, error)
}

// ImageRenderer turns a structured note into PNG bytes.
type ImageRenderer interface {
	PNG(ctx context.Context, note *domain.StructuredNote) ([]byte, error)
}

// Submitter queues background jobs.
type Submitter interface {
	Submit(job worker.Job) error
	Pending() int
}

// ProgressObserver is told about every progress change of any task.
type ProgressObserver func(taskID string, percent float64, message string)

// Deps wires the pipeline to its collaborators.
type Deps struct {
	Store     store.Store
	Artifacts artifact.Store
	Processor Processor
	Analyzer  Analyzer
	Content   ContentGenerator
	Images    ImageRenderer // nil disables image generation
	Pool      Submitter     // nil means Dispatch is unavailable
	UploadDir string        // staging area for uploads, defaults to TempDir
	TempDir   string
	MaxSize   int64
	Observer  ProgressObserver
}

// Pipeline runs tasks end to end.
type Pipeline struct {
	deps      Deps
	validator *pdf.Validator
	logger    *observability.Logger
}

// New creates a pipeline.
func New(deps Deps, logger *observability.Logger) *Pipeline {
	if logger == nil {
		logger = observability.Nop()
	}
	if deps.TempDir == "" {
		deps.TempDir = os.TempDir()
	}
	if deps.UploadDir == "" {
		deps.UploadDir = deps.TempDir
	}
	return &Pipeline{
		deps:      deps,
		validator: pdf.NewValidator(),
		logger:    logger.WithComponent("pipeline"),
	}
}

// Store exposes the task store the pipeline writes to.
func (p *Pipeline) Store() store.Store { return p.deps.Store }

// Artifacts exposes the artifact store the pipeline writes to.
func (p *Pipeline) Artifacts() artifact.Store { return p.deps.Artifacts }

// Ingest validates an uploaded PDF, stores it and creates a pending task.
// size is the declared size, or -1 when unknown. Nothing is persisted when
// validation fails.
func (p *Pipeline) Ingest(ctx context.Context, filename string, size int64, src io.Reader) (*domain.Task, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if err := p.validator.ValidateFilename(filename); err != nil {
		return nil, err
	}
	if p.deps.MaxSize > 0 && size > p.deps.MaxSize {
		return nil, domain.SizeExceededError(size, p.deps.MaxSize)
	}

	if err := os.MkdirAll(p.deps.UploadDir, 0o755); err != nil {
		return nil, domain.IOError("create upload directory", err)
	}
	tmp, err := os.CreateTemp(p.deps.UploadDir, "upload-*.pdf")
	if err != nil {
		return nil, domain.IOError("create upload file", err)
	}
	defer os.Remove(tmp.Name())

	reader := src
	if p.deps.MaxSize > 0 {
		reader = io.LimitReader(src, p.deps.MaxSize+1)
	}
	written, err := io.Copy(tmp, reader)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, domain.IOError("save upload", err)
	}
	if p.deps.MaxSize > 0 && written > p.deps.MaxSize {
		return nil, domain.SizeExceededError(written, p.deps.MaxSize)
	}

	info, err := p.deps.Processor.Inspect(ctx, tmp.Name())
	if err != nil {
		return nil, err
	}

	task := &domain.Task{
		ID:       uuid.NewString(),
		Filename: filename,
		FileSize: info.Size,
		NumPages: info.NumPages,
		Status:   domain.TaskStatusPending,
		Message:  "uploaded",
	}

	key := artifact.UploadKey(task.ID)
	if err := p.putFile(ctx, key, tmp.Name(), artifact.ContentTypePDF); err != nil {
		return nil, err
	}
	if err := p.deps.Store.Create(ctx, task); err != nil {
		if derr := p.deps.Artifacts.Delete(ctx, key); derr != nil {
			p.logger.Warn().Err(derr).Str("key", key).Msg("failed to remove orphaned upload")
		}
		return nil, err
	}

	p.logger.WithTask(task.ID).Info().
		Str("filename", filename).
		Int64("size", info.Size).
		Int("pages", info.NumPages).
		Msg("upload accepted")
	return task, nil
}

// Dispatch claims a pending task and queues it for processing. It returns
// as soon as the job is queued.
func (p *Pipeline) Dispatch(ctx context.Context, id string, opts domain.AnalyzeOptions) (*domain.Task, error) {
	if p.deps.Pool == nil {
		return nil, domain.ConfigError("no worker pool configured", nil)
	}
	opts = opts.Normalize()

	task, err := p.claim(ctx, id, opts, "queued")
	if err != nil {
		return nil, err
	}

	err = p.deps.Pool.Submit(worker.Job{
		ID: id,
		Run: func(ctx context.Context) error {
			return p.Run(ctx, id)
		},
	})
	if err != nil {
		p.fail(ctx, id, fmt.Errorf("dispatch task: %w", err))
		return nil, fmt.Errorf("dispatch task %s: %w", id, err)
	}
	return task, nil
}

// Pending reports how many dispatched tasks are waiting for a worker.
func (p *Pipeline) Pending() int {
	if p.deps.Pool == nil {
		return 0
	}
	return p.deps.Pool.Pending()
}

// Process claims a pending task and runs it synchronously.
func (p *Pipeline) Process(ctx context.Context, id string, opts domain.AnalyzeOptions) (*domain.Task, error) {
	if _, err := p.claim(ctx, id, opts.Normalize(), "started"); err != nil {
		return nil, err
	}
	if err := p.Run(ctx, id); err != nil {
		return nil, err
	}
	return p.deps.Store.Get(ctx, id)
}

// claim moves a pending task to processing and records its options.
func (p *Pipeline) claim(ctx context.Context, id string, opts domain.AnalyzeOptions, msg string) (*domain.Task, error) {
	return p.deps.Store.Update(ctx, id, func(t *domain.Task) error {
		if t.Status != domain.TaskStatusPending {
			return domain.ConflictError(fmt.Sprintf("task %s is %s, not pending", id, t.Status))
		}
		now := time.Now().UTC()
		t.Status = domain.TaskStatusProcessing
		t.Progress = progressStart
		t.Message = msg
		t.Options = &opts
		t.StartedAt = &now
		return nil
	})
}

// Run executes every requested step for a claimed task. Any failure marks the
// task failed; the task is only marked done after every artifact is stored.
func (p *Pipeline) Run(ctx context.Context, id string) error {
	task, err := p.deps.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskStatusProcessing {
		return domain.ConflictError(fmt.Sprintf("task %s is %s, not processing", id, task.Status))
	}

	opts := domain.AnalyzeOptions{}.Normalize()
	if task.Options != nil {
		opts = task.Options.Normalize()
	}

	logger := p.logger.WithTask(id).WithOperation("run")
	start := time.Now()
	logger.Info().
		Bool("translate", opts.Translate).
		Str("target_lang", opts.TargetLang).
		Bool("article", opts.GenerateArticle).
		Bool("note", opts.GenerateNote).
		Bool("image", opts.GenerateImage).
		Msg("task started")

	result, err := p.execute(ctx, task, opts)
	if err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("task failed")
		p.fail(ctx, id, err)
		return err
	}

	_, err = p.deps.Store.Update(ctx, id, func(t *domain.Task) error {
		now := time.Now().UTC()
		t.Status = domain.TaskStatusDone
		t.Progress = progressDone
		t.Message = "done"
		t.Result = result
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to record result")
		p.fail(ctx, id, err)
		return err
	}

	p.notify(id, progressDone, "done")
	logger.Info().Dur("duration", time.Since(start)).Int("artifacts", len(result.Artifacts)).Msg("task done")
	return nil
}

func (p *Pipeline) execute(ctx context.Context, task *domain.Task, opts domain.AnalyzeOptions) (*domain.TaskResult, error) {
	id := task.ID

	if err := os.MkdirAll(p.deps.TempDir, 0o755); err != nil {
		return nil, domain.IOError("create temp directory", err)
	}
	workDir, err := os.MkdirTemp(p.deps.TempDir, "task-"+id+"-")
	if err != nil {
		return nil, domain.IOError("create task work directory", err)
	}
	defer os.RemoveAll(workDir)

	p.progress(ctx, id, progressStart, "extracting")
	pdfPath := filepath.Join(workDir, "source.pdf")
	if err := p.fetchFile(ctx, artifact.UploadKey(id), pdfPath); err != nil {
		return nil, err
	}

	doc, err := p.deps.Processor.Extract(ctx, pdfPath, filepath.Join(workDir, "pages"))
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	p.progress(ctx, id, progressExtracted, fmt.Sprintf("extracted %d pages", doc.NumPages()))

	analysis, err := p.deps.Analyzer.Analyze(ctx, doc, analyzer.Options{
		Translate:  opts.Translate,
		TargetLang: opts.TargetLang,
	}, func(f float64, msg string) {
		p.progress(ctx, id, progressExtracted+(progressAnalyzed-progressExtracted)*f, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	p.progress(ctx, id, progressAnalyzed, "analysis complete")

	result := &domain.TaskResult{
		Analysis:  analysis,
		Content:   &domain.GeneratedContent{},
		Artifacts: map[domain.ArtifactKind]string{},
	}

	if opts.GenerateArticle {
		article, err := p.deps.Content.Article(ctx, analysis)
		if err != nil {
			return nil, fmt.Errorf("article: %w", err)
		}
		result.Content.Article = article
		if err := p.putArtifact(ctx, result, id, domain.ArtifactArticle, []byte(article)); err != nil {
			return nil, err
		}
		p.progress(ctx, id, progressArticle, "article generated")
	}

	if opts.GenerateNote {
		note, err := p.deps.Content.Note(ctx, analysis)
		if err != nil {
			return nil, fmt.Errorf("note: %w", err)
		}
		result.Content.Note = note
		if err := p.putArtifact(ctx, result, id, domain.ArtifactNote, []byte(note)); err != nil {
			return nil, err
		}

		card, err := p.deps.Content.StructuredNote(ctx, analysis)
		if err != nil {
			return nil, fmt.Errorf("structured note: %w", err)
		}
		result.Content.StructuredNote = card
		p.progress(ctx, id, progressNote, "note generated")
	}

	if opts.GenerateImage {
		if p.deps.Images == nil {
			return nil, domain.RenderError("image generation is not configured", nil)
		}
		img, err := p.deps.Images.PNG(ctx, result.Content.StructuredNote)
		if err != nil {
			return nil, fmt.Errorf("image: %w", err)
		}
		if err := p.putArtifact(ctx, result, id, domain.ArtifactImage, img); err != nil {
			return nil, err
		}
		p.progress(ctx, id, progressImage, "image rendered")
	}

	return result, nil
}

func (p *Pipeline) putArtifact(ctx context.Context, result *domain.TaskResult, id string, kind domain.ArtifactKind, data []byte) error {
	key := artifact.Key(id, kind)
	if err := p.deps.Artifacts.Put(ctx, key, bytes.NewReader(data), int64(len(data)), artifact.ContentType(kind)); err != nil {
		return fmt.Errorf("store %s: %w", kind, err)
	}
	result.Artifacts[kind] = key
	return nil
}

func (p *Pipeline) putFile(ctx context.Context, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return domain.IOError("open upload", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return domain.IOError("stat upload", err)
	}
	return p.deps.Artifacts.Put(ctx, key, f, st.Size(), contentType)
}

func (p *Pipeline) fetchFile(ctx context.Context, key, dst string) error {
	rc, err := p.deps.Artifacts.Open(ctx, key)
	if err != nil {
		return fmt.Errorf("load upload: %w", err)
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return domain.IOError("create working copy", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return domain.IOError("copy upload", err)
	}
	if err := f.Close(); err != nil {
		return domain.IOError("copy upload", err)
	}
	return nil
}

// progress records a progress checkpoint. Progress never moves backwards and
// bookkeeping failures are logged, not fatal.
func (p *Pipeline) progress(ctx context.Context, id string, percent float64, msg string) {
	_, err := p.deps.Store.Update(ctx, id, func(t *domain.Task) error {
		if percent > t.Progress {
			t.Progress = percent
		}
		t.Message = msg
		return nil
	})
	if err != nil {
		p.logger.WithTask(id).Warn().Err(err).Msg("failed to record progress")
		return
	}
	p.notify(id, percent, msg)
}

func (p *Pipeline) notify(id string, percent float64, msg string) {
	if p.deps.Observer != nil {
		p.deps.Observer(id, percent, msg)
	}
}

// fail marks the task failed. It uses a context detached from cancellation so
// the failure is recorded even when ctx was the reason.
func (p *Pipeline) fail(ctx context.Context, id string, cause error) {
	ctx = context.WithoutCancel(ctx)
	_, err := p.deps.Store.Update(ctx, id, func(t *domain.Task) error {
		if t.Status.IsTerminal() {
			return nil
		}
		now := time.Now().UTC()
		t.Status = domain.TaskStatusFailed
		t.Message = "failed"
		t.Error = cause.Error()
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		p.logger.WithTask(id).Error().Err(err).Msg("failed to record task failure")
	}
}
