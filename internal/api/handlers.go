package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/paper-whisperer/internal/artifact"
	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/observability"
	"github.com/spherical/paper-whisperer/internal/pipeline"
)

// multipart framing allowance on top of the file size limit
const multipartOverhead = 1 << 20

// Handler serves the task endpoints.
type Handler struct {
	pipeline *pipeline.Pipeline
	cfg      RouterConfig
	logger   *observability.Logger
}

// NewHandler creates the task handler.
func NewHandler(p *pipeline.Pipeline, cfg RouterConfig, logger *observability.Logger) *Handler {
	return &Handler{
		pipeline: p,
		cfg:      cfg,
		logger:   logger.WithComponent("api"),
	}
}

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	TaskID   string `json:"task_id"`
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
	NumPages int    `json:"num_pages"`
}

// AnalyzeRequest is the body of POST /analyze. Omitted flags keep the values
// of domain.DefaultAnalyzeOptions.
type AnalyzeRequest struct {
	TaskID string `json:"task_id"`
	domain.AnalyzeOptions
}

// AnalyzeResponse is returned by POST /analyze.
type AnalyzeResponse struct {
	TaskID  string            `json:"task_id"`
	Status  domain.TaskStatus `json:"status"`
	Message string            `json:"message"`
}

// StatusResponse is returned by GET /status/{taskID}.
type StatusResponse struct {
	TaskID   string            `json:"task_id"`
	Filename string            `json:"filename"`
	NumPages int               `json:"num_pages"`
	Status   domain.TaskStatus `json:"status"`
	Progress float64           `json:"progress"`
	Message  string            `json:"message,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ResultResponse is returned by GET /result/{taskID}.
type ResultResponse struct {
	TaskID         string                 `json:"task_id"`
	Analysis       *domain.Analysis       `json:"analysis"`
	Article        string                 `json:"article,omitempty"`
	Note           string                 `json:"note,omitempty"`
	StructuredNote *domain.StructuredNote `json:"structured_note,omitempty"`
	Artifacts      map[string]string      `json:"artifacts"`
}

// Upload handles POST /upload. The multipart body is streamed straight into
// the pipeline without buffering the whole file in memory.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+multipartOverhead)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart/form-data body", err.Error())
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "file field is required", "")
			return
		}
		if err != nil {
			h.fail(w, r, fmt.Errorf("read multipart body: %w", err))
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		task, err := h.pipeline.Ingest(r.Context(), part.FileName(), -1, part)
		part.Close()
		if err != nil {
			h.fail(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, UploadResponse{
			TaskID:   task.ID,
			Filename: task.Filename,
			FileSize: task.FileSize,
			NumPages: task.NumPages,
		})
		return
	}
}

// Analyze handles POST /analyze.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	req := AnalyzeRequest{AnalyzeOptions: domain.DefaultAnalyzeOptions()}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required", "")
		return
	}

	task, err := h.pipeline.Dispatch(r.Context(), req.TaskID, req.AnalyzeOptions)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.WithContext(r.Context()).WithTask(task.ID).Info().
		Bool("translate", task.Options.Translate).
		Bool("image", task.Options.GenerateImage).
		Msg("analysis queued")

	writeJSON(w, http.StatusAccepted, AnalyzeResponse{
		TaskID:  task.ID,
		Status:  task.Status,
		Message: "analysis started",
	})
}

// Status handles GET /status/{taskID}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	task, err := h.pipeline.Store().Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOf(task))
}

// Result handles GET /result/{taskID}.
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	task, err := h.doneTask(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := ResultResponse{
		TaskID:    task.ID,
		Artifacts: map[string]string{},
	}
	if res := task.Result; res != nil {
		resp.Analysis = res.Analysis
		if c := res.Content; c != nil {
			resp.Article = c.Article
			resp.Note = c.Note
			resp.StructuredNote = c.StructuredNote
		}
		for kind := range res.Artifacts {
			resp.Artifacts[string(kind)] = "/download/" + string(kind) + "/" + task.ID
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Download handles GET /download/{kind}/{taskID}.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	kind := domain.ArtifactKind(chi.URLParam(r, "kind"))
	switch kind {
	case domain.ArtifactArticle, domain.ArtifactNote, domain.ArtifactImage:
	default:
		writeError(w, http.StatusNotFound, "unknown artifact "+string(kind), "")
		return
	}

	task, err := h.doneTask(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	key, ok := "", false
	if task.Result != nil {
		key, ok = task.Result.Artifacts[kind]
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("task %s has no %s", task.ID, kind), "")
		return
	}

	rc, err := h.pipeline.Artifacts().Open(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", artifact.ContentType(kind))
	disposition := "attachment"
	if kind == domain.ArtifactImage {
		disposition = "inline"
	}
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType(disposition, map[string]string{"filename": artifact.FileName(task.ID, kind)}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WithContext(r.Context()).Warn().Err(err).Str("key", key).Msg("download interrupted")
	}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "paper-whisperer",
		"version": h.cfg.Version,
		"queued":  h.pipeline.Pending(),
	})
}

// ListTasks handles GET /tasks.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.pipeline.Store().List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]StatusResponse, len(tasks))
	for i, t := range tasks {
		out[i] = statusOf(t)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": out,
		"count": len(out),
	})
}

// doneTask loads the task named in the URL and requires it to be finished.
func (h *Handler) doneTask(r *http.Request) (*domain.Task, error) {
	task, err := h.pipeline.Store().Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskStatusDone {
		return nil, domain.ConflictError(fmt.Sprintf("task %s is %s, not done", task.ID, task.Status))
	}
	return task, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, errorMessage(status, err), "")
}

func statusOf(t *domain.Task) StatusResponse {
	return StatusResponse{
		TaskID:   t.ID,
		Filename: t.Filename,
		NumPages: t.NumPages,
		Status:   t.Status,
		Progress: t.Progress,
		Message:  t.Message,
		Error:    t.Error,
	}
}
