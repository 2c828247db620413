package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/paper-whisperer/internal/analyzer"
	"github.com/spherical/paper-whisperer/internal/artifact"
	"github.com/spherical/paper-whisperer/internal/content"
	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/pdf"
	"github.com/spherical/paper-whisperer/internal/pipeline"
	"github.com/spherical/paper-whisperer/internal/render"
	"github.com/spherical/paper-whisperer/internal/store"
	"github.com/spherical/paper-whisperer/internal/testutil"
	"github.com/spherical/paper-whisperer/internal/worker"
)

const testMaxSize = 256 << 10

type testServer struct {
	*httptest.Server
	store store.Store
	llm   *testutil.StubLLM
	pool  *worker.Pool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	arts, err := artifact.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ts := &testServer{
		store: store.NewMemoryStore(0),
		llm:   &testutil.StubLLM{},
		pool:  worker.NewPool(2, 8, nil),
	}
	p := pipeline.New(pipeline.Deps{
		Store:     ts.store,
		Artifacts: arts,
		Processor: pdf.NewProcessor(pdf.Options{MaxFileSize: testMaxSize, MaxPages: 5}, nil),
		Analyzer:  analyzer.New(ts.llm, analyzer.Config{}, nil),
		Content:   content.NewGenerator(ts.llm, true, nil),
		Images:    render.NewGenerator(&testutil.StubRenderer{}, render.Options{}, nil),
		Pool:      ts.pool,
		TempDir:   t.TempDir(),
		MaxSize:   testMaxSize,
	}, nil)

	ts.Server = httptest.NewServer(NewRouter(p, RouterConfig{
		MaxUploadBytes: testMaxSize,
		RequestTimeout: 10 * time.Second,
		Version:        "test",
	}, nil))
	t.Cleanup(func() {
		ts.Close()
		ts.pool.Shutdown(context.Background())
	})
	return ts
}

func (ts *testServer) upload(t *testing.T, filename string, body []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}

func (ts *testServer) uploadPaper(t *testing.T, pages int) UploadResponse {
	t.Helper()
	resp := ts.upload(t, "paper.pdf", testutil.BuildPDF(testutil.Paper(pages)))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (ts *testServer) analyze(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/analyze", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) waitFor(t *testing.T, id string, want domain.TaskStatus) StatusResponse {
	t.Helper()
	var last StatusResponse
	require.Eventually(t, func() bool {
		last = decode[StatusResponse](t, ts.get(t, "/status/"+id))
		return last.Status == want
	}, 10*time.Second, 20*time.Millisecond, "task never reached %s", want)
	return last
}

func TestUpload_ReturnsPageCount(t *testing.T) {
	ts := newTestServer(t)
	out := ts.uploadPaper(t, 3)

	assert.NotEmpty(t, out.TaskID)
	assert.Equal(t, "paper.pdf", out.Filename)
	assert.Equal(t, 3, out.NumPages)
	assert.Greater(t, out.FileSize, int64(0))

	status := decode[StatusResponse](t, ts.get(t, "/status/"+out.TaskID))
	assert.Equal(t, domain.TaskStatusPending, status.Status)
	assert.Equal(t, float64(0), status.Progress)
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		body     []byte
		status   int
	}{
		{"wrong extension", "paper.txt", testutil.BuildPDF(testutil.Paper(1)), http.StatusBadRequest},
		{"not a pdf", "paper.pdf", []byte("plain text pretending"), http.StatusBadRequest},
		{"too large", "paper.pdf", append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), testMaxSize)...), http.StatusRequestEntityTooLarge},
		{"too many pages", "paper.pdf", testutil.BuildPDF(testutil.Paper(6)), http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			resp := ts.upload(t, tt.filename, tt.body)
			body := decode[map[string]string](t, resp)
			assert.Equal(t, tt.status, resp.StatusCode, body)
			assert.NotEmpty(t, body["error"])

			tasks, err := ts.store.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, tasks, "no task may be created on a rejected upload")
		})
	}
}

func TestUpload_MissingFile(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "value"))
	require.NoError(t, mw.Close())
	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/upload", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyze_Errors(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.analyze(t, `not json`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.analyze(t, `{}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.analyze(t, `{"task_id":"does-not-exist"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAnalyze_OnlyOncePerTask(t *testing.T) {
	ts := newTestServer(t)
	up := ts.uploadPaper(t, 1)

	resp := ts.analyze(t, fmt.Sprintf(`{"task_id":%q,"generate_article":true}`, up.TaskID))
	accepted := decode[AnalyzeResponse](t, resp)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, domain.TaskStatusProcessing, accepted.Status)

	resp = ts.analyze(t, fmt.Sprintf(`{"task_id":%q}`, up.TaskID))
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestResultAndDownload_BeforeDone(t *testing.T) {
	ts := newTestServer(t)
	up := ts.uploadPaper(t, 1)

	for _, path := range []string{
		"/result/" + up.TaskID,
		"/download/article/" + up.TaskID,
		"/download/image/" + up.TaskID,
	} {
		resp := ts.get(t, path)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode, path)
		assert.Contains(t, resp.Header.Get("Content-Type"), "application/json", path)
		assert.NotContains(t, string(body), "%PDF", path)
	}

	resp := ts.get(t, "/status/unknown")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFullFlow(t *testing.T) {
	ts := newTestServer(t)
	up := ts.uploadPaper(t, 3)
	require.Equal(t, 3, up.NumPages)

	resp := ts.analyze(t, fmt.Sprintf(`{
		"task_id": %q,
		"translate": true,
		"target_lang": "zh",
		"generate_article": true,
		"generate_note": true,
		"generate_image": true
	}`, up.TaskID))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	status := ts.waitFor(t, up.TaskID, domain.TaskStatusDone)
	assert.Equal(t, float64(100), status.Progress)
	assert.Empty(t, status.Error)

	result := decode[ResultResponse](t, ts.get(t, "/result/"+up.TaskID))
	require.NotNil(t, result.Analysis)
	assert.True(t, result.Analysis.Translated)
	assert.Equal(t, 3, result.Analysis.NumPages)
	assert.NotEmpty(t, result.Article)
	assert.NotEmpty(t, result.Note)
	require.NotNil(t, result.StructuredNote)
	assert.Equal(t, "/download/image/"+up.TaskID, result.Artifacts["image"])

	article := ts.get(t, "/download/article/"+up.TaskID)
	data, err := io.ReadAll(article.Body)
	article.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, article.StatusCode)
	assert.Equal(t, artifact.ContentTypeMarkdown, article.Header.Get("Content-Type"))
	assert.Contains(t, article.Header.Get("Content-Disposition"), up.TaskID+"_article.md")
	assert.Equal(t, result.Article, string(data))

	note := ts.get(t, "/download/note/"+up.TaskID)
	data, err = io.ReadAll(note.Body)
	note.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, note.StatusCode)
	assert.NotEmpty(t, data)

	image := ts.get(t, "/download/image/"+up.TaskID)
	data, err = io.ReadAll(image.Body)
	image.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, image.StatusCode)
	assert.Equal(t, "image/png", image.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestAnalyze_OmittedFlagsDefaultOn(t *testing.T) {
	ts := newTestServer(t)
	up := ts.uploadPaper(t, 2)

	resp := ts.analyze(t, fmt.Sprintf(`{"task_id":%q}`, up.TaskID))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	ts.waitFor(t, up.TaskID, domain.TaskStatusDone)

	result := decode[ResultResponse](t, ts.get(t, "/result/"+up.TaskID))
	require.NotNil(t, result.Analysis)
	assert.True(t, result.Analysis.Translated)
	assert.Equal(t, "zh", result.Analysis.TargetLang)

	for _, kind := range []string{"article", "note", "image"} {
		resp := ts.get(t, "/download/"+kind+"/"+up.TaskID)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, kind)
	}
}

func TestDownload_NotRequested(t *testing.T) {
	ts := newTestServer(t)
	up := ts.uploadPaper(t, 1)

	resp := ts.analyze(t, fmt.Sprintf(`{"task_id":%q,"generate_note":false,"generate_image":false}`, up.TaskID))
	resp.Body.Close()
	ts.waitFor(t, up.TaskID, domain.TaskStatusDone)

	resp = ts.get(t, "/download/article/"+up.TaskID)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.get(t, "/download/note/"+up.TaskID)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.get(t, "/download/image/"+up.TaskID)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.get(t, "/download/slides/"+up.TaskID)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFailedTaskReportsError(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.Err = errors.New("model overloaded")
	up := ts.uploadPaper(t, 2)

	resp := ts.analyze(t, fmt.Sprintf(`{"task_id":%q,"generate_note":true}`, up.TaskID))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	status := ts.waitFor(t, up.TaskID, domain.TaskStatusFailed)
	assert.Contains(t, status.Error, "model overloaded")

	resp = ts.get(t, "/result/"+up.TaskID)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHealthAndTasks(t *testing.T) {
	ts := newTestServer(t)

	health := decode[map[string]interface{}](t, ts.get(t, "/health"))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "test", health["version"])
	assert.Equal(t, float64(0), health["queued"])

	ts.uploadPaper(t, 1)
	ts.uploadPaper(t, 2)

	list := decode[struct {
		Tasks []StatusResponse `json:"tasks"`
		Count int              `json:"count"`
	}](t, ts.get(t, "/tasks"))
	assert.Equal(t, 2, list.Count)
	assert.Len(t, list.Tasks, 2)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/analyze", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ValidationError("bad", nil), http.StatusBadRequest},
		{domain.ParseError("bad", nil), http.StatusBadRequest},
		{domain.SizeExceededError(2, 1), http.StatusRequestEntityTooLarge},
		{domain.PageLimitExceededError(2, 1), http.StatusUnprocessableEntity},
		{fmt.Errorf("wrap: %w", domain.NotFoundError("x")), http.StatusNotFound},
		{domain.ConflictError("x"), http.StatusConflict},
		{worker.ErrQueueFull, http.StatusServiceUnavailable},
		{domain.IOError("disk", &http.MaxBytesError{Limit: 1}), http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
