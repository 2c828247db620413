package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/paper-whisperer/internal/config"
	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.PDF.UploadDir = filepath.Join(dir, "uploads")
	cfg.PDF.TempDir = filepath.Join(dir, "temp")
	cfg.Artifact.OutputDir = filepath.Join(dir, "outputs")
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLite.Path = filepath.Join(dir, "tasks.db")
	return cfg
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), testConfig(t), Overrides{}, nil)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}

func TestNew_ProcessesWithConfiguredStores(t *testing.T) {
	cfg := testConfig(t)
	var seen []float64
	a, err := New(context.Background(), cfg, Overrides{
		LLM:      &testutil.StubLLM{},
		Renderer: &testutil.StubRenderer{},
		Observer: func(id string, percent float64, msg string) { seen = append(seen, percent) },
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	path := testutil.WritePDF(t, t.TempDir(), "paper.pdf", testutil.Paper(3))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	task, err := a.Pipeline.Ingest(ctx, "paper.pdf", -1, f)
	require.NoError(t, err)

	done, err := a.Pipeline.Process(ctx, task.ID, domain.AnalyzeOptions{GenerateImage: true})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusDone, done.Status)
	assert.Contains(t, done.Result.Artifacts, domain.ArtifactImage)
	assert.Contains(t, done.Result.Artifacts, domain.ArtifactNote)

	_, err = os.Stat(filepath.Join(cfg.Artifact.OutputDir, "outputs", task.ID+"_note.png"))
	assert.NoError(t, err)
	require.NotEmpty(t, seen)
	assert.Equal(t, float64(100), seen[len(seen)-1])

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(shutdownCtx))

	// the sqlite store outlives the process
	reopened, err := New(ctx, cfg, Overrides{LLM: &testutil.StubLLM{}}, nil)
	require.NoError(t, err)
	defer reopened.Shutdown(ctx)
	got, err := reopened.Store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusDone, got.Status)
}

func TestLLMConfig(t *testing.T) {
	c := config.DefaultConfig().LLM
	c.Provider = "qwen"
	c.Qwen.APIKey = "sk-qwen"
	c.MaxRetries = 3

	got := LLMConfig(c)
	assert.Equal(t, "qwen", got.Provider)
	assert.Equal(t, "sk-qwen", got.DashScope.APIKey)
	assert.Equal(t, "qwen-vl-max", got.DashScope.VisionModel)
	assert.Equal(t, "gpt-4o", got.OpenAI.Model)
	assert.Equal(t, 3, got.Retry.MaxRetries)
	assert.Equal(t, 120*time.Second, got.Timeout)
}
