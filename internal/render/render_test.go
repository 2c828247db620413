package render

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/paper-whisperer/internal/domain"
)

type stubRenderer struct {
	html          string
	width, height int
	img           []byte
	err           error
}

func (s *stubRenderer) Screenshot(ctx context.Context, html string, width, height int) ([]byte, error) {
	s.html, s.width, s.height = html, width, height
	return s.img, s.err
}

func sampleNote() *domain.StructuredNote {
	return &domain.StructuredNote{
		Title:      "🚀 Transformer 横空出世",
		Hook:       "只用注意力就够了？",
		KeyPoints:  []string{"抛弃循环结构", "  ", "多头注意力"},
		Highlight:  "训练更快，效果更好",
		Conclusion: "你怎么看？",
	}
}

var fakePNG = []byte("\x89PNG\r\n\x1a\nfake")

func TestHTML_FillsCard(t *testing.T) {
	g := NewGenerator(nil, Options{}, nil)

	html, err := g.HTML(sampleNote())
	require.NoError(t, err)
	assert.Contains(t, html, "width: 1080px; height: 1920px;")
	assert.Contains(t, html, "🚀 Transformer 横空出世")
	assert.Contains(t, html, "<li>抛弃循环结构</li>")
	assert.Contains(t, html, "<li>多头注意力</li>")
	assert.NotContains(t, html, "<li></li>")
	assert.Contains(t, html, "💡 训练更快，效果更好")
}

func TestHTML_EscapesNoteText(t *testing.T) {
	g := NewGenerator(nil, Options{}, nil)

	html, err := g.HTML(&domain.StructuredNote{Title: "<script>alert(1)</script>"})
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestHTML_DefaultTitle(t *testing.T) {
	html, err := NewGenerator(nil, Options{}, nil).HTML(&domain.StructuredNote{})
	require.NoError(t, err)
	assert.Contains(t, html, defaultTitle)
}

func TestHTML_NilNote(t *testing.T) {
	_, err := NewGenerator(nil, Options{}, nil).HTML(nil)
	assert.True(t, domain.IsType(err, domain.ErrorTypeRender))
}

func TestRender_WritesPNG(t *testing.T) {
	stub := &stubRenderer{img: fakePNG}
	g := NewGenerator(stub, Options{Width: 540, Height: 960}, nil)

	out := filepath.Join(t.TempDir(), "outputs", "task_note.png")
	require.NoError(t, g.Render(context.Background(), sampleNote(), out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, fakePNG, data)
	assert.Equal(t, 540, stub.width)
	assert.Equal(t, 960, stub.height)
	assert.Contains(t, stub.html, "width: 540px; height: 960px;")
}

func TestRender_Failures(t *testing.T) {
	tests := []struct {
		name     string
		renderer Renderer
	}{
		{"no renderer", nil},
		{"screenshot error", &stubRenderer{err: errors.New("chrome not found")}},
		{"empty image", &stubRenderer{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "note.png")
			err := NewGenerator(tt.renderer, Options{}, nil).Render(context.Background(), sampleNote(), out)
			require.Error(t, err)
			assert.True(t, domain.IsType(err, domain.ErrorTypeRender))
			assert.NoFileExists(t, out)
		})
	}
}

func findChrome() string {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

func TestChromeRenderer_Screenshot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	chrome := findChrome()
	if chrome == "" {
		t.Skip("no chrome binary on PATH")
	}

	g := NewGenerator(NewChromeRenderer(chrome, 30*time.Second), Options{Width: 360, Height: 640}, nil)
	img, err := g.PNG(context.Background(), sampleNote())
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, 360, cfg.Width)
	assert.Equal(t, 640, cfg.Height)
}
