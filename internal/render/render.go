// Package render turns a structured note into a PNG card by filling an HTML
// template and screenshotting it in a headless browser.
package render

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/observability"
)

const (
	DefaultWidth  = 1080
	DefaultHeight = 1920

	defaultTitle = "📚 论文解读"
)

//go:embed templates/card.html.tmpl
var templateFS embed.FS

var cardTemplate = template.Must(template.ParseFS(templateFS, "templates/card.html.tmpl"))

// Renderer rasterizes an HTML document into PNG bytes of the given size.
type Renderer interface {
	Screenshot(ctx context.Context, html string, width, height int) ([]byte, error)
}

// Options configures the card size.
type Options struct {
	Width  int
	Height int
}

// Generator renders note cards.
type Generator struct {
	renderer Renderer
	width    int
	height   int
	logger   *observability.Logger
}

// NewGenerator creates a card generator backed by renderer.
func NewGenerator(renderer Renderer, opts Options, logger *observability.Logger) *Generator {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Generator{
		renderer: renderer,
		width:    opts.Width,
		height:   opts.Height,
		logger:   logger.WithComponent("render"),
	}
}

type cardData struct {
	Width      int
	Height     int
	Title      string
	Hook       string
	KeyPoints  []string
	Highlight  string
	Conclusion string
}

// HTML fills the card template. Note fields are escaped.
func (g *Generator) HTML(note *domain.StructuredNote) (string, error) {
	if note == nil {
		return "", domain.RenderError("structured note is required", nil)
	}

	data := cardData{
		Width:      g.width,
		Height:     g.height,
		Title:      strings.TrimSpace(note.Title),
		Hook:       strings.TrimSpace(note.Hook),
		Highlight:  strings.TrimSpace(note.Highlight),
		Conclusion: strings.TrimSpace(note.Conclusion),
	}
	if data.Title == "" {
		data.Title = defaultTitle
	}
	for _, p := range note.KeyPoints {
		if p = strings.TrimSpace(p); p != "" {
			data.KeyPoints = append(data.KeyPoints, p)
		}
	}

	var buf bytes.Buffer
	if err := cardTemplate.Execute(&buf, data); err != nil {
		return "", domain.RenderError("fill card template", err)
	}
	return buf.String(), nil
}

// PNG renders the card and returns the image bytes.
func (g *Generator) PNG(ctx context.Context, note *domain.StructuredNote) ([]byte, error) {
	html, err := g.HTML(note)
	if err != nil {
		return nil, err
	}
	if g.renderer == nil {
		return nil, domain.RenderError("no renderer configured", nil)
	}

	img, err := g.renderer.Screenshot(ctx, html, g.width, g.height)
	if err != nil {
		return nil, domain.RenderError("screenshot note card", err)
	}
	if len(img) == 0 {
		return nil, domain.RenderError("renderer returned an empty image", nil)
	}

	g.logger.Debug().
		Int("width", g.width).
		Int("height", g.height).
		Int("bytes", len(img)).
		Msg("note card rendered")
	return img, nil
}

// Render writes the card PNG to outPath, creating parent directories.
func (g *Generator) Render(ctx context.Context, note *domain.StructuredNote, outPath string) error {
	img, err := g.PNG(ctx, note)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return domain.IOError("create image directory", err)
	}
	if err := os.WriteFile(outPath, img, 0o644); err != nil {
		return domain.IOError("write note image", err)
	}
	return nil
}
