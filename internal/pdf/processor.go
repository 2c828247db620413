package pdf

import (
	"context"
	"fmt"
	"os"
	"strings"

	ledongthuc "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/observability"
)

// Options configures the processor limits.
type Options struct {
	MaxFileSize  int64
	MaxPages     int
	RenderImages bool
	MaxImageDim  int
}

// Info is the result of a synchronous inspection of an uploaded file.
type Info struct {
	Path     string
	Size     int64
	NumPages int
}

// Processor turns a PDF file into an ExtractedDocument.
type Processor struct {
	opts      Options
	validator *Validator
	text      domain.TextExtractor
	newConv   func() domain.Converter
	logger    *observability.Logger
}

// NewProcessor creates a processor backed by pdfcpu, ledongthuc/pdf and go-fitz.
func NewProcessor(opts Options, logger *observability.Logger) *Processor {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Processor{
		opts:      opts,
		validator: NewValidator(),
		text:      TextReader{},
		newConv:   func() domain.Converter { return NewConverter(opts.MaxImageDim) },
		logger:    logger.WithComponent("pdf"),
	}
}

// Inspect validates path, size, structure and page count without extracting content.
func (p *Processor) Inspect(ctx context.Context, path string) (*Info, error) {
	if err := p.validator.ValidatePDFPath(path); err != nil {
		return nil, err
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, domain.IOError("stat uploaded file", err)
	}
	if err := p.validator.ValidateSize(st.Size(), p.opts.MaxFileSize); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return nil, domain.ParseError("malformed PDF", err)
	}

	pages, err := api.PageCountFile(path)
	if err != nil {
		return nil, domain.ParseError("failed to count pages", err)
	}
	if err := p.validator.ValidatePages(pages, p.opts.MaxPages); err != nil {
		return nil, err
	}

	return &Info{Path: path, Size: st.Size(), NumPages: pages}, nil
}

// Extract inspects path and then pulls metadata, per-page text and, when enabled,
// page images rendered into workDir.
func (p *Processor) Extract(ctx context.Context, path, workDir string) (*domain.ExtractedDocument, error) {
	info, err := p.Inspect(ctx, path)
	if err != nil {
		return nil, err
	}

	meta, err := ReadMetadata(path)
	if err != nil {
		// metadata is decorative; a document we could count pages of is still usable
		p.logger.Warn().Err(err).Str("path", path).Msg("metadata unavailable")
		meta = domain.Metadata{}
	}
	meta.NumPages = info.NumPages

	texts, err := p.text.ExtractText(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, domain.ParseError("PDF has no pages", nil)
	}

	doc := &domain.ExtractedDocument{
		SourcePath: path,
		Metadata:   meta,
		Pages:      make([]domain.Page, len(texts)),
	}
	for i, t := range texts {
		doc.Pages[i] = domain.Page{Number: i + 1, Text: t}
	}

	if p.opts.RenderImages {
		conv := p.newConv()
		// images live in workDir; only the converter's document handles are released
		defer conv.Cleanup()

		images, err := conv.Convert(ctx, path, workDir)
		if err != nil {
			return nil, err
		}
		for _, img := range images {
			if idx := img.PageNumber - 1; idx >= 0 && idx < len(doc.Pages) {
				doc.Pages[idx].ImagePath = img.ImagePath
			}
		}
	}

	p.logger.Info().
		Str("path", path).
		Int("pages", doc.NumPages()).
		Bool("images", p.opts.RenderImages).
		Msg("document extracted")

	return doc, nil
}

// ReadMetadata reads the document information dictionary with pdfcpu.
func ReadMetadata(path string) (domain.Metadata, error) {
	pctx, err := api.ReadContextFile(path)
	if err != nil {
		return domain.Metadata{}, domain.ParseError("read PDF context", err)
	}
	// validation decodes the info dictionary into the xref table
	if err := api.ValidateContext(pctx); err != nil {
		return domain.Metadata{}, domain.ParseError("validate PDF context", err)
	}

	x := pctx.XRefTable
	return domain.Metadata{
		Title:        strings.TrimSpace(x.Title),
		Author:       strings.TrimSpace(x.Author),
		Subject:      strings.TrimSpace(x.Subject),
		Creator:      strings.TrimSpace(x.Creator),
		Producer:     strings.TrimSpace(x.Producer),
		CreationDate: x.CreationDate,
		ModDate:      x.ModDate,
		NumPages:     x.PageCount,
	}, nil
}

// TextReader extracts plain text per page with ledongthuc/pdf.
type TextReader struct{}

// ExtractText returns one entry per page; pages without a text layer yield "".
func (TextReader) ExtractText(ctx context.Context, path string) (texts []string, err error) {
	defer func() {
		// the parser panics on some malformed content streams
		if r := recover(); r != nil {
			texts = nil
			err = domain.ParseError("text extraction failed", fmt.Errorf("%v", r))
		}
	}()

	f, r, err := ledongthuc.Open(path)
	if err != nil {
		return nil, domain.ParseError("open PDF for text extraction", err)
	}
	defer f.Close()

	n := r.NumPage()
	texts = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			texts = append(texts, "")
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return nil, domain.ParseError(fmt.Sprintf("extract text of page %d", i), err)
		}
		texts = append(texts, CleanText(content))
	}
	return texts, nil
}

// CleanText normalizes line endings and trims trailing whitespace on every line.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
