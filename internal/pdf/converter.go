package pdf

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/paper-whisperer/internal/domain"
)

// DefaultMaxImageDim bounds the longest side of a rendered page image.
const DefaultMaxImageDim = 1000

// Converter renders PDF pages to PNG images using go-fitz
type Converter struct {
	maxDim int

	mu      sync.Mutex
	docs    []*fitz.Document
	tempDir string
}

var _ domain.Converter = (*Converter)(nil)

// NewConverter creates a new PDF converter instance. maxDim <= 0 uses the default.
func NewConverter(maxDim int) *Converter {
	if maxDim <= 0 {
		maxDim = DefaultMaxImageDim
	}
	return &Converter{maxDim: maxDim}
}

// Convert renders every page of pdfPath into outDir as page_NNN.png. When outDir is
// empty a temporary directory is created and removed again by Cleanup.
func (c *Converter) Convert(ctx context.Context, pdfPath, outDir string) ([]domain.PageImage, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, domain.ParseError("failed to open PDF for rendering", err)
	}
	c.track(doc)

	if outDir == "" {
		dir, err := os.MkdirTemp("", "paper-whisperer-pages-*")
		if err != nil {
			return nil, domain.IOError("failed to create temp directory", err)
		}
		c.mu.Lock()
		c.tempDir = dir
		c.mu.Unlock()
		outDir = dir
	} else if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, domain.IOError("failed to create image directory", err)
	}

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, domain.ParseError("PDF has no pages", nil)
	}

	images := make([]domain.PageImage, 0, pageCount)

	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		bounds, err := doc.Bound(pageNum)
		if err != nil {
			return nil, domain.ParseError(fmt.Sprintf("failed to read bounds of page %d", pageNum+1), err)
		}

		img, err := doc.ImageDPI(pageNum, c.dpiFor(bounds.Dx(), bounds.Dy()))
		if err != nil {
			return nil, domain.ParseError(fmt.Sprintf("failed to render page %d", pageNum+1), err)
		}

		outputPath := filepath.Join(outDir, fmt.Sprintf("page_%03d.png", pageNum+1))
		outputFile, err := os.Create(outputPath)
		if err != nil {
			return nil, domain.IOError(fmt.Sprintf("failed to create output file for page %d", pageNum+1), err)
		}

		err = png.Encode(outputFile, img)
		outputFile.Close()
		if err != nil {
			return nil, domain.IOError(fmt.Sprintf("failed to encode page %d as PNG", pageNum+1), err)
		}

		size := img.Bounds()
		images = append(images, domain.PageImage{
			PageNumber: pageNum + 1,
			ImagePath:  outputPath,
			Width:      size.Dx(),
			Height:     size.Dy(),
		})
	}

	return images, nil
}

// dpiFor picks a resolution so the longest page side lands on maxDim pixels.
// Page bounds are in points (1/72 inch).
func (c *Converter) dpiFor(widthPt, heightPt int) float64 {
	longest := widthPt
	if heightPt > longest {
		longest = heightPt
	}
	if longest <= 0 {
		return 72
	}
	return 72 * float64(c.maxDim) / float64(longest)
}

func (c *Converter) track(doc *fitz.Document) {
	c.mu.Lock()
	c.docs = append(c.docs, doc)
	c.mu.Unlock()
}

// Cleanup closes open documents and removes the converter's own temp directory
func (c *Converter) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, doc := range c.docs {
		if err := doc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.docs = nil

	if c.tempDir != "" {
		if err := os.RemoveAll(c.tempDir); err != nil {
			errs = append(errs, err)
		}
		c.tempDir = ""
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
