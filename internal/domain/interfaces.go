package domain

import "context"

// Converter defines the interface for converting PDF pages to images
type Converter interface {
	// Convert renders every page of a PDF into outDir
	Convert(ctx context.Context, pdfPath, outDir string) ([]PageImage, error)

	// Cleanup releases resources held by the converter
	Cleanup() error
}

// TextExtractor returns the plain text of every page, in page order.
type TextExtractor interface {
	ExtractText(ctx context.Context, pdfPath string) ([]string, error)
}
