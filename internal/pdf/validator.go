package pdf

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/paper-whisperer/internal/domain"
)

var pdfMagic = []byte("%PDF-")

// Validator provides input validation for PDF files
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePDFPath validates that a file path is valid and points to a PDF
func (v *Validator) ValidatePDFPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" {
		return domain.ValidationError(fmt.Sprintf("file is not a PDF (has extension %s)", ext), nil)
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	defer file.Close()

	return v.ValidateHeader(file)
}

// ValidateFilename checks the extension of an uploaded file name.
func (v *Validator) ValidateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return domain.ValidationError("filename cannot be empty", nil)
	}
	if strings.ToLower(filepath.Ext(name)) != ".pdf" {
		return domain.ValidationError("only PDF files are supported", nil)
	}
	return nil
}

// ValidateHeader checks that the stream starts with the PDF magic bytes.
func (v *Validator) ValidateHeader(r io.Reader) error {
	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(r, head); err != nil {
		return domain.ParseError("file is too short to be a PDF", err)
	}
	if !bytes.Equal(head, pdfMagic) {
		return domain.ParseError("missing %PDF- header", nil)
	}
	return nil
}

// ValidateSize rejects files larger than limit bytes.
func (v *Validator) ValidateSize(size, limit int64) error {
	if size <= 0 {
		return domain.ValidationError("file is empty", nil)
	}
	if limit > 0 && size > limit {
		return domain.SizeExceededError(size, limit)
	}
	return nil
}

// ValidatePages rejects documents with no pages or more than limit pages.
func (v *Validator) ValidatePages(pages, limit int) error {
	if pages <= 0 {
		return domain.ParseError("PDF has no pages", nil)
	}
	if limit > 0 && pages > limit {
		return domain.PageLimitExceededError(pages, limit)
	}
	return nil
}
