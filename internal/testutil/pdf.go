// Package testutil builds small fixture documents for tests.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// PDFFixture describes a fixture PDF: one text line per page plus info metadata.
type PDFFixture struct {
	Title  string
	Author string
	Pages  []string
}

// BuildPDF returns the bytes of a well-formed single-font PDF with a correct
// cross-reference table.
func BuildPDF(fx PDFFixture) []byte {
	var buf bytes.Buffer
	var offsets []int

	begin := func() int {
		offsets = append(offsets, buf.Len())
		return len(offsets)
	}

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	n := len(fx.Pages)
	// Object layout: 1 catalog, 2 pages, 3 font, 4 info, then page/content pairs.
	pageObj := func(i int) int { return 5 + 2*i }

	begin()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	begin()
	kids := make([]string, n)
	for i := range fx.Pages {
		kids[i] = fmt.Sprintf("%d 0 R", pageObj(i))
	}
	fmt.Fprintf(&buf, "2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", strings.Join(kids, " "), n)

	begin()
	buf.WriteString("3 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>\nendobj\n")

	begin()
	fmt.Fprintf(&buf, "4 0 obj\n<< /Title (%s) /Author (%s) /Producer (paper-whisperer tests) >>\nendobj\n",
		escape(fx.Title), escape(fx.Author))

	for i, text := range fx.Pages {
		begin()
		fmt.Fprintf(&buf, "%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>\nendobj\n", pageObj(i), pageObj(i)+1)

		stream := fmt.Sprintf("BT /F1 18 Tf 72 720 Td (%s) Tj ET", escape(text))
		begin()
		fmt.Fprintf(&buf, "%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", pageObj(i)+1, len(stream), stream)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 4 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)

	return buf.Bytes()
}

// WritePDF writes a fixture PDF into dir and returns its path.
func WritePDF(t testing.TB, dir, name string, fx PDFFixture) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, BuildPDF(fx), 0o644); err != nil {
		t.Fatalf("write fixture pdf: %v", err)
	}
	return path
}

// Paper returns a fixture with n pages of distinct text.
func Paper(n int) PDFFixture {
	pages := make([]string, n)
	for i := range pages {
		pages[i] = fmt.Sprintf("Page %d of the attention study", i+1)
	}
	return PDFFixture{
		Title:  "Attention Study",
		Author: "Ada Lovelace, Alan Turing",
		Pages:  pages,
	}
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
