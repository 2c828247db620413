package analyzer

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spherical/paper-whisperer/internal/domain"
)

// pageSeparator joins the pages of a chunk and counts against its budget.
const pageSeparator = "\n\n"

// Chunk is a run of consecutive pages small enough for one prompt.
type Chunk struct {
	FirstPage int
	LastPage  int
	Text      string
	// ImagePath is the rendered image of FirstPage, if any.
	ImagePath string
}

// Pages returns a human label such as "3" or "3-5".
func (c Chunk) Pages() string {
	if c.FirstPage == c.LastPage {
		return strconv.Itoa(c.FirstPage)
	}
	return strconv.Itoa(c.FirstPage) + "-" + strconv.Itoa(c.LastPage)
}

// ChunkPages groups pages sequentially into chunks of at most pagesPerChunk
// pages and maxChars runes, separators included. A page longer than maxChars is split on rune
// boundaries into chunks of its own. Page order is preserved.
func ChunkPages(pages []domain.Page, pagesPerChunk, maxChars int) []Chunk {
	if pagesPerChunk < 1 {
		pagesPerChunk = 1
	}

	var (
		chunks []Chunk
		cur    *Chunk
		count  int
		size   int
		buf    strings.Builder
	)

	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = strings.TrimSpace(buf.String())
		chunks = append(chunks, *cur)
		cur, count, size = nil, 0, 0
		buf.Reset()
	}

	for _, p := range pages {
		text := strings.TrimSpace(p.Text)
		n := utf8.RuneCountInString(text)

		if maxChars > 0 && n > maxChars {
			flush()
			for i, piece := range splitRunes(text, maxChars) {
				c := Chunk{FirstPage: p.Number, LastPage: p.Number, Text: piece}
				if i == 0 {
					c.ImagePath = p.ImagePath
				}
				chunks = append(chunks, c)
			}
			continue
		}

		sep := 0
		if buf.Len() > 0 {
			sep = len(pageSeparator)
		}
		if cur != nil && (count >= pagesPerChunk || (maxChars > 0 && size+sep+n > maxChars)) {
			flush()
			sep = 0
		}
		if cur == nil {
			cur = &Chunk{FirstPage: p.Number, ImagePath: p.ImagePath}
		}
		if sep > 0 {
			buf.WriteString(pageSeparator)
		}
		buf.WriteString(text)
		cur.LastPage = p.Number
		count++
		size += sep + n
	}
	flush()

	return chunks
}

// splitRunes cuts s into pieces of at most n runes.
func splitRunes(s string, n int) []string {
	var out []string
	for len(s) > 0 {
		end, count := 0, 0
		for end < len(s) && count < n {
			_, w := utf8.DecodeRuneInString(s[end:])
			end += w
			count++
		}
		out = append(out, s[:end])
		s = s[end:]
	}
	return out
}

// truncateRunes returns at most n runes of s.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return splitRunes(s, n)[0]
}
