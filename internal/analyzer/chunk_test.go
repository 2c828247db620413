package analyzer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/paper-whisperer/internal/domain"
)

func pages(texts ...string) []domain.Page {
	out := make([]domain.Page, len(texts))
	for i, t := range texts {
		out[i] = domain.Page{Number: i + 1, Text: t}
	}
	return out
}

func TestChunkPages_ByPageCount(t *testing.T) {
	chunks := ChunkPages(pages("a", "b", "c", "d", "e", "f", "g"), 3, 1000)

	require.Len(t, chunks, 3)
	assert.Equal(t, "1-3", chunks[0].Pages())
	assert.Equal(t, "a\n\nb\n\nc", chunks[0].Text)
	assert.Equal(t, "4-6", chunks[1].Pages())
	assert.Equal(t, "7", chunks[2].Pages())
	assert.Equal(t, "g", chunks[2].Text)
}

func TestChunkPages_ByCharBudget(t *testing.T) {
	chunks := ChunkPages(pages(strings.Repeat("x", 60), strings.Repeat("y", 60), strings.Repeat("z", 30)), 5, 100)

	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].FirstPage)
	assert.Equal(t, 1, chunks[0].LastPage)
	assert.Equal(t, 2, chunks[1].FirstPage)
	assert.Equal(t, 3, chunks[1].LastPage)
}

func TestChunkPages_BudgetCountsSeparators(t *testing.T) {
	chunks := ChunkPages(pages("aaaaa", "bbbbb"), 5, 10)
	require.Len(t, chunks, 2)
	assert.Equal(t, "aaaaa", chunks[0].Text)
	assert.Equal(t, "bbbbb", chunks[1].Text)

	chunks = ChunkPages(pages("aaaa", "bbbb"), 5, 10)
	require.Len(t, chunks, 1)
	assert.Equal(t, "aaaa\n\nbbbb", chunks[0].Text)

	texts := []string{"one", "two words", "three", "a much longer page", "x", "yy", "zzz"}
	for _, c := range ChunkPages(pages(texts...), 4, 20) {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 20, c.Pages())
	}
}

func TestChunkPages_SplitsOversizedPageOnRunes(t *testing.T) {
	long := strings.Repeat("注意力", 10) // 30 runes, 90 bytes
	chunks := ChunkPages(pages("intro", long, "end"), 5, 12)

	require.Len(t, chunks, 5)
	assert.Equal(t, "intro", chunks[0].Text)
	for _, c := range chunks[1:4] {
		assert.Equal(t, 2, c.FirstPage)
		assert.Equal(t, 2, c.LastPage)
		assert.True(t, utf8.ValidString(c.Text))
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 12)
	}
	assert.Equal(t, long, chunks[1].Text+chunks[2].Text+chunks[3].Text)
	assert.Equal(t, "end", chunks[4].Text)
}

func TestChunkPages_KeepsFirstPageImage(t *testing.T) {
	ps := pages("a", "b", "c")
	ps[0].ImagePath = "/tmp/page_001.png"
	ps[1].ImagePath = "/tmp/page_002.png"

	chunks := ChunkPages(ps, 2, 100)
	require.Len(t, chunks, 2)
	assert.Equal(t, "/tmp/page_001.png", chunks[0].ImagePath)
	assert.Empty(t, chunks[1].ImagePath)
}

func TestChunkPages_Empty(t *testing.T) {
	assert.Empty(t, ChunkPages(nil, 5, 100))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "论文", truncateRunes("论文解读", 2))
	assert.Equal(t, "abc", truncateRunes("abc", 5))
	assert.Equal(t, "abc", truncateRunes("abc", 0))
}
