package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/llm"
)

type stubLLM struct {
	mu          sync.Mutex
	keyInfo     string
	failPage    int
	failTrans   bool
	pageCalls   []string
	images      []string
	translated  []string
	chatPrompts []string
}

func (s *stubLLM) Chat(ctx context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prompt := req.Messages[len(req.Messages)-1].Content
	s.chatPrompts = append(s.chatPrompts, prompt)
	if strings.Contains(prompt, "JSON") {
		return s.keyInfo, nil
	}
	return "  a readable summary  ", nil
}

func (s *stubLLM) AnalyzePage(ctx context.Context, text, imagePath, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageCalls = append(s.pageCalls, text)
	s.images = append(s.images, imagePath)
	if s.failPage != 0 && strings.Contains(text, fmt.Sprintf("page %d", s.failPage)) {
		return "", &llm.ProviderError{Provider: "stub", StatusCode: 500, Message: "boom"}
	}
	return "analysis: " + text, nil
}

func (s *stubLLM) Translate(ctx context.Context, text, targetLang string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTrans {
		return "", errors.New("translation down")
	}
	s.translated = append(s.translated, text)
	return "[" + targetLang + "] " + text, nil
}

func testDoc(n int) *domain.ExtractedDocument {
	doc := &domain.ExtractedDocument{
		Metadata: domain.Metadata{Title: "Meta Title", Author: "Ada Lovelace; Alan Turing", NumPages: n},
	}
	for i := 1; i <= n; i++ {
		doc.Pages = append(doc.Pages, domain.Page{Number: i, Text: fmt.Sprintf("text of page %d", i)})
	}
	return doc
}

const goodKeyInfo = "```json\n" + `{"title":"Attention","authors":["A. Vaswani"],"abstract":"We propose.","keywords":["transformer","attention"],"main_contributions":["self-attention"],"methodology":"","main_results":"BLEU 28.4","conclusions":"works"}` + "\n```"

func TestAnalyze_FullFlow(t *testing.T) {
	stub := &stubLLM{keyInfo: goodKeyInfo}
	a := New(stub, Config{PagesPerChunk: 2}, nil)

	var fractions []float64
	analysis, err := a.Analyze(context.Background(), testDoc(5), Options{}, func(f float64, msg string) {
		fractions = append(fractions, f)
	})
	require.NoError(t, err)

	assert.Equal(t, 5, analysis.NumPages)
	assert.Equal(t, "Attention", analysis.KeyInfo.Title)
	assert.Equal(t, []string{"A. Vaswani"}, analysis.KeyInfo.Authors)
	assert.Equal(t, "a readable summary", analysis.Summary)
	assert.False(t, analysis.Translated)

	require.Len(t, analysis.PageAnalyses, 3)
	assert.Equal(t, 1, analysis.PageAnalyses[0].FirstPage)
	assert.Equal(t, 2, analysis.PageAnalyses[0].LastPage)
	assert.Equal(t, 5, analysis.PageAnalyses[2].FirstPage)
	assert.Contains(t, analysis.PageAnalyses[1].Analysis, "text of page 3")

	require.NotEmpty(t, fractions)
	assert.Equal(t, float64(1), fractions[len(fractions)-1])
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
}

func TestAnalyze_ConcurrentChunksMergeInPageOrder(t *testing.T) {
	stub := &stubLLM{keyInfo: goodKeyInfo}
	a := New(stub, Config{PagesPerChunk: 1, Concurrency: 4}, nil)

	analysis, err := a.Analyze(context.Background(), testDoc(12), Options{}, nil)
	require.NoError(t, err)

	require.Len(t, analysis.PageAnalyses, 12)
	for i, pa := range analysis.PageAnalyses {
		assert.Equal(t, i+1, pa.FirstPage)
		assert.Equal(t, fmt.Sprintf("analysis: text of page %d", i+1), pa.Analysis)
	}
}

func TestAnalyze_ChunkFailureFailsAnalysis(t *testing.T) {
	stub := &stubLLM{keyInfo: goodKeyInfo, failPage: 2}
	a := New(stub, Config{PagesPerChunk: 1}, nil)

	_, err := a.Analyze(context.Background(), testDoc(3), Options{}, nil)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeProvider))
	assert.Contains(t, err.Error(), "pages 2")
}

func TestAnalyze_KeyInfoFallback(t *testing.T) {
	stub := &stubLLM{keyInfo: "Sorry, I cannot produce JSON today."}
	a := New(stub, Config{}, nil)

	analysis, err := a.Analyze(context.Background(), testDoc(2), Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Meta Title", analysis.KeyInfo.Title)
	assert.Equal(t, []string{"Ada Lovelace", "Alan Turing"}, analysis.KeyInfo.Authors)
	assert.Empty(t, analysis.KeyInfo.Keywords)
}

func TestAnalyze_Translate(t *testing.T) {
	stub := &stubLLM{keyInfo: goodKeyInfo}
	a := New(stub, Config{}, nil)

	analysis, err := a.Analyze(context.Background(), testDoc(3), Options{Translate: true, TargetLang: "zh"}, nil)
	require.NoError(t, err)

	assert.True(t, analysis.Translated)
	assert.Equal(t, "zh", analysis.TargetLang)
	assert.Equal(t, "[zh] Attention", analysis.KeyInfo.Title)
	assert.Equal(t, []string{"[zh] transformer", "[zh] attention"}, analysis.KeyInfo.Keywords)
	assert.Equal(t, []string{"A. Vaswani"}, analysis.KeyInfo.Authors)
	// empty methodology is not sent for translation
	assert.Equal(t, "", analysis.KeyInfo.Methodology)
	assert.NotContains(t, stub.translated, "")
}

func TestAnalyze_TranslationFailureFailsAnalysis(t *testing.T) {
	stub := &stubLLM{keyInfo: goodKeyInfo, failTrans: true}
	a := New(stub, Config{}, nil)

	_, err := a.Analyze(context.Background(), testDoc(1), Options{Translate: true}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "translate key info")
}

func TestAnalyze_VisionUsesFirstPageImage(t *testing.T) {
	doc := testDoc(2)
	doc.Pages[0].ImagePath = "/tmp/page_001.png"

	stub := &stubLLM{keyInfo: goodKeyInfo}
	_, err := New(stub, Config{PagesPerChunk: 1, UseVision: true}, nil).Analyze(context.Background(), doc, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/page_001.png", ""}, stub.images)

	stub = &stubLLM{keyInfo: goodKeyInfo}
	_, err = New(stub, Config{PagesPerChunk: 1}, nil).Analyze(context.Background(), doc, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"", ""}, stub.images)
}

func TestAnalyze_SummaryPromptBounded(t *testing.T) {
	stub := &stubLLM{keyInfo: goodKeyInfo}
	a := New(stub, Config{PagesPerChunk: 1, SummaryChars: 50}, nil)

	_, err := a.Analyze(context.Background(), testDoc(15), Options{}, nil)
	require.NoError(t, err)

	summaryPrompt := stub.chatPrompts[len(stub.chatPrompts)-1]
	assert.Contains(t, summaryPrompt, "第 1 页")
	assert.NotContains(t, summaryPrompt, "第 11 页")
}

func TestAnalyze_EmptyDocument(t *testing.T) {
	_, err := New(&stubLLM{}, Config{}, nil).Analyze(context.Background(), &domain.ExtractedDocument{}, Options{}, nil)
	assert.True(t, domain.IsType(err, domain.ErrorTypeParse))
}
