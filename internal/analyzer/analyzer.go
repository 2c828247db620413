// Package analyzer turns an extracted paper into a structured Analysis by
// prompting a language model chunk by chunk.
package analyzer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/llm"
	"github.com/spherical/paper-whisperer/internal/observability"
)

const (
	keyInfoTemperature = 0.3
	summaryTemperature = 0.7
	summaryMaxTokens   = 2000
	summaryChunks      = 10
	excerptRunes       = 500
	firstPagesForInfo  = 3
)

// LLMClient defines the model operations the analyzer needs
type LLMClient interface {
	Chat(ctx context.Context, req llm.Request) (string, error)
	AnalyzePage(ctx context.Context, text, imagePath, prompt string) (string, error)
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Config tunes chunking and prompting.
type Config struct {
	PagesPerChunk int
	MaxChunkChars int
	Concurrency   int
	UseVision     bool
	KeyInfoChars  int
	SummaryChars  int
}

// DefaultConfig returns the standard analyzer settings.
func DefaultConfig() Config {
	return Config{
		PagesPerChunk: 5,
		MaxChunkChars: 12000,
		Concurrency:   1,
		KeyInfoChars:  3000,
		SummaryChars:  2000,
	}
}

// Options are the per-task analysis switches.
type Options struct {
	Translate  bool
	TargetLang string
}

// Analyzer orchestrates chunk analysis, key info extraction, translation and summary
type Analyzer struct {
	llm    LLMClient
	cfg    Config
	logger *observability.Logger
}

// New creates an analyzer. Zero config fields fall back to DefaultConfig.
func New(client LLMClient, cfg Config, logger *observability.Logger) *Analyzer {
	def := DefaultConfig()
	if cfg.PagesPerChunk < 1 {
		cfg.PagesPerChunk = def.PagesPerChunk
	}
	if cfg.MaxChunkChars < 1 {
		cfg.MaxChunkChars = def.MaxChunkChars
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.KeyInfoChars < 1 {
		cfg.KeyInfoChars = def.KeyInfoChars
	}
	if cfg.SummaryChars < 1 {
		cfg.SummaryChars = def.SummaryChars
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Analyzer{llm: client, cfg: cfg, logger: logger.WithComponent("analyzer")}
}

// Analyze runs the full analysis. Any model failure fails the whole analysis;
// progress receives fractions in [0,1].
func (a *Analyzer) Analyze(ctx context.Context, doc *domain.ExtractedDocument, opts Options, progress domain.ProgressFunc) (*domain.Analysis, error) {
	if doc == nil || doc.NumPages() == 0 {
		return nil, domain.ParseError("document has no pages", nil)
	}
	report := func(f float64, msg string) {
		if progress != nil {
			progress(f, msg)
		}
	}

	chunks := ChunkPages(doc.Pages, a.cfg.PagesPerChunk, a.cfg.MaxChunkChars)
	a.logger.Info().
		Int("pages", doc.NumPages()).
		Int("chunks", len(chunks)).
		Int("concurrency", a.cfg.Concurrency).
		Msg("analyzing paper")

	pageAnalyses, err := a.analyzeChunks(ctx, chunks, func(done, total int) {
		report(0.8*float64(done)/float64(total), fmt.Sprintf("analyzed %d/%d sections", done, total))
	})
	if err != nil {
		return nil, err
	}

	info, err := a.extractKeyInfo(ctx, doc)
	if err != nil {
		return nil, err
	}
	report(0.85, "key information extracted")

	analysis := &domain.Analysis{
		Metadata:     doc.Metadata,
		PageAnalyses: pageAnalyses,
		NumPages:     doc.NumPages(),
	}

	if opts.Translate {
		lang := opts.TargetLang
		if lang == "" {
			lang = "zh"
		}
		info, err = a.translateKeyInfo(ctx, info, lang)
		if err != nil {
			return nil, fmt.Errorf("translate key info: %w", err)
		}
		analysis.Translated = true
		analysis.TargetLang = lang
		report(0.9, "key information translated")
	}
	analysis.KeyInfo = info

	summary, err := a.summarize(ctx, info, pageAnalyses)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	analysis.Summary = summary
	report(1, "analysis complete")

	return analysis, nil
}

// analyzeChunks fans chunks out to the model and merges the results in page order.
func (a *Analyzer) analyzeChunks(ctx context.Context, chunks []Chunk, onDone func(done, total int)) ([]domain.PageAnalysis, error) {
	results := make([]domain.PageAnalysis, len(chunks))

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	for i, c := range chunks {
		g.Go(func() error {
			image := ""
			if a.cfg.UseVision {
				image = c.ImagePath
			}

			text, err := a.llm.AnalyzePage(gctx, c.Text, image, chunkPrompt(c))
			if err != nil {
				return fmt.Errorf("analyze pages %s: %w", c.Pages(), err)
			}

			results[i] = domain.PageAnalysis{
				FirstPage: c.FirstPage,
				LastPage:  c.LastPage,
				Excerpt:   excerpt(c.Text),
				Analysis:  strings.TrimSpace(text),
			}

			mu.Lock()
			done++
			onDone(done, len(chunks))
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// extractKeyInfo asks for a JSON summary of the first pages. An undecodable reply
// degrades to metadata; provider errors are returned.
func (a *Analyzer) extractKeyInfo(ctx context.Context, doc *domain.ExtractedDocument) (domain.KeyInfo, error) {
	var first []string
	for i := 0; i < len(doc.Pages) && i < firstPagesForInfo; i++ {
		first = append(first, doc.Pages[i].Text)
	}
	text := truncateRunes(strings.Join(first, "\n\n"), a.cfg.KeyInfoChars)

	reply, err := a.llm.Chat(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: keyInfoPrompt(text)}},
		Temperature: keyInfoTemperature,
	})
	if err != nil {
		return domain.KeyInfo{}, fmt.Errorf("extract key info: %w", err)
	}

	var info domain.KeyInfo
	if err := llm.ExtractJSON(reply, &info); err != nil {
		a.logger.Warn().Err(err).Msg("key info reply was not JSON, falling back to metadata")
		info = domain.KeyInfo{}
	}

	if strings.TrimSpace(info.Title) == "" {
		info.Title = doc.Metadata.Title
	}
	if len(info.Authors) == 0 {
		info.Authors = doc.Metadata.Authors()
	}
	return info, nil
}

func (a *Analyzer) translateKeyInfo(ctx context.Context, info domain.KeyInfo, lang string) (domain.KeyInfo, error) {
	var err error
	tr := func(s string) string {
		if err != nil || strings.TrimSpace(s) == "" {
			return s
		}
		var out string
		out, err = a.llm.Translate(ctx, s, lang)
		return out
	}
	trList := func(items []string) []string {
		if items == nil {
			return nil
		}
		out := make([]string, len(items))
		for i, s := range items {
			out[i] = tr(s)
		}
		return out
	}

	// authors are proper names and stay untranslated
	translated := domain.KeyInfo{
		Title:             tr(info.Title),
		Authors:           info.Authors,
		Abstract:          tr(info.Abstract),
		Keywords:          trList(info.Keywords),
		MainContributions: trList(info.MainContributions),
		Methodology:       tr(info.Methodology),
		MainResults:       tr(info.MainResults),
		Conclusions:       tr(info.Conclusions),
	}
	if err != nil {
		return domain.KeyInfo{}, err
	}
	return translated, nil
}

func (a *Analyzer) summarize(ctx context.Context, info domain.KeyInfo, analyses []domain.PageAnalysis) (string, error) {
	var b strings.Builder
	for i, pa := range analyses {
		if i == summaryChunks {
			break
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		if pa.FirstPage == pa.LastPage {
			fmt.Fprintf(&b, "第 %d 页: %s", pa.FirstPage, pa.Analysis)
		} else {
			fmt.Fprintf(&b, "第 %d-%d 页: %s", pa.FirstPage, pa.LastPage, pa.Analysis)
		}
	}

	reply, err := a.llm.Chat(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: summaryPrompt(info, truncateRunes(b.String(), a.cfg.SummaryChars))}},
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func excerpt(text string) string {
	cut := truncateRunes(text, excerptRunes)
	if cut != text {
		return cut + "..."
	}
	return text
}
