// Package content renders an Analysis into the long-form article and the short
// social note, both as markdown.
package content

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/llm"
	"github.com/spherical/paper-whisperer/internal/observability"
)

const (
	articleTemperature = 0.8
	articleMaxTokens   = 3000
	noteTemperature    = 0.9
	noteMaxTokens      = 2000
	cardMaxTokens      = 1500

	defaultTitle = "论文解读"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("content").Funcs(template.FuncMap{
	"quote":   strconv.Quote,
	"join":    strings.Join,
	"hashtag": hashtag,
}).ParseFS(templateFS, "templates/*.tmpl"))

// ChatClient is the model surface the generator needs.
type ChatClient interface {
	Chat(ctx context.Context, req llm.Request) (string, error)
}

// Generator produces the textual publication formats.
type Generator struct {
	llm    ChatClient
	useLLM bool
	logger *observability.Logger
}

// NewGenerator creates a generator. With useLLM false (or a nil client) every
// body is assembled from the analysis alone.
func NewGenerator(client ChatClient, useLLM bool, logger *observability.Logger) *Generator {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Generator{
		llm:    client,
		useLLM: useLLM && client != nil,
		logger: logger.WithComponent("content"),
	}
}

// templateData is what both markdown skeletons are filled with.
type templateData struct {
	Title         string
	Authors       []string
	Keywords      []string
	Contributions []string
	Summary       string
	Body          string
	NumPages      int
	Lang          string
}

func newTemplateData(a *domain.Analysis, body string) templateData {
	title := strings.TrimSpace(a.Title())
	if title == "" {
		title = defaultTitle
	}
	return templateData{
		Title:         title,
		Authors:       a.KeyInfo.Authors,
		Keywords:      a.KeyInfo.Keywords,
		Contributions: a.KeyInfo.MainContributions,
		Summary:       strings.TrimSpace(a.Summary),
		Body:          strings.TrimSpace(body),
		NumPages:      a.NumPages,
		Lang:          a.TargetLang,
	}
}

// Article renders the long-form markdown article.
func (g *Generator) Article(ctx context.Context, a *domain.Analysis) (string, error) {
	if a == nil {
		return "", domain.ValidationError("analysis is required", nil)
	}

	body := articleBody(a)
	if g.useLLM {
		prose, err := g.llm.Chat(ctx, llm.Request{
			Messages:    []llm.Message{{Role: llm.RoleUser, Content: articlePrompt(a)}},
			Temperature: articleTemperature,
			MaxTokens:   articleMaxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("generate article: %w", err)
		}
		body = prose
	}

	return render("article.md.tmpl", newTemplateData(a, body))
}

// Note renders the short social-media markdown note.
func (g *Generator) Note(ctx context.Context, a *domain.Analysis) (string, error) {
	if a == nil {
		return "", domain.ValidationError("analysis is required", nil)
	}

	body := noteBody(a)
	if g.useLLM {
		prose, err := g.llm.Chat(ctx, llm.Request{
			Messages:    []llm.Message{{Role: llm.RoleUser, Content: notePrompt(a)}},
			Temperature: noteTemperature,
			MaxTokens:   noteMaxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("generate note: %w", err)
		}
		body = prose
	}

	return render("note.md.tmpl", newTemplateData(a, body))
}

// StructuredNote asks for the card layout as JSON. A reply that does not decode
// falls back to a card assembled from the key info.
func (g *Generator) StructuredNote(ctx context.Context, a *domain.Analysis) (*domain.StructuredNote, error) {
	if a == nil {
		return nil, domain.ValidationError("analysis is required", nil)
	}
	if !g.useLLM {
		return FallbackNote(a), nil
	}

	reply, err := g.llm.Chat(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: structuredNotePrompt(a)}},
		Temperature: noteTemperature,
		MaxTokens:   cardMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate structured note: %w", err)
	}

	var note domain.StructuredNote
	if err := llm.ExtractJSON(reply, &note); err != nil || strings.TrimSpace(note.Title) == "" {
		g.logger.Warn().Err(err).Msg("structured note reply unusable, using fallback card")
		return FallbackNote(a), nil
	}
	return &note, nil
}

// FallbackNote builds a deterministic card from the analysis.
func FallbackNote(a *domain.Analysis) *domain.StructuredNote {
	title := strings.TrimSpace(a.Title())
	if title == "" {
		title = defaultTitle
	}
	highlight := truncate(strings.TrimSpace(a.Summary), 200)
	if highlight == "" {
		highlight = "这是一篇值得关注的论文"
	}

	return &domain.StructuredNote{
		Title: "📚 " + title,
		Hook:  "今天来聊聊这篇有趣的论文！",
		KeyPoints: []string{
			"✨ 主要贡献: " + strings.Join(a.KeyInfo.MainContributions, ", "),
			"🔬 研究方法: " + truncate(a.KeyInfo.Methodology, 100),
			"📊 主要结果: " + truncate(a.KeyInfo.MainResults, 100),
		},
		Highlight:  highlight,
		Conclusion: "你觉得这个研究怎么样？欢迎在评论区讨论！",
	}
}

func articleBody(a *domain.Analysis) string {
	var b strings.Builder
	section := func(title, text string) {
		if text = strings.TrimSpace(text); text != "" {
			fmt.Fprintf(&b, "## %s\n\n%s\n\n", title, text)
		}
	}

	section("摘要", a.KeyInfo.Abstract)
	section("研究方法", a.KeyInfo.Methodology)
	section("主要结果", a.KeyInfo.MainResults)
	section("结论", a.KeyInfo.Conclusions)

	if len(a.PageAnalyses) > 0 {
		b.WriteString("## 逐段解读\n\n")
		for _, pa := range a.PageAnalyses {
			if pa.FirstPage == pa.LastPage {
				fmt.Fprintf(&b, "### 第 %d 页\n\n", pa.FirstPage)
			} else {
				fmt.Fprintf(&b, "### 第 %d-%d 页\n\n", pa.FirstPage, pa.LastPage)
			}
			b.WriteString(strings.TrimSpace(pa.Analysis))
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func noteBody(a *domain.Analysis) string {
	card := FallbackNote(a)

	var b strings.Builder
	b.WriteString(card.Hook)
	b.WriteString("\n\n")
	for _, p := range card.KeyPoints {
		b.WriteString("- ")
		b.WriteString(p)
		b.WriteString("\n")
	}
	b.WriteString("\n💡 ")
	b.WriteString(card.Highlight)
	b.WriteString("\n\n")
	b.WriteString(card.Conclusion)
	return b.String()
}

func render(name string, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", domain.RenderError("fill "+name, err)
	}
	return buf.String(), nil
}

// hashtag strips whitespace and punctuation so a keyword works as a tag.
func hashtag(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '-' && r != '_') {
			return -1
		}
		return r
	}, s)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
