package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/observability"
)

const (
	translateTemperature = 0.3
	analyzeTemperature   = 0.5
	defaultMaxTokens     = 4000
)

// Config configures a Client.
type Config struct {
	Provider  string // openai or qwen
	OpenAI    OpenAIConfig
	DashScope DashScopeConfig
	Retry     RetryConfig
	Timeout   time.Duration
	MaxTokens int
}

// Client handles communication with the configured completion provider
type Client struct {
	provider  Provider
	retry     RetryConfig
	maxTokens int
	logger    *observability.Logger
}

// NewClient creates a client for the provider named in cfg.
func NewClient(cfg Config, logger *observability.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	var provider Provider
	switch cfg.Provider {
	case "", "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, domain.ConfigError("OPENAI_API_KEY is not set", nil)
		}
		oc := cfg.OpenAI
		if oc.HTTPClient == nil {
			oc.HTTPClient = httpClient
		}
		provider = NewOpenAIProvider(oc)
	case "qwen":
		if cfg.DashScope.APIKey == "" {
			return nil, domain.ConfigError("QWEN_API_KEY is not set", nil)
		}
		dc := cfg.DashScope
		if dc.HTTPClient == nil {
			dc.HTTPClient = httpClient
		}
		provider = NewDashScopeProvider(dc)
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown llm provider %q", cfg.Provider), nil)
	}

	return NewClientWithProvider(provider, cfg.Retry, cfg.MaxTokens, logger), nil
}

// NewClientWithProvider wraps an already constructed provider.
func NewClientWithProvider(provider Provider, retry RetryConfig, maxTokens int, logger *observability.Logger) *Client {
	if logger == nil {
		logger = observability.Nop()
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		provider:  provider,
		retry:     retry,
		maxTokens: maxTokens,
		logger:    logger.WithComponent("llm").WithOperation(provider.Name()),
	}
}

// Provider returns the name of the backing provider.
func (c *Client) Provider() string {
	return c.provider.Name()
}

// Chat runs a text-only completion.
func (c *Client) Chat(ctx context.Context, req Request) (string, error) {
	req.Images = nil
	return c.complete(ctx, req)
}

// Vision runs a completion with image attachments.
func (c *Client) Vision(ctx context.Context, req Request, images []string) (string, error) {
	req.Images = images
	return c.complete(ctx, req)
}

func (c *Client) complete(ctx context.Context, req Request) (string, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}

	start := time.Now()
	out, err := retryWithBackoff(ctx, c.retry, c.logger, func(ctx context.Context) (string, error) {
		return c.provider.Complete(ctx, req)
	})
	if err != nil {
		c.logger.Error().Err(err).Int("images", len(req.Images)).Msg("completion failed")
		return "", err
	}

	c.logger.Debug().
		Dur("duration", time.Since(start)).
		Int("images", len(req.Images)).
		Int("chars", len(out)).
		Msg("completion finished")

	return out, nil
}

// AnalyzePage asks the model to analyze one slice of paper text, attaching the
// rendered page when imagePath is set.
func (c *Client) AnalyzePage(ctx context.Context, text, imagePath, prompt string) (string, error) {
	req := Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "You are an expert in reading and explaining academic papers."},
			{Role: RoleUser, Content: prompt + "\n\n" + text},
		},
		Temperature: analyzeTemperature,
	}
	if imagePath != "" {
		return c.Vision(ctx, req, []string{imagePath})
	}
	return c.Chat(ctx, req)
}

// Translate translates text into targetLang (a BCP 47 tag such as "zh" or "en").
func (c *Client) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	name := LanguageName(targetLang)
	req := Request{
		Messages: []Message{
			{Role: RoleSystem, Content: fmt.Sprintf("You are a professional academic translator. Translate the user's text into %s. Keep technical terms accurate and output only the translation.", name)},
			{Role: RoleUser, Content: text},
		},
		Temperature: translateTemperature,
	}
	out, err := c.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// LanguageName resolves a language tag to its English name, falling back to the
// tag itself when it cannot be parsed.
func LanguageName(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	if name := display.English.Tags().Name(t); name != "" {
		return name
	}
	return tag
}

// ExtractJSON decodes a JSON object from a completion, tolerating markdown code
// fences and surrounding prose.
func ExtractJSON(completion string, v interface{}) error {
	s := strings.TrimSpace(completion)

	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}

	s = strings.TrimSpace(s)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}

	if err := json.Unmarshal([]byte(s), v); err != nil {
		return domain.ParseError("completion is not valid JSON", err)
	}
	return nil
}
