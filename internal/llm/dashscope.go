package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultDashScopeBaseURL = "https://dashscope.aliyuncs.com/api/v1"
	textGenerationPath      = "/services/aigc/text-generation/generation"
	multimodalPath          = "/services/aigc/multimodal-generation/generation"
)

// DashScopeConfig configures the native Qwen provider.
type DashScopeConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
	HTTPClient  *http.Client
}

// DashScopeProvider calls the native DashScope generation API.
type DashScopeProvider struct {
	apiKey      string
	baseURL     string
	model       string
	visionModel string
	httpClient  *http.Client
}

// dashScopeRequest represents the API request structure
type dashScopeRequest struct {
	Model      string              `json:"model"`
	Input      dashScopeInput      `json:"input"`
	Parameters dashScopeParameters `json:"parameters"`
}

type dashScopeInput struct {
	Messages []dashScopeMessage `json:"messages"`
}

// dashScopeMessage content is a string for text generation and a list of
// parts for multimodal generation.
type dashScopeMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type dashScopePart struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type dashScopeParameters struct {
	ResultFormat string   `json:"result_format"`
	Temperature  *float32 `json:"temperature,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
}

// dashScopeResponse represents the API response structure
type dashScopeResponse struct {
	Output struct {
		Choices []struct {
			FinishReason string `json:"finish_reason"`
			Message      struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewDashScopeProvider creates a Qwen provider.
func NewDashScopeProvider(cfg DashScopeConfig) *DashScopeProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultDashScopeBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "qwen-max"
	}
	vision := cfg.VisionModel
	if vision == "" {
		vision = "qwen-vl-max"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &DashScopeProvider{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       model,
		visionModel: vision,
		httpClient:  httpClient,
	}
}

// Name returns the provider identifier.
func (p *DashScopeProvider) Name() string { return "qwen" }

// Complete sends one generation request.
func (p *DashScopeProvider) Complete(ctx context.Context, req Request) (string, error) {
	multimodal := len(req.Images) > 0

	body, err := p.buildRequest(req, multimodal)
	if err != nil {
		return "", &ProviderError{Provider: p.Name(), Message: "failed to build request", Err: err}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", &ProviderError{Provider: p.Name(), Message: "failed to marshal request", Err: err}
	}

	path := textGenerationPath
	if multimodal {
		path = multimodalPath
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return "", &ProviderError{Provider: p.Name(), Message: "failed to create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		retryable := !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		return "", &ProviderError{Provider: p.Name(), Message: "request failed", Retryable: retryable, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: "failed to read response", Retryable: true, Err: err}
	}

	var parsed dashScopeResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && parsed.Message != "" {
			msg = fmt.Sprintf("%s: %s", parsed.Code, parsed.Message)
		}
		return "", &ProviderError{
			Provider:   p.Name(),
			StatusCode: resp.StatusCode,
			Message:    msg,
			Retryable:  shouldRetry(resp.StatusCode),
		}
	}

	if decodeErr != nil {
		return "", &ProviderError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: "malformed response", Err: decodeErr}
	}
	if len(parsed.Output.Choices) == 0 {
		return "", &ProviderError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: "response contained no choices"}
	}

	text, err := decodeContent(parsed.Output.Choices[0].Message.Content)
	if err != nil {
		return "", &ProviderError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: "malformed message content", Err: err}
	}
	return text, nil
}

func (p *DashScopeProvider) buildRequest(req Request, multimodal bool) (*dashScopeRequest, error) {
	model := req.Model
	if model == "" {
		model = p.model
		if multimodal {
			model = p.visionModel
		}
	}

	lastUser := lastUserIndex(req.Messages)
	messages := make([]dashScopeMessage, 0, len(req.Messages))

	for i, m := range req.Messages {
		if !multimodal {
			messages = append(messages, dashScopeMessage{Role: m.Role, Content: m.Content})
			continue
		}

		parts := []dashScopePart{}
		if i == lastUser {
			for _, path := range req.Images {
				url, err := dataURL(path)
				if err != nil {
					return nil, err
				}
				parts = append(parts, dashScopePart{Image: url})
			}
		}
		parts = append(parts, dashScopePart{Text: m.Content})
		messages = append(messages, dashScopeMessage{Role: m.Role, Content: parts})
	}

	params := dashScopeParameters{ResultFormat: "message", MaxTokens: req.MaxTokens}
	if req.Temperature > 0 {
		t := req.Temperature
		params.Temperature = &t
	}

	return &dashScopeRequest{
		Model:      model,
		Input:      dashScopeInput{Messages: messages},
		Parameters: params,
	}, nil
}

// decodeContent accepts both the plain string and the list-of-parts content shapes.
func decodeContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var parts []dashScopePart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, part := range parts {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}
