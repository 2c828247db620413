package testutil

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"

	"github.com/spherical/paper-whisperer/internal/llm"
)

// KeyInfoJSON is the reply StubLLM gives to the key information prompt.
const KeyInfoJSON = "```json\n" + `{
  "title": "Attention Study",
  "authors": ["Ada Lovelace", "Alan Turing"],
  "abstract": "We study attention.",
  "keywords": ["attention", "transformer"],
  "main_contributions": ["a new attention layer"],
  "methodology": "controlled experiments",
  "main_results": "better accuracy",
  "conclusions": "attention helps"
}` + "\n```"

// NoteCardJSON is the reply StubLLM gives to the structured note prompt.
const NoteCardJSON = `{"title":"🔥 注意力研究","hook":"一分钟读懂","key_points":["要点一","要点二"],"highlight":"更准","conclusion":"你怎么看？"}`

// StubLLM answers every model call deterministically. Prompts asking for
// JSON get KeyInfoJSON or NoteCardJSON. Set FailAfter to make calls fail once
// that many calls have succeeded.
type StubLLM struct {
	mu        sync.Mutex
	calls     int
	FailAfter int
	Err       error
}

func (s *StubLLM) next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.Err != nil && s.FailAfter >= 0 && s.calls > s.FailAfter {
		return s.Err
	}
	return nil
}

// Calls returns how many model calls were made.
func (s *StubLLM) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StubLLM) Chat(ctx context.Context, req llm.Request) (string, error) {
	if err := s.next(); err != nil {
		return "", err
	}
	prompt := req.Messages[len(req.Messages)-1].Content
	switch {
	case strings.Contains(prompt, "key_points"):
		return NoteCardJSON, nil
	case strings.Contains(prompt, "JSON"):
		return KeyInfoJSON, nil
	default:
		return "生成的正文内容。", nil
	}
}

func (s *StubLLM) AnalyzePage(ctx context.Context, text, imagePath, prompt string) (string, error) {
	if err := s.next(); err != nil {
		return "", err
	}
	return "analysis of " + firstLine(text), nil
}

func (s *StubLLM) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if err := s.next(); err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] %s", targetLang, text), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// StubRenderer returns a small valid PNG for every screenshot.
type StubRenderer struct {
	mu   sync.Mutex
	HTML []string
	Err  error
}

func (r *StubRenderer) Screenshot(ctx context.Context, html string, width, height int) ([]byte, error) {
	r.mu.Lock()
	r.HTML = append(r.HTML, html)
	r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	return TinyPNG(), nil
}

// TinyPNG encodes a 2x2 image.
func TinyPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			img.Set(x, y, color.RGBA{R: 225, G: 29, B: 72, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
