package domain

import (
	"strconv"
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a processing task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// CanTransition reports whether moving from s to next keeps status monotonic:
// pending -> processing -> {done, failed}. Staying in the same state is a no-op.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case TaskStatusPending:
		return next == TaskStatusProcessing
	case TaskStatusProcessing:
		return next == TaskStatusDone || next == TaskStatusFailed
	default:
		return false
	}
}

// AnalyzeOptions is the per-task request driving the pipeline.
type AnalyzeOptions struct {
	Translate       bool   `json:"translate"`
	TargetLang      string `json:"target_lang"`
	GenerateArticle bool   `json:"generate_article"`
	GenerateNote    bool   `json:"generate_note"`
	GenerateImage   bool   `json:"generate_image"`
}

// DefaultAnalyzeOptions asks for every output in Chinese. Request decoding
// starts from these so omitted flags stay on.
func DefaultAnalyzeOptions() AnalyzeOptions {
	return AnalyzeOptions{
		Translate:       true,
		TargetLang:      "zh",
		GenerateArticle: true,
		GenerateNote:    true,
		GenerateImage:   true,
	}
}

// Normalize applies defaults and the downstream dependency rule: an image is
// rendered from the note, so asking for an image implies a note.
func (o AnalyzeOptions) Normalize() AnalyzeOptions {
	if strings.TrimSpace(o.TargetLang) == "" {
		o.TargetLang = "zh"
	}
	if o.GenerateImage {
		o.GenerateNote = true
	}
	return o
}

// Task is one end-to-end request to process a single PDF.
type Task struct {
	ID          string          `json:"task_id"`
	Filename    string          `json:"filename"`
	FileSize    int64           `json:"file_size"`
	NumPages    int             `json:"num_pages"`
	Status      TaskStatus      `json:"status"`
	Progress    float64         `json:"progress"`
	Message     string          `json:"message,omitempty"`
	Error       string          `json:"error,omitempty"`
	Options     *AnalyzeOptions `json:"options,omitempty"`
	Result      *TaskResult     `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ArtifactKind names the downloadable outputs of a task.
type ArtifactKind string

const (
	ArtifactUpload  ArtifactKind = "upload"
	ArtifactArticle ArtifactKind = "article"
	ArtifactNote    ArtifactKind = "note"
	ArtifactImage   ArtifactKind = "image"
)

// TaskResult points at everything a finished task produced.
type TaskResult struct {
	Analysis  *Analysis               `json:"analysis,omitempty"`
	Content   *GeneratedContent       `json:"content,omitempty"`
	Artifacts map[ArtifactKind]string `json:"artifacts,omitempty"`
}

// Metadata is the document information dictionary of a PDF.
type Metadata struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	Subject      string `json:"subject"`
	Creator      string `json:"creator"`
	Producer     string `json:"producer"`
	CreationDate string `json:"creation_date"`
	ModDate      string `json:"modification_date"`
	NumPages     int    `json:"num_pages"`
}

// Authors splits the author field on the usual separators.
func (m Metadata) Authors() []string {
	if strings.TrimSpace(m.Author) == "" {
		return nil
	}
	fields := strings.FieldsFunc(m.Author, func(r rune) bool {
		return r == ',' || r == ';' || r == '，' || r == '、'
	})
	authors := make([]string, 0, len(fields))
	for _, f := range fields {
		for _, part := range strings.Split(f, " and ") {
			if p := strings.TrimSpace(part); p != "" {
				authors = append(authors, p)
			}
		}
	}
	return authors
}

// Page is the extracted content of a single PDF page
type Page struct {
	Number    int    `json:"number"`
	Text      string `json:"text"`
	ImagePath string `json:"image_path,omitempty"` // rendered PNG in the task temp dir
}

// PageImage represents a single converted PDF page
type PageImage struct {
	PageNumber int
	ImagePath  string
	Width      int
	Height     int
}

// ExtractedDocument is the structured intermediate form of a PDF.
type ExtractedDocument struct {
	SourcePath string   `json:"source_path"`
	Metadata   Metadata `json:"metadata"`
	Pages      []Page   `json:"pages"`
}

// NumPages returns the number of extracted pages.
func (d *ExtractedDocument) NumPages() int {
	return len(d.Pages)
}

// FullText joins all pages with page markers, in page order.
func (d *ExtractedDocument) FullText() string {
	var b strings.Builder
	for _, p := range d.Pages {
		b.WriteString("\n--- Page ")
		b.WriteString(strconv.Itoa(p.Number))
		b.WriteString(" ---\n")
		b.WriteString(p.Text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// KeyInfo is the structured summary extracted from the first pages.
type KeyInfo struct {
	Title             string   `json:"title"`
	Authors           []string `json:"authors"`
	Abstract          string   `json:"abstract"`
	Keywords          []string `json:"keywords"`
	MainContributions []string `json:"main_contributions"`
	Methodology       string   `json:"methodology"`
	MainResults       string   `json:"main_results"`
	Conclusions       string   `json:"conclusions"`
}

// PageAnalysis is the LLM breakdown of one chunk of consecutive pages.
type PageAnalysis struct {
	FirstPage int    `json:"first_page"`
	LastPage  int    `json:"last_page"`
	Excerpt   string `json:"excerpt"`
	Analysis  string `json:"analysis"`
}

// Analysis is the structured understanding of a paper.
type Analysis struct {
	Metadata     Metadata       `json:"metadata"`
	KeyInfo      KeyInfo        `json:"key_info"`
	Summary      string         `json:"summary"`
	Translated   bool           `json:"translated"`
	TargetLang   string         `json:"target_lang,omitempty"`
	PageAnalyses []PageAnalysis `json:"page_analyses"`
	NumPages     int            `json:"num_pages"`
}

// Title returns the best known title of the paper.
func (a *Analysis) Title() string {
	if strings.TrimSpace(a.KeyInfo.Title) != "" {
		return a.KeyInfo.Title
	}
	return a.Metadata.Title
}

// StructuredNote is the card layout rendered into the note image.
type StructuredNote struct {
	Title      string   `json:"title"`
	Hook       string   `json:"hook"`
	KeyPoints  []string `json:"key_points"`
	Highlight  string   `json:"highlight"`
	Conclusion string   `json:"conclusion"`
}

// GeneratedContent holds the two textual publication formats.
type GeneratedContent struct {
	Article        string          `json:"article,omitempty"`
	Note           string          `json:"note,omitempty"`
	StructuredNote *StructuredNote `json:"structured_note,omitempty"`
}

// ProgressFunc receives pipeline progress as a fraction in [0,1] plus a message.
type ProgressFunc func(fraction float64, message string)
