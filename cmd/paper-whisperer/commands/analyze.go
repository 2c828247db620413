package commands

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/paper-whisperer/cmd/paper-whisperer/ui"
	"github.com/spherical/paper-whisperer/internal/observability"
	"github.com/spherical/paper-whisperer/pkg/whisperer"
)

var (
	outputDir  string
	translate  bool
	targetLang string
	noArticle  bool
	noNote     bool
	noImage    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <pdf>",
	Short: "Analyze one paper and write the results to disk",
	Long: `Analyze a single PDF without starting the server. The article, note and
note card are written to the output directory as <task>_article.md,
<task>_note.md and <task>_note.png. The card text is kept in
<task>_note.json for the card command.`,
	Example: `  paper-whisperer analyze attention.pdf
  paper-whisperer analyze attention.pdf -o out --translate --lang zh
  paper-whisperer analyze attention.pdf --no-image`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&outputDir, "output", "o", "outputs", "output directory")
	analyzeCmd.Flags().BoolVar(&translate, "translate", false, "translate key information")
	analyzeCmd.Flags().StringVar(&targetLang, "lang", "zh", "translation target language")
	analyzeCmd.Flags().BoolVar(&noArticle, "no-article", false, "skip the long-form article")
	analyzeCmd.Flags().BoolVar(&noNote, "no-note", false, "skip the social note (ignored unless --no-image)")
	analyzeCmd.Flags().BoolVar(&noImage, "no-image", false, "skip the note card image")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	out := ui.New(noColor)
	pdfPath := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Keep logs off the terminal unless asked for; the progress bar reports instead.
	logger := observability.Nop()
	if verbose {
		cfg.Observability.LogFormat = "console"
		logger = newLogger(cfg)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spin := out.NewSpinner("starting " + cfg.LLM.Provider + " client")
	spin.Start()
	var bar *ui.Progress
	client, err := whisperer.NewClientWithConfig(cfg,
		whisperer.WithLogger(logger),
		whisperer.WithProgress(func(percent float64, message string) {
			if bar != nil {
				bar.Set(percent, message)
			}
		}),
	)
	spin.Stop()
	if err != nil {
		return err
	}
	defer client.Close()

	opts := whisperer.Options{
		Translate:       translate,
		TargetLang:      targetLang,
		GenerateArticle: !noArticle,
		GenerateNote:    !noNote,
		GenerateImage:   !noImage,
	}

	out.Section("Paper Whisperer")
	out.Step("Analyzing %s", filepath.Base(pdfPath))

	start := time.Now()
	bar = out.NewProgress("starting")
	res, err := client.Process(ctx, pdfPath, opts)
	if err != nil {
		out.Error("Analysis failed: %v", err)
		return err
	}
	bar.Finish()

	files, err := res.WriteFiles(outputDir)
	if err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	out.Success("Analyzed %d pages in %s", res.NumPages, time.Since(start).Round(time.Second))
	if res.Analysis != nil {
		out.Info("Title: %s", res.Analysis.Title())
	}
	for _, f := range files {
		out.Success("Wrote %s", f)
	}
	return nil
}
