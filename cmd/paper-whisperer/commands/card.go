package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical/paper-whisperer/cmd/paper-whisperer/ui"
	"github.com/spherical/paper-whisperer/internal/observability"
	"github.com/spherical/paper-whisperer/pkg/whisperer"
)

var cardOutput string

var cardCmd = &cobra.Command{
	Use:   "card <note.json>",
	Short: "Render a note card PNG from a structured note",
	Long: `Render the note card from a structured note JSON file, such as the
<task>_note.json written by analyze. Edit the JSON and run this again to
redraw the card without another model call.`,
	Example: `  paper-whisperer card outputs/1b9d_note.json
  paper-whisperer card note.json -o card.png`,
	Args: cobra.ExactArgs(1),
	RunE: runCard,
}

func init() {
	cardCmd.Flags().StringVarP(&cardOutput, "output", "o", "", "PNG path (default: the JSON path with .png)")
	rootCmd.AddCommand(cardCmd)
}

func runCard(cmd *cobra.Command, args []string) error {
	out := ui.New(noColor)

	note, err := readNote(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := observability.Nop()
	if verbose {
		cfg.Observability.LogFormat = "console"
		logger = newLogger(cfg)
	}

	target := cardOutput
	if target == "" {
		target = cardPath(args[0])
	}

	spin := out.NewSpinner("rendering card")
	spin.Start()
	err = whisperer.RenderCard(cmd.Context(), cfg, note, target, whisperer.WithLogger(logger))
	spin.Stop()
	if err != nil {
		out.Error("Render failed: %v", err)
		return err
	}

	out.Success("Wrote %s", target)
	return nil
}

func readNote(path string) (*whisperer.StructuredNote, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read note: %w", err)
	}
	var note whisperer.StructuredNote
	if err := json.Unmarshal(data, &note); err != nil {
		return nil, fmt.Errorf("decode note %s: %w", path, err)
	}
	return &note, nil
}

func cardPath(jsonPath string) string {
	return strings.TrimSuffix(jsonPath, ".json") + ".png"
}
