// Package ui provides terminal output helpers for the paper-whisperer CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// UI writes human-oriented output. Status lines go to Out, progress
// animation to Err so stdout stays clean when piped.
type UI struct {
	Out     io.Writer
	Err     io.Writer
	noColor bool
}

// New creates a UI on stdout and stderr.
func New(noColor bool) *UI {
	if noColor || !IsTerminal() {
		color.NoColor = true
	}
	return &UI{Out: os.Stdout, Err: os.Stderr, noColor: color.NoColor}
}

// IsTerminal reports whether stderr is an interactive terminal.
func IsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (u *UI) line(c color.Attribute, symbol, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if u.noColor {
		fmt.Fprintf(u.Out, "%s %s\n", symbol, msg)
		return
	}
	color.New(c).Fprintf(u.Out, "%s %s\n", symbol, msg)
}

// Success prints a success message.
func (u *UI) Success(format string, args ...interface{}) {
	u.line(color.FgGreen, "✓", format, args...)
}

// Error prints an error message.
func (u *UI) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if u.noColor {
		fmt.Fprintf(u.Err, "✗ %s\n", msg)
		return
	}
	color.New(color.FgRed).Fprintf(u.Err, "✗ %s\n", msg)
}

// Info prints an informational message.
func (u *UI) Info(format string, args ...interface{}) {
	u.line(color.FgCyan, "ℹ", format, args...)
}

// Step prints a step message.
func (u *UI) Step(format string, args ...interface{}) {
	u.line(color.FgBlue, "→", format, args...)
}

// Section displays a bold header.
func (u *UI) Section(title string) {
	fmt.Fprintln(u.Out)
	if u.noColor {
		fmt.Fprintln(u.Out, title)
		return
	}
	color.New(color.FgCyan, color.Bold).Fprintln(u.Out, title)
}

// Progress shows task progress in percent.
type Progress struct {
	bar *progressbar.ProgressBar
}

// NewProgress creates a 0-100 progress bar.
func (u *UI) NewProgress(description string) *Progress {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(u.Err),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(!u.noColor),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(u.Err, "\n")
		}),
	)
	return &Progress{bar: bar}
}

// Set moves the bar to percent and shows message beside it.
func (p *Progress) Set(percent float64, message string) {
	p.bar.Describe(message)
	_ = p.bar.Set(int(percent))
}

// Finish completes the bar.
func (p *Progress) Finish() {
	_ = p.bar.Finish()
}

// Spinner shows indeterminate progress.
type Spinner struct {
	s *spinner.Spinner
}

// NewSpinner creates a spinner with message as suffix.
func (u *UI) NewSpinner(message string) *Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(u.Err))
	s.Suffix = " " + message
	return &Spinner{s: s}
}

// Start starts the animation.
func (s *Spinner) Start() { s.s.Start() }

// Stop stops the animation and clears the line.
func (s *Spinner) Stop() { s.s.Stop() }
