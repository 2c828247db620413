package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(buf.String(), "paper-whisperer "+version))
}

func TestAnalyzeRequiresOneArgument(t *testing.T) {
	rootCmd.SetArgs([]string{"analyze"})
	rootCmd.SetErr(&bytes.Buffer{})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetErr(nil) })

	assert.Error(t, rootCmd.Execute())
}

func TestAnalyzeFlagsDefaults(t *testing.T) {
	f := analyzeCmd.Flags()
	assert.Equal(t, "zh", f.Lookup("lang").DefValue)
	assert.Equal(t, "outputs", f.Lookup("output").DefValue)
	assert.Equal(t, "o", f.Lookup("output").Shorthand)
	assert.Equal(t, "false", f.Lookup("no-image").DefValue)
}

func TestReadNote(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task_note.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"title":"T","key_points":["a","b"]}`), 0o644))

	note, err := readNote(path)
	require.NoError(t, err)
	assert.Equal(t, "T", note.Title)
	assert.Equal(t, []string{"a", "b"}, note.KeyPoints)

	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	_, err = readNote(path)
	assert.Error(t, err)

	_, err = readNote(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestCardPath(t *testing.T) {
	assert.Equal(t, "out/task_note.png", cardPath("out/task_note.json"))
	assert.Equal(t, "card.png", cardPath("card"))
}
