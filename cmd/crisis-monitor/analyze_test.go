package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crisis-monitor/pkg/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runAnalyzeCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newAnalyzeCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAnalyzeArgumentJSON(t *testing.T) {
	out, err := runAnalyzeCmd(t, "", "I want to kill myself tonight", "--call-id", "cli-1")
	require.NoError(t, err)

	var a risk.Assessment
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.Equal(t, "cli-1", a.CallID)
	assert.Equal(t, risk.UrgencyEmergency, a.Urgency)
	assert.True(t, a.EscalationTrigger)
}

func TestAnalyzeStdinMarkdown(t *testing.T) {
	out, err := runAnalyzeCmd(t, "I had a long day\n\nbut I am fine\n", "--format", "markdown")
	require.NoError(t, err)
	assert.Contains(t, out, "# Crisis Risk Assessment")
	assert.Contains(t, out, "cli")
}

func TestAnalyzeFileWithTonality(t *testing.T) {
	dir := t.TempDir()
	transcript := filepath.Join(dir, "call.txt")
	require.NoError(t, os.WriteFile(transcript, []byte("I feel hopeless\nnothing matters anymore\n"), 0o644))
	tonality := filepath.Join(dir, "tone.yaml")
	require.NoError(t, os.WriteFile(tonality, []byte("pitch_mean: 180\nvolume_level: 0.2\nvoice_tremor: 0.8\nemotional_tone: sad\ntone_confidence: 0.9\n"), 0o644))

	out, err := runAnalyzeCmd(t, "", "--file", transcript, "--tonality", tonality)
	require.NoError(t, err)

	var a risk.Assessment
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.Greater(t, a.TonalityRisk, 0)
	assert.NotEmpty(t, a.KeyIndicators)
}

func TestAnalyzeErrors(t *testing.T) {
	_, err := runAnalyzeCmd(t, "", "hello", "--format", "pdf")
	assert.Error(t, err)

	_, err = runAnalyzeCmd(t, "   \n")
	assert.Error(t, err)

	_, err = runAnalyzeCmd(t, "", "--file", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "tone.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("pitch_mean: [oops"), 0o644))
	_, err = runAnalyzeCmd(t, "", "hello", "--tonality", bad)
	assert.Error(t, err)
}
