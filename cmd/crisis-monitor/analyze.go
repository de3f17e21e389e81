package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"crisis-monitor/pkg/errors"
	"crisis-monitor/pkg/report"
	"crisis-monitor/pkg/risk"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type analyzeOptions struct {
	file         string
	tonalityFile string
	callID       string
	format       string
}

func newAnalyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze [transcript]",
		Short: "Score a transcript offline",
		Long: "Scores a transcript without starting the service. The transcript is read from the argument, " +
			"from --file, or from stdin. Each non-empty line of a file is treated as one final segment.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "F", "", "Transcript file, one segment per line (- for stdin)")
	cmd.Flags().StringVarP(&opts.tonalityFile, "tonality", "t", "", "YAML file with voice tonality features")
	cmd.Flags().StringVar(&opts.callID, "call-id", "cli", "Call ID reported in the assessment")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "json", "Output format: json, markdown or html")

	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string, opts *analyzeOptions) error {
	logger.SetOutput(cmd.ErrOrStderr())

	var lines []string
	switch {
	case len(args) == 1:
		lines = []string{args[0]}
	case opts.file == "-" || opts.file == "":
		read, err := readLines(cmd.InOrStdin())
		if err != nil {
			return errors.Wrap(err, "failed to read transcript from stdin")
		}
		lines = read
	default:
		f, err := os.Open(opts.file)
		if err != nil {
			return errors.Wrap(err, "failed to open transcript file", map[string]interface{}{"path": opts.file})
		}
		defer f.Close()
		read, err := readLines(f)
		if err != nil {
			return errors.Wrap(err, "failed to read transcript file", map[string]interface{}{"path": opts.file})
		}
		lines = read
	}

	tonality, err := loadTonality(opts.tonalityFile)
	if err != nil {
		return err
	}

	now := time.Now()
	segments := make([]risk.Segment, 0, len(lines))
	for _, line := range lines {
		segments = append(segments, risk.Segment{
			Text:       line,
			Timestamp:  now,
			Confidence: 1,
			IsFinal:    true,
		})
	}

	engine := risk.NewEngine(logger)
	assessment, err := engine.Score(risk.Request{
		CallID:   opts.callID,
		Segments: segments,
		Tonality: tonality,
	})
	if err != nil {
		return err
	}

	return writeAssessment(cmd.OutOrStdout(), assessment, opts.format)
}

func writeAssessment(w io.Writer, a *risk.Assessment, format string) error {
	if strings.EqualFold(format, "json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	}

	f, err := report.ParseFormat(format)
	if err != nil {
		return errors.NewInvalidInput(err.Error())
	}
	if err := report.NewRenderer().Write(w, a, f); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w)
	return err
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func loadTonality(path string) (*risk.Tonality, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read tonality file", map[string]interface{}{"path": path})
	}
	var t risk.Tonality
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.NewInvalidInput("tonality file is not valid YAML", map[string]interface{}{"path": path})
	}
	return &t, nil
}
