// Package report renders assessments as human-readable reports for
// supervisors and offline review.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"crisis-monitor/pkg/risk"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Format selects the report output
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat maps a query or flag value to a Format
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "md", string(FormatMarkdown):
		return FormatMarkdown, nil
	case string(FormatHTML):
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unsupported report format %q", s)
}

// ContentType returns the HTTP content type of the format
func (f Format) ContentType() string {
	if f == FormatHTML {
		return "text/html; charset=utf-8"
	}
	return "text/markdown; charset=utf-8"
}

var badges = map[risk.Urgency]string{
	risk.UrgencyLow:       "🟢",
	risk.UrgencyMedium:    "🟡",
	risk.UrgencyHigh:      "🟠",
	risk.UrgencyCritical:  "🔴",
	risk.UrgencyEmergency: "🚨",
}

var alerts = map[risk.Urgency]string{
	risk.UrgencyEmergency: "**EMERGENCY**: Contact emergency services and keep the caller engaged",
	risk.UrgencyCritical:  "**CRITICAL ALERT**: Immediate human intervention required",
	risk.UrgencyHigh:      "**HIGH PRIORITY**: Transfer to counselor recommended",
}

// Renderer produces assessment reports
type Renderer struct {
	md goldmark.Markdown
	// IncludeJSON appends the raw assessment as a fenced JSON block
	IncludeJSON bool
}

// NewRenderer creates a report renderer
func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Markdown renders the assessment as a Markdown document
func (r *Renderer) Markdown(a *risk.Assessment) string {
	var b strings.Builder

	badge, ok := badges[a.Urgency]
	if !ok {
		badge = "⚪"
	}

	fmt.Fprintf(&b, "# Crisis Risk Assessment\n\n")
	fmt.Fprintf(&b, "**Call ID:** %s  \n", sanitize(a.CallID))
	fmt.Fprintf(&b, "**Urgency Level:** %s %s  \n", badge, strings.ToUpper(string(a.Urgency)))
	fmt.Fprintf(&b, "**Assessed At:** %s\n\n", a.AnalysisTimestamp.UTC().Format("2006-01-02 15:04:05 MST"))

	b.WriteString("## Risk Assessment\n\n")
	b.WriteString("| Signal | Score |\n|---|---|\n")
	fmt.Fprintf(&b, "| Crisis Risk | %d%% |\n", a.CrisisRisk)
	fmt.Fprintf(&b, "| Distress Level | %d%% |\n", a.DistressLevel)
	fmt.Fprintf(&b, "| Emotional Intensity | %d%% |\n", a.EmotionalIntensity)
	fmt.Fprintf(&b, "| Tonality Risk | %d%% |\n", a.TonalityRisk)
	fmt.Fprintf(&b, "| Confidence | %.0f%% |\n\n", a.Confidence*100)

	fmt.Fprintf(&b, "**Risk Trend:** %s  \n", strings.ReplaceAll(string(a.RiskTrend), "_", " "))
	fmt.Fprintf(&b, "**Next Check:** %ds\n\n", a.NextCheckSeconds)

	b.WriteString("## Recommendation\n\n")
	b.WriteString(a.Recommendation)
	b.WriteString("\n")

	writeList(&b, "Detected Indicators", a.KeyIndicators)
	writeList(&b, "Tone Indicators", a.ToneIndicators)

	if alert, ok := alerts[a.Urgency]; ok {
		fmt.Fprintf(&b, "\n> ⚠️ %s\n", alert)
	}

	if r.IncludeJSON {
		data, err := json.MarshalIndent(a, "", "  ")
		if err == nil {
			fmt.Fprintf(&b, "\n## Assessment Data\n\n```json\n%s\n```\n", data)
		}
	}
	return b.String()
}

// HTML renders the Markdown report to an HTML fragment
func (r *Renderer) HTML(a *risk.Assessment) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(r.Markdown(a)), &buf); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

// Write renders the assessment in the given format
func (r *Renderer) Write(w io.Writer, a *risk.Assessment, format Format) error {
	switch format {
	case FormatHTML:
		data, err := r.HTML(a)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		_, err := io.WriteString(w, r.Markdown(a))
		return err
	}
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", sanitize(item))
	}
}

var markdownEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"`", "\\`",
	"*", "\\*",
	"_", "\\_",
	"[", "\\[",
	"]", "\\]",
	"<", "&lt;",
	">", "&gt;",
	"|", "\\|",
	"\n", " ",
)

// sanitize keeps caller-controlled text from injecting markup
func sanitize(s string) string {
	return markdownEscaper.Replace(s)
}
