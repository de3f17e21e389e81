package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"crisis-monitor/pkg/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func criticalAssessment() *risk.Assessment {
	return &risk.Assessment{
		CallID:             "call-42",
		CrisisRisk:         55,
		DistressLevel:      40,
		EmotionalIntensity: 47,
		TonalityRisk:       20,
		Urgency:            risk.UrgencyCritical,
		Recommendation:     risk.Recommendation(risk.UrgencyCritical),
		EscalationTrigger:  true,
		KeyIndicators:      []string{"hurt myself", "hopeless"},
		ToneIndicators:     []string{"voice_instability"},
		RiskTrend:          risk.TrendIncreasing,
		Confidence:         0.75,
		AnalysisTimestamp:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		NextCheckSeconds:   10,
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatMarkdown, false},
		{"md", FormatMarkdown, false},
		{"Markdown", FormatMarkdown, false},
		{"html", FormatHTML, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestMarkdownReport(t *testing.T) {
	md := NewRenderer().Markdown(criticalAssessment())

	assert.Contains(t, md, "**Call ID:** call-42")
	assert.Contains(t, md, "🔴 CRITICAL")
	assert.Contains(t, md, "| Crisis Risk | 55% |")
	assert.Contains(t, md, "| Confidence | 75% |")
	assert.Contains(t, md, "**Risk Trend:** increasing")
	assert.Contains(t, md, risk.Recommendation(risk.UrgencyCritical))
	assert.Contains(t, md, "- hurt myself\n")
	assert.Contains(t, md, "- voice\\_instability\n")
	assert.Contains(t, md, "CRITICAL ALERT")
	assert.NotContains(t, md, "```json")
}

func TestMarkdownReportLowUrgencyHasNoAlert(t *testing.T) {
	a := &risk.Assessment{
		CallID:         "calm",
		Urgency:        risk.UrgencyLow,
		Recommendation: risk.Recommendation(risk.UrgencyLow),
		RiskTrend:      risk.TrendInsufficientData,
	}
	md := NewRenderer().Markdown(a)

	assert.Contains(t, md, "🟢 LOW")
	assert.NotContains(t, md, "ALERT")
	assert.NotContains(t, md, "Detected Indicators")
}

func TestMarkdownReportIncludesJSON(t *testing.T) {
	r := NewRenderer()
	r.IncludeJSON = true

	md := r.Markdown(criticalAssessment())
	assert.Contains(t, md, "```json")
	assert.Contains(t, md, `"crisis_risk": 55`)
}

func TestHTMLReport(t *testing.T) {
	a := criticalAssessment()
	a.CallID = "<script>alert(1)</script>"

	html, err := NewRenderer().HTML(a)
	require.NoError(t, err)

	out := string(html)
	assert.Contains(t, out, "<h1>Crisis Risk Assessment</h1>")
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<li>hurt myself</li>")
	assert.NotContains(t, out, "<script>")
}

func TestWrite(t *testing.T) {
	r := NewRenderer()
	var buf bytes.Buffer

	require.NoError(t, r.Write(&buf, criticalAssessment(), FormatHTML))
	assert.True(t, strings.HasPrefix(buf.String(), "<h1>"))

	buf.Reset()
	require.NoError(t, r.Write(&buf, criticalAssessment(), FormatMarkdown))
	assert.True(t, strings.HasPrefix(buf.String(), "# Crisis Risk Assessment"))
	assert.Equal(t, "text/html; charset=utf-8", FormatHTML.ContentType())
}
