// Package report renders a stored analysis as a downloadable document.
package report

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/irdigest/internal/deck"
)

// Section titles used by every output format.
const (
	SynthesisSection = "1. Strategic Synthesis (7 Criteria)"
	PageDataSection  = "2. Page-Level Source Data"
)

// Format is an output document type.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatDOCX     Format = "docx"
)

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "text/markdown; charset=utf-8"
	}
}

// ParseFormat maps a query value to a Format. Empty means markdown.
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatMarkdown, "markdown":
		return FormatMarkdown, true
	case FormatHTML:
		return FormatHTML, true
	case FormatDOCX:
		return FormatDOCX, true
	}
	return "", false
}

// Title is the top-level heading text for rec.
func Title(rec deck.Record) string {
	return "IR Analysis Report: " + rec.Filename
}

// Markdown assembles the full report: synthesis first, then the raw
// page data it was built from.
func Markdown(rec deck.Record) string {
	var sb strings.Builder
	sb.WriteString("# " + Title(rec) + "\n\n")
	if !rec.AnalyzedAt.IsZero() {
		sb.WriteString("_Analyzed at " + rec.AnalyzedAt.UTC().Format(time.RFC3339) + "_\n\n")
	}
	sb.WriteString("## " + SynthesisSection + "\n\n")
	sb.WriteString(strings.TrimSpace(rec.StrategicSummary))
	sb.WriteString("\n\n## " + PageDataSection + "\n\n")
	sb.WriteString(strings.TrimSpace(rec.PageDetail))
	sb.WriteString("\n")
	return sb.String()
}

// Stem strips any directory and the final extension from filename.
func Stem(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		return "document"
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FileName is the name a delivered report is uploaded under.
func FileName(filename string) string {
	return Stem(filename) + "_analysis_report.md"
}

// DownloadName is the attachment name offered to API and CLI users.
func DownloadName(filename string, f Format) string {
	return "IR_Analysis_" + Stem(filename) + "." + string(f)
}
