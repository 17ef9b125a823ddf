package extract

import (
	"fmt"
	"strings"
)

// NotStated is the marker the synthesis must use for a criterion with no
// supporting evidence in the pages.
const NotStated = "Not stated in source"

// Criteria are the synthesis sections, in output order.
var Criteria = []string{
	"Problem Definition",
	"Solution & Product",
	"Market Opportunity",
	"Business Model",
	"Competitive Advantage",
	"Traction & Financials",
	"Team & Execution",
}

const pagePromptTemplate = `You are a senior investment analyst reading page %[1]d of an investor-relations deck.

Extract everything on this page with no omissions:
- Every number exactly as printed: amounts, currencies, units, percentages, dates, periods.
- Tables: reproduce them as markdown tables, keeping row and column labels.
- Charts and graphs: name the chart type, the axes, each series, and every labeled value. Describe the trend the chart shows.
- Diagrams, flows, and org charts: describe each box and arrow and what connects to what.
- All text: titles, body copy, footnotes, sources, logos, and small print.

Do not summarize, interpret, or add information that is not on the page.

Begin your answer with the line:
## [Page %[1]d] Raw Data Analysis`

// PagePrompt returns the extraction instruction for one page.
func PagePrompt(index int) string {
	return fmt.Sprintf(pagePromptTemplate, index)
}

// SynthesisInstructions is the fixed part of the synthesis prompt.
var SynthesisInstructions = buildSynthesisInstructions()

func buildSynthesisInstructions() string {
	var sb strings.Builder
	sb.WriteString("You are a venture investment committee analyst. Below is a page-by-page raw data extraction of one investor-relations deck.\n\n")
	sb.WriteString("Write a strategic report with exactly these seven sections, in this order, each as a level-3 markdown heading:\n")
	for i, c := range Criteria {
		fmt.Fprintf(&sb, "### %d. %s\n", i+1, c)
	}
	sb.WriteString("\nRules:\n")
	sb.WriteString("- Ground every claim in the page data. Quote concrete figures and cite the page, e.g. (p. 7).\n")
	sb.WriteString("- Cross-reference pages: connect numbers that appear on different slides and flag contradictions.\n")
	fmt.Fprintf(&sb, "- If the pages contain no evidence for a section, write \"%s\" under that heading. Never infer or invent.\n", NotStated)
	sb.WriteString("- End with a short paragraph on the most material open risks.")
	return sb.String()
}

// BuildSynthesisPrompt appends the merged page text to the instructions.
func BuildSynthesisPrompt(pageText string) string {
	var sb strings.Builder
	sb.Grow(len(SynthesisInstructions) + len(pageText) + 16)
	sb.WriteString(SynthesisInstructions)
	sb.WriteString("\n\n[Page Data]\n")
	sb.WriteString(pageText)
	return sb.String()
}
