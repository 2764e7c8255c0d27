package workflow

import (
	"fmt"
	"strings"

	"bitbucket.org/planfox/reports_backend/models"
	"github.com/shopspring/decimal"
)

// GeneratedSection is an already-resolved section of the current run. Later
// sections may reference earlier ones, so the orchestrator threads the
// accumulated list through the loop.
type GeneratedSection struct {
	Index   int
	Title   string
	Content string
}

// RenderSectionBaseline produces the deterministic template baseline for one
// section purely from structured planning facts. No retrieval, no AI call:
// the same inputs always yield the same string. In data_only mode this IS the
// section content; in ai_assisted mode it seeds the composer.
func RenderSectionBaseline(section models.TocSection, gc *GenerationContext, length models.ContentLength, generated []GeneratedSection) string {
	var sb strings.Builder

	heading := strings.Repeat("#", section.Level+2)
	sb.WriteString(heading + " " + section.Title + "\n\n")

	facts := gc.Facts
	sb.WriteString(fmt.Sprintf("Project: %s", facts.Project.Name))
	if facts.Project.ClientName != "" {
		sb.WriteString(fmt.Sprintf(" (client: %s)", facts.Project.ClientName))
	}
	sb.WriteString("\n")
	if facts.Project.Address != "" {
		sb.WriteString("Location: " + facts.Project.Address + "\n")
	}
	if name := facts.DisciplineName(); name != "" {
		sb.WriteString("Discipline: " + name + "\n")
	}
	if name := facts.TradeName(); name != "" {
		sb.WriteString("Trade: " + name + "\n")
	}
	sb.WriteString("\n")

	if facts.Project.Description != "" {
		sb.WriteString(facts.Project.Description + "\n\n")
	}

	if len(facts.CostEstimates) > 0 {
		sb.WriteString(renderCostSummary(facts.CostEstimates, length))
	}

	if length == models.ContentLengthExtended && len(generated) > 0 {
		sb.WriteString("Preceding sections:\n")
		for _, prev := range generated {
			sb.WriteString(fmt.Sprintf("- %d. %s\n", prev.Index+1, prev.Title))
		}
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func renderCostSummary(estimates []models.CostEstimate, length models.ContentLength) string {
	var sb strings.Builder
	total := decimal.Zero
	currency := estimates[0].Currency
	for _, e := range estimates {
		total = total.Add(e.Amount)
	}

	if length == models.ContentLengthExtended {
		sb.WriteString("Cost estimates:\n")
		sb.WriteString("| Item | Amount |\n")
		sb.WriteString("| --- | ---: |\n")
		for _, e := range estimates {
			sb.WriteString(fmt.Sprintf("| %s | %s %s |\n", e.Label, e.Amount.StringFixed(2), e.Currency))
		}
		sb.WriteString(fmt.Sprintf("| Total | %s %s |\n\n", total.StringFixed(2), currency))
	} else {
		sb.WriteString(fmt.Sprintf("Estimated cost (%d items): %s %s\n\n", len(estimates), total.StringFixed(2), currency))
	}
	return sb.String()
}

// RenderTransmittalListing formats the transmittal appendix content from the
// document register. An empty register still yields a complete listing.
func RenderTransmittalListing(transmittal *Transmittal) string {
	if transmittal == nil || len(transmittal.Documents) == 0 {
		return "## Transmittal\n\nNo documents are transmitted with this report.\n"
	}
	var sb strings.Builder
	sb.WriteString("## Transmittal\n\n")
	sb.WriteString(fmt.Sprintf("The following %d document(s) are transmitted with this report:\n\n", len(transmittal.Documents)))
	for i, doc := range transmittal.Documents {
		sb.WriteString(fmt.Sprintf("%d. %s", i+1, doc.FileName))
		if doc.UploadedAt != nil {
			sb.WriteString(" (uploaded " + doc.UploadedAt.Format("2006-01-02") + ")")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
