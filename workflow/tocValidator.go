package workflow

import (
	"fmt"
	"strings"

	"bitbucket.org/planfox/reports_backend/models"
)

const maxNestingLevel = 5

// ValidateTableOfContents checks a proposed outline structurally and returns
// ALL violations, not just the first. An empty result means the outline is
// acceptable for approval.
func ValidateTableOfContents(sections []models.TocSection) []string {
	var violations []string

	if len(sections) == 0 {
		violations = append(violations, "table of contents must contain at least one section")
		return violations
	}

	seenIds := make(map[string]int, len(sections))
	prevLevel := 0
	for i, section := range sections {
		position := i + 1

		id := strings.TrimSpace(section.Id)
		if id == "" {
			violations = append(violations, fmt.Sprintf("section %d: id is required", position))
		} else if firstPos, dup := seenIds[id]; dup {
			violations = append(violations, fmt.Sprintf("section %d: duplicate id %q (already used by section %d)", position, id, firstPos))
		} else {
			seenIds[id] = position
		}

		if strings.TrimSpace(section.Title) == "" {
			violations = append(violations, fmt.Sprintf("section %d: title is required", position))
		}

		if section.Level < 0 {
			violations = append(violations, fmt.Sprintf("section %d: nesting level must not be negative", position))
		} else if section.Level > maxNestingLevel {
			violations = append(violations, fmt.Sprintf("section %d: nesting level %d exceeds maximum of %d", position, section.Level, maxNestingLevel))
		} else if i == 0 && section.Level != 0 {
			violations = append(violations, "section 1: first section must be at nesting level 0")
		} else if i > 0 && section.Level > prevLevel+1 {
			violations = append(violations, fmt.Sprintf("section %d: nesting level jumps from %d to %d", position, prevLevel, section.Level))
		}
		if section.Level >= 0 {
			prevLevel = section.Level
		}
	}

	return violations
}
