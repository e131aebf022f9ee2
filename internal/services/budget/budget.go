// -----------------------------------------------------------------------
// Budget Service - Fits the three prompt inputs (source document, input
// template, output template) into a fixed character budget before the
// generation call.
// -----------------------------------------------------------------------

package budget

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/muto/internal/models"
)

// FloorChars is the minimum kept length per non-empty text under
// proportional truncation, so no input is reduced to nothing.
const FloorChars = 200

// Service allocates a character budget across the three prompt inputs
type Service struct {
	logger arbor.ILogger
}

// NewService creates a new budget service
func NewService(logger arbor.ILogger) *Service {
	return &Service{logger: logger}
}

// Fit returns the three texts cut down to maxTotalChars along with a
// truncation report. When everything already fits, the texts come back
// unchanged and the report is nil.
//
// Over budget, each text keeps its proportional share of the total,
// raised to FloorChars so no text disappears. If even the floors cannot
// fit, each text is hard-capped at a third of the budget and the report
// is flagged aggressive. Kept text is always a prefix of the original,
// so identical inputs produce identical outputs.
func (s *Service) Fit(source, input, output string, maxTotalChars int) (string, string, string, *models.TruncationReport) {
	total := len(source) + len(input) + len(output)
	if maxTotalChars <= 0 || total <= maxTotalChars {
		return source, input, output, nil
	}

	report := &models.TruncationReport{
		Document:       models.TruncationEntry{OriginalChars: len(source)},
		TemplateInput:  models.TruncationEntry{OriginalChars: len(input)},
		TemplateOutput: models.TruncationEntry{OriginalChars: len(output)},
	}

	floorSum := floorFor(source) + floorFor(input) + floorFor(output)
	if floorSum > maxTotalChars {
		// Even the floors overflow. Cap every text at a third of the
		// budget regardless of its original size.
		limit := maxTotalChars / 3
		source = prefix(source, limit)
		input = prefix(input, limit)
		output = prefix(output, limit)
		report.Aggressive = true
	} else {
		kept := allocate([3]int{len(source), len(input), len(output)}, maxTotalChars)
		source = prefix(source, kept[0])
		input = prefix(input, kept[1])
		output = prefix(output, kept[2])
	}

	report.Document.KeptChars = len(source)
	report.TemplateInput.KeptChars = len(input)
	report.TemplateOutput.KeptChars = len(output)

	s.logger.Debug().
		Int("original_total", total).
		Int("max_total", maxTotalChars).
		Int("kept_total", len(source)+len(input)+len(output)).
		Bool("aggressive", report.Aggressive).
		Msg("Prompt inputs truncated to budget")

	return source, input, output, report
}

// allocate splits the budget proportionally across the three lengths.
// A text whose proportional share would fall below its floor is pinned
// at the floor and the remaining budget is re-split over the rest, so
// the kept total never exceeds the budget.
func allocate(lengths [3]int, maxTotalChars int) [3]int {
	var kept [3]int
	var pinned [3]bool

	for {
		remaining := maxTotalChars
		totalFree := 0
		for i, length := range lengths {
			if pinned[i] {
				remaining -= kept[i]
			} else {
				totalFree += length
			}
		}

		repinned := false
		for i, length := range lengths {
			if pinned[i] {
				continue
			}
			share := 0
			if totalFree > 0 {
				share = remaining * length / totalFree
			}
			if floor := floorOf(length); share < floor {
				kept[i] = floor
				pinned[i] = true
				repinned = true
				continue
			}
			kept[i] = share
		}

		if !repinned {
			return kept
		}
	}
}

func floorOf(length int) int {
	if length < FloorChars {
		return length
	}
	return FloorChars
}

func floorFor(text string) int {
	return floorOf(len(text))
}

// prefix keeps the first n characters of text
func prefix(text string, n int) string {
	if n >= len(text) {
		return text
	}
	if n < 0 {
		n = 0
	}
	return text[:n]
}
