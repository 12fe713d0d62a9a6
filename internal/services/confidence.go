package services

import (
	"math"

	"github.com/facturaIA/extraction-service/internal/models"
)

// Evidence weights added on top of the recognition base
const (
	WeightTotals     = 0.25
	WeightIdentifier = 0.10
	WeightDate       = 0.05
	WeightCurrency   = 0.05
)

// Evidence is the structural support found for an extraction
type Evidence struct {
	TotalsOK      bool
	HasIdentifier bool
	HasDate       bool
	HasCurrency   bool
}

// CollectEvidence derives the flags from normalized fields. currencyInText is
// the locator's finding of a currency symbol or word in the document.
func CollectEvidence(kind models.DocumentKind, fields models.NormalizedFieldSet, totalsOK, currencyInText bool) Evidence {
	ev := Evidence{TotalsOK: totalsOK}
	switch kind {
	case models.KindTenderNotice:
		ev.HasIdentifier = fields.Present(models.FieldReference)
		ev.HasDate = fields.Present(models.FieldDeadline)
		ev.HasCurrency = fields.Present(models.FieldBudget)
	default:
		ev.HasIdentifier = fields.Present(models.FieldSIRET) || fields.Present(models.FieldNumFacture)
		ev.HasDate = fields.Present(models.FieldDateDoc)
		for _, spec := range kind.Schema() {
			if spec.Type == models.ValueAmount && fields.Present(spec.Key) {
				ev.HasCurrency = true
				break
			}
		}
	}
	if !ev.HasCurrency {
		ev.HasCurrency = currencyInText
	}
	return ev
}

// Score combines base with evidence. The result is clamped to [0, 1] and
// adding evidence never lowers it.
func Score(base float64, ev Evidence) models.ConfidenceScore {
	score := base
	flags := []models.EvidenceFlag{}
	if ev.TotalsOK {
		score += WeightTotals
		flags = append(flags, models.FlagTotalsConsistent)
	}
	if ev.HasIdentifier {
		score += WeightIdentifier
		flags = append(flags, models.FlagHasIdentifier)
	}
	if ev.HasDate {
		score += WeightDate
		flags = append(flags, models.FlagHasDate)
	}
	if ev.HasCurrency {
		score += WeightCurrency
		flags = append(flags, models.FlagHasCurrencySymbol)
	}
	return models.ConfidenceScore{
		Score: clamp01(score),
		Base:  clamp01(base),
		Flags: flags,
	}
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Min(1, math.Max(0, f))
}
