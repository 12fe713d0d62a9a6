package services

import (
	"math"

	"github.com/facturaIA/extraction-service/internal/models"
)

// Warning codes surfaced to the review screen. None of them blocks confirmation.
const (
	WarnTotalsInconsistent = "totals_inconsistent"
	WarnTotalsInconclusive = "totals_inconclusive"
	WarnTVARateUnusual     = "tva_rate_unusual"
)

// French VAT rates in force (percent)
var knownTVARates = []float64{0, 2.1, 5.5, 10, 20}

// ValidationWarning represents a non-critical issue
type ValidationWarning struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult is the detailed outcome of a totals check
type ValidationResult struct {
	TotalsOK  bool                `json:"totalsOk"`
	Expected  *float64            `json:"expectedTtc,omitempty"`
	Deviation *float64            `json:"deviation,omitempty"`
	Warnings  []ValidationWarning `json:"warnings"`
}

// TotalsValidator checks HT, TVA and TTC agree
type TotalsValidator struct {
	tolerance float64 // relative tolerance (0.02 = 2%)
}

// NewTotalsValidator creates a validator; a non-positive tolerance means the default 2%
func NewTotalsValidator(tolerance float64) *TotalsValidator {
	if tolerance <= 0 {
		tolerance = models.DefaultTotalsTolerance
	}
	return &TotalsValidator{tolerance: tolerance}
}

// Tolerance returns the relative tolerance in use
func (v *TotalsValidator) Tolerance() float64 { return v.tolerance }

// CheckTotals reports whether ttc matches ht plus VAT. The expected TTC comes
// from the rate when present, else from the VAT amount. A missing input is a
// failed check, never an error.
func (v *TotalsValidator) CheckTotals(ht, tvaPct, tvaAmt, ttc *float64) bool {
	expected, ok := expectedTTC(ht, tvaPct, tvaAmt)
	if !ok || ttc == nil {
		return false
	}
	return deviation(*ttc, expected) <= v.tolerance
}

// Validate runs CheckTotals on a normalized field set and collects warnings.
// Tender notices carry no totals and validate to false without warnings.
func (v *TotalsValidator) Validate(kind models.DocumentKind, fields models.NormalizedFieldSet) *ValidationResult {
	result := &ValidationResult{Warnings: []ValidationWarning{}}
	if kind == models.KindTenderNotice {
		return result
	}

	ht := fields.Number(models.FieldHT)
	pct := fields.Number(models.FieldTVAPct)
	amt := fields.Number(models.FieldTVAAmt)
	ttc := fields.Number(models.FieldTTC)

	expected, ok := expectedTTC(ht, pct, amt)
	if !ok || ttc == nil {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   models.FieldTTC,
			Code:    WarnTotalsInconclusive,
			Message: "montants insuffisants pour vérifier le total TTC",
		})
	} else {
		e := round2(expected)
		d := deviation(*ttc, expected)
		result.Expected = &e
		result.Deviation = &d
		result.TotalsOK = d <= v.tolerance
		if !result.TotalsOK {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   models.FieldTTC,
				Code:    WarnTotalsInconsistent,
				Message: "le total TTC ne correspond pas au HT augmenté de la TVA",
			})
		}
	}

	if pct != nil && !isKnownRate(*pct) {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   models.FieldTVAPct,
			Code:    WarnTVARateUnusual,
			Message: "taux de TVA inhabituel",
		})
	}
	return result
}

func expectedTTC(ht, tvaPct, tvaAmt *float64) (float64, bool) {
	if ht == nil {
		return 0, false
	}
	switch {
	case tvaPct != nil:
		return *ht * (1 + *tvaPct/100), true
	case tvaAmt != nil:
		return *ht + *tvaAmt, true
	default:
		return 0, false
	}
}

func deviation(ttc, expected float64) float64 {
	return math.Abs(ttc-expected) / math.Max(1, expected)
}

func isKnownRate(pct float64) bool {
	for _, r := range knownTVARates {
		if math.Abs(pct-r) < 0.005 {
			return true
		}
	}
	return false
}

// round2 rounds to 2 decimal places
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
