package normalize

import (
	"github.com/facturaIA/extraction-service/internal/models"
)

// Value normalizes one raw value according to its type
func Value(t models.ValueType, raw *string) models.NormalizedValue {
	if raw == nil {
		return models.NormalizedValue{}
	}
	switch t {
	case models.ValueAmount:
		return number(NumberFR(*raw))
	case models.ValuePercent:
		return number(PercentFR(*raw))
	case models.ValueDate:
		return text(DateFR(*raw))
	case models.ValueSIRET:
		return text(SIRET(*raw))
	case models.ValuePostalCode:
		return text(PostalCode(*raw))
	case models.ValueReference:
		return text(Reference(*raw))
	default:
		return text(Text(*raw))
	}
}

// FieldSet normalizes every key of extracted. The result has exactly the same
// key set; keys outside the kind schema are treated as free text.
func FieldSet(kind models.DocumentKind, extracted models.ExtractedFieldSet) models.NormalizedFieldSet {
	out := make(models.NormalizedFieldSet, len(extracted))
	for key, raw := range extracted {
		spec, ok := kind.Field(key)
		if !ok {
			spec = models.FieldSpec{Key: key, Type: models.ValueText}
		}
		out[key] = Value(spec.Type, raw)
	}
	return out
}

// LineItems normalizes the numeric cells of located item rows
func LineItems(items []models.LineItem) []models.NormalizedLineItem {
	out := make([]models.NormalizedLineItem, 0, len(items))
	for _, it := range items {
		label := ""
		if l := Text(it.Label); l != nil {
			label = *l
		}
		out = append(out, models.NormalizedLineItem{
			Label:     label,
			Quantity:  NumberFR(it.Quantity),
			UnitPrice: NumberFR(it.UnitPrice),
			LineTotal: NumberFR(it.LineTotal),
		})
	}
	return out
}

func number(f *float64) models.NormalizedValue {
	return models.NormalizedValue{Number: f}
}

func text(s *string) models.NormalizedValue {
	return models.NormalizedValue{Text: s}
}
