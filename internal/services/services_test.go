package services

import (
	"math"
	"testing"

	"github.com/facturaIA/extraction-service/internal/models"
)

func TestCheckTotals(t *testing.T) {
	t.Parallel()

	v := NewTotalsValidator(0.02)
	cases := []struct {
		name              string
		ht, pct, amt, ttc *float64
		want              bool
	}{
		{"rate", f(100), f(20), nil, f(120), true},
		{"no vat", f(100), nil, nil, f(150), false},
		{"no ttc", f(100), nil, nil, nil, false},
		{"amount", f(100), nil, f(20), f(120), true},
		{"within tolerance", f(1000), f(20), nil, f(1199), true},
		{"outside tolerance", f(1000), f(20), nil, f(1250), false},
		{"rate wins over amount", f(100), f(20), f(5), f(120), true},
		{"small totals use unit floor", f(0.5), f(0), nil, f(0.51), true},
		{"no ht", nil, f(20), nil, f(120), false},
	}
	for _, tc := range cases {
		if got := v.CheckTotals(tc.ht, tc.pct, tc.amt, tc.ttc); got != tc.want {
			t.Fatalf("%s: CheckTotals = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestValidateWarnings(t *testing.T) {
	t.Parallel()

	v := NewTotalsValidator(0)
	if v.Tolerance() != models.DefaultTotalsTolerance {
		t.Fatalf("default tolerance = %v", v.Tolerance())
	}

	fields := models.NormalizedFieldSet{
		models.FieldHT:     models.NumberValue(100),
		models.FieldTVAPct: models.NumberValue(19.6),
		models.FieldTTC:    models.NumberValue(150),
	}
	res := v.Validate(models.KindInvoice, fields)
	if res.TotalsOK {
		t.Fatal("expected inconsistent totals")
	}
	if !hasWarning(res, WarnTotalsInconsistent) || !hasWarning(res, WarnTVARateUnusual) {
		t.Fatalf("unexpected warnings: %+v", res.Warnings)
	}
	if res.Expected == nil || *res.Expected != 119.6 {
		t.Fatalf("expected ttc = %v", res.Expected)
	}

	res = v.Validate(models.KindExpense, models.NormalizedFieldSet{models.FieldTTC: models.NumberValue(12)})
	if res.TotalsOK || !hasWarning(res, WarnTotalsInconclusive) {
		t.Fatalf("unexpected result: %+v", res)
	}

	res = v.Validate(models.KindTenderNotice, models.NormalizedFieldSet{})
	if res.TotalsOK || len(res.Warnings) != 0 {
		t.Fatalf("tender notices carry no totals: %+v", res)
	}
}

func TestScoreIsMonotonicAndClamped(t *testing.T) {
	t.Parallel()

	all := []Evidence{}
	for mask := 0; mask < 16; mask++ {
		all = append(all, Evidence{
			TotalsOK:      mask&1 != 0,
			HasIdentifier: mask&2 != 0,
			HasDate:       mask&4 != 0,
			HasCurrency:   mask&8 != 0,
		})
	}
	for _, base := range []float64{-0.5, 0, 0.42, 0.9, 1, 1.3} {
		for i, a := range all {
			sa := Score(base, a)
			if sa.Score < 0 || sa.Score > 1 {
				t.Fatalf("score %v out of range", sa.Score)
			}
			for j, b := range all {
				// b is a superset of a
				if i&j == i && Score(base, b).Score < sa.Score {
					t.Fatalf("adding evidence lowered the score: base %v, %+v -> %+v", base, a, b)
				}
			}
		}
	}
}

func TestScoreFlags(t *testing.T) {
	t.Parallel()

	s := Score(0.5, Evidence{TotalsOK: true, HasDate: true})
	if math.Abs(s.Score-0.8) > 1e-9 {
		t.Fatalf("score = %v", s.Score)
	}
	if !s.Has(models.FlagTotalsConsistent) || !s.Has(models.FlagHasDate) || s.Has(models.FlagHasIdentifier) {
		t.Fatalf("flags = %v", s.Flags)
	}
}

func TestCollectEvidence(t *testing.T) {
	t.Parallel()

	fields := models.NormalizedFieldSet{
		models.FieldSIRET:   models.TextValue("73282932000074"),
		models.FieldDateDoc: {},
	}
	ev := CollectEvidence(models.KindInvoice, fields, false, true)
	if !ev.HasIdentifier || ev.HasDate || !ev.HasCurrency {
		t.Fatalf("evidence = %+v", ev)
	}

	tender := models.NormalizedFieldSet{
		models.FieldReference: models.TextValue("AO-12"),
		models.FieldDeadline:  models.TextValue("2024-05-01"),
	}
	ev = CollectEvidence(models.KindTenderNotice, tender, false, false)
	if !ev.HasIdentifier || !ev.HasDate || ev.HasCurrency {
		t.Fatalf("tender evidence = %+v", ev)
	}

	ev = CollectEvidence(models.KindTenderNotice, tender, false, true)
	if !ev.HasCurrency {
		t.Fatalf("currency in text must count: %+v", ev)
	}
}

func hasWarning(res *ValidationResult, code string) bool {
	for _, w := range res.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

func f(v float64) *float64 { return &v }
