package templates

import (
	"errors"
	"strings"
	"time"

	"github.com/facturaIA/extraction-service/internal/locate"
	"github.com/facturaIA/extraction-service/internal/models"
)

var errNoSupplier = errors.New("template has no supplier key")

// maxAnchorLen bounds learned anchors; longer prefixes are sentences, not labels
const maxAnchorLen = 48

// Learn derives a template from confirmed raw values: for every confirmed
// field found in text it records the line index and the label text before
// the value. It returns nil when the supplier is unknown or nothing could be
// located.
func Learn(tenant string, supplier models.SupplierKey, kind models.DocumentKind, text string, confirmed models.ExtractedFieldSet) *models.SupplierTemplate {
	if supplier.IsZero() || strings.TrimSpace(text) == "" {
		return nil
	}
	tmpl := &models.SupplierTemplate{
		TenantID:       tenant,
		Supplier:       supplier,
		Anchors:        map[string]string{},
		FieldPositions: map[string]models.FieldPosition{},
		UpdatedAt:      time.Now().UTC(),
	}
	for _, spec := range kind.Schema() {
		raw, ok := confirmed.Get(spec.Key)
		if !ok {
			continue
		}
		idx, anchor, found := locate.FindValue(text, spec.Type, raw)
		if !found {
			continue
		}
		tmpl.FieldPositions[spec.Key] = models.FieldPosition{Line: idx}
		if usableAnchor(anchor) {
			tmpl.Anchors[spec.Key] = anchor
		}
	}
	if len(tmpl.FieldPositions) == 0 {
		return nil
	}
	return tmpl
}

// usableAnchor rejects empty, overlong and digit-bearing label texts
func usableAnchor(a string) bool {
	if a == "" || len(a) > maxAnchorLen {
		return false
	}
	return !strings.ContainsAny(a, "0123456789")
}

func check(tmpl *models.SupplierTemplate) error {
	if tmpl == nil || tmpl.Supplier.IsZero() {
		return errNoSupplier
	}
	return nil
}
