package locate

import (
	"regexp"
	"strings"

	"github.com/facturaIA/extraction-service/internal/models"
)

var (
	rePostalCity  = regexp.MustCompile(`(?:^|\D)(\d{5})\s+([a-z][a-z' \-]*[a-z])`)
	reLeadingCode = regexp.MustCompile(`^\d{5}\s+`)
)

// locateTenderExtras completes postal code and city from a "69003 Lyon"
// style address line when no label carried them.
func locateTenderExtras(lines []line, res Result) {
	if city, ok := res.Fields.Get(models.FieldCity); ok {
		if code := reLeadingCode.FindString(city); code != "" {
			if _, has := res.Fields.Get(models.FieldPostalCode); !has {
				res.Fields.Set(models.FieldPostalCode, code)
				res.Sources[models.FieldPostalCode] = SourceLabel
			}
			res.Fields.Set(models.FieldCity, strings.TrimSpace(city[len(code):]))
		}
	}

	_, hasCode := res.Fields.Get(models.FieldPostalCode)
	_, hasCity := res.Fields.Get(models.FieldCity)
	if hasCode && hasCity {
		return
	}
	for _, ln := range lines {
		m := rePostalCity.FindStringSubmatchIndex(ln.fold)
		if m == nil {
			continue
		}
		if !hasCode {
			res.Fields.Set(models.FieldPostalCode, ln.span(m[2], m[3]))
			res.Sources[models.FieldPostalCode] = SourceDocument
		}
		if !hasCity {
			res.Fields.Set(models.FieldCity, ln.span(m[4], m[5]))
			res.Sources[models.FieldCity] = SourceDocument
		}
		return
	}
}
