package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DocumentKind is the declared kind of an uploaded document
type DocumentKind string

const (
	KindInvoice      DocumentKind = "invoice"
	KindExpense      DocumentKind = "expense"
	KindTenderNotice DocumentKind = "tender-notice"
)

// Field keys for invoices and expense receipts
const (
	FieldHT         = "ht"
	FieldTVAPct     = "tvaPct"
	FieldTVAAmt     = "tvaAmt"
	FieldTTC        = "ttc"
	FieldDateDoc    = "dateDoc"
	FieldSIRET      = "siret"
	FieldNumFacture = "numFacture"
)

// Field keys for tender notices (AO)
const (
	FieldDeadline     = "deadline"
	FieldOrganization = "organization"
	FieldCity         = "city"
	FieldPostalCode   = "postalCode"
	FieldBudget       = "budget"
	FieldReference    = "reference"
)

// ValueType tells the normalizer how to type a raw field value
type ValueType int

const (
	ValueText ValueType = iota
	ValueAmount
	ValuePercent
	ValueDate
	ValueSIRET
	ValuePostalCode
	ValueReference
)

// FieldSpec describes one key of a document kind schema
type FieldSpec struct {
	Key      string
	Type     ValueType
	Required bool
}

var invoiceSchema = []FieldSpec{
	{Key: FieldHT, Type: ValueAmount, Required: true},
	{Key: FieldTVAPct, Type: ValuePercent},
	{Key: FieldTVAAmt, Type: ValueAmount},
	{Key: FieldTTC, Type: ValueAmount, Required: true},
	{Key: FieldDateDoc, Type: ValueDate, Required: true},
	{Key: FieldSIRET, Type: ValueSIRET},
	{Key: FieldNumFacture, Type: ValueReference},
}

var expenseSchema = []FieldSpec{
	{Key: FieldHT, Type: ValueAmount},
	{Key: FieldTVAPct, Type: ValuePercent},
	{Key: FieldTVAAmt, Type: ValueAmount},
	{Key: FieldTTC, Type: ValueAmount, Required: true},
	{Key: FieldDateDoc, Type: ValueDate, Required: true},
	{Key: FieldSIRET, Type: ValueSIRET},
	{Key: FieldNumFacture, Type: ValueReference},
}

var tenderSchema = []FieldSpec{
	{Key: FieldDeadline, Type: ValueDate, Required: true},
	{Key: FieldOrganization, Type: ValueText, Required: true},
	{Key: FieldCity, Type: ValueText},
	{Key: FieldPostalCode, Type: ValuePostalCode},
	{Key: FieldBudget, Type: ValueAmount},
	{Key: FieldReference, Type: ValueReference},
}

// ParseDocumentKind accepts the wire names plus a few aliases used by upload forms
func ParseDocumentKind(s string) (DocumentKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "invoice", "facture":
		return KindInvoice, nil
	case "expense", "receipt", "note-de-frais", "ticket":
		return KindExpense, nil
	case "tender-notice", "tender", "ao", "appel-offres":
		return KindTenderNotice, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Schema returns the ordered field specs of the kind. Unknown kinds have no fields.
func (k DocumentKind) Schema() []FieldSpec {
	switch k {
	case KindInvoice:
		return invoiceSchema
	case KindExpense:
		return expenseSchema
	case KindTenderNotice:
		return tenderSchema
	default:
		return nil
	}
}

// Keys returns the field keys of the kind in schema order
func (k DocumentKind) Keys() []string {
	schema := k.Schema()
	keys := make([]string, len(schema))
	for i, f := range schema {
		keys[i] = f.Key
	}
	return keys
}

// Field returns the field definition for key, if the kind has it
func (k DocumentKind) Field(key string) (FieldSpec, bool) {
	for _, f := range k.Schema() {
		if f.Key == key {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// HasLineItems reports whether tabular line items are located for this kind
func (k DocumentKind) HasLineItems() bool {
	return k == KindInvoice || k == KindExpense
}

// ExtractionRequest is one document submitted to the pipeline.
// The pipeline never mutates it.
type ExtractionRequest struct {
	Document     []byte
	Kind         DocumentKind
	SupplierHint string
	TenantID     string
	FileName     string
}

// DocumentPage is the text layer of one page. Index is 1-based.
type DocumentPage struct {
	Index int
	Text  string
}

// ExtractedFieldSet maps field keys to raw located strings (nil = absent)
type ExtractedFieldSet map[string]*string

// NewExtractedFieldSet returns a set holding every key of kind, all absent
func NewExtractedFieldSet(kind DocumentKind) ExtractedFieldSet {
	set := make(ExtractedFieldSet, len(kind.Schema()))
	for _, key := range kind.Keys() {
		set[key] = nil
	}
	return set
}

// Get returns the raw value of key and whether it is present
func (s ExtractedFieldSet) Get(key string) (string, bool) {
	v, ok := s[key]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// Set stores a trimmed raw value; blank values are stored as absent
func (s ExtractedFieldSet) Set(key, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		s[key] = nil
		return
	}
	s[key] = &raw
}

// NormalizedValue is a typed field value: a number, a string, or null
type NormalizedValue struct {
	Number *float64
	Text   *string
}

// NumberValue wraps a number
func NumberValue(f float64) NormalizedValue { return NormalizedValue{Number: &f} }

// TextValue wraps a string
func TextValue(s string) NormalizedValue { return NormalizedValue{Text: &s} }

// IsNull reports an absent or unparseable value
func (v NormalizedValue) IsNull() bool { return v.Number == nil && v.Text == nil }

func (v NormalizedValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.Number != nil:
		return json.Marshal(*v.Number)
	case v.Text != nil:
		return json.Marshal(*v.Text)
	default:
		return []byte("null"), nil
	}
}

func (v *NormalizedValue) UnmarshalJSON(data []byte) error {
	*v = NormalizedValue{}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case nil:
	case float64:
		v.Number = &val
	case string:
		v.Text = &val
	default:
		return fmt.Errorf("unsupported normalized value %s", string(data))
	}
	return nil
}

// NormalizedFieldSet has the key set of its ExtractedFieldSet with typed values
type NormalizedFieldSet map[string]NormalizedValue

// Number returns the numeric value of key, nil when absent
func (s NormalizedFieldSet) Number(key string) *float64 {
	return s[key].Number
}

// Text returns the string value of key, nil when absent
func (s NormalizedFieldSet) Text(key string) *string {
	return s[key].Text
}

// Present reports whether key holds a non-null value
func (s NormalizedFieldSet) Present(key string) bool {
	v, ok := s[key]
	return ok && !v.IsNull()
}

// LineItem is one raw row located in an item table
type LineItem struct {
	Label     string `json:"label"`
	Quantity  string `json:"quantity,omitempty"`
	UnitPrice string `json:"unitPrice,omitempty"`
	LineTotal string `json:"lineTotal,omitempty"`
}

// NormalizedLineItem is a LineItem with typed numbers
type NormalizedLineItem struct {
	Label     string   `json:"label"`
	Quantity  *float64 `json:"quantity"`
	UnitPrice *float64 `json:"unitPrice"`
	LineTotal *float64 `json:"lineTotal"`
}

// EvidenceFlag names one piece of structural evidence feeding confidence
type EvidenceFlag string

const (
	FlagTotalsConsistent  EvidenceFlag = "totals-consistent"
	FlagHasIdentifier     EvidenceFlag = "has-identifier"
	FlagHasDate           EvidenceFlag = "has-date"
	FlagHasCurrencySymbol EvidenceFlag = "has-currency-symbol"
)

// ConfidenceScore is a bounded score plus the flags that raised it
type ConfidenceScore struct {
	Score float64        `json:"score"`
	Base  float64        `json:"base"`
	Flags []EvidenceFlag `json:"evidenceFlags"`
}

// Has reports whether flag contributed to the score
func (c ConfidenceScore) Has(flag EvidenceFlag) bool {
	for _, f := range c.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// SupplierKey identifies a supplier by tax id (SIRET) or free-text name
type SupplierKey struct {
	TaxID string `json:"taxId,omitempty"`
	Name  string `json:"name,omitempty"`
}

// IsZero reports an unidentified supplier
func (k SupplierKey) IsZero() bool { return k.TaxID == "" && k.Name == "" }

// NormalizedName folds the name for lookups: lower case, single spaces
func (k SupplierKey) NormalizedName() string {
	return strings.Join(strings.Fields(strings.ToLower(k.Name)), " ")
}

// FieldPosition is where a confirmed value was found: 0-based line index
type FieldPosition struct {
	Line int `json:"line"`
}

// SupplierTemplate remembers where a supplier's documents carry each field
type SupplierTemplate struct {
	TenantID       string                   `json:"tenantId"`
	Supplier       SupplierKey              `json:"supplier"`
	Anchors        map[string]string        `json:"anchors"`
	FieldPositions map[string]FieldPosition `json:"fieldPositions"`
	UpdatedAt      time.Time                `json:"updatedAt"`
}
