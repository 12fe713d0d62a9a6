package templates

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/facturaIA/extraction-service/internal/locate"
	"github.com/facturaIA/extraction-service/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func template(tenant string, key models.SupplierKey, anchor string, at time.Time) *models.SupplierTemplate {
	return &models.SupplierTemplate{
		TenantID:  tenant,
		Supplier:  key,
		Anchors:   map[string]string{models.FieldTTC: anchor},
		UpdatedAt: at,
	}
}

func TestMemoryStoreLookupPrefersTaxID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	if err := s.Upsert(ctx, template("t1", models.SupplierKey{Name: "ACME SAS"}, "by name", now.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, template("t1", models.SupplierKey{TaxID: "73282932000074", Name: "Acme"}, "by tax id", now)); err != nil {
		t.Fatal(err)
	}

	got, err := s.Lookup(ctx, "t1", models.SupplierKey{TaxID: "73282932000074", Name: "ACME SAS"})
	if err != nil || got == nil || got.Anchors[models.FieldTTC] != "by tax id" {
		t.Fatalf("Lookup = %+v, %v", got, err)
	}

	got, _ = s.Lookup(ctx, "t1", models.SupplierKey{TaxID: "00000000000000", Name: "acme   sas"})
	if got == nil || got.Anchors[models.FieldTTC] != "by name" {
		t.Fatalf("name fallback = %+v", got)
	}

	got, _ = s.Lookup(ctx, "t2", models.SupplierKey{Name: "ACME SAS"})
	if got != nil {
		t.Fatal("templates must not leak across tenants")
	}
	got, _ = s.Lookup(ctx, "t1", models.SupplierKey{})
	if got != nil {
		t.Fatal("zero key must not match")
	}
}

func TestMemoryStoreLastWriteWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	key := models.SupplierKey{TaxID: "73282932000074"}
	_ = s.Upsert(ctx, template("t1", key, "first", time.Now()))
	_ = s.Upsert(ctx, template("t1", key, "second", time.Now()))

	got, _ := s.Lookup(ctx, "t1", key)
	if got.Anchors[models.FieldTTC] != "second" {
		t.Fatalf("anchor = %q", got.Anchors[models.FieldTTC])
	}

	got.Anchors[models.FieldTTC] = "mutated"
	again, _ := s.Lookup(ctx, "t1", key)
	if again.Anchors[models.FieldTTC] != "second" {
		t.Fatal("lookup must return a copy")
	}

	if err := s.Upsert(ctx, &models.SupplierTemplate{TenantID: "t1"}); err == nil {
		t.Fatal("upsert without supplier must fail")
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	key := models.SupplierKey{Name: "ACME"}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Upsert(ctx, template("t1", key, "x", time.Now()))
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Lookup(ctx, "t1", key)
		}()
	}
	wg.Wait()
	if got, _ := s.Lookup(ctx, "t1", key); got == nil {
		t.Fatal("template missing after concurrent upserts")
	}
}

const megacorp = `MEGACORP
Ref doc   X-77-12
Emis   03.04.2024
Somme due   480,00
Base   400,00
Taxe   80,00`

func TestLearnThenLocate(t *testing.T) {
	t.Parallel()

	confirmed := models.NewExtractedFieldSet(models.KindInvoice)
	confirmed.Set(models.FieldTTC, "480,00")
	confirmed.Set(models.FieldHT, "400")
	confirmed.Set(models.FieldTVAAmt, "80.00")
	confirmed.Set(models.FieldDateDoc, "03/04/2024")
	confirmed.Set(models.FieldNumFacture, "X-77-12")
	confirmed.Set(models.FieldSIRET, "99999999999999")

	key := models.SupplierKey{Name: "MEGACORP"}
	tmpl := Learn("t1", key, models.KindInvoice, megacorp, confirmed)
	if tmpl == nil {
		t.Fatal("nothing learned")
	}
	if tmpl.Anchors[models.FieldTTC] != "Somme due" || tmpl.FieldPositions[models.FieldTTC].Line != 3 {
		t.Fatalf("ttc hints = %q, %+v", tmpl.Anchors[models.FieldTTC], tmpl.FieldPositions[models.FieldTTC])
	}
	if tmpl.Anchors[models.FieldHT] != "Base" || tmpl.Anchors[models.FieldNumFacture] != "Ref doc" {
		t.Fatalf("anchors = %v", tmpl.Anchors)
	}
	if _, ok := tmpl.FieldPositions[models.FieldSIRET]; ok {
		t.Fatal("a value absent from the text must not be learned")
	}

	s := NewMemoryStore()
	if err := s.Upsert(context.Background(), tmpl); err != nil {
		t.Fatal(err)
	}
	stored, _ := s.Lookup(context.Background(), "t1", key)

	second := strings.Replace(megacorp, "480,00", "612,30", 1)
	res := locate.NewLocator(nil).Locate(second, models.KindInvoice, stored)
	if v, _ := res.Fields.Get(models.FieldTTC); v != "612,30" {
		t.Fatalf("ttc on the next document = %q", v)
	}
}

func TestLearnNothing(t *testing.T) {
	t.Parallel()

	confirmed := models.NewExtractedFieldSet(models.KindInvoice)
	confirmed.Set(models.FieldTTC, "1,00")
	if Learn("t1", models.SupplierKey{}, models.KindInvoice, megacorp, confirmed) != nil {
		t.Fatal("unknown supplier must learn nothing")
	}
	if Learn("t1", models.SupplierKey{Name: "X"}, models.KindInvoice, megacorp, confirmed) != nil {
		t.Fatal("no located value must learn nothing")
	}
}

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeQuerier struct {
	mu      sync.Mutex
	execs   []string
	args    [][]any
	queries []string
	row     func(sql string, args []any) pgx.Row
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.execs = append(q.execs, sql)
	q.args = append(q.args, args)
	return pgconn.CommandTag{}, nil
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.mu.Lock()
	q.queries = append(q.queries, sql)
	q.mu.Unlock()
	return q.row(sql, args)
}

func noRows(string, []any) pgx.Row {
	return fakeRow{scan: func(...any) error { return pgx.ErrNoRows }}
}

func TestPostgresStoreUpsert(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{row: noRows}
	s := NewPostgresStore(q, nil)
	tmpl := template("acme-corp", models.SupplierKey{TaxID: "73282932000074", Name: "Acme  SAS"}, "Total", time.Now())
	if err := s.Upsert(context.Background(), tmpl); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(context.Background(), tmpl); err != nil {
		t.Fatal(err)
	}

	// schema and table once, then two upserts
	if len(q.execs) != 4 {
		t.Fatalf("execs = %d", len(q.execs))
	}
	if !strings.Contains(q.execs[0], `CREATE SCHEMA IF NOT EXISTS "tenant_acme_corp_f13fa37ca5ae"`) {
		t.Fatalf("schema statement = %s", q.execs[0])
	}
	upsert := q.execs[2]
	if !strings.Contains(upsert, `"tenant_acme_corp_f13fa37ca5ae".supplier_templates`) || !strings.Contains(upsert, "ON CONFLICT (supplier_key) DO UPDATE") {
		t.Fatalf("upsert statement = %s", upsert)
	}
	args := q.args[2]
	if args[0] != "tax:73282932000074" || args[3] != "acme sas" {
		t.Fatalf("upsert args = %v", args)
	}
}

func TestPostgresStoreLookup(t *testing.T) {
	t.Parallel()

	updated := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	q := &fakeQuerier{}
	q.row = func(sql string, args []any) pgx.Row {
		if !strings.Contains(sql, "WHERE name_norm = $1") || args[0] != "megacorp" {
			return noRows(sql, args)
		}
		return fakeRow{scan: func(dest ...any) error {
			*dest[0].(*string) = ""
			*dest[1].(*string) = "MEGACORP"
			*dest[2].(*[]byte) = []byte(`{"ttc":"Somme due"}`)
			*dest[3].(*[]byte) = []byte(`{"ttc":{"line":3}}`)
			*dest[4].(*time.Time) = updated
			return nil
		}}
	}
	s := NewPostgresStore(q, nil)

	got, err := s.Lookup(context.Background(), "t1", models.SupplierKey{TaxID: "11111111111111", Name: "Megacorp"})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.TenantID != "t1" || got.Anchors[models.FieldTTC] != "Somme due" ||
		got.FieldPositions[models.FieldTTC].Line != 3 || !got.UpdatedAt.Equal(updated) {
		t.Fatalf("Lookup = %+v", got)
	}
	if len(q.queries) != 2 || !strings.Contains(q.queries[0], "WHERE tax_id = $1") {
		t.Fatalf("queries = %v", q.queries)
	}

	got, err = s.Lookup(context.Background(), "t1", models.SupplierKey{Name: "Other"})
	if err != nil || got != nil {
		t.Fatalf("missing template = %+v, %v", got, err)
	}
	if len(q.execs) != 0 {
		t.Fatalf("lookups must not run DDL: %v", q.execs)
	}
}

func TestPostgresStoreLookupBeforeFirstWrite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		miss bool
	}{
		{"no table", &pgconn.PgError{Code: "42P01"}, true},
		{"no schema", &pgconn.PgError{Code: "3F000"}, true},
		{"other failure", &pgconn.PgError{Code: "08006"}, false},
	}
	for _, tt := range tests {
		q := &fakeQuerier{row: func(string, []any) pgx.Row {
			return fakeRow{scan: func(...any) error { return tt.err }}
		}}
		got, err := NewPostgresStore(q, nil).Lookup(context.Background(), "fresh", models.SupplierKey{TaxID: "73282932000074"})
		if tt.miss && (err != nil || got != nil) {
			t.Fatalf("%s: Lookup = %+v, %v", tt.name, got, err)
		}
		if !tt.miss && err == nil {
			t.Fatalf("%s: error swallowed", tt.name)
		}
		if len(q.execs) != 0 {
			t.Fatalf("%s: DDL on read: %v", tt.name, q.execs)
		}
	}
}
