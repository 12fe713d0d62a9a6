package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/facturaIA/extraction-service/internal/db"
	"github.com/facturaIA/extraction-service/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the part of *pgxpool.Pool the store uses
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps templates in a supplier_templates table inside each
// tenant's schema. Schemas and tables are created on the first write; a
// tenant that never wrote has no relation and every lookup misses.
type PostgresStore struct {
	pool   Querier
	logger *slog.Logger

	mu    sync.Mutex
	ready map[string]bool
}

// NewPostgresStore creates a store on pool
func NewPostgresStore(pool Querier, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger, ready: map[string]bool{}}
}

func table(tenant string) string {
	return db.TenantSchema(tenant) + ".supplier_templates"
}

func (s *PostgresStore) ensure(ctx context.Context, tenant string) error {
	schema := db.TenantSchema(tenant)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready[schema] {
		return nil
	}

	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			supplier_key    TEXT PRIMARY KEY,
			tax_id          TEXT NOT NULL DEFAULT '',
			name            TEXT NOT NULL DEFAULT '',
			name_norm       TEXT NOT NULL DEFAULT '',
			anchors         JSONB NOT NULL DEFAULT '{}',
			field_positions JSONB NOT NULL DEFAULT '{}',
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, table(tenant))
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create supplier_templates: %w", err)
	}
	s.ready[schema] = true
	return nil
}

// Lookup tries the tax id first, then the normalized supplier name
func (s *PostgresStore) Lookup(ctx context.Context, tenant string, key models.SupplierKey) (*models.SupplierTemplate, error) {
	if key.IsZero() {
		return nil, nil
	}

	selectSQL := fmt.Sprintf(`
		SELECT tax_id, name, anchors, field_positions, updated_at
		FROM %s
		WHERE %%s = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, table(tenant))

	if key.TaxID != "" {
		tmpl, err := s.scan(ctx, fmt.Sprintf(selectSQL, "tax_id"), key.TaxID)
		if err != nil || tmpl != nil {
			return withTenant(tmpl, tenant), err
		}
	}
	name := key.NormalizedName()
	if name == "" {
		return nil, nil
	}
	tmpl, err := s.scan(ctx, fmt.Sprintf(selectSQL, "name_norm"), name)
	return withTenant(tmpl, tenant), err
}

func (s *PostgresStore) scan(ctx context.Context, query string, arg string) (*models.SupplierTemplate, error) {
	var (
		tmpl      models.SupplierTemplate
		anchors   []byte
		positions []byte
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx, query, arg).Scan(&tmpl.Supplier.TaxID, &tmpl.Supplier.Name, &anchors, &positions, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) || missingRelation(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query template: %w", err)
	}
	if err := json.Unmarshal(anchors, &tmpl.Anchors); err != nil {
		return nil, fmt.Errorf("failed to decode anchors: %w", err)
	}
	if err := json.Unmarshal(positions, &tmpl.FieldPositions); err != nil {
		return nil, fmt.Errorf("failed to decode field positions: %w", err)
	}
	tmpl.UpdatedAt = updatedAt
	return &tmpl, nil
}

// missingRelation matches undefined_table and invalid_schema_name
func missingRelation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "42P01" || pgErr.Code == "3F000")
}

func withTenant(t *models.SupplierTemplate, tenant string) *models.SupplierTemplate {
	if t != nil {
		t.TenantID = tenant
	}
	return t
}

// Upsert writes tmpl, replacing any template stored for the same supplier
func (s *PostgresStore) Upsert(ctx context.Context, tmpl *models.SupplierTemplate) error {
	if err := check(tmpl); err != nil {
		return err
	}
	if err := s.ensure(ctx, tmpl.TenantID); err != nil {
		return err
	}

	anchors, err := json.Marshal(nonNilAnchors(tmpl.Anchors))
	if err != nil {
		return fmt.Errorf("failed to encode anchors: %w", err)
	}
	positions, err := json.Marshal(nonNilPositions(tmpl.FieldPositions))
	if err != nil {
		return fmt.Errorf("failed to encode field positions: %w", err)
	}
	updatedAt := tmpl.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (supplier_key, tax_id, name, name_norm, anchors, field_positions, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (supplier_key) DO UPDATE SET
			tax_id = EXCLUDED.tax_id,
			name = EXCLUDED.name,
			name_norm = EXCLUDED.name_norm,
			anchors = EXCLUDED.anchors,
			field_positions = EXCLUDED.field_positions,
			updated_at = EXCLUDED.updated_at
	`, table(tmpl.TenantID))

	_, err = s.pool.Exec(ctx, query,
		storeKey(tmpl.Supplier), tmpl.Supplier.TaxID, tmpl.Supplier.Name, tmpl.Supplier.NormalizedName(),
		anchors, positions, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert template: %w", err)
	}
	s.logger.Debug("template stored", "tenant", tmpl.TenantID, "supplier", storeKey(tmpl.Supplier))
	return nil
}

func nonNilAnchors(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilPositions(m map[string]models.FieldPosition) map[string]models.FieldPosition {
	if m == nil {
		return map[string]models.FieldPosition{}
	}
	return m
}
