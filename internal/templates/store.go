// Package templates remembers, per tenant and supplier, where a supplier's
// documents carry each field.
package templates

import (
	"context"
	"sync"

	"github.com/facturaIA/extraction-service/internal/models"
)

// Store persists supplier templates. Lookup returns nil, nil when no
// template matches. Upsert is last-write-wins per (tenant, supplier).
type Store interface {
	Lookup(ctx context.Context, tenant string, key models.SupplierKey) (*models.SupplierTemplate, error)
	Upsert(ctx context.Context, tmpl *models.SupplierTemplate) error
}

// storeKey is the identity of a supplier inside one tenant: the tax id when
// known, else the normalized name
func storeKey(k models.SupplierKey) string {
	if k.TaxID != "" {
		return "tax:" + k.TaxID
	}
	return "name:" + k.NormalizedName()
}

// MemoryStore keeps templates in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]map[string]*models.SupplierTemplate
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: map[string]map[string]*models.SupplierTemplate{}}
}

// Lookup tries the tax id first, then the supplier name. A name match across
// entries with different tax ids returns the most recently updated one.
func (s *MemoryStore) Lookup(_ context.Context, tenant string, key models.SupplierKey) (*models.SupplierTemplate, error) {
	if key.IsZero() {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKey := s.tenants[tenant]
	if byKey == nil {
		return nil, nil
	}
	if key.TaxID != "" {
		if t, ok := byKey["tax:"+key.TaxID]; ok {
			return cloneTemplate(t), nil
		}
	}
	name := key.NormalizedName()
	if name == "" {
		return nil, nil
	}
	var best *models.SupplierTemplate
	for _, t := range byKey {
		if t.Supplier.NormalizedName() != name {
			continue
		}
		if best == nil || t.UpdatedAt.After(best.UpdatedAt) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneTemplate(best), nil
}

// Upsert replaces the tenant's template for tmpl.Supplier
func (s *MemoryStore) Upsert(_ context.Context, tmpl *models.SupplierTemplate) error {
	if err := check(tmpl); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey := s.tenants[tmpl.TenantID]
	if byKey == nil {
		byKey = map[string]*models.SupplierTemplate{}
		s.tenants[tmpl.TenantID] = byKey
	}
	byKey[storeKey(tmpl.Supplier)] = cloneTemplate(tmpl)
	return nil
}

func cloneTemplate(t *models.SupplierTemplate) *models.SupplierTemplate {
	c := *t
	c.Anchors = make(map[string]string, len(t.Anchors))
	for k, v := range t.Anchors {
		c.Anchors[k] = v
	}
	c.FieldPositions = make(map[string]models.FieldPosition, len(t.FieldPositions))
	for k, v := range t.FieldPositions {
		c.FieldPositions[k] = v
	}
	return &c
}
