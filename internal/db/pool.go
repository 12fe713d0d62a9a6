package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/facturaIA/extraction-service/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotConfigured is returned by Open when no database URL is set
var ErrNotConfigured = errors.New("no database configuration")

// Open creates and pings a connection pool for cfg
func Open(ctx context.Context, cfg models.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		logger.Info("no database configured, supplier templates stay in memory")
		return nil, ErrNotConfigured
	}

	config, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings optimized for PgBouncer
	config.MaxConns = cfg.MaxConns
	if config.MaxConns <= 0 {
		config.MaxConns = 10
	}
	config.MinConns = 1
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection pool initialized", "max_conns", config.MaxConns)
	return pool, nil
}

// TenantSchema returns the quoted schema name holding a tenant's tables
func TenantSchema(tenant string) string {
	return pgx.Identifier{SchemaName(tenant)}.Sanitize()
}

// schemaLabelMax keeps "tenant_" + label + "_" + hash within the 63-byte
// identifier limit
const schemaLabelMax = 43

// SchemaName returns the unquoted schema name for tenant. Tenant ids are
// case-insensitive. The readable label maps anything outside [a-z0-9_] to an
// underscore; the hash suffix of the full id keeps "acme-corp" and
// "acme_corp" apart.
func SchemaName(tenant string) string {
	tenant = strings.ToLower(strings.TrimSpace(tenant))
	if tenant == "" {
		tenant = "default"
	}
	var b strings.Builder
	b.WriteString("tenant_")
	for i, r := range tenant {
		if i >= schemaLabelMax {
			break
		}
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	sum := sha256.Sum256([]byte(tenant))
	b.WriteByte('_')
	b.WriteString(hex.EncodeToString(sum[:6]))
	return b.String()
}
