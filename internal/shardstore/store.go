// Package shardstore es la capa de acceso relacional por shard físico.
// Cada Store envuelve un pool pgx contra un shard; el schema se asegura en
// el primer uso de cada conexión nueva (creación idempotente).
package shardstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("shardstore: record not found")

// IsNotFound indica si el error significa "registro inexistente".
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Record es la fila persistida, keyed por
// (tenant_id, location_id, resource_type, resource_id).
type Record struct {
	TenantID     string
	LocationID   string
	ResourceType string
	ResourceID   string
	Data         map[string]any
	BusinessDate time.Time
	ShardID      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PoolConfig define parámetros del pool por shard.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Store struct {
	pool    *pgxpool.Pool
	shardID string
}

// New abre un pool contra el shard indicado y asegura el schema.
func New(ctx context.Context, shardID, dsn string, cfg PoolConfig) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("shardstore: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	// Mapear MaxIdleConns → MinConns (pgxpool)
	if cfg.MaxIdleConns > 0 {
		pcfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
		pcfg.MaxConnIdleTime = cfg.ConnMaxLifetime
	}
	if pcfg.MaxConns == 0 {
		pcfg.MaxConns = 8
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	s := &Store{pool: pool, shardID: shardID}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// ShardID devuelve el shard físico que este store atiende.
func (s *Store) ShardID() string { return s.shardID }

// Pool expone el pool interno para usos avanzados (stats/migraciones).
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// PoolStats devuelve un snapshot del estado del pool.
func (s *Store) PoolStats() *pgxpool.Stat {
	if s == nil || s.pool == nil {
		return nil
	}
	return s.pool.Stat()
}

// Close cierra el pool subyacente (idempotente).
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Upsert crea o reescribe el registro completo (last-writer-wins).
func (s *Store) Upsert(ctx context.Context, rec *Record) (*Record, error) {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("shardstore: marshal data: %w", err)
	}

	const q = `
		INSERT INTO resource_record
			(tenant_id, location_id, resource_type, resource_id, data, business_date, shard_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, location_id, resource_type, resource_id)
		DO UPDATE SET
			data          = EXCLUDED.data,
			business_date = EXCLUDED.business_date,
			shard_id      = EXCLUDED.shard_id,
			updated_at    = now()
		RETURNING created_at, updated_at`

	out := *rec
	err = s.pool.QueryRow(ctx, q,
		rec.TenantID, rec.LocationID, rec.ResourceType, rec.ResourceID,
		data, rec.BusinessDate, rec.ShardID,
	).Scan(&out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("shardstore: upsert: %w", err)
	}
	return &out, nil
}

// Delete borra un recurso por ID. Borrar un ID inexistente no es un error:
// devuelve false y deja el store intacto.
func (s *Store) Delete(ctx context.Context, tenantID, locationID, resourceID string) (bool, error) {
	const q = `
		DELETE FROM resource_record
		WHERE tenant_id = $1 AND location_id = $2 AND resource_id = $3`

	tag, err := s.pool.Exec(ctx, q, tenantID, locationID, resourceID)
	if err != nil {
		return false, fmt.Errorf("shardstore: delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID devuelve el registro o ErrNotFound.
func (s *Store) GetByID(ctx context.Context, tenantID, locationID, resourceType, resourceID string) (*Record, error) {
	const q = `
		SELECT tenant_id, location_id, resource_type, resource_id,
		       data, business_date, shard_id, created_at, updated_at
		FROM resource_record
		WHERE tenant_id = $1 AND location_id = $2
		  AND resource_type = $3 AND resource_id = $4`

	return s.scanOne(s.pool.QueryRow(ctx, q, tenantID, locationID, resourceType, resourceID))
}

// ListByType lista recursos de un tipo, más recientes primero, paginado.
func (s *Store) ListByType(ctx context.Context, tenantID, locationID, resourceType string, limit, offset int) ([]Record, error) {
	const q = `
		SELECT tenant_id, location_id, resource_type, resource_id,
		       data, business_date, shard_id, created_at, updated_at
		FROM resource_record
		WHERE tenant_id = $1 AND location_id = $2 AND resource_type = $3
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`

	rows, err := s.pool.Query(ctx, q, tenantID, locationID, resourceType, clampLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("shardstore: list by type: %w", err)
	}
	defer rows.Close()
	return s.scanAll(rows)
}

// ListByDateRange lista recursos por business date [from, to], paginado.
func (s *Store) ListByDateRange(ctx context.Context, tenantID, locationID string, from, to time.Time, limit, offset int) ([]Record, error) {
	const q = `
		SELECT tenant_id, location_id, resource_type, resource_id,
		       data, business_date, shard_id, created_at, updated_at
		FROM resource_record
		WHERE tenant_id = $1 AND location_id = $2
		  AND business_date BETWEEN $3 AND $4
		ORDER BY business_date, created_at
		LIMIT $5 OFFSET $6`

	rows, err := s.pool.Query(ctx, q, tenantID, locationID, from, to, clampLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("shardstore: list by date range: %w", err)
	}
	defer rows.Close()
	return s.scanAll(rows)
}

// MaxResourceID devuelve el ID lexicográficamente mayor que matchea el
// prefijo, o ErrNotFound. Lo usa el generador de resource IDs.
func (s *Store) MaxResourceID(ctx context.Context, tenantID, locationID, resourceType, prefix string) (string, error) {
	const q = `
		SELECT resource_id FROM resource_record
		WHERE tenant_id = $1 AND location_id = $2 AND resource_type = $3
		  AND resource_id LIKE $4 || '%'
		ORDER BY resource_id DESC
		LIMIT 1`

	var id string
	err := s.pool.QueryRow(ctx, q, tenantID, locationID, resourceType, prefix).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("shardstore: max resource id: %w", err)
	}
	return id, nil
}

func (s *Store) scanOne(row pgx.Row) (*Record, error) {
	var rec Record
	var data []byte
	err := row.Scan(&rec.TenantID, &rec.LocationID, &rec.ResourceType, &rec.ResourceID,
		&data, &rec.BusinessDate, &rec.ShardID, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("shardstore: scan: %w", err)
	}
	if err := json.Unmarshal(data, &rec.Data); err != nil {
		return nil, fmt.Errorf("shardstore: unmarshal data: %w", err)
	}
	return &rec, nil
}

func (s *Store) scanAll(rows pgx.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var rec Record
		var data []byte
		if err := rows.Scan(&rec.TenantID, &rec.LocationID, &rec.ResourceType, &rec.ResourceID,
			&data, &rec.BusinessDate, &rec.ShardID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("shardstore: scan: %w", err)
		}
		if err := json.Unmarshal(data, &rec.Data); err != nil {
			return nil, fmt.Errorf("shardstore: unmarshal data: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
