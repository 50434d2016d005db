package shardstore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/meridianhq/opstream/migrations"
)

// shardLockID genera un ID único para pg_advisory_lock basado en el shard,
// para que dos consumers no corran el DDL en paralelo contra el mismo shard.
func shardLockID(shardID string) int64 {
	h := sha256.Sum256([]byte("shard_schema:" + shardID))
	return int64(binary.BigEndian.Uint64(h[:8]))
}

// EnsureSchema aplica los scripts embebidos (ordenados lexicográficamente)
// bajo advisory lock. Idempotente: seguro en cada conexión nueva.
func (s *Store) EnsureSchema(ctx context.Context) error {
	lockID := shardLockID(s.shardID)

	lockCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var acquired bool
	if err := s.pool.QueryRow(lockCtx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		return fmt.Errorf("shardstore: acquire schema lock shard %s: %w", s.shardID, err)
	}
	if !acquired {
		// otro proceso está migrando: esperar el lock bloqueante
		if err := s.pool.QueryRow(lockCtx, "SELECT pg_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
			return fmt.Errorf("shardstore: wait schema lock shard %s: %w", s.shardID, err)
		}
	}
	defer func() {
		_, _ = s.pool.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockID)
	}()

	entries, err := migrations.ShardFS.ReadDir(migrations.ShardDir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), "_up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		b, err := migrations.ShardFS.ReadFile(migrations.ShardDir + "/" + f)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("shardstore: exec %s on shard %s: %w", f, s.shardID, err)
		}
	}
	return nil
}
