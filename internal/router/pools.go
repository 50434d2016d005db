package router

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/meridianhq/opstream/internal/observability/logger"
	"github.com/meridianhq/opstream/internal/shardstore"
	"github.com/meridianhq/opstream/internal/util"
)

// Pools administra un pool vivo por shardId durante la vida del proceso:
// una segunda resolución del mismo shard reusa el pool en vez de abrir otro.
// Las creaciones en paralelo se colapsan con singleflight.
type Pools struct {
	cfg shardstore.PoolConfig

	mu     sync.RWMutex
	stores map[string]*shardstore.Store
	sf     singleflight.Group
}

func NewPools(cfg shardstore.PoolConfig) *Pools {
	return &Pools{
		cfg:    cfg,
		stores: make(map[string]*shardstore.Store),
	}
}

// StoreFor devuelve (o crea) el store del shard que el coordinador resolvió.
// La primera creación asegura el schema del shard.
func (p *Pools) StoreFor(ctx context.Context, conn *ShardConnection) (*shardstore.Store, error) {
	shardID := strings.TrimSpace(conn.ShardID)

	p.mu.RLock()
	if s, ok := p.stores[shardID]; ok {
		p.mu.RUnlock()
		return s, nil
	}
	p.mu.RUnlock()

	result, err, _ := p.sf.Do(shardID, func() (interface{}, error) {
		// double-check: otro goroutine pudo habernos ganado
		p.mu.RLock()
		if s, ok := p.stores[shardID]; ok {
			p.mu.RUnlock()
			return s, nil
		}
		p.mu.RUnlock()

		s, err := shardstore.New(ctx, shardID, conn.ConnectionString, p.cfg)
		if err != nil {
			return nil, err
		}
		logger.Named("router").Info("shard pool ready",
			logger.ShardID(shardID),
			logger.String("dsn", util.MaskDSN(conn.ConnectionString)))

		p.mu.Lock()
		p.stores[shardID] = s
		p.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*shardstore.Store), nil
}

// PoolStat es un snapshot del estado del pool de un shard.
type PoolStat struct {
	ShardID  string
	Acquired int32
	Idle     int32
	Total    int32
}

// Stats devuelve un snapshot con los stats actuales de cada pool.
func (p *Pools) Stats() map[string]PoolStat {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]PoolStat, len(p.stores))
	for shardID, s := range p.stores {
		if s == nil {
			continue
		}
		if stat := s.PoolStats(); stat != nil {
			out[shardID] = PoolStat{
				ShardID:  shardID,
				Acquired: stat.AcquiredConns(),
				Idle:     stat.IdleConns(),
				Total:    stat.TotalConns(),
			}
		}
	}
	return out
}

// Count retorna el número de pools activos.
func (p *Pools) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.stores)
}

// Close cierra todos los pools activos.
func (p *Pools) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for shardID, s := range p.stores {
		if s != nil {
			s.Close()
		}
		delete(p.stores, shardID)
	}
}
