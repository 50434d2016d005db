// Package consumer drena el log particionado: descubre los shards, mantiene
// un cursor por shard y los pollea de forma independiente y continua,
// despachando cada envelope hacia el write path (router → idgen → store).
package consumer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/opstream/internal/envelope"
	"github.com/meridianhq/opstream/internal/guard"
	"github.com/meridianhq/opstream/internal/metrics"
	"github.com/meridianhq/opstream/internal/observability/logger"
	"github.com/meridianhq/opstream/internal/resourceid"
	"github.com/meridianhq/opstream/internal/router"
	"github.com/meridianhq/opstream/internal/shardstore"
	"github.com/meridianhq/opstream/internal/stream"
)

// ShardState es el estado del loop de un shard del log.
type ShardState string

const (
	StateUninitialized ShardState = "UNINITIALIZED"
	StateIterating     ShardState = "ITERATING"
	StateClosed        ShardState = "CLOSED"
	StateError         ShardState = "ERROR"
)

// Resolver resuelve tenant-location → shard físico (router.Client).
type Resolver interface {
	Resolve(ctx context.Context, tenantID, locationID string) (*router.ShardConnection, error)
}

// Store es lo que el write path necesita de un shard del store.
// *shardstore.Store lo implementa; los tests inyectan fakes.
type Store interface {
	Upsert(ctx context.Context, rec *shardstore.Record) (*shardstore.Record, error)
	Delete(ctx context.Context, tenantID, locationID, resourceID string) (bool, error)
	GetByID(ctx context.Context, tenantID, locationID, resourceType, resourceID string) (*shardstore.Record, error)
	MaxResourceID(ctx context.Context, tenantID, locationID, resourceType, prefix string) (string, error)
}

// StoreProvider devuelve el store (pool vivo) del shard resuelto.
type StoreProvider interface {
	StoreFor(ctx context.Context, conn *router.ShardConnection) (Store, error)
}

// StoreProviderFunc adapta una función a StoreProvider (wiring en main).
type StoreProviderFunc func(ctx context.Context, conn *router.ShardConnection) (Store, error)

func (f StoreProviderFunc) StoreFor(ctx context.Context, conn *router.ShardConnection) (Store, error) {
	return f(ctx, conn)
}

// Notifier reporta el resultado de cada operación (best-effort).
type Notifier interface {
	Notify(op envelope.Op, tenantID, locationID, resourceType, resourceID, shardID string, success bool, opErr error)
}

type Config struct {
	Log      stream.Log
	Resolver Resolver
	Stores   StoreProvider
	Notifier Notifier
	Guard    *guard.Guard

	PollInterval  time.Duration
	BatchSize     int
	StartPosition stream.StartPosition
}

// shardLoop es el estado por shard, owned por el Consumer (nada global).
type shardLoop struct {
	state  ShardState
	cursor string
	// lastDelivered es el último registro procesado; ancla la
	// re-adquisición del cursor tras un error de poll.
	lastDelivered string
}

type Consumer struct {
	cfg   Config
	idgen *resourceid.Generator
	zl    *zap.Logger
	now   func() time.Time

	mu     sync.Mutex
	shards map[string]*shardLoop

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Consumer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.StartPosition == "" {
		cfg.StartPosition = stream.Latest
	}
	if cfg.Guard == nil {
		cfg.Guard = guard.New(time.Minute)
	}
	return &Consumer{
		cfg:    cfg,
		idgen:  resourceid.New(shardstore.IsNotFound),
		zl:     logger.Named("consumer"),
		now:    time.Now,
		shards: make(map[string]*shardLoop),
	}
}

// Start descubre los shards del log y lanza un loop independiente por cada
// uno. El descubrimiento reintenta con backoff hasta lograrlo o hasta que
// el contexto muera; un fallo acá nunca tumba el proceso.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	var discovered []stream.Shard
	backoff := time.Second
	for {
		var err error
		discovered, err = c.cfg.Log.ListShards(ctx)
		if err == nil {
			c.cfg.Guard.NoteSuccess()
			break
		}
		c.cfg.Guard.Observe(err, logger.Op("discover"))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}

	c.zl.Info("shards discovered", logger.Count(len(discovered)))
	for _, sh := range discovered {
		c.mu.Lock()
		c.shards[sh.ID] = &shardLoop{state: StateUninitialized}
		c.mu.Unlock()

		c.wg.Add(1)
		metrics.ShardLoopsActive.Inc()
		go c.runShard(ctx, sh.ID)
	}
	return nil
}

// Stop señala a todos los loops y espera a que el envelope en vuelo de cada
// uno termine de procesarse.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// runShard es el loop de polling de un shard: una iteración por tick, sin
// espera bloqueante en el poll. Errores de otro shard no lo afectan.
func (c *Consumer) runShard(ctx context.Context, shardID string) {
	defer c.wg.Done()
	defer metrics.ShardLoopsActive.Dec()

	log := c.zl.With(logger.ShardID(shardID))
	ctx = logger.ToContext(ctx, log)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		loop := c.loop(shardID)
		if loop.state == StateUninitialized || loop.state == StateError {
			cursor, err := c.cfg.Log.GetCursor(ctx, shardID, c.cfg.StartPosition, loop.lastDelivered)
			if err != nil {
				c.cfg.Guard.Observe(err, logger.ShardID(shardID), logger.Op("get_cursor"))
				c.setState(shardID, StateError, loop.cursor)
				continue
			}
			loop.cursor = cursor
			c.setCursor(shardID, cursor)
			c.setState(shardID, StateIterating, cursor)
		}

		start := time.Now()
		res, err := c.cfg.Log.Read(ctx, shardID, loop.cursor, c.cfg.BatchSize)
		metrics.PollLatency.Observe(float64(time.Since(start).Milliseconds()))
		if err != nil {
			// error de poll: re-adquirir cursor solo para este shard
			c.cfg.Guard.Observe(err, logger.ShardID(shardID), logger.Op("poll"))
			metrics.CursorReacquired.Inc()
			c.setState(shardID, StateError, loop.cursor)
			continue
		}
		c.cfg.Guard.NoteSuccess()

		for _, rec := range res.Records {
			// el registro en vuelo se procesa con un contexto desacoplado
			// de la cancelación: el shutdown corta entre registros, nunca
			// a mitad de un write
			c.processRecord(context.WithoutCancel(ctx), shardID, rec)
			c.setDelivered(shardID, rec.ID)
			if ctx.Err() != nil {
				return
			}
		}
		c.setCursor(shardID, res.NextCursor)

		if res.Closed {
			// shard terminado: sale del set de polling
			log.Info("shard closed, leaving polling set")
			c.setState(shardID, StateClosed, res.NextCursor)
			return
		}
	}
}

// ---- estado por shard ----

func (c *Consumer) loop(shardID string) shardLoop {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.shards[shardID]; ok {
		return *l
	}
	return shardLoop{state: StateUninitialized}
}

func (c *Consumer) setState(shardID string, st ShardState, cursor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.shards[shardID]; ok {
		l.state = st
		l.cursor = cursor
	}
}

func (c *Consumer) setCursor(shardID, cursor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.shards[shardID]; ok {
		l.cursor = cursor
	}
}

func (c *Consumer) setDelivered(shardID, recordID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.shards[shardID]; ok {
		l.lastDelivered = recordID
		l.cursor = recordID
	}
}

// ShardStatus es el snapshot del loop de un shard para /stats.
type ShardStatus struct {
	State  ShardState `json:"state"`
	Cursor string     `json:"cursor"`
}

// Stats devuelve el estado actual de todos los loops.
func (c *Consumer) Stats() map[string]ShardStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ShardStatus, len(c.shards))
	for id, l := range c.shards {
		out[id] = ShardStatus{State: l.state, Cursor: l.cursor}
	}
	return out
}
