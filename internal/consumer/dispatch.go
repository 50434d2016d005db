package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridianhq/opstream/internal/envelope"
	"github.com/meridianhq/opstream/internal/metrics"
	"github.com/meridianhq/opstream/internal/observability/logger"
	"github.com/meridianhq/opstream/internal/shardstore"
	"github.com/meridianhq/opstream/internal/stream"
)

// processRecord procesa un registro del log de punta a punta. Nunca devuelve
// error: los envelopes inválidos se descartan (local-only) y los fallos de
// despacho se reportan al hub sin frenar el loop del shard.
func (c *Consumer) processRecord(ctx context.Context, logShardID string, rec stream.Record) {
	log := logger.From(ctx)

	env, err := envelope.Decode(rec.Data)
	if err == nil {
		err = env.Validate()
	}
	if err != nil {
		// envelope malformado: log + drop, jamás se reintenta
		metrics.EnvelopesDropped.Inc()
		log.Warn("envelope dropped",
			logger.String("record_id", rec.ID),
			logger.Err(err))
		return
	}

	if err := c.dispatch(ctx, env); err != nil {
		metrics.OperationsProcessed.WithLabelValues(string(env.Operation), "error").Inc()
		log.Error("operation failed",
			logger.Operation(string(env.Operation)),
			logger.TenantID(env.TenantID),
			logger.LocationID(env.LocationID),
			logger.ResourceType(env.ResourceType),
			logger.ResourceID(env.ResourceID),
			logger.RequestID(env.RequestID),
			logger.Err(err))
		c.cfg.Guard.Observe(err,
			logger.TenantID(env.TenantID), logger.Op(string(env.Operation)))
		c.cfg.Notifier.Notify(env.Operation, env.TenantID, env.LocationID,
			env.ResourceType, env.ResourceID, "", false, err)
		return
	}
	metrics.OperationsProcessed.WithLabelValues(string(env.Operation), "ok").Inc()
	c.cfg.Guard.NoteSuccess()
}

// dispatch resuelve el shard físico y aplica la mutación.
func (c *Consumer) dispatch(ctx context.Context, env *envelope.Envelope) error {
	conn, err := c.cfg.Resolver.Resolve(ctx, env.TenantID, env.LocationID)
	if err != nil {
		return fmt.Errorf("resolve shard: %w", err)
	}
	store, err := c.cfg.Stores.StoreFor(ctx, conn)
	if err != nil {
		return fmt.Errorf("open shard %s: %w", conn.ShardID, err)
	}

	switch env.Operation {
	case envelope.OpCreate:
		return c.applyCreate(ctx, env, conn.ShardID, store)
	case envelope.OpUpdate:
		return c.applyUpsert(ctx, env, conn.ShardID, store, env.Data)
	case envelope.OpPatch:
		return c.applyPatch(ctx, env, conn.ShardID, store)
	case envelope.OpDelete:
		return c.applyDelete(ctx, env, conn.ShardID, store)
	default:
		return fmt.Errorf("%w: %q", envelope.ErrUnknownOperation, env.Operation)
	}
}

func (c *Consumer) applyCreate(ctx context.Context, env *envelope.Envelope, shardID string, store Store) error {
	now := c.now()
	id := c.idgen.Next(ctx, store, env.TenantID, env.LocationID, env.ResourceType, now)

	rec := &shardstore.Record{
		TenantID:     env.TenantID,
		LocationID:   env.LocationID,
		ResourceType: env.ResourceType,
		ResourceID:   id,
		Data:         env.Data,
		BusinessDate: env.BusinessDate(now),
		ShardID:      shardID,
	}
	if _, err := store.Upsert(ctx, rec); err != nil {
		return err
	}
	c.cfg.Notifier.Notify(env.Operation, env.TenantID, env.LocationID,
		env.ResourceType, id, shardID, true, nil)
	return nil
}

func (c *Consumer) applyUpsert(ctx context.Context, env *envelope.Envelope, shardID string, store Store, data map[string]any) error {
	merged := *env
	merged.Data = data
	rec := &shardstore.Record{
		TenantID:     env.TenantID,
		LocationID:   env.LocationID,
		ResourceType: env.ResourceType,
		ResourceID:   env.ResourceID,
		Data:         data,
		BusinessDate: merged.BusinessDate(c.now()),
		ShardID:      shardID,
	}
	if _, err := store.Upsert(ctx, rec); err != nil {
		return err
	}
	c.cfg.Notifier.Notify(env.Operation, env.TenantID, env.LocationID,
		env.ResourceType, env.ResourceID, shardID, true, nil)
	return nil
}

// applyPatch lee el registro actual, shallow-mergea los campos nuevos sobre
// data y reescribe el registro completo (last-writer-wins).
func (c *Consumer) applyPatch(ctx context.Context, env *envelope.Envelope, shardID string, store Store) error {
	current := map[string]any{}
	existing, err := store.GetByID(ctx, env.TenantID, env.LocationID, env.ResourceType, env.ResourceID)
	switch {
	case err == nil:
		current = existing.Data
	case errors.Is(err, shardstore.ErrNotFound):
		// patch sobre un recurso inexistente lo materializa con los
		// campos del patch
	default:
		return err
	}
	return c.applyUpsert(ctx, env, shardID, store, envelope.MergeData(current, env.Data))
}

// applyDelete borra el recurso. Borrar un ID inexistente no es un error.
func (c *Consumer) applyDelete(ctx context.Context, env *envelope.Envelope, shardID string, store Store) error {
	deleted, err := store.Delete(ctx, env.TenantID, env.LocationID, env.ResourceID)
	if err != nil {
		return err
	}
	if !deleted {
		logger.From(ctx).Debug("delete of nonexistent resource",
			logger.ResourceID(env.ResourceID))
	}
	c.cfg.Notifier.Notify(env.Operation, env.TenantID, env.LocationID,
		env.ResourceType, env.ResourceID, shardID, true, nil)
	return nil
}
