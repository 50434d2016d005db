// Package emitter es el lado producer del pipeline: appendea envelopes al
// log particionado y retorna inmediatamente. Los producers nunca escriben
// a la base directo.
package emitter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianhq/opstream/internal/envelope"
	"github.com/meridianhq/opstream/internal/observability/logger"
	"github.com/meridianhq/opstream/internal/stream"
)

type Emitter struct {
	log stream.Appender
	zl  *zap.Logger
}

func New(appender stream.Appender) *Emitter {
	return &Emitter{log: appender, zl: logger.Named("emitter")}
}

// Emit valida el envelope, lo estampa (timestamp de emisión y requestId si
// faltan) y lo appendea bajo su clave de partición. Devuelve el shard del
// log al que fue asignado.
func (e *Emitter) Emit(ctx context.Context, env *envelope.Envelope) (string, error) {
	if err := env.Validate(); err != nil {
		return "", err
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.RequestID == "" {
		env.RequestID = uuid.NewString()
	}

	data, err := env.Encode()
	if err != nil {
		return "", err
	}

	shardID, err := e.log.Append(ctx, env.PartitionKey(), data)
	if err != nil {
		return "", fmt.Errorf("emitter: append: %w", err)
	}

	e.zl.Debug("envelope appended",
		logger.Operation(string(env.Operation)),
		logger.TenantID(env.TenantID),
		logger.LocationID(env.LocationID),
		logger.ShardID(shardID),
		logger.RequestID(env.RequestID))
	return shardID, nil
}
