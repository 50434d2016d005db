// Package redis implementa el log particionado sobre Redis Streams: un
// stream por shard (<name>:<n>), cursor = ID de la última entrada entregada.
package redis

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"

	rdb "github.com/redis/go-redis/v9"

	"github.com/meridianhq/opstream/internal/stream"
)

const (
	fieldData = "data"
	fieldEOS  = "eos" // marcador de fin de shard (drain)
)

// Log es el cliente del log sobre Redis Streams. Implementa stream.Log y
// stream.Appender.
type Log struct {
	c      *rdb.Client
	name   string
	shards int
}

type Options struct {
	Addr     string
	DB       int
	Password string
	// Name es el nombre base del stream; los shards viven en <Name>:0..N-1.
	Name string
	// Shards es la cantidad de shards del log.
	Shards int
}

func New(opts Options) *Log {
	if opts.Shards <= 0 {
		opts.Shards = 1
	}
	return &Log{
		c: rdb.NewClient(&rdb.Options{
			Addr:     opts.Addr,
			DB:       opts.DB,
			Password: opts.Password,
		}),
		name:   opts.Name,
		shards: opts.Shards,
	}
}

// NewWithClient permite inyectar un cliente ya construido (tests, cluster).
func NewWithClient(c *rdb.Client, name string, shards int) *Log {
	if shards <= 0 {
		shards = 1
	}
	return &Log{c: c, name: name, shards: shards}
}

func (l *Log) Close() error { return l.c.Close() }

// Ping verifica conectividad con el backend del log.
func (l *Log) Ping(ctx context.Context) error { return l.c.Ping(ctx).Err() }

func (l *Log) key(shardID string) string { return l.name + ":" + shardID }

// ShardFor mapea una clave de partición a un shard por hash FNV-1a.
// Misma clave ⇒ mismo shard ⇒ orden garantizado entre envelopes relacionados.
func (l *Log) ShardFor(partitionKey string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(partitionKey))
	return strconv.Itoa(int(h.Sum32() % uint32(l.shards)))
}

// ListShards enumera los shards de la topología configurada.
func (l *Log) ListShards(ctx context.Context) ([]stream.Shard, error) {
	if err := l.c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("stream: list shards: %w", err)
	}
	out := make([]stream.Shard, 0, l.shards)
	for i := 0; i < l.shards; i++ {
		out = append(out, stream.Shard{ID: strconv.Itoa(i)})
	}
	return out, nil
}

// GetCursor abre un cursor: "0-0" para beginning, o el último ID generado
// del stream para latest (si el stream no existe todavía, "0-0"). Con after
// no vacío devuelve un cursor posicionado justo después de ese registro:
// acá el cursor ES el ID de la última entrada entregada, así que
// re-adquirir es retomar desde el token retenido.
func (l *Log) GetCursor(ctx context.Context, shardID string, pos stream.StartPosition, after string) (string, error) {
	if after != "" {
		return after, nil
	}
	if pos == stream.Beginning {
		return "0-0", nil
	}
	info, err := l.c.XInfoStream(ctx, l.key(shardID)).Result()
	if err != nil {
		// stream todavía no creado: arrancar desde el principio equivale
		// a "latest" porque no hay entradas previas
		if isNoStream(err) {
			return "0-0", nil
		}
		return "", fmt.Errorf("stream: get cursor shard %s: %w", shardID, err)
	}
	return info.LastGeneratedID, nil
}

// Read entrega hasta max entradas estrictamente posteriores al cursor.
// No bloquea: sin novedades devuelve cero registros y el mismo cursor.
func (l *Log) Read(ctx context.Context, shardID, cursor string, max int) (*stream.ReadResult, error) {
	if max <= 0 {
		max = 100
	}
	msgs, err := l.c.XRangeN(ctx, l.key(shardID), "("+cursor, "+", int64(max)).Result()
	if err != nil {
		if isNoStream(err) {
			return &stream.ReadResult{NextCursor: cursor}, nil
		}
		return nil, fmt.Errorf("stream: read shard %s: %w", shardID, err)
	}

	res := &stream.ReadResult{NextCursor: cursor}
	for _, m := range msgs {
		if _, ok := m.Values[fieldEOS]; ok {
			res.Closed = true
			break
		}
		data, _ := m.Values[fieldData].(string)
		res.Records = append(res.Records, stream.Record{ID: m.ID, Data: []byte(data)})
		res.NextCursor = m.ID
	}
	return res, nil
}

// Append agrega un envelope al shard que corresponde a la partition key.
func (l *Log) Append(ctx context.Context, partitionKey string, data []byte) (string, error) {
	shardID := l.ShardFor(partitionKey)
	err := l.c.XAdd(ctx, &rdb.XAddArgs{
		Stream: l.key(shardID),
		Values: map[string]any{fieldData: string(data)},
	}).Err()
	if err != nil {
		return "", fmt.Errorf("stream: append shard %s: %w", shardID, err)
	}
	return shardID, nil
}

// CloseShard marca un shard como terminado: el consumer lo saca del set de
// polling cuando alcanza el marcador.
func (l *Log) CloseShard(ctx context.Context, shardID string) error {
	err := l.c.XAdd(ctx, &rdb.XAddArgs{
		Stream: l.key(shardID),
		Values: map[string]any{fieldEOS: "1"},
	}).Err()
	if err != nil {
		return fmt.Errorf("stream: close shard %s: %w", shardID, err)
	}
	return nil
}

// Len devuelve el largo de un shard (CLI/stats).
func (l *Log) Len(ctx context.Context, shardID string) (int64, error) {
	n, err := l.c.XLen(ctx, l.key(shardID)).Result()
	if err != nil && !isNoStream(err) {
		return 0, err
	}
	return n, nil
}

func isNoStream(err error) bool {
	if err == rdb.Nil {
		return true
	}
	// XINFO sobre un stream inexistente devuelve un error de redis plano
	return err != nil && err.Error() == "ERR no such key"
}
