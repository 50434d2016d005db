// Package stream define la abstracción del log particionado de operaciones:
// shards ordenados independientes, cada uno con su propio cursor opaco.
package stream

import "context"

// StartPosition define desde dónde se abre el cursor inicial de un shard.
type StartPosition string

const (
	// Beginning reprocesa el shard completo (backfill).
	Beginning StartPosition = "beginning"
	// Latest solo entrega lo appendeado después de abrir el cursor.
	Latest StartPosition = "latest"
)

// Shard describe un shard del log descubierto.
type Shard struct {
	ID string
}

// Record es una entrada cruda del log. Data es el envelope serializado.
type Record struct {
	ID   string
	Data []byte
}

// ReadResult es el resultado de un poll: cero o más registros más el cursor
// para la siguiente iteración. Closed marca que el shard terminó.
type ReadResult struct {
	Records    []Record
	NextCursor string
	Closed     bool
}

// Log es el contrato del log particionado que consume el pipeline.
type Log interface {
	// ListShards descubre todos los shards del stream.
	ListShards(ctx context.Context) ([]Shard, error)

	// GetCursor abre un cursor para el shard. Con after vacío, el cursor
	// arranca en la posición pedida; con after no vacío, el cursor queda
	// inmediatamente después de ese registro (re-adquisición tras un
	// error de poll, sin perder ni repetir posición).
	GetCursor(ctx context.Context, shardID string, pos StartPosition, after string) (string, error)

	// Read entrega hasta max registros después del cursor. No bloquea
	// esperando datos: un shard sin novedades devuelve cero registros y
	// el mismo cursor.
	Read(ctx context.Context, shardID, cursor string, max int) (*ReadResult, error)
}

// Appender es el contrato del lado producer: appendear un envelope bajo una
// clave de partición que decide el shard.
type Appender interface {
	Append(ctx context.Context, partitionKey string, data []byte) (shardID string, err error)
}
