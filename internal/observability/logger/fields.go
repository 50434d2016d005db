package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - NEGOCIO
// =================================================================================

// TenantID crea un campo para el ID del tenant.
func TenantID(v string) zap.Field {
	return zap.String("tenant_id", v)
}

// LocationID crea un campo para el ID de la location.
func LocationID(v string) zap.Field {
	return zap.String("location_id", v)
}

// ResourceType crea un campo para el tipo de recurso.
func ResourceType(v string) zap.Field {
	return zap.String("resource_type", v)
}

// ResourceID crea un campo para el ID del recurso.
func ResourceID(v string) zap.Field {
	return zap.String("resource_id", v)
}

// Operation crea un campo para la operación del envelope (create/update/...).
func Operation(v string) zap.Field {
	return zap.String("operation", v)
}

// RequestID crea un campo para el token de correlación del producer.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - PIPELINE
// =================================================================================

// ShardID crea un campo para el ID de un shard (log o store).
func ShardID(v string) zap.Field {
	return zap.String("shard_id", v)
}

// Cursor crea un campo para el cursor de un shard del log.
func Cursor(v string) zap.Field {
	return zap.String("cursor", v)
}

// Stream crea un campo para el nombre del stream.
func Stream(v string) zap.Field {
	return zap.String("stream", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Duration crea un campo para una duración.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// Key crea un campo genérico para una clave.
func Key(v string) zap.Field {
	return zap.String("key", v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}
