// Package resourceid genera identificadores humanos estables con formato
// <prefijo-2-letras><yy><mm>-<secuencia-5-dígitos>, ej. "ap2401-00001" para
// un appointment de enero 2024. La secuencia es por
// (tenant-location, tipo, año-mes).
package resourceid

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/opstream/internal/observability/logger"
)

// SequenceSource consulta el mayor ID existente con un prefijo dado.
// shardstore.Store lo implementa; los tests inyectan fakes.
type SequenceSource interface {
	MaxResourceID(ctx context.Context, tenantID, locationID, resourceType, prefix string) (string, error)
}

// IsNotFound reporta si el error del source significa "sin IDs previos".
// Inyectable para no acoplar este paquete al store concreto.
type IsNotFound func(error) bool

// Generator no queda atado a un shard: el store correcto se resuelve por
// envelope y se pasa como source en cada Next.
type Generator struct {
	isNotFound IsNotFound
	log        *zap.Logger
}

func New(isNotFound IsNotFound) *Generator {
	return &Generator{
		isNotFound: isNotFound,
		log:        logger.Named("resourceid"),
	}
}

// Prefix arma el prefijo tipo/año/mes: "ap2401" para appointment en 2024-01.
func Prefix(resourceType string, now time.Time) string {
	return typePrefix(resourceType) + now.Format("0601")
}

// typePrefix toma las primeras dos letras del tipo; si el tipo es más corto
// o no tiene letras suficientes, rellena con 'x'.
func typePrefix(resourceType string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(resourceType) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
			if b.Len() == 2 {
				break
			}
		}
	}
	for b.Len() < 2 {
		b.WriteByte('x')
	}
	return b.String()
}

// Next devuelve el siguiente ID para (tenant-location, tipo, mes actual).
//
// Consulta el mayor ID existente con el prefijo, parsea su secuencia y la
// incrementa; sin matches devuelve <prefijo>-00001. La lectura y el insert
// posterior no comparten transacción: creates concurrentes para el mismo
// bucket pueden colisionar (limitación conocida del diseño).
func (g *Generator) Next(ctx context.Context, source SequenceSource, tenantID, locationID, resourceType string, now time.Time) string {
	prefix := Prefix(resourceType, now)

	max, err := source.MaxResourceID(ctx, tenantID, locationID, resourceType, prefix)
	if err != nil {
		if g.isNotFound != nil && g.isNotFound(err) {
			return fmt.Sprintf("%s-%05d", prefix, 1)
		}
		// lookup falló: fallback derivado del timestamp. Rompe la
		// monotonía estricta pero nunca frena el create.
		g.log.Warn("sequence lookup failed, using timestamp fallback",
			logger.TenantID(tenantID), logger.ResourceType(resourceType), logger.Err(err))
		return fmt.Sprintf("%s-%05d", prefix, timestampSequence(now))
	}

	seq, ok := parseSequence(max, prefix)
	if !ok {
		g.log.Warn("malformed existing resource id, using timestamp fallback",
			logger.TenantID(tenantID), logger.String("max_id", max))
		return fmt.Sprintf("%s-%05d", prefix, timestampSequence(now))
	}
	return fmt.Sprintf("%s-%05d", prefix, seq+1)
}

// parseSequence extrae la secuencia final de un ID con el prefijo esperado.
func parseSequence(id, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(id, prefix+"-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// timestampSequence deriva una secuencia de 5 dígitos del instante actual
// (segundos del día), acotada al rango del formato.
func timestampSequence(now time.Time) int {
	secs := now.Hour()*3600 + now.Minute()*60 + now.Second()
	return secs%90000 + 10000
}
