// Package guard clasifica errores del log y del store en conectividad vs.
// operacionales, y deduplica el logging de los de conectividad durante una
// ventana de cooldown para no inundar los logs en un outage.
package guard

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/opstream/internal/observability/logger"
)

// Guard deduplica errores de conectividad repetidos. Seguro para uso
// concurrente desde todos los loops de shard.
type Guard struct {
	cooldown time.Duration
	log      *zap.Logger

	mu         sync.Mutex
	lastLogged time.Time
	suppressed int
	degraded   bool
}

func New(cooldown time.Duration) *Guard {
	return NewWithLogger(cooldown, logger.Named("guard"))
}

// NewWithLogger permite inyectar el logger (tests).
func NewWithLogger(cooldown time.Duration, l *zap.Logger) *Guard {
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Guard{cooldown: cooldown, log: l}
}

// connectivity patterns: errores de red, timeouts y credenciales a nivel
// transporte. Cualquier otra cosa es operacional.
var connectivityHints = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"network is unreachable",
	"noauth",
	"wrongpass",
	"authentication failed",
	"password authentication failed",
	"dial tcp",
	"unexpected eof",
	"failed to connect",
	// respuestas no-2xx del coordinador: el shard no se puede resolver
	"coordinator error",
}

// IsConnectivity clasifica un error como de conectividad (timeouts, fallas
// de red o de credenciales) versus operacional (validación, lógica).
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range connectivityHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// Observe registra un error según su clase. Los operacionales se loguean
// siempre; los de conectividad como máximo una vez por ventana de cooldown.
// Devuelve true si el error es de conectividad.
func (g *Guard) Observe(err error, fields ...zap.Field) bool {
	if err == nil {
		return false
	}
	if !IsConnectivity(err) {
		g.log.Error("operational error", append(fields, logger.Err(err))...)
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.degraded = true
	if now.Sub(g.lastLogged) < g.cooldown {
		g.suppressed++
		return true
	}

	if g.suppressed > 0 {
		fields = append(fields, logger.Count(g.suppressed))
	}
	g.log.Error("connectivity error", append(fields, logger.Err(err))...)
	g.lastLogged = now
	g.suppressed = 0
	return true
}

// NoteSuccess resetea la supresión tras una operación exitosa y loguea un
// aviso de recuperación si veníamos de un error de conectividad.
func (g *Guard) NoteSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.degraded {
		return
	}
	g.log.Info("connectivity restored", logger.Count(g.suppressed))
	g.degraded = false
	g.suppressed = 0
	g.lastLogged = time.Time{}
}

// Degraded informa si el último estado conocido era un outage.
func (g *Guard) Degraded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.degraded
}
