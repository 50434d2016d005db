// Package notifier reporta el resultado de cada operación al hub de tiempo
// real. Best-effort y no bloqueante: un fallo acá se loguea y se traga,
// nunca afecta el write que ya committeó.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/opstream/internal/envelope"
	"github.com/meridianhq/opstream/internal/metrics"
	"github.com/meridianhq/opstream/internal/observability/logger"
)

// Notification es el payload que viaja al hub.
type Notification struct {
	Type         string    `json:"type"`
	Operation    string    `json:"operation"`
	ResourceType string    `json:"resourceType"`
	TenantID     string    `json:"tenantId"`
	LocationID   string    `json:"locationId"`
	ResourceID   string    `json:"resourceId,omitempty"`
	ShardID      string    `json:"shardId,omitempty"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// typeFor mapea operación+resultado al type del hub.
func typeFor(op envelope.Op, success bool) string {
	if !success {
		return "resource_error"
	}
	switch op {
	case envelope.OpCreate:
		return "resource_created"
	case envelope.OpUpdate:
		return "resource_updated"
	case envelope.OpPatch:
		return "resource_patched"
	case envelope.OpDelete:
		return "resource_deleted"
	default:
		return "resource_error"
	}
}

// Notifier encola notificaciones y las despacha en background con una cola
// acotada. Si la cola está llena, la notificación se descarta con un log.
type Notifier struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger

	queue chan Notification
	wg    sync.WaitGroup
	once  sync.Once
}

type Options struct {
	BaseURL   string
	Timeout   time.Duration
	QueueSize int
}

func New(opts Options) *Notifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	n := &Notifier{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    &http.Client{Timeout: opts.Timeout},
		log:     logger.Named("notifier"),
		queue:   make(chan Notification, opts.QueueSize),
	}
	n.wg.Add(1)
	go n.drain()
	return n
}

// Notify encola el reporte de una operación. Nunca bloquea ni devuelve error.
func (n *Notifier) Notify(op envelope.Op, tenantID, locationID, resourceType, resourceID, shardID string, success bool, opErr error) {
	msg := Notification{
		Type:         typeFor(op, success),
		Operation:    string(op),
		ResourceType: resourceType,
		TenantID:     tenantID,
		LocationID:   locationID,
		ResourceID:   resourceID,
		ShardID:      shardID,
		Success:      success,
		Timestamp:    time.Now().UTC(),
	}
	if opErr != nil {
		msg.Error = opErr.Error()
	}

	select {
	case n.queue <- msg:
	default:
		metrics.NotifyFailures.Inc()
		n.log.Warn("notification queue full, dropping",
			logger.TenantID(tenantID), logger.Operation(string(op)))
	}
}

func (n *Notifier) drain() {
	defer n.wg.Done()
	for msg := range n.queue {
		if err := n.post(msg); err != nil {
			metrics.NotifyFailures.Inc()
			n.log.Warn("notify failed",
				logger.TenantID(msg.TenantID),
				logger.Operation(msg.Operation),
				logger.Err(err))
		}
	}
}

func (n *Notifier) post(msg Notification) error {
	if n.baseURL == "" {
		return nil // hub no configurado: no-op
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(),
		http.MethodPost, n.baseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("hub returned %d", resp.StatusCode)
	}
	return nil
}

// Close cierra la cola y espera a que se despache lo pendiente.
func (n *Notifier) Close() {
	n.once.Do(func() {
		close(n.queue)
	})
	n.wg.Wait()
}
