// Package envelope define el mensaje durable que describe una mutación de
// recurso, tal como lo emiten los producers hacia el log particionado.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Op es el tipo de operación de un envelope.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpPatch  Op = "patch"
	OpDelete Op = "delete"
)

var (
	ErrMissingTenant       = errors.New("envelope: missing tenantId")
	ErrMissingLocation     = errors.New("envelope: missing locationId")
	ErrMissingResourceType = errors.New("envelope: missing resourceType")
	ErrMissingResourceID   = errors.New("envelope: missing resourceId")
	ErrUnknownOperation    = errors.New("envelope: unknown operation")
)

// Envelope es el payload que viaja en el log. Inmutable una vez appendeado;
// el shape de Data es del caller y el pipeline nunca lo valida.
type Envelope struct {
	Operation    Op             `json:"operation"`
	TenantID     string         `json:"tenantId"`
	LocationID   string         `json:"locationId"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Timestamp    time.Time      `json:"timestamp,omitempty"`
	RequestID    string         `json:"requestId,omitempty"`
}

// Validate verifica los campos obligatorios. Un envelope inválido se
// descarta (log + drop), nunca se reintenta.
func (e *Envelope) Validate() error {
	if strings.TrimSpace(e.TenantID) == "" {
		return ErrMissingTenant
	}
	if strings.TrimSpace(e.LocationID) == "" {
		return ErrMissingLocation
	}
	if strings.TrimSpace(e.ResourceType) == "" {
		return ErrMissingResourceType
	}
	switch e.Operation {
	case OpCreate:
	case OpUpdate, OpPatch, OpDelete:
		// update/patch/delete necesitan saber sobre qué recurso operan
		if strings.TrimSpace(e.ResourceID) == "" {
			return ErrMissingResourceID
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, e.Operation)
	}
	return nil
}

// PartitionKey devuelve la clave de partición con la que el producer debe
// appendear este envelope: "{tenantId}-{locationId}" o
// "{tenantId}-{locationId}-{resourceType}" cuando hay resourceType.
// Operaciones causalmente relacionadas deben compartir clave.
func (e *Envelope) PartitionKey() string {
	if e.ResourceType != "" {
		return e.TenantID + "-" + e.LocationID + "-" + e.ResourceType
	}
	return e.TenantID + "-" + e.LocationID
}

// Decode parsea un envelope desde su representación JSON en el log.
func Decode(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("envelope: decode: %w", err)
	}
	return &e, nil
}

// Encode serializa el envelope para appendearlo al log.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// dateFields son los campos del payload reconocidos como business date,
// en orden de prioridad.
var dateFields = []string{
	"date",
	"appointmentDate",
	"startDate",
	"reservationDate",
	"checkInDate",
	"eventDate",
	"scheduledDate",
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// BusinessDate escanea Data buscando un campo de fecha reconocido y devuelve
// su valor como fecha; si ninguno matchea (o no parsea) devuelve now.
// Es la fecha usada para range queries, distinta del Timestamp de emisión.
func (e *Envelope) BusinessDate(now time.Time) time.Time {
	for _, f := range dateFields {
		v, ok := e.Data[f]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return t.Truncate(24 * time.Hour)
			}
		}
	}
	return now.Truncate(24 * time.Hour)
}

// MergeData aplica un shallow-merge de src sobre dst y devuelve el resultado
// (last-writer-wins, sin locking por campo). Usado por patch: leer el
// registro actual, mergear y reescribir completo.
func MergeData(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
