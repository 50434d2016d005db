// Package opsapi es la superficie de lectura operativa del daemon: listados
// por tipo y por rango de business date contra el shard del tenant-location.
// Pensada para inspección y soporte, no para servir tráfico de usuarios.
package opsapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/meridianhq/opstream/internal/observability/logger"
	"github.com/meridianhq/opstream/internal/router"
	"github.com/meridianhq/opstream/internal/shardstore"
)

// Reader es lo que la superficie de lectura necesita de un shard del store.
// *shardstore.Store lo implementa; los tests inyectan fakes.
type Reader interface {
	ListByType(ctx context.Context, tenantID, locationID, resourceType string, limit, offset int) ([]shardstore.Record, error)
	ListByDateRange(ctx context.Context, tenantID, locationID string, from, to time.Time, limit, offset int) ([]shardstore.Record, error)
}

// Resolver resuelve tenant-location → shard físico (router.Client).
type Resolver interface {
	Resolve(ctx context.Context, tenantID, locationID string) (*router.ShardConnection, error)
}

// ReaderProvider devuelve el reader (pool vivo) del shard resuelto.
type ReaderProvider interface {
	ReaderFor(ctx context.Context, conn *router.ShardConnection) (Reader, error)
}

// ReaderProviderFunc adapta una función a ReaderProvider (wiring en main).
type ReaderProviderFunc func(ctx context.Context, conn *router.ShardConnection) (Reader, error)

func (f ReaderProviderFunc) ReaderFor(ctx context.Context, conn *router.ShardConnection) (Reader, error) {
	return f(ctx, conn)
}

type Handler struct {
	resolver Resolver
	readers  ReaderProvider
	log      *zap.Logger
}

func NewHandler(resolver Resolver, readers ReaderProvider) *Handler {
	return &Handler{
		resolver: resolver,
		readers:  readers,
		log:      logger.Named("opsapi"),
	}
}

// Routes monta los endpoints de lectura sobre el router dado.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/resources", h.listByType)
	r.Get("/resources/by-date", h.listByDate)
}

// resourceDTO es el shape de salida de un registro (camelCase, como el resto
// del wire del pipeline).
type resourceDTO struct {
	TenantID     string         `json:"tenantId"`
	LocationID   string         `json:"locationId"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId"`
	Data         map[string]any `json:"data"`
	BusinessDate string         `json:"businessDate"`
	ShardID      string         `json:"shardId"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

type listResponse struct {
	Items []resourceDTO `json:"items"`
	Count int           `json:"count"`
}

func (h *Handler) listByType(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID, locationID, resourceType := q.Get("tenant"), q.Get("location"), q.Get("type")
	if tenantID == "" || locationID == "" || resourceType == "" {
		writeError(w, http.StatusBadRequest, "tenant, location and type are required")
		return
	}

	reader, err := h.reader(r.Context(), tenantID, locationID)
	if err != nil {
		h.fail(w, err)
		return
	}
	recs, err := reader.ListByType(r.Context(), tenantID, locationID, resourceType,
		intParam(q.Get("limit")), intParam(q.Get("offset")))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(recs))
}

func (h *Handler) listByDate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID, locationID := q.Get("tenant"), q.Get("location")
	if tenantID == "" || locationID == "" {
		writeError(w, http.StatusBadRequest, "tenant and location are required")
		return
	}
	from, err := time.Parse("2006-01-02", q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
		return
	}

	reader, err := h.reader(r.Context(), tenantID, locationID)
	if err != nil {
		h.fail(w, err)
		return
	}
	recs, err := reader.ListByDateRange(r.Context(), tenantID, locationID, from, to,
		intParam(q.Get("limit")), intParam(q.Get("offset")))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(recs))
}

func (h *Handler) reader(ctx context.Context, tenantID, locationID string) (Reader, error) {
	conn, err := h.resolver.Resolve(ctx, tenantID, locationID)
	if err != nil {
		return nil, err
	}
	return h.readers.ReaderFor(ctx, conn)
}

// fail mapea errores del pipeline a status HTTP: input inválido → 400,
// coordinador caído → 502, el resto → 500.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, router.ErrEmptyTenantLocation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, router.ErrCoordinator):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.log.Error("read failed", logger.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func toResponse(recs []shardstore.Record) listResponse {
	out := listResponse{Items: make([]resourceDTO, 0, len(recs))}
	for _, rec := range recs {
		out.Items = append(out.Items, resourceDTO{
			TenantID:     rec.TenantID,
			LocationID:   rec.LocationID,
			ResourceType: rec.ResourceType,
			ResourceID:   rec.ResourceID,
			Data:         rec.Data,
			BusinessDate: rec.BusinessDate.Format("2006-01-02"),
			ShardID:      rec.ShardID,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
		})
	}
	out.Count = len(out.Items)
	return out
}

func intParam(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
