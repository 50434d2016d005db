// Package router es el cliente del coordinador de shards del store: resuelve
// a qué shard físico pertenece un tenant-location, registra tenant-locations
// nuevos y reporta salud/capacidad. Cliente de red puro: no guarda estado
// local más allá del cache de resoluciones y los pools de conexión.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/meridianhq/opstream/internal/observability/logger"
)

var (
	ErrEmptyTenantLocation = errors.New("router: tenantId and locationId are required")
	// ErrCoordinator envuelve toda respuesta no-2xx: el pipeline nunca
	// adivina un shard, el error siempre se propaga.
	ErrCoordinator = errors.New("router: coordinator error")
)

// ShardConnection describe el shard físico que el coordinador asignó.
type ShardConnection struct {
	ShardID          string    `json:"shardId"`
	ConnectionString string    `json:"connectionString"`
	IsActive         bool      `json:"isActive"`
	LastHealthCheck  time.Time `json:"lastHealthCheck"`
	BusinessCount    int       `json:"businessCount"`
	MaxBusinesses    int       `json:"maxBusinesses"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cache   *gocache.Cache
	log     *zap.Logger
}

type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// CacheTTL es el TTL del cache tenant-location → ShardConnection.
	// 0 deshabilita el cache.
	CacheTTL time.Duration
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    &http.Client{Timeout: opts.Timeout},
		log:     logger.Named("router"),
	}
	if opts.CacheTTL > 0 {
		c.cache = gocache.New(opts.CacheTTL, time.Minute)
	}
	return c
}

// Resolve obtiene el shard dueño de un tenant-location. Valida los inputs
// antes de cualquier llamada de red y cachea resoluciones exitosas.
func (c *Client) Resolve(ctx context.Context, tenantID, locationID string) (*ShardConnection, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(locationID) == "" {
		return nil, ErrEmptyTenantLocation
	}

	key := tenantID + "-" + locationID
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			conn := v.(ShardConnection)
			return &conn, nil
		}
	}

	var conn ShardConnection
	if err := c.get(ctx, "/shard/"+key, &conn); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.SetDefault(key, conn)
	}
	return &conn, nil
}

// Register da de alta un tenant-location nuevo en el coordinador y devuelve
// el shard asignado.
func (c *Client) Register(ctx context.Context, tenantID, locationID, resourceKindHint string) (*ShardConnection, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(locationID) == "" {
		return nil, ErrEmptyTenantLocation
	}

	body := map[string]string{
		"tenantId":   tenantID,
		"locationId": locationID,
	}
	if resourceKindHint != "" {
		body["resourceKindHint"] = resourceKindHint
	}

	var conn ShardConnection
	if err := c.post(ctx, "/register", body, &conn); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.SetDefault(tenantID+"-"+locationID, conn)
	}
	c.log.Info("tenant-location registered",
		logger.TenantID(tenantID), logger.LocationID(locationID), logger.ShardID(conn.ShardID))
	return &conn, nil
}

// Health devuelve el estado de todos los shards del store.
func (c *Client) Health(ctx context.Context) ([]ShardConnection, error) {
	var out []ShardConnection
	if err := c.get(ctx, "/shards/health", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Capacity consulta si un shard acepta negocios nuevos.
func (c *Client) Capacity(ctx context.Context, shardID string) (bool, error) {
	if strings.TrimSpace(shardID) == "" {
		return false, fmt.Errorf("router: shardId is required")
	}
	var out struct {
		CanAcceptNewBusiness bool `json:"canAcceptNewBusiness"`
	}
	if err := c.get(ctx, "/shard/"+shardID+"/capacity", &out); err != nil {
		return false, err
	}
	return out.CanAcceptNewBusiness, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, b, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("router: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s returned %d", ErrCoordinator, method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
