//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"go-watchlist/internal/app"
	"go-watchlist/internal/config"
	"go-watchlist/internal/database"
	"go-watchlist/internal/handler"
	"go-watchlist/internal/repository"
	"go-watchlist/internal/token"
)

const strongPassword = "Abcdef12"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Now()} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func baseConfig() *config.Config {
	return &config.Config{
		RequestTimeout:         5 * time.Second,
		JWTSecret:              "integration-secret-0123456789abcdefgh",
		JWTIssuer:              "go-watchlist",
		JWTAccessTTL:           15 * time.Minute,
		JWTRefreshTTL:          24 * time.Hour,
		BcryptCost:             4,
		CookieSecure:           false,
		CORSOrigins:            []string{"http://localhost:5173"},
		AuthRateLimit:          1000,
		AuthRateWindow:         time.Minute,
		SessionStore:           config.StoreMemory,
		SessionCleanupInterval: time.Hour,
		LogFormat:              "pretty",
	}
}

type backend struct {
	name   string
	stores func(t *testing.T) app.Stores
}

// backends lists every session store available in this environment.
// PostgreSQL runs only when TEST_DATABASE_URL points at a scratch database.
func backends() []backend {
	list := []backend{
		{name: "memory", stores: func(*testing.T) app.Stores { return app.MemoryStores() }},
		{name: "redis", stores: redisStores},
	}
	if os.Getenv("TEST_DATABASE_URL") != "" {
		list = append(list, backend{name: "postgres", stores: postgresStores})
	}
	return list
}

func redisStores(t *testing.T) app.Stores {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	stores := app.MemoryStores()
	stores.Sessions = repository.NewRedisSessionRepository(rdb, "it-"+uuid.NewString()[:8])
	stores.Health = map[string]handler.HealthCheck{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}
	return stores
}

func postgresStores(t *testing.T) app.Stores {
	t.Helper()

	ctx := context.Background()
	db, err := database.New(ctx, database.Options{URL: os.Getenv("TEST_DATABASE_URL"), MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))

	return app.Stores{
		Users:    repository.NewUserRepository(db.Pool),
		Sessions: repository.NewSessionRepository(db.Pool),
		Audit:    repository.NewAuditRepository(db.Pool),
		Health:   map[string]handler.HealthCheck{"postgres": db.Health},
	}
}

func newStack(t *testing.T, b backend, mutate func(*config.Config), opts ...app.BuildOption) *httptest.Server {
	t.Helper()

	cfg := baseConfig()
	if mutate != nil {
		mutate(cfg)
	}

	runtime, err := app.Build(cfg, b.stores(t), opts...)
	require.NoError(t, err)
	t.Cleanup(runtime.Close)

	server := httptest.NewServer(runtime.Handler)
	t.Cleanup(server.Close)
	return server
}

// uniqueUser returns credentials that do not collide across runs against a
// shared database.
func uniqueUser() (email string, username string) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return "user" + id + "@example.com", "u" + id
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, resp *http.Response) envelope {
	t.Helper()

	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func refreshCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == handler.RefreshCookieName {
			return c
		}
	}
	return nil
}

func postJSON(t *testing.T, url string, body string, cookie *http.Cookie) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func withClock(c *clock) app.BuildOption {
	return app.WithIssuerOptions(token.WithClock(c.Now))
}
