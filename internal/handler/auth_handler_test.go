package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-watchlist/internal/app"
	"go-watchlist/internal/config"
	"go-watchlist/internal/handler"
	"go-watchlist/internal/token"
)

const strongPassword = "Abcdef12"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type authData struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Role     string `json:"role"`
	} `json:"user"`
	AccessToken  string `json:"accessToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
	RefreshToken string `json:"refreshToken"`
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *config.Config {
	return &config.Config{
		ServerPort:             "0",
		RequestTimeout:         5 * time.Second,
		JWTSecret:              "handler-test-secret-0123456789abcdef",
		JWTIssuer:              "go-watchlist",
		JWTAccessTTL:           15 * time.Minute,
		JWTRefreshTTL:          24 * time.Hour,
		BcryptCost:             4,
		CookieSecure:           false,
		CORSOrigins:            []string{"http://localhost:5173"},
		RateLimitRPM:           0,
		AuthRateLimit:          1000,
		AuthRateWindow:         time.Minute,
		SessionStore:           config.StoreMemory,
		SessionCleanupInterval: time.Hour,
		LogFormat:              "pretty",
	}
}

func newServer(t *testing.T, mutate func(*config.Config), opts ...app.BuildOption) *httptest.Server {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	runtime, err := app.Build(cfg, app.MemoryStores(), opts...)
	require.NoError(t, err)
	t.Cleanup(runtime.Close)

	server := httptest.NewServer(runtime.Handler)
	t.Cleanup(server.Close)
	return server
}

func do(t *testing.T, method string, url string, body any, bearer string, cookie *http.Cookie) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp, env
}

func refreshCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()

	for _, c := range resp.Cookies() {
		if c.Name == handler.RefreshCookieName {
			return c
		}
	}
	t.Fatalf("response carries no %s cookie", handler.RefreshCookieName)
	return nil
}

func decodeAuth(t *testing.T, env envelope) authData {
	t.Helper()

	var data authData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data
}

func register(t *testing.T, server *httptest.Server, username string) (authData, *http.Cookie) {
	t.Helper()

	resp, env := do(t, http.MethodPost, server.URL+"/api/v1/auth/register", map[string]string{
		"name":            "Test " + username,
		"email":           username + "@example.com",
		"username":        username,
		"password":        strongPassword,
		"confirmPassword": strongPassword,
	}, "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, env.Error)
	return decodeAuth(t, env), refreshCookie(t, resp)
}

func TestRegisterLoginAndMe(t *testing.T) {
	t.Parallel()

	server := newServer(t, nil)
	registered, cookie := register(t, server, "ada")

	require.Equal(t, "Bearer", registered.TokenType)
	require.Equal(t, int64(900), registered.ExpiresIn)
	require.Empty(t, registered.RefreshToken, "refresh token must only travel in the cookie")
	require.True(t, cookie.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	require.Equal(t, "/api/v1/auth/session", cookie.Path)
	require.Greater(t, cookie.MaxAge, 0)

	resp, env := do(t, http.MethodPost, server.URL+"/api/v1/auth/register", map[string]string{
		"name": "Dup", "email": "ADA@example.com", "username": "ada2", "password": strongPassword, "confirmPassword": strongPassword,
	}, "", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "CONFLICT", env.Error.Code)

	resp, env = do(t, http.MethodPost, server.URL+"/api/v1/auth/login", map[string]string{
		"identifier": "ada", "password": strongPassword,
	}, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decodeAuth(t, env)

	resp, env = do(t, http.MethodGet, server.URL+"/api/v1/auth/me", nil, login.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	require.Equal(t, registered.User.ID, me.ID)
	require.Equal(t, "ada", me.Username)

	resp, env = do(t, http.MethodPost, server.URL+"/api/v1/auth/login", map[string]string{
		"identifier": "ada", "password": "Wrong1234",
	}, "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)

	resp, _ = do(t, http.MethodGet, server.URL+"/api/v1/auth/me", nil, "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterAggregatesValidationErrors(t *testing.T) {
	t.Parallel()

	server := newServer(t, nil)
	resp, env := do(t, http.MethodPost, server.URL+"/api/v1/auth/register", map[string]string{
		"name":            "",
		"email":           "not-an-email",
		"username":        "ab",
		"password":        "abcdefgh",
		"confirmPassword": "different",
	}, "", nil)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	require.GreaterOrEqual(t, strings.Count(env.Error.Message, ";"), 3, env.Error.Message)

	resp, env = do(t, http.MethodPost, server.URL+"/api/v1/auth/login", nil, "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "BAD_REQUEST", env.Error.Code)
}

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	t.Parallel()

	server := newServer(t, nil)
	_, first := register(t, server, "grace")

	resp, env := do(t, http.MethodPost, server.URL+"/api/v1/auth/session/refresh", nil, "", first)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := refreshCookie(t, resp)
	require.NotEqual(t, first.Value, second.Value)
	require.NotEmpty(t, decodeAuth(t, env).AccessToken)

	resp, env = do(t, http.MethodPost, server.URL+"/api/v1/auth/session/refresh", nil, "", first)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "TOKEN_REUSE_DETECTED", env.Error.Code)
	require.Equal(t, -1, refreshCookie(t, resp).MaxAge)

	resp, env = do(t, http.MethodPost, server.URL+"/api/v1/auth/session/refresh", nil, "", second)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "UNAUTHENTICATED", env.Error.Code)

	resp, _ = do(t, http.MethodPost, server.URL+"/api/v1/auth/session/refresh", nil, "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConcurrentRefreshHasExactlyOneWinner(t *testing.T) {
	t.Parallel()

	server := newServer(t, nil)
	_, cookie := register(t, server, "hopper")

	const callers = 8
	start := make(chan struct{})
	statuses := make(chan int, callers)
	var wg sync.WaitGroup
	wg.Add(callers)

	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			<-start
			req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/auth/session/refresh", http.NoBody)
			req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				statuses <- 0
				return
			}
			_ = resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}

	close(start)
	wg.Wait()
	close(statuses)

	ok := 0
	for status := range statuses {
		if status == http.StatusOK {
			ok++
			continue
		}
		require.Equal(t, http.StatusUnauthorized, status)
	}
	require.Equal(t, 1, ok)
}

func TestLogoutIsIdempotent(t *testing.T) {
	t.Parallel()

	server := newServer(t, nil)
	_, cookie := register(t, server, "turing")

	for i := 0; i < 2; i++ {
		resp, env := do(t, http.MethodPost, server.URL+"/api/v1/auth/session/logout", nil, "", cookie)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.True(t, env.Success)
		require.Equal(t, -1, refreshCookie(t, resp).MaxAge)
	}

	resp, _ := do(t, http.MethodPost, server.URL+"/api/v1/auth/session/logout", nil, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, server.URL+"/api/v1/auth/session/refresh", nil, "", cookie)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRefreshCookieOnlyReachesSessionRoutes(t *testing.T) {
	t.Parallel()

	server := newServer(t, nil)
	_, cookie := register(t, server, "hopper")

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	origin, err := url.Parse(server.URL)
	require.NoError(t, err)
	jar.SetCookies(origin.JoinPath("/api/v1/auth/register"), []*http.Cookie{cookie})

	for _, path := range []string{"/api/v1/auth/session/refresh", "/api/v1/auth/session/logout"} {
		require.Len(t, jar.Cookies(origin.JoinPath(path)), 1, path)
	}
	for _, path := range []string{"/api/v1/auth/me", "/api/v1/auth/login", "/api/v1/auth/profile", "/api/v1/admin/users"} {
		require.Empty(t, jar.Cookies(origin.JoinPath(path)), path)
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(cfg *config.Config) {
		cfg.AuthRateLimit = 3
		cfg.AuthRateWindow = 15 * time.Minute
	})

	for i := 0; i < 3; i++ {
		resp, env := do(t, http.MethodPost, server.URL+"/api/v1/auth/login", map[string]string{
			"identifier": "nobody", "password": "Wrong1234",
		}, "", nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)
	}

	resp, env := do(t, http.MethodPost, server.URL+"/api/v1/auth/login", map[string]string{
		"identifier": "nobody", "password": "Wrong1234",
	}, "", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "RATE_LIMITED", env.Error.Code)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestProfileAndPasswordChange(t *testing.T) {
	t.Parallel()

	server := newServer(t, nil)
	registered, cookie := register(t, server, "lamarr")

	resp, env := do(t, http.MethodPut, server.URL+"/api/v1/auth/profile", map[string]string{}, registered.AccessToken, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	resp, env = do(t, http.MethodPut, server.URL+"/api/v1/auth/profile", map[string]string{
		"name": "Hedy Lamarr", "avatarUrl": "https://cdn.example/hedy.png",
	}, registered.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var profile struct {
		Name      string `json:"name"`
		AvatarURL string `json:"avatarUrl"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	require.Equal(t, "Hedy Lamarr", profile.Name)
	require.Equal(t, "https://cdn.example/hedy.png", profile.AvatarURL)

	resp, env = do(t, http.MethodPut, server.URL+"/api/v1/auth/password", map[string]string{
		"currentPassword": strongPassword, "newPassword": "Zyxwvu98", "confirmPassword": "Zyxwvu98",
	}, registered.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Error)
	fresh := refreshCookie(t, resp)

	resp, _ = do(t, http.MethodPost, server.URL+"/api/v1/auth/session/refresh", nil, "", cookie)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, server.URL+"/api/v1/auth/session/refresh", nil, "", fresh)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAccessTokenExpires(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Now()}
	server := newServer(t, nil, app.WithIssuerOptions(token.WithClock(clock.Now)))
	registered, cookie := register(t, server, "noether")

	clock.Advance(16 * time.Minute)
	resp, env := do(t, http.MethodGet, server.URL+"/api/v1/auth/me", nil, registered.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "UNAUTHENTICATED", env.Error.Code)

	resp, env = do(t, http.MethodPost, server.URL+"/api/v1/auth/session/refresh", nil, "", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, server.URL+"/api/v1/auth/me", nil, decodeAuth(t, env).AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(cfg *config.Config) {
		cfg.AdminEmail = "root@example.com"
		cfg.AdminPassword = "Admin1234"
	})
	user, _ := register(t, server, "plain")

	resp, env := do(t, http.MethodGet, server.URL+"/api/v1/admin/users", nil, user.AccessToken, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "FORBIDDEN", env.Error.Code)

	resp, env = do(t, http.MethodPost, server.URL+"/api/v1/auth/login", map[string]string{
		"identifier": "root@example.com", "password": "Admin1234",
	}, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	admin := decodeAuth(t, env)
	require.Equal(t, "admin", admin.User.Role)

	resp, env = do(t, http.MethodGet, server.URL+"/api/v1/admin/users", nil, admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Users []struct {
			Username string `json:"username"`
		} `json:"users"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Users, 2)

	require.Eventually(t, func() bool {
		resp, env := do(t, http.MethodGet, server.URL+"/api/v1/admin/audit?action=auth.login", nil, admin.AccessToken, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var items struct {
			Items []struct {
				Action string `json:"action"`
			} `json:"items"`
		}
		if err := json.Unmarshal(env.Data, &items); err != nil {
			return false
		}
		return len(items.Items) == 1 && items.Items[0].Action == "auth.login"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	server := newServer(t, nil)
	register(t, server, "metrics")

	resp, env := do(t, http.MethodGet, server.URL+"/health", nil, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, env.Success)
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	metricsResp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `watchlist_http_request_duration_seconds_count{method="POST",route="/api/v1/auth/register",status="201"}`)
}
