package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

const apiPrefix = "/api/v1/auth"

type RegisterRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type ProfileUpdate struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

type authPayload struct {
	User        *User  `json:"user"`
	AccessToken string `json:"accessToken"`
}

// Client talks to the auth API. Calls that need a session go through the
// Transport; login, registration and refresh use a raw client that shares
// the cookie jar so the refresh cookie never passes through the interceptor.
type Client struct {
	baseURL   *url.URL
	session   *Session
	http      *http.Client
	raw       *http.Client
	refreshes inflight
}

type Option func(*clientOptions)

type clientOptions struct {
	base    http.RoundTripper
	session *Session
	timeout time.Duration
}

func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.base = rt }
}

func WithSession(s *Session) Option {
	return func(o *clientOptions) { o.session = s }
}

func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("authclient: invalid base URL %q", baseURL)
	}

	o := clientOptions{base: http.DefaultTransport, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.session == nil {
		o.session = NewSession()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("authclient: cookie jar: %w", err)
	}

	c := &Client{
		baseURL: parsed,
		session: o.session,
		raw:     &http.Client{Transport: o.base, Jar: jar, Timeout: o.timeout},
	}
	c.http = &http.Client{
		Transport: &Transport{Base: o.base, Session: o.session, Refresher: refresher{c}},
		Jar:       jar,
		Timeout:   o.timeout,
	}
	return c, nil
}

func (c *Client) Session() *Session { return c.session }

// HTTPClient returns a client whose requests carry the session token and
// refresh transparently. Use it for any other API the token grants.
func (c *Client) HTTPClient() *http.Client { return c.http }

func (c *Client) Do(req *http.Request) (*http.Response, error) { return c.http.Do(req) }

// Bootstrap attempts one silent refresh from an existing cookie and settles
// the session in authenticated or anonymous.
func (c *Client) Bootstrap(ctx context.Context) error {
	if err := c.refreshes.wait(ctx); err != nil {
		return err
	}

	epoch, ok := c.session.BeginBootstrap()
	if !ok {
		return ErrBusy
	}

	token, err := c.refreshToken(ctx)
	if err != nil {
		c.session.BootstrapFailed(epoch)
		if errors.Is(err, ErrUnauthenticated) {
			return nil
		}
		return err
	}

	var user User
	if err := c.call(ctx, c.raw, http.MethodGet, apiPrefix+"/me", nil, token, &user); err != nil {
		c.session.BootstrapFailed(epoch)
		return err
	}

	c.session.RefreshSucceeded(epoch, token, &user)
	return nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	return c.authenticate(ctx, apiPrefix+"/register", req)
}

func (c *Client) Login(ctx context.Context, identifier string, password string) (*User, error) {
	return c.authenticate(ctx, apiPrefix+"/login", map[string]string{
		"identifier": identifier,
		"password":   password,
	})
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*User, error) {
	// a refresh still on the wire would overwrite the cookie this call sets
	if err := c.refreshes.wait(ctx); err != nil {
		return nil, err
	}

	epoch, ok := c.session.BeginLogin()
	if !ok {
		return nil, ErrBusy
	}

	var payload authPayload
	if err := c.call(ctx, c.raw, http.MethodPost, path, body, "", &payload); err != nil {
		c.session.LoginFailed(epoch, err)
		return nil, err
	}

	if !c.session.LoginSucceeded(epoch, payload.User, payload.AccessToken) {
		return nil, ErrUnauthenticated
	}
	return payload.User, nil
}

// Logout clears local state first, lets any refresh already on the wire
// settle its cookie, then asks the server to revoke the session and drop the
// cookie. Local state ends anonymous even if the call fails.
func (c *Client) Logout(ctx context.Context) error {
	c.session.Logout()
	if err := c.refreshes.wait(ctx); err != nil {
		return err
	}
	return c.call(ctx, c.raw, http.MethodPost, apiPrefix+"/session/logout", nil, "", nil)
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.call(ctx, c.http, http.MethodGet, apiPrefix+"/me", nil, "", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (*User, error) {
	var user User
	if err := c.call(ctx, c.http, http.MethodPut, apiPrefix+"/profile", update, "", &user); err != nil {
		return nil, err
	}
	c.session.Replace(&user, "")
	return &user, nil
}

func (c *Client) ChangePassword(ctx context.Context, current string, next string) error {
	var payload authPayload
	err := c.call(ctx, c.http, http.MethodPut, apiPrefix+"/password", map[string]string{
		"currentPassword": current,
		"newPassword":     next,
		"confirmPassword": next,
	}, "", &payload)
	if err != nil {
		return err
	}
	c.session.Replace(payload.User, payload.AccessToken)
	return nil
}

func (c *Client) refreshToken(ctx context.Context) (string, error) {
	c.refreshes.begin()
	defer c.refreshes.end()

	var payload authPayload
	if err := c.call(ctx, c.raw, http.MethodPost, apiPrefix+"/session/refresh", nil, "", &payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", ErrUnauthenticated
	}
	return payload.AccessToken, nil
}

// inflight counts refresh calls on the wire and lets others wait for zero.
type inflight struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (f *inflight) begin() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
}

func (f *inflight) end() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 {
		close(f.idle)
		f.idle = nil
	}
}

func (f *inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	idle := f.idle
	f.mu.Unlock()
	if idle == nil {
		return nil
	}

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type refresher struct {
	c *Client
}

func (r refresher) Refresh(ctx context.Context) (string, error) {
	return r.c.refreshToken(ctx)
}

func (c *Client) call(ctx context.Context, hc *http.Client, method string, path string, body any, bearer string, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("authclient: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("authclient: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("authclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("authclient: decode response: %w", err)
	}

	if resp.StatusCode >= 400 || !env.Success {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &APIError{Code: http.StatusText(resp.StatusCode), Message: "unexpected response"}
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("authclient: decode data: %w", err)
		}
	}
	return nil
}
