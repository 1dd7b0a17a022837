package authclient

import (
	"context"
	"io"
	"net/http"

	"golang.org/x/sync/singleflight"
)

// Refresher exchanges the refresh cookie for a new access token. It must not
// route through Transport.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Transport attaches the session's access token to every request. On a 401
// it runs at most one refresh at a time, shared by every request that failed
// meanwhile, then replays the request with the new token. When the refresh
// fails callers get the original 401 and the session expires.
type Transport struct {
	Base      http.RoundTripper
	Session   *Session
	Refresher Refresher

	flight singleflight.Group
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	sent := t.Session.AccessToken()

	resp, err := t.base().RoundTrip(withBearer(req, req.Body, sent))
	if err != nil || resp.StatusCode != http.StatusUnauthorized || sent == "" {
		return resp, err
	}

	if !replayable(req) {
		return resp, nil
	}

	fresh, refreshErr := t.refresh(req.Context(), sent)
	if refreshErr != nil {
		return resp, nil
	}

	body := req.Body
	if req.GetBody != nil {
		if body, err = req.GetBody(); err != nil {
			return resp, nil
		}
	}
	drain(resp)

	return t.base().RoundTrip(withBearer(req, body, fresh))
}

// refresh returns a token newer than stale, refreshing only when no other
// request already has.
func (t *Transport) refresh(ctx context.Context, stale string) (string, error) {
	if current := t.Session.AccessToken(); current != "" && current != stale {
		return current, nil
	}

	v, err, _ := t.flight.Do("refresh", func() (any, error) {
		if current := t.Session.AccessToken(); current != "" && current != stale {
			return current, nil
		}

		epoch, ok := t.Session.BeginRefresh()
		if !ok {
			return "", ErrUnauthenticated
		}

		// shared by every waiting caller, so no single caller may cancel it
		token, err := t.Refresher.Refresh(context.WithoutCancel(ctx))
		if err != nil {
			t.Session.RefreshFailed(epoch, err)
			return "", err
		}

		if !t.Session.RefreshSucceeded(epoch, token, nil) {
			// logged out while the refresh ran
			return "", ErrUnauthenticated
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func withBearer(req *http.Request, body io.ReadCloser, token string) *http.Request {
	out := req.Clone(req.Context())
	out.Body = body
	// an anonymous session leaves caller-supplied credentials alone
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	return out
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
