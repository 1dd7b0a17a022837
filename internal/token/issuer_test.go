package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"go-watchlist/internal/model"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestIssuer(t *testing.T, clock *fakeClock) *Issuer {
	t.Helper()

	issuer, err := NewIssuer("test-secret", "go-watchlist", 15*time.Minute, 7*24*time.Hour, WithClock(clock.Now))
	require.NoError(t, err)
	return issuer
}

func testUser() model.User {
	return model.User{ID: "user-1", Role: model.RoleAdmin, Email: "a@example.com"}
}

func TestIssueAndVerify(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	issuer := newTestIssuer(t, clock)

	pair, err := issuer.Issue(testUser(), "session-1")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, clock.now.Add(15*time.Minute), pair.AccessExpiresAt)

	access, err := issuer.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", access.UserID())
	require.Equal(t, model.RoleAdmin, access.Role())
	require.True(t, access.IsAdmin())

	refresh, err := issuer.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", refresh.UserID())
	require.Equal(t, "session-1", refresh.SessionID())
}

func TestVerifyFailsAfterExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	issuer := newTestIssuer(t, clock)

	pair, err := issuer.Issue(testUser(), "session-1")
	require.NoError(t, err)

	clock.now = clock.now.Add(14 * time.Minute)
	_, err = issuer.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)

	clock.now = pair.AccessExpiresAt.Add(time.Second)
	_, err = issuer.VerifyAccess(pair.AccessToken)
	require.ErrorIs(t, err, model.ErrTokenExpired)

	clock.now = pair.RefreshExpiresAt.Add(time.Second)
	_, err = issuer.VerifyRefresh(pair.RefreshToken)
	require.ErrorIs(t, err, model.ErrTokenExpired)
}

func TestVerifyRejectsWrongType(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t, &fakeClock{now: time.Now()})
	pair, err := issuer.Issue(testUser(), "session-1")
	require.NoError(t, err)

	_, err = issuer.VerifyAccess(pair.RefreshToken)
	require.ErrorIs(t, err, model.ErrTokenInvalid)

	_, err = issuer.VerifyRefresh(pair.AccessToken)
	require.ErrorIs(t, err, model.ErrTokenInvalid)
}

func TestVerifyRejectsForeignSignatureAndAlgorithm(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	issuer := newTestIssuer(t, clock)
	other, err := NewIssuer("other-secret", "go-watchlist", 15*time.Minute, time.Hour, WithClock(clock.Now))
	require.NoError(t, err)

	pair, err := other.Issue(testUser(), "session-1")
	require.NoError(t, err)
	_, err = issuer.VerifyAccess(pair.AccessToken)
	require.ErrorIs(t, err, model.ErrTokenInvalid)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, accessWire{
		RegisteredClaims: issuer.registered("user-1", clock.now, clock.now.Add(time.Minute)),
		Role:             "admin",
		Type:             typeAccess,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.VerifyAccess(unsigned)
	require.True(t, errors.Is(err, model.ErrTokenInvalid))

	_, err = issuer.VerifyAccess("   ")
	require.ErrorIs(t, err, model.ErrTokenInvalid)
}

func TestNewIssuerRejectsBadConfiguration(t *testing.T) {
	t.Parallel()

	_, err := NewIssuer("", "x", time.Minute, time.Hour)
	require.ErrorIs(t, err, model.ErrSigning)

	_, err = NewIssuer("secret", "x", time.Hour, time.Minute)
	require.ErrorIs(t, err, model.ErrSigning)
}

func TestHashIsStable(t *testing.T) {
	t.Parallel()

	require.Equal(t, Hash("abc"), Hash("abc"))
	require.NotEqual(t, Hash("abc"), Hash("abd"))
	require.Len(t, Hash("abc"), 64)
}
