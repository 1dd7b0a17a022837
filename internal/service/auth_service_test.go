package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-watchlist/internal/event"
	"go-watchlist/internal/model"
	"go-watchlist/internal/repository"
	"go-watchlist/internal/token"
	"go-watchlist/pkg/apierror"
)

type authFixture struct {
	svc      *AuthService
	users    *repository.MemoryUserRepository
	sessions *repository.MemorySessionRepository
	bus      *event.InMemoryBus
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()

	issuer, err := token.NewIssuer("service-test-secret", "go-watchlist", 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)

	f := authFixture{
		users:    repository.NewMemoryUserRepository(),
		sessions: repository.NewMemorySessionRepository(),
		bus:      event.NewBus(),
	}
	f.svc, err = NewAuthService(f.users, f.sessions, issuer, WithBcryptCost(bcrypt.MinCost), WithEventBus(f.bus))
	require.NoError(t, err)
	return f
}

func registerAda(t *testing.T, svc *AuthService) model.AuthResult {
	t.Helper()

	result, err := svc.Register(context.Background(), model.RegisterRequest{
		Name:            "Ada Lovelace",
		Email:           "ada@example.com",
		Username:        "ada",
		Password:        "Abcdef12",
		ConfirmPassword: "Abcdef12",
	}, RequestMeta{IP: "127.0.0.1"})
	require.NoError(t, err)
	return result
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()

	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, code, apiErr.Code)
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	registered := registerAda(t, f.svc)
	require.Equal(t, "ada", registered.User.Username)
	require.Equal(t, model.RoleUser, registered.User.Role)
	require.Equal(t, "Bearer", registered.TokenType)
	require.Equal(t, int64(900), registered.ExpiresIn)
	require.NotEmpty(t, registered.RefreshToken)

	t.Run("email and username both work as identifier", func(t *testing.T) {
		for _, identifier := range []string{"ada@example.com", "ADA", "Ada@Example.com"} {
			result, err := f.svc.Login(context.Background(), identifier, "Abcdef12", RequestMeta{})
			require.NoError(t, err, identifier)
			require.Equal(t, registered.User.ID, result.User.ID)
		}
	})

	t.Run("unknown identifier and wrong password are indistinguishable", func(t *testing.T) {
		_, errUnknown := f.svc.Login(context.Background(), "nobody", "Abcdef12", RequestMeta{})
		_, errWrong := f.svc.Login(context.Background(), "ada", "Wrong1234", RequestMeta{})
		requireCode(t, errUnknown, apierror.CodeInvalidCredentials)
		require.Equal(t, errUnknown.Error(), errWrong.Error())
	})

	t.Run("duplicate registration conflicts", func(t *testing.T) {
		_, err := f.svc.Register(context.Background(), model.RegisterRequest{
			Name: "Other", Email: "ADA@example.com", Username: "other", Password: "Abcdef12", ConfirmPassword: "Abcdef12",
		}, RequestMeta{})
		requireCode(t, err, apierror.CodeConflict)

		_, err = f.svc.Register(context.Background(), model.RegisterRequest{
			Name: "Other", Email: "other@example.com", Username: "Ada", Password: "Abcdef12", ConfirmPassword: "Abcdef12",
		}, RequestMeta{})
		requireCode(t, err, apierror.CodeConflict)
	})
}

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	events, unsubscribe := f.bus.Subscribe()
	defer unsubscribe()

	first := registerAda(t, f.svc)

	second, err := f.svc.Refresh(context.Background(), first.RefreshToken, RequestMeta{})
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.NotEmpty(t, second.AccessToken)

	_, err = f.svc.Refresh(context.Background(), first.RefreshToken, RequestMeta{IP: "10.0.0.9"})
	requireCode(t, err, apierror.CodeTokenReuse)

	// the whole session is gone, including the legitimate successor
	_, err = f.svc.Refresh(context.Background(), second.RefreshToken, RequestMeta{})
	requireCode(t, err, apierror.CodeUnauthenticated)
	require.Equal(t, 0, f.sessions.Len())

	seen := map[event.Type]bool{}
	timeout := time.After(time.Second)
	for !seen[event.TypeReuseDetected] {
		select {
		case e := <-events:
			seen[e.Type] = true
		case <-timeout:
			t.Fatal("reuse event was not published")
		}
	}
}

func TestConcurrentRefreshHasSingleWinner(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	first := registerAda(t, f.svc)

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			if _, err := f.svc.Refresh(context.Background(), first.RefreshToken, RequestMeta{}); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
}

func TestRefreshRejectsGarbageAndAccessTokens(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	first := registerAda(t, f.svc)

	_, err := f.svc.Refresh(context.Background(), "not-a-jwt", RequestMeta{})
	requireCode(t, err, apierror.CodeUnauthenticated)

	_, err = f.svc.Refresh(context.Background(), first.AccessToken, RequestMeta{})
	requireCode(t, err, apierror.CodeUnauthenticated)

	_, err = f.svc.Refresh(context.Background(), first.RefreshToken, RequestMeta{})
	require.NoError(t, err)
}

func TestLogoutIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	first := registerAda(t, f.svc)

	f.svc.Logout(context.Background(), first.RefreshToken, RequestMeta{})
	f.svc.Logout(context.Background(), first.RefreshToken, RequestMeta{})
	f.svc.Logout(context.Background(), "", RequestMeta{})
	f.svc.Logout(context.Background(), "garbage", RequestMeta{})

	_, err := f.svc.Refresh(context.Background(), first.RefreshToken, RequestMeta{})
	requireCode(t, err, apierror.CodeUnauthenticated)
}

func TestUpdateProfile(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	first := registerAda(t, f.svc)

	_, err := f.svc.UpdateProfile(context.Background(), first.User.ID, model.UpdateProfileRequest{}, RequestMeta{})
	requireCode(t, err, apierror.CodeValidation)

	name := "  Countess Ada  "
	profile, err := f.svc.UpdateProfile(context.Background(), first.User.ID, model.UpdateProfileRequest{Name: &name}, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, "Countess Ada", profile.Name)

	me, err := f.svc.Me(context.Background(), first.User.ID)
	require.NoError(t, err)
	require.Equal(t, "Countess Ada", me.Name)

	_, err = f.svc.Me(context.Background(), "missing")
	requireCode(t, err, apierror.CodeUnauthenticated)
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	first := registerAda(t, f.svc)
	other, err := f.svc.Login(context.Background(), "ada", "Abcdef12", RequestMeta{})
	require.NoError(t, err)

	_, err = f.svc.ChangePassword(context.Background(), first.User.ID, model.ChangePasswordRequest{
		CurrentPassword: "Wrong1234", NewPassword: "Zyxwvu98", ConfirmPassword: "Zyxwvu98",
	}, RequestMeta{})
	requireCode(t, err, apierror.CodeValidation)

	changed, err := f.svc.ChangePassword(context.Background(), first.User.ID, model.ChangePasswordRequest{
		CurrentPassword: "Abcdef12", NewPassword: "Zyxwvu98", ConfirmPassword: "Zyxwvu98",
	}, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, 1, f.sessions.Len())

	_, err = f.svc.Refresh(context.Background(), other.RefreshToken, RequestMeta{})
	requireCode(t, err, apierror.CodeUnauthenticated)
	_, err = f.svc.Refresh(context.Background(), changed.RefreshToken, RequestMeta{})
	require.NoError(t, err)

	_, err = f.svc.Login(context.Background(), "ada", "Abcdef12", RequestMeta{})
	requireCode(t, err, apierror.CodeInvalidCredentials)
	_, err = f.svc.Login(context.Background(), "ada", "Zyxwvu98", RequestMeta{})
	require.NoError(t, err)
}

func TestEnsureAdminSeedsOnlyEmptyStore(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	require.NoError(t, f.svc.EnsureAdmin(context.Background(), "root@example.com", "Admin1234"))
	require.NoError(t, f.svc.EnsureAdmin(context.Background(), "second@example.com", "Admin1234"))

	users, err := f.svc.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, model.RoleAdmin, users[0].Role)

	result, err := f.svc.Login(context.Background(), "root@example.com", "Admin1234", RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, model.RoleAdmin, result.User.Role)
}
