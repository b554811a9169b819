package auth_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	auth "github.com/goliatone/go-session-auth"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, opts ...auth.Option) (*auth.HTTPController, *fixture) {
	t.Helper()
	f := newFixture(t, opts...)
	return auth.NewHTTPController(f.svc, auth.WithControllerLogger(testLogger{})), f
}

func bindPayload[T any](ctx *router.MockContext, fill func(*T)) {
	ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
		fill(args.Get(0).(*T))
	}).Return(nil)
}

func captureJSON(ctx *router.MockContext, status int) *map[string]any {
	body := map[string]any{}
	ctx.On("JSON", status, mock.Anything).Run(func(args mock.Arguments) {
		if m, ok := args.Get(1).(map[string]any); ok {
			body = m
		}
	}).Return(nil)
	return &body
}

func TestHTTPControllerLogin(t *testing.T) {
	ctrl, f := newTestController(t)
	user := f.seedUser(t, "jane@example.com", "secret-password", auth.StatusActive)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	bindPayload(ctx, func(p *auth.LoginRequest) {
		p.Email = "jane@example.com"
		p.Password = "secret-password"
	})

	var res *auth.LoginResponse
	ctx.On("JSON", http.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		res = args.Get(1).(*auth.LoginResponse)
	}).Return(nil)

	require.NoError(t, ctrl.Login(ctx))
	require.NotNil(t, res)
	assert.Equal(t, user.ID, res.User.ID)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	ctx.AssertExpectations(t)
}

func TestHTTPControllerLoginInvalidCredentials(t *testing.T) {
	ctrl, _ := newTestController(t)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	bindPayload(ctx, func(p *auth.LoginRequest) {
		p.Email = "nobody@example.com"
		p.Password = "secret-password"
	})
	body := captureJSON(ctx, http.StatusUnprocessableEntity)

	require.NoError(t, ctrl.Login(ctx))
	assert.Equal(t, auth.TextCodeInvalidCredentials, (*body)["code"])
	assert.Equal(t, map[string]string{"email": "invalidCredentials"}, (*body)["errors"])
	ctx.AssertExpectations(t)
}

func TestHTTPControllerLoginValidation(t *testing.T) {
	ctrl, _ := newTestController(t)

	ctx := router.NewMockContext()
	bindPayload(ctx, func(p *auth.LoginRequest) {
		p.Email = "not-an-email"
	})
	body := captureJSON(ctx, http.StatusUnprocessableEntity)

	require.NoError(t, ctrl.Login(ctx))

	errs, ok := (*body)["errors"].(map[string]string)
	require.True(t, ok)
	assert.Contains(t, errs, "email")
	assert.Contains(t, errs, "password")
	ctx.AssertExpectations(t)
}

func TestHTTPControllerBindFailure(t *testing.T) {
	ctrl, _ := newTestController(t)

	ctx := router.NewMockContext()
	ctx.On("Bind", mock.Anything).Return(errors.New("unexpected EOF"))
	body := captureJSON(ctx, http.StatusBadRequest)

	require.NoError(t, ctrl.ForgotPassword(ctx))
	assert.Equal(t, http.StatusBadRequest, (*body)["status"])
	ctx.AssertExpectations(t)
}

func TestHTTPControllerRegister(t *testing.T) {
	ctrl, f := newTestController(t)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	bindPayload(ctx, func(p *auth.RegisterRequest) {
		p.Email = "jane@example.com"
		p.Password = "secret-password"
		p.FirstName = "Jane"
		p.LastName = "Doe"
	})
	ctx.On("NoContent", http.StatusNoContent).Return(nil)

	require.NoError(t, ctrl.Register(ctx))
	f.svc.Wait()

	assert.Equal(t, 1, f.mailer.count("confirm"))
	ctx.AssertExpectations(t)
}

func TestHTTPControllerConfirmEmailTwice(t *testing.T) {
	ctrl, f := newTestController(t)
	f.seedUser(t, "jane@example.com", "pw", auth.StatusInactive)
	user, err := f.users.FindByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)

	hash, _, err := f.svc.Tokens().Sign(auth.TokenConfirmEmail, &auth.ConfirmEmailClaims{ConfirmUserID: user.ID})
	require.NoError(t, err)

	first := router.NewMockContext()
	first.On("Context").Return(context.Background())
	bindPayload(first, func(p *auth.HashRequest) { p.Hash = hash })
	first.On("NoContent", http.StatusNoContent).Return(nil)

	require.NoError(t, ctrl.ConfirmEmail(first))
	first.AssertExpectations(t)

	second := router.NewMockContext()
	second.On("Context").Return(context.Background())
	bindPayload(second, func(p *auth.HashRequest) { p.Hash = hash })
	body := captureJSON(second, http.StatusNotFound)

	require.NoError(t, ctrl.ConfirmEmail(second))
	assert.Equal(t, auth.TextCodeConfirmationNotFound, (*body)["code"])
	second.AssertExpectations(t)
}

func TestHTTPControllerRequireAccess(t *testing.T) {
	ctrl, f := newTestController(t)
	user := f.seedUser(t, "jane@example.com", "pw", auth.StatusActive)
	login, _ := f.login(t, "jane@example.com", "pw")

	t.Run("valid token", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.On("Context").Return(context.Background())
		ctx.On("GetString", "Authorization", "").Return("Bearer " + login.AccessToken)
		ctx.On("Locals", auth.ActingUserKey, mock.AnythingOfType("auth.ActingUser")).Return(nil)

		called := false
		next := func(ctx router.Context) error {
			called = true
			return nil
		}

		require.NoError(t, ctrl.RequireAccess()(next)(ctx))
		assert.True(t, called)

		acting, ok := ctx.LocalsMock[auth.ActingUserKey].(auth.ActingUser)
		require.True(t, ok)
		assert.Equal(t, user.ID, acting.UserID)
		ctx.AssertExpectations(t)
	})

	for name, header := range map[string]string{
		"missing header": "",
		"basic scheme":   "Basic abc",
		"refresh token":  "Bearer " + login.RefreshToken,
	} {
		t.Run(name, func(t *testing.T) {
			ctx := router.NewMockContext()
			ctx.On("Context").Return(context.Background()).Maybe()
			ctx.On("GetString", "Authorization", "").Return(header)
			body := captureJSON(ctx, http.StatusUnauthorized)

			next := func(ctx router.Context) error {
				t.Fatal("next must not be called")
				return nil
			}

			require.NoError(t, ctrl.RequireAccess()(next)(ctx))
			assert.Equal(t, auth.TextCodeUnauthorized, (*body)["code"])
		})
	}
}

func TestHTTPControllerRefresh(t *testing.T) {
	ctrl, f := newTestController(t)
	f.seedUser(t, "jane@example.com", "pw", auth.StatusActive)
	login, claims := f.login(t, "jane@example.com", "pw")

	ctx := router.NewMockContext()
	ctx.On("GetString", "Authorization", "").Return("Bearer " + login.RefreshToken)
	ctx.On("Locals", auth.RefreshClaimsKey, mock.AnythingOfType("*auth.RefreshClaims")).Return(nil)

	next := func(router.Context) error { return nil }
	require.NoError(t, ctrl.RequireRefresh()(next)(ctx))

	stored, ok := ctx.LocalsMock[auth.RefreshClaimsKey].(*auth.RefreshClaims)
	require.True(t, ok)
	assert.Equal(t, claims.SessionID, stored.SessionID)

	handler := router.NewMockContext()
	handler.LocalsMock[auth.RefreshClaimsKey] = stored
	handler.On("Context").Return(context.Background())
	handler.On("JSON", http.StatusOK, mock.AnythingOfType("*auth.RefreshResponse")).Return(nil)

	require.NoError(t, ctrl.Refresh(handler))
	handler.AssertExpectations(t)

	replay := router.NewMockContext()
	replay.LocalsMock[auth.RefreshClaimsKey] = stored
	replay.On("Context").Return(context.Background())
	body := captureJSON(replay, http.StatusUnauthorized)

	require.NoError(t, ctrl.Refresh(replay))
	assert.Equal(t, auth.TextCodeUnauthorized, (*body)["code"])
	assert.NotContains(t, *body, "errors")
}

func TestHTTPControllerRefreshFailuresLookAlike(t *testing.T) {
	ctrl, f := newTestController(t)
	f.seedUser(t, "jane@example.com", "pw", auth.StatusActive)
	_, claims := f.login(t, "jane@example.com", "pw")

	refresh := func(claims *auth.RefreshClaims) map[string]any {
		ctx := router.NewMockContext()
		ctx.LocalsMock[auth.RefreshClaimsKey] = claims
		ctx.On("Context").Return(context.Background())
		body := captureJSON(ctx, http.StatusUnauthorized)

		require.NoError(t, ctrl.Refresh(ctx))
		ctx.AssertExpectations(t)
		return *body
	}

	unknownSession := refresh(&auth.RefreshClaims{SessionID: 999, Hash: claims.Hash})
	wrongHash := refresh(&auth.RefreshClaims{SessionID: claims.SessionID, Hash: "not-the-hash"})

	assert.Equal(t, auth.TextCodeUnauthorized, unknownSession["code"])
	assert.Equal(t, unknownSession, wrongHash)
}

func TestHTTPControllerLogoutAndMe(t *testing.T) {
	ctrl, f := newTestController(t)
	user := f.seedUser(t, "jane@example.com", "pw", auth.StatusActive)
	login, _ := f.login(t, "jane@example.com", "pw")

	acting, err := f.svc.Authenticate(context.Background(), login.AccessToken)
	require.NoError(t, err)

	me := router.NewMockContext()
	me.LocalsMock[auth.ActingUserKey] = acting
	me.On("Context").Return(context.Background())

	var got *auth.User
	me.On("JSON", http.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		got = args.Get(1).(*auth.User)
	}).Return(nil)

	require.NoError(t, ctrl.Me(me))
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)

	logout := router.NewMockContext()
	logout.LocalsMock[auth.ActingUserKey] = acting
	logout.On("Context").Return(context.Background())
	logout.On("NoContent", http.StatusNoContent).Return(nil)

	require.NoError(t, ctrl.Logout(logout))
	logout.AssertExpectations(t)
	assert.Equal(t, 0, f.sessions.count(user.ID))
}

func TestHTTPControllerUpdateRequiresOldPassword(t *testing.T) {
	ctrl, f := newTestController(t)
	f.seedUser(t, "jane@example.com", "old-password", auth.StatusActive)
	login, _ := f.login(t, "jane@example.com", "old-password")

	acting, err := f.svc.Authenticate(context.Background(), login.AccessToken)
	require.NoError(t, err)

	ctx := router.NewMockContext()
	ctx.LocalsMock[auth.ActingUserKey] = acting
	ctx.On("Context").Return(context.Background())
	bindPayload(ctx, func(p *auth.UpdateProfileRequest) {
		password := "new-password"
		p.Password = &password
	})
	body := captureJSON(ctx, http.StatusUnprocessableEntity)

	require.NoError(t, ctrl.Update(ctx))
	assert.Equal(t, auth.TextCodeOldPasswordRequired, (*body)["code"])
	ctx.AssertExpectations(t)
}

func TestHTTPControllerHidesInternalErrors(t *testing.T) {
	ctrl, f := newTestController(t)
	f.mailer.err = errors.New("broker unreachable")
	f.seedUser(t, "jane@example.com", "pw", auth.StatusActive)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	bindPayload(ctx, func(p *auth.ForgotPasswordRequest) { p.Email = "jane@example.com" })
	body := captureJSON(ctx, http.StatusInternalServerError)

	require.NoError(t, ctrl.ForgotPassword(ctx))
	assert.Equal(t, "INTERNAL_ERROR", (*body)["code"])
	assert.NotContains(t, *body, "errors")
}

func TestNewHTTPControllerRequiresService(t *testing.T) {
	assert.Panics(t, func() {
		auth.NewHTTPController(nil)
	})
}
