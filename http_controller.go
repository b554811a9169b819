package auth

import (
	"errors"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

const (
	// ActingUserKey is the locals key holding the ActingUser of a request
	ActingUserKey    = "auth_acting_user"
	// RefreshClaimsKey is the locals key holding verified RefreshClaims
	RefreshClaimsKey = "auth_refresh_claims"

	headerAuthorization = "Authorization"

	textCodeValidation = "VALIDATION_ERROR"
	textCodeInternal   = "INTERNAL_ERROR"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPRoutes holds the controller paths
type HTTPRoutes struct {
	Login           string
	Register        string
	ConfirmEmail    string
	ConfirmNewEmail string
	ForgotPassword  string
	ResetPassword   string
	Refresh         string
	Logout          string
	Me              string
}

// HTTPController exposes AuthService as JSON endpoints.
type HTTPController struct {
	Debug   bool
	Logger  Logger
	Service *AuthService
	Routes  *HTTPRoutes
}

// HTTPControllerOption configures an HTTPController
type HTTPControllerOption func(*HTTPController) *HTTPController

// WithControllerLogger sets the controller logger.
func WithControllerLogger(logger Logger) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

// WithControllerDebug dumps responses to the debug log.
func WithControllerDebug(debug bool) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Debug = debug
		return c
	}
}

// WithControllerRoutes overrides the default paths.
func WithControllerRoutes(routes *HTTPRoutes) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

// NewHTTPController creates a new HTTPController instance
func NewHTTPController(service *AuthService, opts ...HTTPControllerOption) *HTTPController {
	c := &HTTPController{
		Logger:  defaultLogger(),
		Service: service,
		Routes: &HTTPRoutes{
			Login:           "/auth/email/login",
			Register:        "/auth/email/register",
			ConfirmEmail:    "/auth/email/confirm",
			ConfirmNewEmail: "/auth/email/confirm/new",
			ForgotPassword:  "/auth/forgot/password",
			ResetPassword:   "/auth/reset/password",
			Refresh:         "/auth/refresh",
			Logout:          "/auth/logout",
			Me:              "/auth/me",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Service == nil {
		panic("Missing AuthService in auth HTTP controller...")
	}

	return c
}

// RegisterRoutes registers the auth routes.
func (c *HTTPController) RegisterRoutes(app RouteRegistrar) {
	app.Post(c.Routes.Login, c.Login).SetName("auth.login")
	app.Post(c.Routes.Register, c.Register).SetName("auth.register")
	app.Post(c.Routes.ConfirmEmail, c.ConfirmEmail).SetName("auth.confirm-email")
	app.Post(c.Routes.ConfirmNewEmail, c.ConfirmNewEmail).SetName("auth.confirm-new-email")
	app.Post(c.Routes.ForgotPassword, c.ForgotPassword).SetName("auth.forgot-password")
	app.Post(c.Routes.ResetPassword, c.ResetPassword).SetName("auth.reset-password")
	app.Post(c.Routes.Refresh, c.Refresh, c.RequireRefresh()).SetName("auth.refresh")
	app.Post(c.Routes.Logout, c.Logout, c.RequireAccess()).SetName("auth.logout")
	app.Get(c.Routes.Me, c.Me, c.RequireAccess()).SetName("auth.me.get")
	app.Post(c.Routes.Me, c.Update, c.RequireAccess()).SetName("auth.me.update")
	app.Delete(c.Routes.Me, c.Delete, c.RequireAccess()).SetName("auth.me.delete")
}

// RequireAccess resolves the bearer access token into an ActingUser
// stored under ActingUserKey.
func (c *HTTPController) RequireAccess() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			raw, ok := bearerToken(ctx.GetString(headerAuthorization, ""))
			if !ok {
				return c.renderError(ctx, ErrUnauthorized)
			}

			acting, err := c.Service.Authenticate(ctx.Context(), raw)
			if err != nil {
				return c.renderError(ctx, err)
			}

			ctx.Locals(ActingUserKey, acting)
			return next(ctx)
		}
	}
}

// RequireRefresh verifies the bearer refresh token and stores its claims
// under RefreshClaimsKey.
func (c *HTTPController) RequireRefresh() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			raw, ok := bearerToken(ctx.GetString(headerAuthorization, ""))
			if !ok {
				return c.renderError(ctx, ErrUnauthorized)
			}

			claims, err := c.Service.Sessions().VerifyRefresh(raw)
			if err != nil {
				return c.renderError(ctx, err)
			}

			ctx.Locals(RefreshClaimsKey, claims)
			return next(ctx)
		}
	}
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (c *HTTPController) Login(ctx router.Context) error {
	payload := new(LoginRequest)
	if ok, err := c.bind(ctx, payload); !ok {
		return err
	}

	res, err := c.Service.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, res)
}

// RegisterRequest payload
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	PhotoID   string `json:"photo_id"`
}

// Validate will run validation rules
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
	)
}

func (c *HTTPController) Register(ctx router.Context) error {
	payload := new(RegisterRequest)
	if ok, err := c.bind(ctx, payload); !ok {
		return err
	}

	user, err := c.Service.Register(ctx.Context(), Profile{
		Email:     payload.Email,
		Password:  payload.Password,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		PhotoID:   payload.PhotoID,
	})
	if err != nil {
		return c.renderError(ctx, err)
	}

	if c.Debug {
		c.Logger.Debug("auth registered user", "user", print.MaybePrettyJSON(user))
	}

	return ctx.NoContent(http.StatusNoContent)
}

// HashRequest carries a signed confirmation hash
type HashRequest struct {
	Hash string `json:"hash"`
}

// Validate will run validation rules
func (r HashRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Hash, validation.Required),
	)
}

func (c *HTTPController) ConfirmEmail(ctx router.Context) error {
	payload := new(HashRequest)
	if ok, err := c.bind(ctx, payload); !ok {
		return err
	}

	if err := c.Service.ConfirmEmail(ctx.Context(), payload.Hash); err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

func (c *HTTPController) ConfirmNewEmail(ctx router.Context) error {
	payload := new(HashRequest)
	if ok, err := c.bind(ctx, payload); !ok {
		return err
	}

	if err := c.Service.ConfirmNewEmail(ctx.Context(), payload.Hash); err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

// ForgotPasswordRequest payload
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// Validate will run validation rules
func (r ForgotPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (c *HTTPController) ForgotPassword(ctx router.Context) error {
	payload := new(ForgotPasswordRequest)
	if ok, err := c.bind(ctx, payload); !ok {
		return err
	}

	if err := c.Service.ForgotPassword(ctx.Context(), payload.Email); err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

// ResetPasswordRequest payload
type ResetPasswordRequest struct {
	Hash     string `json:"hash"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Hash, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
	)
}

func (c *HTTPController) ResetPassword(ctx router.Context) error {
	payload := new(ResetPasswordRequest)
	if ok, err := c.bind(ctx, payload); !ok {
		return err
	}

	if err := c.Service.ResetPassword(ctx.Context(), payload.Hash, payload.Password); err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

func (c *HTTPController) Refresh(ctx router.Context) error {
	claims, ok := ctx.Locals(RefreshClaimsKey).(*RefreshClaims)
	if !ok || claims == nil {
		return c.renderError(ctx, ErrUnauthorized)
	}

	res, err := c.Service.Refresh(ctx.Context(), claims.SessionID, claims.Hash)
	if err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, res)
}

func (c *HTTPController) Logout(ctx router.Context) error {
	acting, ok := actingUser(ctx)
	if !ok {
		return c.renderError(ctx, ErrUnauthorized)
	}

	if err := c.Service.Logout(ctx.Context(), acting.SessionID); err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

func (c *HTTPController) Me(ctx router.Context) error {
	acting, ok := actingUser(ctx)
	if !ok {
		return c.renderError(ctx, ErrUnauthorized)
	}

	user, err := c.Service.Me(ctx.Context(), acting)
	if err != nil {
		return c.renderError(ctx, err)
	}

	if c.Debug {
		c.Logger.Debug("auth me", "user", print.MaybePrettyJSON(user))
	}

	return ctx.JSON(http.StatusOK, user)
}

// UpdateProfileRequest payload, omitted fields are left untouched
type UpdateProfileRequest struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	Email       *string `json:"email"`
	Password    *string `json:"password"`
	OldPassword *string `json:"old_password"`
	PhotoID     *string `json:"photo_id"`
}

// Validate will run validation rules
func (r UpdateProfileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.NilOrNotEmpty),
		validation.Field(&r.LastName, validation.NilOrNotEmpty),
		validation.Field(&r.Email, validation.NilOrNotEmpty, is.Email),
		validation.Field(&r.Password, validation.NilOrNotEmpty, validation.Length(6, 100)),
		validation.Field(&r.OldPassword, validation.NilOrNotEmpty),
	)
}

func (c *HTTPController) Update(ctx router.Context) error {
	acting, ok := actingUser(ctx)
	if !ok {
		return c.renderError(ctx, ErrUnauthorized)
	}

	payload := new(UpdateProfileRequest)
	if ok, err := c.bind(ctx, payload); !ok {
		return err
	}

	user, err := c.Service.Update(ctx.Context(), acting, ProfilePatch{
		FirstName:   payload.FirstName,
		LastName:    payload.LastName,
		Email:       payload.Email,
		Password:    payload.Password,
		OldPassword: payload.OldPassword,
		PhotoID:     payload.PhotoID,
	})
	if err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, user)
}

func (c *HTTPController) Delete(ctx router.Context) error {
	acting, ok := actingUser(ctx)
	if !ok {
		return c.renderError(ctx, ErrUnauthorized)
	}

	if err := c.Service.SoftDelete(ctx.Context(), acting); err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

type validatable interface {
	Validate() error
}

// bind decodes and validates the payload. When it reports false the
// error response was already written and err is the result of the write.
func (c *HTTPController) bind(ctx router.Context, payload validatable) (bool, error) {
	if err := ctx.Bind(payload); err != nil {
		c.Logger.Warn("auth parse payload error", "error", err)
		return false, ctx.JSON(http.StatusBadRequest, map[string]any{
			"status": http.StatusBadRequest,
			"code":   textCodeValidation,
			"errors": map[string]string{"body": "invalidPayload"},
		})
	}

	if err := payload.Validate(); err != nil {
		return false, ctx.JSON(http.StatusUnprocessableEntity, map[string]any{
			"status": http.StatusUnprocessableEntity,
			"code":   textCodeValidation,
			"errors": ValidationErrorsToMap(err),
		})
	}

	return true, nil
}

func (c *HTTPController) renderError(ctx router.Context, err error) error {
	status := HTTPStatus(err)

	body := map[string]any{
		"status": status,
		"code":   ErrorKind(err),
	}

	switch {
	case status >= http.StatusInternalServerError:
		c.Logger.Error("auth request failed", "error", err)
		body["code"] = textCodeInternal
	case status == http.StatusUnauthorized:
		// all 401s share one wire code, the kind is only logged
		c.Logger.Debug("auth request unauthorized", "kind", ErrorKind(err))
		body["code"] = TextCodeUnauthorized
	default:
		if fields := errorFields(err); fields != nil {
			body["errors"] = fields
		}
	}

	return ctx.JSON(status, body)
}

// ValidationErrorsToMap flattens ozzo validation errors into field/message
// pairs.
func ValidationErrorsToMap(err error) map[string]string {
	out := map[string]string{}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	if err != nil {
		out["body"] = err.Error()
	}

	return out
}

func actingUser(ctx router.Context) (ActingUser, bool) {
	acting, ok := ctx.Locals(ActingUserKey).(ActingUser)
	return acting, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}
