package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// PasswordResetRequestedMessage is returned for every accepted reset
// request, whether or not the member exists past the resolver.
const PasswordResetRequestedMessage = "If your member number is valid, you will receive a password reset email shortly."

// SessionCookieName is the HTTP-only cookie carrying the access token
const SessionCookieName = "portal_session"

// Portal is the UI facing surface of the auth bridge
type Portal interface {
	Login(ctx context.Context, memberNumber, password string) Result
	Logout(ctx context.Context)
	RequestPasswordReset(ctx context.Context, memberNumber string) Result
	Snapshot() PortalState
}

var _ Portal = (*Bridge)(nil)

// PasswordResetCompleter consumes reset tokens, implemented by backends
// that own the member passwords.
type PasswordResetCompleter interface {
	CompletePasswordReset(ctx context.Context, token, password string) error
}

type AuthControllerRoutes struct {
	Login         string
	Logout        string
	Session       string
	Me            string
	PasswordReset string
	ResetPassword string
}

type AuthController struct {
	Portals   PortalSource
	Completer PasswordResetCompleter
	Routes    *AuthControllerRoutes
	Logger    Logger
}

type AuthControllerOption func(*AuthController) *AuthController

// WithResetCompleter enables the reset password route
func WithResetCompleter(c PasswordResetCompleter) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Completer = c
		return ac
	}
}

// WithControllerLogger sets the controller logger
func WithControllerLogger(l Logger) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		_, ac.Logger = ResolveLogger("auth.http", nil, l)
		return ac
	}
}

func NewAuthController(portals PortalSource, opts ...AuthControllerOption) *AuthController {
	_, logger := ResolveLogger("auth.http", nil, nil)
	c := &AuthController{
		Portals: portals,
		Logger:  logger,
		Routes: &AuthControllerRoutes{
			Login:         "/login",
			Logout:        "/logout",
			Session:       "/session",
			Me:            "/me",
			PasswordReset: "/password-reset",
			ResetPassword: "/reset-password",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Portals == nil {
		panic("Missing PortalSource in auth controller...")
	}

	return c
}

// RegisterAuthRoutes builds a controller for portals and mounts it on r
func RegisterAuthRoutes(r fiber.Router, portals PortalSource, opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(portals, opts...)
	controller.Register(r)
	return controller
}

// Register mounts the controller routes on r
func (a *AuthController) Register(r fiber.Router) {
	r.Post(a.Routes.Login, a.LoginPost).Name("sign-in.post")
	r.Post(a.Routes.Logout, a.LogOut).Name("sign-out.post")
	r.Get(a.Routes.Session, a.SessionGet).Name("session.get")
	r.Get(a.Routes.Me, RequireAuthentication(a.Portals), a.MeGet).Name("me.get")
	r.Post(a.Routes.PasswordReset, a.PasswordResetPost).Name("pwd-reset.post")
	if a.Completer != nil {
		r.Post(a.Routes.ResetPassword, a.ResetPasswordPost).Name("pwd-reset-do.post")
	}
}

// LoginRequest payload
type LoginRequest struct {
	MemberNumber string `form:"member_number" json:"member_number"`
	Password     string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MemberNumber, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.Password, validation.Required),
	)
}

// PasswordResetRequestPayload holds values for password reset
type PasswordResetRequestPayload struct {
	MemberNumber string `form:"member_number" json:"member_number"`
}

// Validate will run validation rules
func (r PasswordResetRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MemberNumber, validation.Required, validation.Length(1, 64)),
	)
}

// ResetPasswordPayload finalizes a reset with the emailed token
type ResetPasswordPayload struct {
	Token           string `form:"token" json:"token"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r ResetPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

// ErrorResponse is the JSON error shape returned to the UI
type ErrorResponse struct {
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (a *AuthController) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := c.BodyParser(payload); err != nil {
		return a.badRequest(c, "Failed to parse body", nil)
	}

	if err := payload.Validate(); err != nil {
		return a.badRequest(c, "Invalid payload", FormatValidationErrorToMap(err))
	}

	portal, err := a.Portals.Open(c.UserContext(), "")
	if err != nil {
		return a.resultError(c, failed(err))
	}
	defer portal.Close()

	res := portal.Login(c.UserContext(), payload.MemberNumber, payload.Password)
	if !res.OK() {
		return a.resultError(c, res)
	}

	session := portal.CurrentSession(c.UserContext())
	if session == nil || session.AccessToken == "" {
		return a.resultError(c, failed(ErrNoSession))
	}

	a.setSessionCookie(c, session)

	return c.JSON(fiber.Map{
		"error":        nil,
		"access_token": session.AccessToken,
		"expires_at":   session.ExpiresAt,
		"state":        portal.Snapshot(),
	})
}

// LogOut signs out the session of the presented token. It always clears
// the cookie, an unknown token is not an error.
func (a *AuthController) LogOut(c *fiber.Ctx) error {
	token := AccessTokenFromRequest(c)
	a.clearSessionCookie(c)

	if token == "" {
		return c.JSON(fiber.Map{"error": nil})
	}

	portal, err := a.Portals.Open(c.UserContext(), token)
	if err != nil {
		a.Logger.Debug("logout without valid session", "error", err)
		return c.JSON(fiber.Map{"error": nil})
	}
	defer portal.Close()

	portal.Logout(c.UserContext())
	return c.JSON(fiber.Map{"error": nil})
}

func (a *AuthController) SessionGet(c *fiber.Ctx) error {
	token := AccessTokenFromRequest(c)
	if token == "" {
		return c.JSON(PortalState{})
	}

	portal, err := a.Portals.Open(c.UserContext(), token)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			a.clearSessionCookie(c)
			return c.JSON(PortalState{})
		}
		return a.resultError(c, failed(err))
	}
	defer portal.Close()

	return c.JSON(portal.Snapshot())
}

// MeGet returns the signed in user, behind RequireAuthentication
func (a *AuthController) MeGet(c *fiber.Ctx) error {
	user, ok := FromContext(c.UserContext())
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": ErrorResponse{Message: ErrNoSession.Message, Code: ErrNoSession.TextCode},
		})
	}
	return c.JSON(fiber.Map{
		"user":          user,
		"member_number": user.MemberNumber(),
	})
}

func (a *AuthController) PasswordResetPost(c *fiber.Ctx) error {
	payload := new(PasswordResetRequestPayload)
	if err := c.BodyParser(payload); err != nil {
		return a.badRequest(c, "Failed to parse body", nil)
	}

	if err := payload.Validate(); err != nil {
		return a.badRequest(c, "Invalid payload", FormatValidationErrorToMap(err))
	}

	portal, err := a.Portals.Open(c.UserContext(), "")
	if err != nil {
		return a.resultError(c, failed(err))
	}
	defer portal.Close()

	res := portal.RequestPasswordReset(c.UserContext(), payload.MemberNumber)
	if !res.OK() {
		return a.resultError(c, res)
	}

	return c.JSON(fiber.Map{
		"error":   nil,
		"message": PasswordResetRequestedMessage,
	})
}

func (a *AuthController) ResetPasswordPost(c *fiber.Ctx) error {
	payload := new(ResetPasswordPayload)
	if err := c.BodyParser(payload); err != nil {
		return a.badRequest(c, "Failed to parse body", nil)
	}

	if err := payload.Validate(); err != nil {
		return a.badRequest(c, "Invalid payload", FormatValidationErrorToMap(err))
	}

	if err := a.Completer.CompletePasswordReset(c.UserContext(), payload.Token, payload.Password); err != nil {
		return a.resultError(c, failed(err))
	}

	return c.JSON(fiber.Map{"error": nil})
}

func (a *AuthController) setSessionCookie(c *fiber.Ctx, session *Session) {
	cookie := &fiber.Cookie{
		Name:     SessionCookieName,
		Value:    session.AccessToken,
		Path:     "/",
		HTTPOnly: true,
		Secure:   c.Protocol() == "https",
		SameSite: fiber.CookieSameSiteLaxMode,
	}
	if session.ExpiresAt != nil {
		cookie.Expires = *session.ExpiresAt
	}
	c.Cookie(cookie)
}

func (a *AuthController) clearSessionCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HTTPOnly: true,
		Secure:   c.Protocol() == "https",
		SameSite: fiber.CookieSameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// AccessTokenFromRequest returns the bearer token of the Authorization
// header, falling back to the session cookie.
func AccessTokenFromRequest(c *fiber.Ctx) string {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(c.Cookies(SessionCookieName))
}

func (a *AuthController) badRequest(c *fiber.Ctx, message string, fields map[string]string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": ErrorResponse{Message: message, Fields: fields},
	})
}

func (a *AuthController) resultError(c *fiber.Ctx, res Result) error {
	status := fiber.StatusInternalServerError
	resp := ErrorResponse{Message: res.Message()}

	var richErr *goerrors.Error
	if goerrors.As(res.Err, &richErr) {
		resp.Code = richErr.TextCode
		switch richErr.Category {
		case goerrors.CategoryBadInput:
			status = fiber.StatusBadRequest
		case goerrors.CategoryAuth:
			status = fiber.StatusUnauthorized
		case goerrors.CategoryOperation:
			status = fiber.StatusBadGateway
		}
	}

	if status == fiber.StatusInternalServerError {
		a.Logger.Error("portal request failed", "path", c.Path(), "error", res.Err)
	}

	return c.Status(status).JSON(fiber.Map{"error": resp})
}

// FormatValidationErrorToMap flattens ozzo validation errors by field
func FormatValidationErrorToMap(err error) map[string]string {
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
		out["form"] = err.Error()
	}
	return out
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}
