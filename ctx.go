package auth

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
)

var userCtxKey = &contextKey{"user"}

type contextKey struct {
	name string
}

// LocalsUserKey is the fiber locals key RequireAuthentication stores the user under
const LocalsUserKey = "user"

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}

// RequireAuthentication only lets requests through that present the access
// token of an authenticated member, as a bearer token or the session
// cookie. The user is available through FromContext and the "user" local.
func RequireAuthentication(portals PortalSource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := AccessTokenFromRequest(c)
		if token == "" {
			return unauthorized(c)
		}

		portal, err := portals.Open(c.UserContext(), token)
		if err != nil {
			if errors.Is(err, ErrNoSession) {
				return unauthorized(c)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": ErrorResponse{Message: "Failed to resolve session"},
			})
		}
		defer portal.Close()

		state := portal.Snapshot()
		if !state.IsAuthenticated || state.User == nil {
			return unauthorized(c)
		}

		c.Locals(LocalsUserKey, state.User)
		c.SetUserContext(WithContext(c.UserContext(), state.User))
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": ErrorResponse{
			Message: ErrNoSession.Message,
			Code:    ErrNoSession.TextCode,
		},
	})
}
