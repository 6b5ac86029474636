package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-member-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestUserContext(t *testing.T) {
	tests := []struct {
		name     string
		setupCtx func() context.Context
		wantID   string
		wantOK   bool
	}{
		{
			name: "should return user when present in context",
			setupCtx: func() context.Context {
				return auth.WithContext(context.Background(), &auth.User{ID: "u1"})
			},
			wantID: "u1",
			wantOK: true,
		},
		{
			name: "should return false when no user in context",
			setupCtx: func() context.Context {
				return context.Background()
			},
		},
		{
			name: "should return false for a nil user",
			setupCtx: func() context.Context {
				return auth.WithContext(context.Background(), nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, ok := auth.FromContext(tt.setupCtx())
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantID, user.ID)
			}
		})
	}
}

func TestRequireAuthentication(t *testing.T) {
	signedIn := auth.PortalState{
		IsAuthenticated: true,
		MemberNumber:    "TM10003",
		User:            memberSession("u1", "alice@example.org", map[string]any{"member_number": "TM10003"}).User,
	}

	newDashboard := func(source auth.PortalSource) *fiber.App {
		app := fiber.New()
		app.Get("/dashboard", auth.RequireAuthentication(source), func(c *fiber.Ctx) error {
			user, ok := auth.FromContext(c.UserContext())
			local, _ := c.Locals(auth.LocalsUserKey).(*auth.User)
			if !ok || user != local {
				return c.SendStatus(fiber.StatusTeapot)
			}
			return c.SendString(user.Email)
		})
		return app
	}

	t.Run("bearer token", func(t *testing.T) {
		portal := new(MockPortal)
		portal.On("Snapshot").Return(signedIn)

		source := new(MockPortalSource)
		source.On("Open", mock.Anything, "tok-1").Return(portal, nil).Once()

		resp, body := doBearer(t, newDashboard(source), http.MethodGet, "/dashboard", "tok-1")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "alice@example.org", string(body))
		assert.Equal(t, int32(1), portal.closed.Load())
	})

	t.Run("session cookie", func(t *testing.T) {
		portal := new(MockPortal)
		portal.On("Snapshot").Return(signedIn)

		source := new(MockPortalSource)
		source.On("Open", mock.Anything, "tok-1").Return(portal, nil).Once()

		req := newJSONRequest(http.MethodGet, "/dashboard", "")
		req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "tok-1"})
		resp, body := doRequest(t, newDashboard(source), req)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "alice@example.org", string(body))
	})

	tests := []struct {
		name       string
		token      string
		setup      func(source *MockPortalSource)
		wantStatus int
	}{
		{
			name:       "no credential",
			setup:      func(source *MockPortalSource) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:  "rejected token",
			token: "revoked",
			setup: func(source *MockPortalSource) {
				source.On("Open", mock.Anything, "revoked").Return(nil, auth.ErrNoSession).Once()
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:  "signed out portal",
			token: "tok-2",
			setup: func(source *MockPortalSource) {
				portal := new(MockPortal)
				portal.On("Snapshot").Return(auth.PortalState{})
				source.On("Open", mock.Anything, "tok-2").Return(portal, nil).Once()
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:  "backend failure",
			token: "tok-3",
			setup: func(source *MockPortalSource) {
				source.On("Open", mock.Anything, "tok-3").Return(nil, errors.New("database is closed")).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := new(MockPortalSource)
			tt.setup(source)

			req := newJSONRequest(http.MethodGet, "/dashboard", "")
			if tt.token != "" {
				req.Header.Set(fiber.HeaderAuthorization, "Bearer "+tt.token)
			}
			resp, body := doRequest(t, newDashboard(source), req)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus == http.StatusUnauthorized {
				envelope := errorEnvelope{}
				require.NoError(t, json.Unmarshal(body, &envelope))
				require.NotNil(t, envelope.Error)
				assert.Equal(t, "NO_SESSION", envelope.Error.Code)
			}
			source.AssertExpectations(t)
		})
	}
}

func TestAuthController_Me(t *testing.T) {
	portal := new(MockPortal)
	portal.On("Snapshot").Return(auth.PortalState{
		IsAuthenticated: true,
		MemberNumber:    "TM10003",
		User:            memberSession("u1", "alice@example.org", map[string]any{"member_number": "TM10003"}).User,
	}).Once()

	source := new(MockPortalSource)
	source.On("Open", mock.Anything, "tok-1").Return(portal, nil).Once()
	source.On("Open", mock.Anything, "tok-2").Return(nil, auth.ErrNoSession).Once()

	app := newSourceApp(source)

	resp, body := doBearer(t, app, http.MethodGet, "/auth/me", "tok-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := struct {
		User         auth.User `json:"user"`
		MemberNumber string    `json:"member_number"`
	}{}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "u1", out.User.ID)
	assert.Equal(t, "TM10003", out.MemberNumber)

	resp, _ = doBearer(t, app, http.MethodGet, "/auth/me", "tok-2")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	portal.AssertExpectations(t)
	source.AssertExpectations(t)
}
