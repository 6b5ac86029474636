package embedded_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-member-auth"
	"github.com/goliatone/go-member-auth/provider/embedded"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type httpClient struct {
	t     *testing.T
	app   *fiber.App
	token string
}

func (c *httpClient) do(method, path, body string) (*http.Response, []byte) {
	c.t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if c.token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}

	resp, err := c.app.Test(req, -1)
	require.NoError(c.t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	resp.Body.Close()

	return resp, data
}

func (c *httpClient) login(memberNumber, password string) {
	c.t.Helper()

	resp, body := c.do(http.MethodPost, "/auth/login",
		`{"member_number":"`+memberNumber+`","password":"`+password+`"}`)
	require.Equal(c.t, http.StatusOK, resp.StatusCode, string(body))

	out := struct {
		AccessToken string `json:"access_token"`
	}{}
	require.NoError(c.t, json.Unmarshal(body, &out))
	require.NotEmpty(c.t, out.AccessToken)

	var cookie string
	for _, ck := range resp.Cookies() {
		if ck.Name == auth.SessionCookieName {
			cookie = ck.Value
		}
	}
	assert.Equal(c.t, out.AccessToken, cookie)

	c.token = out.AccessToken
}

func (c *httpClient) me() (int, string) {
	c.t.Helper()

	resp, body := c.do(http.MethodGet, "/auth/me", "")
	out := struct {
		MemberNumber string `json:"member_number"`
	}{}
	_ = json.Unmarshal(body, &out)
	return resp.StatusCode, out.MemberNumber
}

func (c *httpClient) session() auth.PortalState {
	c.t.Helper()

	resp, body := c.do(http.MethodGet, "/auth/session", "")
	require.Equal(c.t, http.StatusOK, resp.StatusCode)

	state := auth.PortalState{}
	require.NoError(c.t, json.Unmarshal(body, &state))
	return state
}

func TestClientPortals_IsolateClients(t *testing.T) {
	backend, db := setupBackend(t)

	_, err := backend.UpsertMember(context.Background(), embedded.MemberFixture{
		MemberNumber: "TM10004",
		Email:        "bob@example.org",
		Password:     "battery-staple",
		FirstName:    "Bob",
	})
	require.NoError(t, err)

	portals := auth.NewClientPortals(func() (auth.ClientBackend, error) {
		b, err := embedded.New(auth.NewRepositoryManager(db), embedded.DefaultConfig(testSigningKey))
		if err != nil {
			return nil, err
		}
		return b, nil
	}, auth.Settings{})
	t.Cleanup(portals.Wait)

	app := fiber.New()
	auth.RegisterAuthRoutes(app.Group("/auth"), portals, auth.WithResetCompleter(backend))

	alice := &httpClient{t: t, app: app}
	bob := &httpClient{t: t, app: app}
	anonymous := &httpClient{t: t, app: app}

	alice.login("TM10003", "correct-horse")

	status, _ := anonymous.me()
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, anonymous.session().IsAuthenticated)

	status, member := alice.me()
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "TM10003", member)

	bob.login("TM10004", "battery-staple")

	status, member = bob.me()
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "TM10004", member)

	status, member = alice.me()
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "TM10003", member)

	state := alice.session()
	assert.True(t, state.IsAuthenticated)
	assert.Equal(t, "TM10003", state.MemberNumber)

	resp, _ := anonymous.do(http.MethodPost, "/auth/logout", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, _ = alice.me()
	assert.Equal(t, http.StatusOK, status, "anonymous logout must not end other sessions")

	resp, _ = alice.do(http.MethodPost, "/auth/logout", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, _ = alice.me()
	assert.Equal(t, http.StatusUnauthorized, status, "token is revoked after logout")
	assert.False(t, alice.session().IsAuthenticated)

	status, member = bob.me()
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "TM10004", member)
}

func TestClientPortals_RejectsForgedToken(t *testing.T) {
	_, db := setupBackend(t)

	portals := auth.NewClientPortals(func() (auth.ClientBackend, error) {
		b, err := embedded.New(auth.NewRepositoryManager(db), embedded.DefaultConfig(testSigningKey))
		if err != nil {
			return nil, err
		}
		return b, nil
	}, auth.Settings{})
	t.Cleanup(portals.Wait)

	_, err := portals.Open(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, auth.ErrNoSession)

	portal, err := portals.Open(context.Background(), "")
	require.NoError(t, err)
	defer portal.Close()

	assert.False(t, portal.Snapshot().IsAuthenticated)
	assert.Nil(t, portal.CurrentSession(context.Background()))
}
