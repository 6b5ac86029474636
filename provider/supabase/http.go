package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// apiError is the union of GoTrue and PostgREST error bodies
type apiError struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Details          string `json:"details"`
	Hint             string `json:"hint"`
}

func (e apiError) message() string {
	for _, m := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if m != "" {
			return m
		}
	}
	return ""
}

type request struct {
	method  string
	path    string
	query   string
	body    any
	bearer  string
	headers map[string]string
}

type response struct {
	status int
	body   []byte
}

func (c *Client) do(ctx context.Context, r request) (*response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	url := c.config.URL + r.path
	if r.query != "" {
		url += "?" + r.query
	}

	var agent *fiber.Agent
	switch r.method {
	case http.MethodGet:
		agent = fiber.Get(url)
	case http.MethodPut:
		agent = fiber.Put(url)
	case http.MethodPatch:
		agent = fiber.Patch(url)
	case http.MethodDelete:
		agent = fiber.Delete(url)
	default:
		agent = fiber.Post(url)
	}

	bearer := r.bearer
	if bearer == "" {
		bearer = c.config.AnonKey
	}

	agent.Set("apikey", c.config.AnonKey).
		Set(fiber.HeaderAuthorization, "Bearer "+bearer).
		Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON).
		Timeout(c.timeout(ctx))

	for k, v := range r.headers {
		agent.Set(k, v)
	}

	if r.body != nil {
		agent.JSON(r.body)
	}

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, goerrors.Wrap(errs[0], goerrors.CategoryOperation, "supabase request failed").
			WithMetadata(map[string]any{"path": r.path})
	}

	return &response{status: status, body: body}, nil
}

// timeout derives the agent timeout from the context deadline
func (c *Client) timeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return time.Millisecond
	}
	return c.config.Timeout
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (r *response) decode(target any) error {
	if target == nil || len(r.body) == 0 {
		return nil
	}
	return json.Unmarshal(r.body, target)
}

// apiErr extracts the message of a failed response
func (r *response) apiErr() (apiError, string) {
	e := apiError{}
	_ = json.Unmarshal(r.body, &e)
	msg := e.message()
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", r.status)
	}
	return e, msg
}
