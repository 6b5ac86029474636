package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// ResetPasswordPath is the portal route that consumes reset tokens
const ResetPasswordPath = "/reset-password"

type RequestPasswordResetMessage struct {
	MemberNumber string `json:"member_number" example:"TM10003" doc:"Member number."`
	// Origin overrides the configured origin used to build the reset URL
	Origin     string `json:"origin,omitempty" example:"https://portal.example.org" doc:"Portal origin."`
	OnResponse func(resp *RequestPasswordResetResponse)
}

func (p RequestPasswordResetMessage) Type() string { return "member.password_reset.request" }

type RequestPasswordResetResponse struct {
	EmailLog *EmailLog
	Success  bool
}

// RequestPasswordResetHandler generates a reset token and records the
// outbound email intent. It never sends email itself.
type RequestPasswordResetHandler struct {
	resolver     *CredentialResolver
	rpc          RPCClient
	emails       EmailLogWriter
	origin       string
	timeout      time.Duration
	activitySink ActivitySink
	logger       Logger
	provider     LoggerProvider
}

// NewRequestPasswordResetHandler builds the handler. origin is the portal
// base URL embedded in reset links.
func NewRequestPasswordResetHandler(resolver *CredentialResolver, rpc RPCClient, emails EmailLogWriter, origin string) *RequestPasswordResetHandler {
	provider, logger := ResolveLogger("auth.password_reset", nil, nil)
	return &RequestPasswordResetHandler{
		resolver:     resolver,
		rpc:          rpc,
		emails:       emails,
		origin:       origin,
		timeout:      DefaultRPCTimeout,
		activitySink: noopActivitySink{},
		logger:       logger,
		provider:     provider,
	}
}

func (h *RequestPasswordResetHandler) WithLogger(l Logger) *RequestPasswordResetHandler {
	h.provider, h.logger = ResolveLogger("auth.password_reset", h.provider, l)
	return h
}

// WithLoggerProvider overrides the logger provider used by the handler.
func (h *RequestPasswordResetHandler) WithLoggerProvider(provider LoggerProvider) *RequestPasswordResetHandler {
	h.provider, h.logger = ResolveLogger("auth.password_reset", provider, nil)
	return h
}

// WithActivitySink configures an ActivitySink for reset requests.
func (h *RequestPasswordResetHandler) WithActivitySink(sink ActivitySink) *RequestPasswordResetHandler {
	h.activitySink = normalizeActivitySink(sink)
	return h
}

// WithTimeout bounds the whole request
func (h *RequestPasswordResetHandler) WithTimeout(d time.Duration) *RequestPasswordResetHandler {
	if d > 0 {
		h.timeout = d
	}
	return h
}

func (h *RequestPasswordResetHandler) Execute(ctx context.Context, event RequestPasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset request",
		)
	default:
		return h.execute(ctx, event)
	}
}

// Request runs the flow and folds the outcome into a Result
func (h *RequestPasswordResetHandler) Request(ctx context.Context, memberNumber string) Result {
	return resultOf(h.Execute(ctx, RequestPasswordResetMessage{MemberNumber: memberNumber}))
}

func (h *RequestPasswordResetHandler) execute(ctx context.Context, event RequestPasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	email, err := h.resolver.Resolve(ctx, event.MemberNumber)
	if err != nil {
		return err
	}

	raw, err := h.rpc.Call(ctx, ProcGeneratePasswordResetToken, map[string]any{
		"p_member_number": event.MemberNumber,
		"p_token_type":    TokenTypePasswordReset,
	})
	if err != nil {
		h.logger.Warn("password reset token generation failed", "error", err)
		return err
	}

	token, err := decodeToken(raw)
	if err != nil {
		return NewRemoteProcedureError(ProcGeneratePasswordResetToken, err)
	}

	origin := event.Origin
	if origin == "" {
		origin = h.origin
	}

	entry := &EmailLog{
		RecipientEmail: email,
		Subject:        PasswordResetSubject,
		EmailType:      EmailTypePasswordReset,
		MemberNumber:   event.MemberNumber,
		Status:         EmailStatusPending,
		Metadata: map[string]any{
			"token":     token,
			"reset_url": BuildResetURL(origin, token),
		},
	}

	if err := h.emails.InsertEmailLog(ctx, entry); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record password reset email")
	}

	h.emitResetRequested(ctx, event.MemberNumber)

	if event.OnResponse != nil {
		event.OnResponse(&RequestPasswordResetResponse{
			EmailLog: entry,
			Success:  true,
		})
	}

	return nil
}

func (h *RequestPasswordResetHandler) emitResetRequested(ctx context.Context, memberNumber string) {
	event := ActivityEvent{
		EventType:    ActivityEventPasswordResetRequested,
		Actor:        ActorRef{Type: "member"},
		MemberNumber: memberNumber,
		Metadata:     map[string]any{},
		OccurredAt:   time.Now(),
	}
	if err := normalizeActivitySink(h.activitySink).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink record error: %v", err)
	}
}

// BuildResetURL returns <origin>/reset-password?token=<token>
func BuildResetURL(origin, token string) string {
	origin = strings.TrimRight(origin, "/")
	return origin + ResetPasswordPath + "?token=" + url.QueryEscape(token)
}

// decodeToken accepts either a JSON string or a bare token
func decodeToken(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", goerrors.New("empty password reset token", goerrors.CategoryOperation)
	}

	if raw[0] == '"' {
		var token string
		if err := json.Unmarshal(raw, &token); err != nil {
			return "", err
		}
		if token == "" {
			return "", goerrors.New("empty password reset token", goerrors.CategoryOperation)
		}
		return token, nil
	}

	return string(raw), nil
}

func resultOf(err error) Result {
	if err == nil {
		return Result{}
	}
	return failed(err)
}
