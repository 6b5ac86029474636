package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Logger is the logging surface used across the package
type Logger interface {
	Trace(format string, args ...any)
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	Fatal(format string, args ...any)
	WithContext(ctx context.Context) Logger
}

// LoggerProvider hands out named loggers
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// AuthEvent is the kind of change emitted by the backend auth stream
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// AuthStateListener receives every auth state change. session is nil when
// there is no active session.
type AuthStateListener func(event AuthEvent, session *Session)

// AuthClient is the backend authentication surface
type AuthClient interface {
	// OnAuthStateChange registers listener and returns the unsubscribe handle
	OnAuthStateChange(listener AuthStateListener) (unsubscribe func())
	// GetSession returns the current session or nil
	GetSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	// UpdateUser merges data into the current user's metadata
	UpdateUser(ctx context.Context, data map[string]any) (*User, error)
}

// RPCClient calls named remote procedures
type RPCClient interface {
	Call(ctx context.Context, name string, params map[string]any) (json.RawMessage, error)
}

// MemberDirectory answers the member_number to email lookup
type MemberDirectory interface {
	FindEmailByMemberNumber(ctx context.Context, memberNumber string) (string, error)
}

// EmailLogWriter records outbound email intents
type EmailLogWriter interface {
	InsertEmailLog(ctx context.Context, entry *EmailLog) error
}

// Backend is everything the bridge consumes from the hosted service
type Backend interface {
	AuthClient
	RPCClient
	MemberDirectory
	EmailLogWriter
}

// Navigator moves the UI to a route, used after logout
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a function to Navigator
type NavigatorFunc func(route string)

func (f NavigatorFunc) Navigate(route string) {
	if f != nil {
		f(route)
	}
}

type noopNavigator struct{}

func (noopNavigator) Navigate(string) {}

// ResolveLogger returns the provider and a logger named name. An explicit
// logger wins over the provider.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider == nil {
		provider = defLoggerProvider{}
	}

	if logger != nil {
		return provider, logger
	}

	if l := provider.GetLogger(name); l != nil {
		return provider, l
	}

	return provider, defLogger{name: name}
}

type defLoggerProvider struct{}

func (defLoggerProvider) GetLogger(name string) Logger {
	return defLogger{name: name}
}

type defLogger struct {
	name string
}

func (d defLogger) Trace(format string, args ...any) {}

func (d defLogger) Debug(format string, args ...any) {
	d.print("DBG", format, args...)
}

func (d defLogger) Info(format string, args ...any) {
	d.print("INF", format, args...)
}

func (d defLogger) Warn(format string, args ...any) {
	d.print("WRN", format, args...)
}

func (d defLogger) Error(format string, args ...any) {
	d.print("ERR", format, args...)
}

func (d defLogger) Fatal(format string, args ...any) {
	d.print("FTL", format, args...)
}

func (d defLogger) WithContext(context.Context) Logger {
	return d
}

func (d defLogger) print(level, format string, args ...any) {
	prefix := "[" + level + "] AUTH "
	if d.name != "" {
		prefix += d.name + " "
	}
	fmt.Print(prefix + newline(formatMessage(format, args...)))
}

// formatMessage applies printf verbs, or joins key/value pairs as k=v when
// format has none.
func formatMessage(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}

	if strings.Contains(format, "%") {
		return fmt.Sprintf(format, args...)
	}

	var sb strings.Builder
	sb.WriteString(format)
	for i := 0; i < len(args); i += 2 {
		sb.WriteByte(' ')
		if i+1 == len(args) {
			fmt.Fprint(&sb, args[i])
			break
		}
		fmt.Fprintf(&sb, "%v=%v", args[i], args[i+1])
	}
	return sb.String()
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
