package auth

import (
	"context"
	"strings"
)

// CredentialResolver maps a member number to the email used for sign in
type CredentialResolver struct {
	directory MemberDirectory
	logger    Logger
	provider  LoggerProvider
}

// NewCredentialResolver returns a resolver over directory
func NewCredentialResolver(directory MemberDirectory) *CredentialResolver {
	provider, logger := ResolveLogger("auth.resolver", nil, nil)
	return &CredentialResolver{
		directory: directory,
		logger:    logger,
		provider:  provider,
	}
}

func (r *CredentialResolver) WithLogger(l Logger) *CredentialResolver {
	r.provider, r.logger = ResolveLogger("auth.resolver", r.provider, l)
	return r
}

// WithLoggerProvider overrides the logger provider used by the resolver.
func (r *CredentialResolver) WithLoggerProvider(provider LoggerProvider) *CredentialResolver {
	r.provider, r.logger = ResolveLogger("auth.resolver", provider, nil)
	return r
}

// Resolve returns the email for memberNumber. Every miss, including a
// failed lookup, yields ErrInvalidMemberNumber so callers can not tell a
// missing member from an outage.
func (r *CredentialResolver) Resolve(ctx context.Context, memberNumber string) (string, error) {
	email, err := r.directory.FindEmailByMemberNumber(ctx, memberNumber)
	if err != nil {
		r.logger.Debug("member lookup failed", "error", err)
		return "", ErrInvalidMemberNumber
	}

	if strings.TrimSpace(email) == "" {
		return "", ErrInvalidMemberNumber
	}

	return email, nil
}
