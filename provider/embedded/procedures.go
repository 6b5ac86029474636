package embedded

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"encoding/hex"
	"encoding/json"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-member-auth"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrInvalidResetToken unknown, used or mistyped reset token
var ErrInvalidResetToken = goerrors.New("Invalid or expired reset token", goerrors.CategoryBadInput).
	WithTextCode("INVALID_RESET_TOKEN")

// ErrResetTokenExpired reset token is past its lifetime
var ErrResetTokenExpired = goerrors.New("Invalid or expired reset token", goerrors.CategoryBadInput).
	WithTextCode("RESET_TOKEN_EXPIRED")

// Call implements auth.RPCClient for the procedures the portal relies on
func (b *Backend) Call(ctx context.Context, name string, params map[string]any) (json.RawMessage, error) {
	var (
		out any
		err error
	)

	switch name {
	case auth.ProcHandleFailedLogin:
		out, err = b.handleFailedLogin(ctx, stringParam(params, "member_number"))
	case auth.ProcResetFailedLogin:
		out, err = nil, b.repo.Members().ResetFailedLogins(ctx, stringParam(params, "member_number"))
	case auth.ProcGeneratePasswordResetToken:
		out, err = b.generatePasswordResetToken(ctx,
			stringParam(params, "p_member_number"),
			stringParam(params, "p_token_type"),
		)
	default:
		err = fmt.Errorf("function %s does not exist", name)
	}

	if err != nil {
		return nil, auth.NewRemoteProcedureError(name, err)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, auth.NewRemoteProcedureError(name, err)
	}
	return raw, nil
}

func (b *Backend) handleFailedLogin(ctx context.Context, memberNumber string) (map[string]any, error) {
	member, err := b.repo.Members().RecordFailedLogin(ctx, memberNumber, b.config.Lockout)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// unknown members are ignored to avoid leaking existence
			return map[string]any{"locked": false}, nil
		}
		return nil, err
	}

	locked := member.IsLocked(b.now())
	if locked {
		b.logger.Warn("member locked after failed logins", "member_number", memberNumber)
	}

	return map[string]any{
		"attempts": member.FailedLoginAttempts,
		"locked":   locked,
	}, nil
}

func (b *Backend) generatePasswordResetToken(ctx context.Context, memberNumber, tokenType string) (string, error) {
	if tokenType == "" {
		tokenType = auth.TokenTypePasswordReset
	}

	if _, err := b.repo.Members().GetByMemberNumber(ctx, memberNumber); err != nil {
		if repository.IsRecordNotFound(err) {
			return "", auth.ErrInvalidMemberNumber
		}
		return "", err
	}

	token, err := randomToken()
	if err != nil {
		return "", err
	}

	expiresAt := b.now().Add(b.config.ResetTokenTTL)
	record := &auth.PasswordResetToken{
		ID:           uuid.New(),
		MemberNumber: memberNumber,
		Token:        token,
		TokenType:    tokenType,
		ExpiresAt:    &expiresAt,
	}

	if _, err := b.repo.ResetTokens().Create(ctx, record); err != nil {
		return "", err
	}

	return token, nil
}

// CompletePasswordReset consumes a reset token and stores the new password.
// The token is claimed inside the same transaction as the password update,
// so it can be used once. A successful reset also lifts any lockout.
func (b *Backend) CompletePasswordReset(ctx context.Context, token, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid password")
	}

	return b.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &auth.PasswordResetToken{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.token = ?", token).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrInvalidResetToken
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve reset token")
		}

		if record.UsedAt != nil || record.TokenType != auth.TokenTypePasswordReset {
			return ErrInvalidResetToken
		}

		now := b.now()
		if record.ExpiresAt != nil && now.After(*record.ExpiresAt) {
			return ErrResetTokenExpired
		}

		res, err := tx.NewUpdate().
			Model((*auth.PasswordResetToken)(nil)).
			Set("used_at = ?", now).
			Where("id = ?", record.ID).
			Where("used_at IS NULL").
			Exec(ctx)
		if err != nil {
			return err
		}

		if n, _ := res.RowsAffected(); n != 1 {
			return ErrInvalidResetToken
		}

		res, err = tx.NewUpdate().
			Model((*auth.Member)(nil)).
			Set("password_hash = ?", hash).
			Set("failed_login_attempts = 0").
			Set("last_failed_login_at = NULL").
			Set("locked_until = NULL").
			Set("updated_at = ?", now).
			Where("member_number = ?", record.MemberNumber).
			Exec(ctx)
		if err != nil {
			return err
		}

		if n, _ := res.RowsAffected(); n != 1 {
			return ErrInvalidResetToken
		}

		return nil
	})
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
