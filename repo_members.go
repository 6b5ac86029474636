package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LockoutPolicy controls the failed login lockout enforced server side
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultLockoutPolicy locks a member for 15 minutes after 5 failures
var DefaultLockoutPolicy = LockoutPolicy{
	MaxAttempts: 5,
	Duration:    15 * time.Minute,
}

type Members interface {
	repository.Repository[*Member]

	GetByMemberNumber(ctx context.Context, memberNumber string) (*Member, error)
	GetByEmail(ctx context.Context, email string) (*Member, error)
	Register(ctx context.Context, member *Member) (*Member, error)

	RecordFailedLogin(ctx context.Context, memberNumber string, policy LockoutPolicy) (*Member, error)
	ResetFailedLogins(ctx context.Context, memberNumber string) error
	MergeMetadata(ctx context.Context, id uuid.UUID, data map[string]any) (*Member, error)
	SetPasswordHash(ctx context.Context, memberNumber, hash string) error
}

type members struct {
	repository.Repository[*Member]
	db  *bun.DB
	now func() time.Time
}

var (
	_ Members                        = (*members)(nil)
	_ repository.Repository[*Member] = (*members)(nil)
)

func NewMembersRepository(db *bun.DB) Members {
	repo := repository.NewRepository[*Member](db, repository.ModelHandlers[*Member]{
		NewRecord: func() *Member { return &Member{} },
		GetID: func(m *Member) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *Member, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
		GetIdentifier: func() string {
			return "member_number"
		},
	})

	return &members{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
}

func (a *members) GetByMemberNumber(ctx context.Context, memberNumber string) (*Member, error) {
	return a.findBy(ctx, "member_number", memberNumber)
}

func (a *members) GetByEmail(ctx context.Context, email string) (*Member, error) {
	return a.findBy(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

// findBy requires exactly one row, ambiguous matches count as not found
func (a *members) findBy(ctx context.Context, column, value string) (*Member, error) {
	records := []*Member{}
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(2).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	if len(records) != 1 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				column:    value,
				"matches": len(records),
			})
	}

	return records[0], nil
}

func (a *members) Register(ctx context.Context, member *Member) (*Member, error) {
	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}
	member.Email = strings.ToLower(strings.TrimSpace(member.Email))
	if member.UserMetadata == nil {
		member.UserMetadata = map[string]any{}
	}
	return a.Repository.Create(ctx, member)
}

// RecordFailedLogin increments the counter in a single statement so
// concurrent failures are all counted. The lockout starts on the attempt
// that reaches policy.MaxAttempts.
func (a *members) RecordFailedLogin(ctx context.Context, memberNumber string, policy LockoutPolicy) (*Member, error) {
	now := a.now()
	member := &Member{}

	q := a.db.NewUpdate().
		Model(member).
		Set("failed_login_attempts = failed_login_attempts + 1").
		Set("last_failed_login_at = ?", now)

	if policy.MaxAttempts > 0 {
		q = q.Set("locked_until = CASE WHEN failed_login_attempts + 1 >= ? THEN ? ELSE locked_until END",
			policy.MaxAttempts, now.Add(policy.Duration))
	}

	res, err := q.
		Where("member_number = ?", memberNumber).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"member_number": memberNumber})
		}
		return nil, err
	}

	if n, _ := res.RowsAffected(); n == 0 || member.ID == uuid.Nil {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"member_number": memberNumber})
	}

	return member, nil
}

func (a *members) ResetFailedLogins(ctx context.Context, memberNumber string) error {
	// NOTE: the ORM skips zero values, reset with a raw statement
	_, err := a.db.NewRaw(`
		UPDATE "members"
		SET
			"failed_login_attempts" = 0,
			"last_failed_login_at" = NULL,
			"locked_until" = NULL
		WHERE
			"member_number" = ?;
	`, memberNumber).Exec(ctx)

	return err
}

func (a *members) MergeMetadata(ctx context.Context, id uuid.UUID, data map[string]any) (*Member, error) {
	member := &Member{}
	if err := a.db.NewSelect().Model(member).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, err
	}

	if member.UserMetadata == nil {
		member.UserMetadata = map[string]any{}
	}
	for k, v := range data {
		member.UserMetadata[k] = v
	}

	now := a.now()
	member.UpdatedAt = &now

	_, err := a.db.NewUpdate().
		Model(member).
		Column("user_metadata", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return member, nil
}

func (a *members) SetPasswordHash(ctx context.Context, memberNumber, hash string) error {
	res, err := a.db.NewUpdate().
		Model((*Member)(nil)).
		Set("password_hash = ?", hash).
		Set("updated_at = ?", a.now()).
		Where("member_number = ?", memberNumber).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{"member_number": memberNumber})
	}

	return nil
}
