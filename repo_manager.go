package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	DB() *bun.DB
	Members() Members
	EmailLogs() repository.Repository[*EmailLog]
	ResetTokens() repository.Repository[*PasswordResetToken]
}

func NewEmailLogsRepository(db *bun.DB) repository.Repository[*EmailLog] {
	handlers := repository.ModelHandlers[*EmailLog]{
		NewRecord: func() *EmailLog {
			return &EmailLog{}
		},
		GetID: func(record *EmailLog) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *EmailLog, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "recipient_email"
		},
	}
	return repository.NewRepository(db, handlers)
}

func NewResetTokensRepository(db *bun.DB) repository.Repository[*PasswordResetToken] {
	handlers := repository.ModelHandlers[*PasswordResetToken]{
		NewRecord: func() *PasswordResetToken {
			return &PasswordResetToken{}
		},
		GetID: func(record *PasswordResetToken) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *PasswordResetToken, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "token"
		},
	}
	return repository.NewRepository(db, handlers)
}

type mngr struct {
	db          *bun.DB
	members     Members
	emailLogs   repository.Repository[*EmailLog]
	resetTokens repository.Repository[*PasswordResetToken]
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:          db,
		members:     NewMembersRepository(db),
		emailLogs:   NewEmailLogsRepository(db),
		resetTokens: NewResetTokensRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.members == nil {
		return errors.New("repository members should be initialized")
	}

	if m.emailLogs == nil {
		return errors.New("repository emailLogs should be initialized")
	}

	if m.resetTokens == nil {
		return errors.New("repository resetTokens should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) DB() *bun.DB {
	return m.db
}

func (m mngr) Members() Members {
	return m.members
}

func (m mngr) EmailLogs() repository.Repository[*EmailLog] {
	return m.emailLogs
}

func (m mngr) ResetTokens() repository.Repository[*PasswordResetToken] {
	return m.resetTokens
}

// CreateSchema creates every table used by the portal if missing
func CreateSchema(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*Member)(nil),
		(*EmailLog)(nil),
		(*PasswordResetToken)(nil),
		(*StoredState)(nil),
		(*RevokedSession)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	return nil
}
