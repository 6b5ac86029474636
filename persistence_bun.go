package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// BunPersistence stores the auth state as JSON in the auth_storage table
type BunPersistence struct {
	db  bun.IDB
	key string
}

var _ SessionPersistence = (*BunPersistence)(nil)

// NewBunPersistence returns a persistence writing under StorageKey
func NewBunPersistence(db bun.IDB) *BunPersistence {
	return &BunPersistence{db: db, key: StorageKey}
}

// WithKey overrides the storage key, useful when several portals share a db
func (p *BunPersistence) WithKey(key string) *BunPersistence {
	if key != "" {
		p.key = key
	}
	return p
}

// CreateTable creates the backing table if missing
func (p *BunPersistence) CreateTable(ctx context.Context) error {
	_, err := p.db.NewCreateTable().
		Model((*StoredState)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func (p *BunPersistence) Load(ctx context.Context) (AuthState, error) {
	record := &StoredState{}
	err := p.db.NewSelect().
		Model(record).
		Where("?TableAlias.key = ?", p.key).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AuthState{}, nil
		}
		return AuthState{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load auth state")
	}

	state := AuthState{}
	if err := json.Unmarshal([]byte(record.Value), &state); err != nil {
		return AuthState{}, goerrors.Wrap(err, goerrors.CategoryInternal, ErrUnableToParseData.Error()).
			WithMetadata(map[string]any{"key": p.key})
	}

	return state, nil
}

func (p *BunPersistence) Save(ctx context.Context, state AuthState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode auth state")
	}

	now := time.Now()
	record := &StoredState{
		Key:       p.key,
		Value:     string(raw),
		UpdatedAt: &now,
	}

	_, err = p.db.NewInsert().
		Model(record).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save auth state")
	}

	return nil
}
