package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-member-auth"
	"github.com/goliatone/go-member-auth/activitymap"
	"github.com/goliatone/go-member-auth/provider/embedded"
	"github.com/goliatone/go-member-auth/provider/supabase"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// sessionKey holds the backend session next to the UI state so a later
// invocation can restore it
const sessionKey = "auth-session"

type app struct {
	settings auth.Settings
	db       *bun.DB
	backend  auth.Backend
	embedded *embedded.Backend
	store    *auth.Store
	bridge   *auth.Bridge
}

// openApp opens the database and the configured backend, without the
// bridge. serve builds one bridge per request on top of newBackend.
func openApp(ctx context.Context) (*app, error) {
	settings, err := auth.LoadSettings()
	if err != nil {
		return nil, err
	}

	if flagDSN != "" {
		settings.DatabaseDSN = flagDSN
	}

	if flagOrigin != "" {
		settings.Origin = flagOrigin
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, settings.DatabaseDSN)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open database")
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := auth.CreateSchema(ctx, db); err != nil {
		db.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create schema")
	}

	a := &app{settings: settings, db: db}

	backend, err := a.newBackend()
	if err != nil {
		db.Close()
		return nil, err
	}

	a.backend = backend
	if b, ok := backend.(*embedded.Backend); ok {
		a.embedded = b
	}

	return a, nil
}

// newBackend builds a backend with its own session, it implements
// auth.BackendFactory
func (a *app) newBackend() (auth.ClientBackend, error) {
	if a.settings.BackendURL != "" {
		client, err := supabase.New(supabase.Config{
			URL:     a.settings.BackendURL,
			AnonKey: a.settings.BackendAnonKey,
			Timeout: a.settings.GetRPCTimeout(),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	backend, err := embedded.New(auth.NewRepositoryManager(a.db), embedded.Config{
		SigningKey:      a.settings.GetSigningKey(),
		TokenExpiration: a.settings.GetTokenExpiration(),
		Issuer:          a.settings.GetIssuer(),
	})
	if err != nil {
		return nil, err
	}
	return backend, nil
}

// loadApp opens the app, restores the saved session and builds the bridge
func loadApp(ctx context.Context) (*app, error) {
	a, err := openApp(ctx)
	if err != nil {
		return nil, err
	}

	if err := a.restoreSession(ctx); err != nil {
		a.db.Close()
		return nil, err
	}

	a.store = auth.NewStore(ctx, auth.NewBunPersistence(a.db))
	a.bridge = auth.NewBridge(a.backend, a.store, a.settings).
		WithNavigator(auth.NavigatorFunc(func(route string) {
			fmt.Printf("-> %s\n", route)
		}))

	if flagAudit {
		a.bridge.WithActivitySink(activitymap.NewJSONSink(os.Stderr))
	}

	return a, nil
}

// start subscribes the bridge and waits for the first session result
func (a *app) start(ctx context.Context) error {
	if err := a.bridge.Start(ctx); err != nil {
		return err
	}

	select {
	case <-a.bridge.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *app) close() {
	if a.bridge != nil {
		a.bridge.Close()
	}
	a.db.Close()
}

func (a *app) requireEmbedded() (*embedded.Backend, error) {
	if a.embedded == nil {
		return nil, goerrors.New("command requires the embedded backend, unset PORTAL_BACKEND_URL", goerrors.CategoryBadInput)
	}
	return a.embedded, nil
}

func (a *app) restoreSession(ctx context.Context) error {
	record := &auth.StoredState{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.key = ?", sessionKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load saved session")
	}

	session := &auth.Session{}
	if err := json.Unmarshal([]byte(record.Value), session); err != nil {
		return a.forgetSession(ctx)
	}

	switch b := a.backend.(type) {
	case *supabase.Client:
		// keeps the refresh token, GetSession refreshes on demand
		b.SetSession(session)
	case auth.SessionRestorer:
		if _, err := b.RestoreSession(ctx, session.AccessToken); err != nil {
			return a.forgetSession(ctx)
		}
	}

	return nil
}

func (a *app) rememberSession(ctx context.Context) error {
	session, err := a.backend.GetSession(ctx)
	if err != nil || session == nil {
		return err
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = a.db.NewInsert().
		Model(&auth.StoredState{Key: sessionKey, Value: string(raw), UpdatedAt: &now}).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (a *app) forgetSession(ctx context.Context) error {
	_, err := a.db.NewDelete().
		Model((*auth.StoredState)(nil)).
		Where("key = ?", sessionKey).
		Exec(ctx)
	return err
}
