// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/kindbridge/kindbridge/internal/backend"
	"github.com/kindbridge/kindbridge/internal/config"
	"github.com/kindbridge/kindbridge/internal/identity"
	"github.com/kindbridge/kindbridge/internal/persist"
	_ "github.com/kindbridge/kindbridge/internal/persist/sqlite" // register sqlite backend
	"github.com/kindbridge/kindbridge/internal/provider"
	"github.com/kindbridge/kindbridge/internal/roles"
	"github.com/kindbridge/kindbridge/internal/session"
	"github.com/kindbridge/kindbridge/internal/token"
	kberr "github.com/kindbridge/kindbridge/pkg/errors"
	"github.com/spf13/viper"
)

// App holds the wired subsystems behind a CLI invocation.
type App struct {
	Config  *config.Config
	Persist persist.Store
	Engine  *session.Store
}

// Close releases the persistence backend if it holds resources.
func (a *App) Close() {
	a.Engine.Close()
	if closer, ok := a.Persist.(io.Closer); ok {
		_ = closer.Close()
	}
}

// wireApp constructs config -> persistence -> backend client -> resolver ->
// enricher -> validator -> session engine. The CLI runs without an
// interactive identity provider: restoration leans on the persisted token.
func wireApp() (*App, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}

	log := slog.Default()

	store, err := persist.Open(persist.Options{
		Backend:        cfg.Session.StorageBackend,
		KeyringService: cfg.Session.KeyringService,
		SQLitePath:     cfg.Session.SQLitePath,
	})
	if err != nil {
		return nil, kberr.Wrap(err, kberr.CodeCLISetupFailure, "opening persistence backend")
	}

	client := backend.New(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout, log)
	resolver := identity.NewResolver(client, log)
	enricher := roles.NewEnricher(client, cfg.Roles, log)

	prov := offlineProvider{}
	tokens := token.NewValidator(prov, log)

	engine := session.NewStore(session.Deps{
		Persist:  store,
		Resolver: resolver,
		Enricher: enricher,
		Tokens:   tokens,
		Provider: prov,
		Config:   cfg.Session,
		Logger:   log,
	})

	return &App{Config: cfg, Persist: store, Engine: engine}, nil
}

// offlineProvider is the CLI's stand-in for the mobile shell's identity
// provider. It never delivers events and cannot mint tokens, so a persisted
// session only restores while its stored token is still good.
type offlineProvider struct{}

func (offlineProvider) Subscribe(func(*provider.ProviderUser)) func() {
	return func() {}
}

func (offlineProvider) FreshToken(context.Context) (string, error) {
	return "", kberr.New(kberr.CodeProviderTokenFailure, "no interactive identity provider in the cli")
}

func (offlineProvider) SignOut(context.Context) error { return nil }
