// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kindbridge/kindbridge/internal/config"
	"github.com/kindbridge/kindbridge/internal/identity"
	"github.com/kindbridge/kindbridge/internal/persist"
	"github.com/kindbridge/kindbridge/internal/provider"
	"github.com/kindbridge/kindbridge/internal/session"
	kberr "github.com/kindbridge/kindbridge/pkg/errors"
	"github.com/kindbridge/kindbridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Fakes ---

// countingStore wraps a MemoryStore and counts writes.
type countingStore struct {
	*persist.MemoryStore
	mu   sync.Mutex
	sets int
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: persist.NewMemoryStore()}
}

func (c *countingStore) Set(ctx context.Context, key, value string) error {
	c.mu.Lock()
	c.sets++
	c.mu.Unlock()
	return c.MemoryStore.Set(ctx, key, value)
}

func (c *countingStore) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

func (c *countingStore) has(key string) bool {
	_, err := c.MemoryStore.Get(context.Background(), key)
	return err == nil
}

// fakeEnricher unions a fixed set of extra tags onto the user.
type fakeEnricher struct {
	add   []string
	err   error
	calls int
}

func (f *fakeEnricher) Enrich(_ context.Context, u *types.User) (*types.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := *u
	out.Roles = types.UniqueSortedRoles(u.Roles, f.add)
	return &out, nil
}

// fakeTokens validates everything unless told otherwise.
type fakeTokens struct {
	fresh string
	err   error
}

func (f *fakeTokens) Validate(_ context.Context, stored string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.fresh != "" {
		return f.fresh, nil
	}
	return stored, nil
}

type fakeResolver struct {
	users map[string]*types.User
}

func (f *fakeResolver) Resolve(_ context.Context, ext identity.ExternalIdentity) (*types.User, error) {
	if u, ok := f.users[ext.UID]; ok {
		return u, nil
	}
	return nil, kberr.New(kberr.CodeIdentityResolveFailure, "unknown external identity")
}

// fakeProvider captures the listener callback and lets tests push events.
type fakeProvider struct {
	mu           sync.Mutex
	cb           func(*provider.ProviderUser)
	signOutErr   error
	signOutCalls int
}

func (f *fakeProvider) Subscribe(fn func(*provider.ProviderUser)) func() {
	f.mu.Lock()
	f.cb = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.cb = nil
		f.mu.Unlock()
	}
}

func (f *fakeProvider) FreshToken(context.Context) (string, error) {
	return "provider-token", nil
}

func (f *fakeProvider) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return f.signOutErr
}

func (f *fakeProvider) emit(pu *provider.ProviderUser) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(pu)
	}
}

type recordingCleaner struct{ calls int }

func (r *recordingCleaner) ClearLocalCollections(context.Context) error {
	r.calls++
	return nil
}

func sessionCfg() config.SessionConfig {
	return config.SessionConfig{
		RestoreTimeout: time.Second,
		EnrichTimeout:  time.Second,
	}
}

type env struct {
	store    *session.Store
	persist  *countingStore
	enricher *fakeEnricher
	tokens   *fakeTokens
	resolver *fakeResolver
	provider *fakeProvider
	cleaner  *recordingCleaner
}

func newEnv() *env {
	e := &env{
		persist:  newCountingStore(),
		enricher: &fakeEnricher{},
		tokens:   &fakeTokens{},
		resolver: &fakeResolver{users: map[string]*types.User{}},
		provider: &fakeProvider{},
		cleaner:  &recordingCleaner{},
	}
	e.store = session.NewStore(session.Deps{
		Persist:  e.persist,
		Resolver: e.resolver,
		Enricher: e.enricher,
		Tokens:   e.tokens,
		Provider: e.provider,
		Cleaner:  e.cleaner,
		Config:   sessionCfg(),
	})
	return e
}

func alice() *types.User {
	return &types.User{ID: "u-1", Name: "Alice", Email: "alice@example.org", Roles: []string{"user"}}
}

// --- Tests ---

func TestGuestModeNeverPersists(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	require.NoError(t, e.store.SetSelectedUserWithMode(ctx, alice(), types.AuthModeGuest))

	assert.False(t, e.persist.has(persist.KeyCurrentUser))
	assert.Zero(t, e.persist.setCount())

	snap := e.store.Snapshot()
	assert.False(t, snap.IsAuthenticated)
	assert.True(t, snap.IsGuestMode)
}

func TestSetGuestModeIsInMemoryOnly(t *testing.T) {
	e := newEnv()
	require.NoError(t, e.store.SetGuestMode(context.Background()))

	snap := e.store.Snapshot()
	assert.True(t, snap.IsGuestMode)
	assert.Empty(t, e.persist.Keys())
}

func TestRealLoginSurvivesRestart(t *testing.T) {
	e := newEnv()
	e.enricher.add = []string{"org_admin"}
	ctx := context.Background()

	require.NoError(t, e.store.SetSelectedUserWithMode(ctx, alice(), types.AuthModeReal))

	snap := e.store.Snapshot()
	require.True(t, snap.IsRealAuth)
	assert.True(t, snap.IsAdmin, "org_admin tag computes to admin role")

	// Simulated restart: fresh engine over the same persistence.
	restarted := session.NewStore(session.Deps{
		Persist:  e.persist,
		Resolver: e.resolver,
		Enricher: e.enricher,
		Tokens:   e.tokens,
		Provider: e.provider,
		Config:   sessionCfg(),
	})
	require.NoError(t, restarted.Initialize(ctx))

	got := restarted.Snapshot()
	require.True(t, got.IsAuthenticated)
	require.NotNil(t, got.Principal)
	assert.Equal(t, "u-1", got.Principal.ID)
	for _, tag := range []string{"user", "org_admin"} {
		assert.Contains(t, got.Principal.Roles, tag, "restored role set is a superset of the original")
	}
}

func TestSetCurrentPrincipalClearsLocalCollectionsOnce(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	require.NoError(t, e.store.SetCurrentPrincipal(ctx, alice(), types.RoleUser))
	require.NoError(t, e.store.SetCurrentPrincipal(ctx, alice(), types.RoleUser))

	assert.Equal(t, 1, e.cleaner.calls)
}

func TestSetSelectedUserWithModeEnrichmentFailureKeepsRawIdentity(t *testing.T) {
	e := newEnv()
	e.enricher.err = errors.New("enrichment source down")

	require.NoError(t, e.store.SetSelectedUserWithMode(context.Background(), alice(), types.AuthModeReal))

	snap := e.store.Snapshot()
	require.True(t, snap.IsAuthenticated, "partially-known identity is never dropped")
	assert.Equal(t, "u-1", snap.Principal.ID)
	assert.Equal(t, []string{"user"}, snap.Principal.Roles)
}

func TestRefreshUserRolesWritesOnlyOnChange(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	require.NoError(t, e.store.SetSelectedUserWithMode(ctx, alice(), types.AuthModeReal))
	base := e.persist.setCount()

	// The backend grants a new role after login.
	e.enricher.add = []string{"org_admin"}
	require.NoError(t, e.store.RefreshUserRoles(ctx))
	afterFirst := e.persist.setCount()
	assert.Greater(t, afterFirst, base, "a changed role set is written through")

	require.NoError(t, e.store.RefreshUserRoles(ctx))
	assert.Equal(t, afterFirst, e.persist.setCount(), "an unchanged role set produces no write")
	assert.Contains(t, e.store.Snapshot().Principal.Roles, "org_admin")
}

func TestRefreshUserRolesNoPrincipalIsNoop(t *testing.T) {
	e := newEnv()
	require.NoError(t, e.store.RefreshUserRoles(context.Background()))
	assert.Zero(t, e.enricher.calls)
}

// gatedStore blocks the first read until released, holding restoration open
// so tests can deliver listener events inside the boot window.
type gatedStore struct {
	*countingStore
	entered  chan struct{}
	release  chan struct{}
	gateOnce sync.Once
}

func newGatedStore(base *countingStore) *gatedStore {
	return &gatedStore{
		countingStore: base,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (g *gatedStore) Get(ctx context.Context, key string) (string, error) {
	g.gateOnce.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.countingStore.Get(ctx, key)
}

func TestListenerEventDuringBootWindowIsDropped(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	// Seed a persisted real session, then boot a fresh engine over a store
	// that parks restoration on its first read.
	require.NoError(t, e.store.SetSelectedUserWithMode(ctx, alice(), types.AuthModeReal))

	gated := newGatedStore(e.persist)
	prov := &fakeProvider{}
	booting := session.NewStore(session.Deps{
		Persist:  gated,
		Resolver: e.resolver,
		Enricher: e.enricher,
		Tokens:   e.tokens,
		Provider: prov,
		Config:   sessionCfg(),
	})

	done := make(chan error, 1)
	go func() { done <- booting.Initialize(ctx) }()
	<-gated.entered

	// Restoration is in flight: a stale sign-out delivered now must be
	// dropped, not applied after boot.
	require.Equal(t, session.ListenerAttachedWaitingInit, booting.ListenerState())
	prov.emit(nil)

	close(gated.release)
	require.NoError(t, <-done)

	snap := booting.Snapshot()
	assert.True(t, snap.IsAuthenticated, "the restored session survives the stale event")
	assert.Equal(t, "u-1", snap.Principal.ID)
	assert.True(t, e.persist.has(persist.KeyCurrentUser), "zero observable state change from the dropped event")
}

func TestListenerEventAfterCloseIsDropped(t *testing.T) {
	e := newEnv()
	e.resolver.users["ext-1"] = alice()
	ctx := context.Background()

	require.NoError(t, e.store.Initialize(ctx))
	e.store.Close()

	e.provider.emit(&provider.ProviderUser{UID: "ext-1", Email: "alice@example.org"})

	assert.False(t, e.store.Snapshot().IsAuthenticated)
	assert.False(t, e.persist.has(persist.KeyCurrentUser))
}

func TestListenerSignInAfterInit(t *testing.T) {
	e := newEnv()
	e.resolver.users["ext-1"] = alice()
	ctx := context.Background()

	require.NoError(t, e.store.Initialize(ctx))
	require.Equal(t, session.ListenerAttachedActive, e.store.ListenerState())

	e.provider.emit(&provider.ProviderUser{UID: "ext-1", Email: "alice@example.org"})

	snap := e.store.Snapshot()
	require.True(t, snap.IsRealAuth)
	assert.Equal(t, "u-1", snap.Principal.ID)
	assert.True(t, e.persist.has(persist.KeyProviderUserID))
	assert.True(t, e.persist.has(persist.KeyCurrentUser))
}

func TestSignInWithProviderResolvesCanonicalUser(t *testing.T) {
	e := newEnv()
	e.resolver.users["ext-1"] = alice()
	ctx := context.Background()

	require.NoError(t, e.store.SignInWithProvider(ctx, &provider.ProviderUser{
		UID:   "ext-1",
		Email: "alice@example.org",
	}))

	snap := e.store.Snapshot()
	require.True(t, snap.IsRealAuth)
	assert.Equal(t, "u-1", snap.Principal.ID)
	assert.True(t, e.persist.has(persist.KeyProviderUserID))
}

func TestSignInWithProviderFirstLogin(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	// The backend has never seen this account: sign-in still succeeds with
	// a record built from the provider descriptor.
	require.NoError(t, e.store.SignInWithProvider(ctx, &provider.ProviderUser{
		UID:   "ext-new",
		Email: "newcomer@example.org",
	}))

	snap := e.store.Snapshot()
	require.True(t, snap.IsRealAuth)
	assert.Equal(t, "ext-new", snap.Principal.ID)
	assert.Equal(t, "newcomer", snap.Principal.Name, "display name falls back to the email local part")
	assert.Contains(t, snap.Principal.Roles, "user")
	assert.True(t, e.persist.has(persist.KeyCurrentUser))
}

func TestSignInWithProviderRequiresUID(t *testing.T) {
	e := newEnv()

	err := e.store.SignInWithProvider(context.Background(), &provider.ProviderUser{Email: "a@b.c"})
	require.Error(t, err)
	assert.True(t, kberr.HasCode(err, kberr.CodeIdentityInputInvalid))

	err = e.store.SignInWithProvider(context.Background(), nil)
	require.Error(t, err)
}

func TestListenerResolutionFailureLeavesSessionAbsent(t *testing.T) {
	e := newEnv()
	require.NoError(t, e.store.Initialize(context.Background()))

	e.provider.emit(&provider.ProviderUser{UID: "ext-unknown"})

	snap := e.store.Snapshot()
	assert.False(t, snap.IsAuthenticated)
	assert.False(t, e.persist.has(persist.KeyCurrentUser))
}

func TestListenerSignOutClearsProviderSession(t *testing.T) {
	e := newEnv()
	e.resolver.users["ext-1"] = alice()
	ctx := context.Background()

	require.NoError(t, e.store.Initialize(ctx))
	e.provider.emit(&provider.ProviderUser{UID: "ext-1", Email: "alice@example.org"})
	require.True(t, e.store.Snapshot().IsAuthenticated)

	e.provider.emit(nil)

	snap := e.store.Snapshot()
	assert.False(t, snap.IsAuthenticated)
	assert.False(t, e.persist.has(persist.KeyCurrentUser))
}

func TestListenerSignOutNeverClobbersGuest(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	require.NoError(t, e.store.Initialize(ctx))
	require.NoError(t, e.store.SetGuestMode(ctx))

	e.provider.emit(nil)

	snap := e.store.Snapshot()
	assert.True(t, snap.IsGuestMode, "a guest session never participated in the provider")
}

func TestListenerTransitionTable(t *testing.T) {
	assert.False(t, session.ValidListenerTransition(session.ListenerUnattached, session.ListenerAttachedActive),
		"skipping the waiting-init guard is invalid")
	assert.True(t, session.ValidListenerTransition(session.ListenerUnattached, session.ListenerAttachedWaitingInit))
	assert.True(t, session.ValidListenerTransition(session.ListenerAttachedWaitingInit, session.ListenerAttachedActive))
	assert.True(t, session.ValidListenerTransition(session.ListenerAttachedActive, session.ListenerUnattached))
}

func TestSignOutAlwaysPurges(t *testing.T) {
	e := newEnv()
	e.provider.signOutErr = errors.New("provider exploded")
	ctx := context.Background()

	require.NoError(t, e.store.SetSelectedUserWithMode(ctx, alice(), types.AuthModeReal))
	require.True(t, e.persist.has(persist.KeyCurrentUser))

	require.NoError(t, e.store.SignOut(ctx))

	snap := e.store.Snapshot()
	assert.False(t, snap.IsAuthenticated)
	assert.Empty(t, e.persist.Keys(), "all session keys absent even when provider sign-out throws")
	assert.Equal(t, 1, e.provider.signOutCalls)
}

func TestCheckAuthStatusCorruptRecordPurgesAndContinues(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	require.NoError(t, e.persist.MemoryStore.Set(ctx, persist.KeyCurrentUser, "{not json"))
	require.NoError(t, e.persist.MemoryStore.Set(ctx, persist.KeyAuthMode, "real"))

	require.NoError(t, e.store.CheckAuthStatus(ctx))

	snap := e.store.Snapshot()
	assert.False(t, snap.IsAuthenticated, "corrupt record resolves to a deterministic terminal state")
	assert.False(t, e.persist.has(persist.KeyCurrentUser), "the offending key is purged")
}

func TestCheckAuthStatusRealModeWithoutRecordIsUnauthenticated(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	require.NoError(t, e.persist.MemoryStore.Set(ctx, persist.KeyAuthMode, "real"))

	require.NoError(t, e.store.CheckAuthStatus(ctx))

	assert.False(t, e.store.Snapshot().IsAuthenticated)
	assert.False(t, e.persist.has(persist.KeyAuthMode), "stale mode key is swept")
}

func TestCheckAuthStatusTokenInvalidPurgesSession(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	require.NoError(t, e.store.SetSelectedUserWithMode(ctx, alice(), types.AuthModeReal))

	e.tokens.err = kberr.New(kberr.CodeTokenInvalid, "session revoked")
	restarted := session.NewStore(session.Deps{
		Persist:  e.persist,
		Resolver: e.resolver,
		Enricher: e.enricher,
		Tokens:   e.tokens,
		Provider: e.provider,
		Config:   sessionCfg(),
	})
	require.NoError(t, restarted.CheckAuthStatus(ctx))

	assert.False(t, restarted.Snapshot().IsAuthenticated)
	assert.Empty(t, e.persist.Keys(), "a definitive invalid token purges every session key")
}

func TestCheckAuthStatusStagedLoginArtifact(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	raw := `{"id":"u-9","name":"Staged","email":"staged@example.org","roles":["user"]}`
	require.NoError(t, e.persist.MemoryStore.Set(ctx, persist.KeyLoginSuccessFlag, "true"))
	require.NoError(t, e.persist.MemoryStore.Set(ctx, persist.KeyStagedLoginUser, raw))
	require.NoError(t, e.persist.MemoryStore.Set(ctx, persist.KeyStagedLoginToken, "staged-token"))

	require.NoError(t, e.store.CheckAuthStatus(ctx))

	snap := e.store.Snapshot()
	require.True(t, snap.IsRealAuth)
	assert.Equal(t, "u-9", snap.Principal.ID)

	assert.False(t, e.persist.has(persist.KeyLoginSuccessFlag), "the artifact is consumed on first read")
	assert.False(t, e.persist.has(persist.KeyStagedLoginUser))
	assert.False(t, e.persist.has(persist.KeyStagedLoginToken))
	assert.True(t, e.persist.has(persist.KeyCurrentUser), "the restored session is persisted normally")
}

func TestCheckAuthStatusCorruptStagedArtifactIsClearedWithoutAborting(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	require.NoError(t, e.persist.MemoryStore.Set(ctx, persist.KeyLoginSuccessFlag, "true"))
	require.NoError(t, e.persist.MemoryStore.Set(ctx, persist.KeyStagedLoginUser, "%%%"))

	require.NoError(t, e.store.CheckAuthStatus(ctx))

	assert.False(t, e.store.Snapshot().IsAuthenticated)
	assert.False(t, e.persist.has(persist.KeyLoginSuccessFlag), "corrupt artifacts are still consumed")
	assert.False(t, e.persist.has(persist.KeyStagedLoginUser))
}

func TestCheckAuthStatusIdempotent(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	require.NoError(t, e.store.SetSelectedUserWithMode(ctx, alice(), types.AuthModeReal))

	require.NoError(t, e.store.CheckAuthStatus(ctx))
	first := e.store.Snapshot()
	require.NoError(t, e.store.CheckAuthStatus(ctx))
	second := e.store.Snapshot()

	assert.Equal(t, first.Principal.ID, second.Principal.ID)
	assert.True(t, types.EqualRoleSets(first.Principal.Roles, second.Principal.Roles))
}

func TestInitializeIdempotent(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	require.NoError(t, e.store.Initialize(ctx))
	require.NoError(t, e.store.Initialize(ctx))

	assert.Equal(t, session.BootReady, e.store.BootState())
	assert.Equal(t, session.ListenerAttachedActive, e.store.ListenerState())
}

func TestSubscribeReceivesStateChanges(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	var got []session.Snapshot
	cancel := e.store.Subscribe(func(snap session.Snapshot) {
		got = append(got, snap)
	})
	defer cancel()

	require.NoError(t, e.store.SetGuestMode(ctx))
	require.NoError(t, e.store.SetSelectedUserWithMode(ctx, alice(), types.AuthModeReal))

	require.Len(t, got, 2)
	assert.True(t, got[0].IsGuestMode)
	assert.True(t, got[1].IsRealAuth)

	cancel()
	require.NoError(t, e.store.SetGuestMode(ctx))
	assert.Len(t, got, 2, "cancelled subscribers stop receiving snapshots")
}

func TestSetDemoUserIsNoop(t *testing.T) {
	e := newEnv()
	require.NoError(t, e.store.SetDemoUser(context.Background()))
	assert.Empty(t, e.persist.Keys())
	assert.False(t, e.store.Snapshot().IsAuthenticated)
}
