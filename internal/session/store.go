// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

// Package session holds the session store: the engine that owns the current
// principal, reconciles it with the external identity provider, and keeps
// the persisted record consistent across restarts.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kindbridge/kindbridge/internal/config"
	"github.com/kindbridge/kindbridge/internal/identity"
	"github.com/kindbridge/kindbridge/internal/persist"
	"github.com/kindbridge/kindbridge/internal/provider"
	kberr "github.com/kindbridge/kindbridge/pkg/errors"
	"github.com/kindbridge/kindbridge/pkg/types"
)

// IdentityResolver maps provider identities to canonical users.
// identity.Resolver satisfies it.
type IdentityResolver interface {
	Resolve(ctx context.Context, ext identity.ExternalIdentity) (*types.User, error)
}

// RoleEnricher merges role facts from external authorities into the
// principal's role set. roles.Enricher satisfies it.
type RoleEnricher interface {
	Enrich(ctx context.Context, user *types.User) (*types.User, error)
}

// TokenValidator decides whether a persisted real session's token is usable.
// token.Validator satisfies it.
type TokenValidator interface {
	Validate(ctx context.Context, stored string) (string, error)
}

// LocalDataCleaner clears ancillary local-only collections (drafts, cached
// feeds) when a real session is established, so stale anonymous data does not
// bleed into the authenticated session. Session keys are not its concern.
type LocalDataCleaner interface {
	ClearLocalCollections(ctx context.Context) error
}

// NoopCleaner is a LocalDataCleaner that does nothing.
type NoopCleaner struct{}

func (NoopCleaner) ClearLocalCollections(context.Context) error { return nil }

// Snapshot is the read surface handed to subscribers and pollers.
type Snapshot struct {
	Principal       *types.User
	Mode            types.AuthMode
	Role            types.Role
	IsAuthenticated bool
	IsGuestMode     bool
	IsRealAuth      bool
	IsAdmin         bool
}

// Store is the session engine. All state mutations are serialized behind a
// mutex; subscribers are notified outside of it.
type Store struct {
	persist  persist.Store
	resolver IdentityResolver
	enricher RoleEnricher
	tokens   TokenValidator
	provider provider.IdentityProvider
	cleaner  LocalDataCleaner
	cfg      config.SessionConfig
	log      *slog.Logger

	mu          sync.Mutex
	boot        BootState
	detach      func()
	cleanedOnce bool

	// listener state has its own lock so onIdentityEvent can check-and-drop
	// without touching the engine mutex. An event delivered while
	// restoration holds mu must be dropped immediately, not queued behind
	// the boot it is supposed to be guarded against.
	lmu      sync.Mutex
	listener ListenerState

	principal     *types.User
	token         string
	mode          types.AuthMode
	role          types.Role
	authenticated bool
	guestUsable   bool

	subMu   sync.Mutex
	nextSub int
	subs    map[int]func(Snapshot)
}

// Deps carries the engine's constructor-injected collaborators.
type Deps struct {
	Persist  persist.Store
	Resolver IdentityResolver
	Enricher RoleEnricher
	Tokens   TokenValidator
	Provider provider.IdentityProvider
	Cleaner  LocalDataCleaner
	Config   config.SessionConfig
	Logger   *slog.Logger
}

// NewStore creates the session engine in the Booting state. Initialize must
// complete before listener events are applied.
func NewStore(deps Deps) *Store {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	cleaner := deps.Cleaner
	if cleaner == nil {
		cleaner = NoopCleaner{}
	}

	return &Store{
		persist:  deps.Persist,
		resolver: deps.Resolver,
		enricher: deps.Enricher,
		tokens:   deps.Tokens,
		provider: deps.Provider,
		cleaner:  cleaner,
		cfg:      deps.Config,
		log:      log,
		boot:     BootBooting,
		listener: ListenerUnattached,
		mode:     types.AuthModeGuest,
		role:     types.RoleGuest,
		subs:     map[int]func(Snapshot){},
	}
}

// Initialize restores the session from persistence, marks the engine Ready,
// and activates the identity listener. The listener attaches before
// restoration runs but stays in AttachedWaitingInit until restoration has
// completed, so events observed during the boot window are dropped instead
// of racing the restore. Idempotent.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.boot == BootReady {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	bootID := uuid.NewString()
	s.log.Info("session engine booting", "boot_id", bootID)

	if err := s.transitionListener(ListenerAttachedWaitingInit); err != nil {
		return err
	}

	// Subscribe outside the engine mutex: providers may deliver the initial
	// event synchronously from inside Subscribe, and the guard must be able
	// to drop it without deadlocking on mu.
	if s.provider != nil {
		detach := s.provider.Subscribe(s.onIdentityEvent)
		s.mu.Lock()
		s.detach = detach
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.checkAuthLocked(ctx)
	s.boot = BootReady
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.transitionListener(ListenerAttachedActive); err != nil {
		return err
	}

	s.log.Info("session engine ready",
		"boot_id", bootID,
		"authenticated", snap.IsAuthenticated,
		"mode", string(snap.Mode),
	)
	s.publish(snap)
	return nil
}

// Close detaches the identity listener.
func (s *Store) Close() {
	s.lmu.Lock()
	s.listener = ListenerUnattached
	s.lmu.Unlock()

	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
}

// SetCurrentPrincipal installs a principal. A guest role or nil user yields
// in-memory guest state with no persistence write; anything else becomes an
// enriched, persisted real session.
func (s *Store) SetCurrentPrincipal(ctx context.Context, user *types.User, role types.Role) error {
	s.mu.Lock()
	err := s.setCurrentLocked(ctx, user, role)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return err
}

// SetSelectedUserWithMode computes the role from (user, mode) and installs
// the principal. An internal failure falls back to the raw user and mode:
// partially-known identity is never dropped on a local error.
func (s *Store) SetSelectedUserWithMode(ctx context.Context, user *types.User, mode types.AuthMode) error {
	s.mu.Lock()

	role := types.ComputeRole(user, mode)
	if err := s.setCurrentLocked(ctx, user, role); err != nil {
		s.log.Warn("principal install failed, keeping raw identity",
			"mode", string(mode), "error", err)
		s.applyRealLocked(user, mode)
	}

	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

// SetSelectedUser is the compatibility wrapper: nil means guest, anything
// else a real session.
func (s *Store) SetSelectedUser(ctx context.Context, user *types.User) error {
	if user == nil {
		return s.SetSelectedUserWithMode(ctx, nil, types.AuthModeGuest)
	}
	return s.SetSelectedUserWithMode(ctx, user, types.AuthModeReal)
}

// SignInWithProvider establishes a real session from an interactive provider
// sign-in. Passive listener events require an existing canonical record, but
// an interactive sign-in may be the account's first: when resolution finds
// nothing, a first-login record is built from the provider descriptor and
// resolution is retried on later identity events.
func (s *Store) SignInWithProvider(ctx context.Context, pu *provider.ProviderUser) error {
	if pu == nil || pu.UID == "" {
		return kberr.New(kberr.CodeIdentityInputInvalid, "sign in: provider user must carry a uid")
	}

	user, err := s.resolver.Resolve(ctx, identity.ExternalIdentity{
		UID:         pu.UID,
		SecondaryID: pu.SecondaryID,
		Email:       pu.Email,
	})
	if err != nil {
		s.log.Info("no canonical record for provider identity, starting first-login session",
			"external_uid", pu.UID, "error", err)
		user = identity.UserFromProvider(pu, time.Now())
	}

	if err := s.persist.Set(ctx, persist.KeyProviderUserID, pu.UID); err != nil {
		s.log.Warn("failed to persist provider marker", "error", err)
	}

	return s.SetSelectedUserWithMode(ctx, user, types.AuthModeReal)
}

// CheckAuthStatus runs boot-time restoration: staged out-of-band login
// artifact first, then the persisted record, then the unauthenticated
// terminal state. Idempotent; recovers from corrupt data by purging the
// offending key.
func (s *Store) CheckAuthStatus(ctx context.Context) error {
	s.mu.Lock()
	s.checkAuthLocked(ctx)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

// SignOut ends the session. The provider's own sign-out is attempted but its
// failure never gates the purge: all session keys are removed and in-memory
// state resets unconditionally.
func (s *Store) SignOut(ctx context.Context) error {
	if s.provider != nil {
		if err := s.provider.SignOut(ctx); err != nil {
			s.log.Warn("provider sign-out failed, purging session anyway",
				"code", kberr.CodeProviderSignOutFailure, "error", err)
		}
	}

	s.mu.Lock()
	purgeErr := persist.DeleteAll(ctx, s.persist, persist.SessionKeys...)
	s.applyUnauthenticatedLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return purgeErr
}

// SetGuestMode puts the engine in a usable guest state. Guest sessions are
// process-scoped: nothing is persisted.
func (s *Store) SetGuestMode(context.Context) error {
	s.mu.Lock()
	s.applyGuestLocked(true)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

// SetDemoUser is a retained no-op. The demo auth mode exists only for
// backward API compatibility.
func (s *Store) SetDemoUser(context.Context) error {
	s.log.Debug("demo mode requested, ignoring")
	return nil
}

// RefreshUserRoles re-runs role enrichment for the current principal and
// writes through to persistence only when the role set actually changed.
// The order-independent comparison is what breaks the
// enrich-write-rerender-enrich loop.
func (s *Store) RefreshUserRoles(ctx context.Context) error {
	s.mu.Lock()

	if s.principal == nil {
		s.mu.Unlock()
		return nil
	}

	enriched, err := s.enrichBounded(ctx, s.principal)
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("role refresh enrichment failed, keeping current roles", "error", err)
		return nil
	}

	if types.EqualRoleSets(s.principal.Roles, enriched.Roles) {
		s.mu.Unlock()
		s.log.Debug("role refresh produced no change, skipping write",
			"user_id", enriched.ID)
		return nil
	}

	s.principal = enriched
	s.role = types.ComputeRole(enriched, s.mode)
	writeErr := s.persistRecordLocked(ctx, enriched, s.mode)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return writeErr
}

// Snapshot returns the current read surface.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for every accepted state change. The returned
// cancel detaches it. Callbacks run outside the engine lock.
func (s *Store) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// ListenerState reports the identity listener's current state.
func (s *Store) ListenerState() ListenerState {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	return s.listener
}

// BootState reports boot progress.
func (s *Store) BootState() BootState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boot
}

// --- listener ---

// onIdentityEvent handles a provider identity push. Events before the engine
// is Ready are dropped; a nil descriptor only clears provider-originated
// sessions.
func (s *Store) onIdentityEvent(pu *provider.ProviderUser) {
	if st := s.ListenerState(); st != ListenerAttachedActive {
		s.log.Debug("dropping identity event observed before boot completed",
			"listener_state", st.String(), "signed_in", pu != nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RestoreTimeout)
	defer cancel()

	if pu == nil {
		s.handleProviderSignOut(ctx)
		return
	}

	user, err := s.resolver.Resolve(ctx, identity.ExternalIdentity{
		UID:         pu.UID,
		SecondaryID: pu.SecondaryID,
		Email:       pu.Email,
	})
	if err != nil {
		// Provider session stays intact; resolution is retried on the
		// next identity event.
		s.log.Warn("identity resolution failed, leaving app session absent",
			"external_uid", pu.UID, "error", err)
		return
	}

	if err := s.persist.Set(ctx, persist.KeyProviderUserID, pu.UID); err != nil {
		s.log.Warn("failed to persist provider marker", "error", err)
	}

	_ = s.SetSelectedUserWithMode(ctx, user, types.AuthModeReal)
}

// handleProviderSignOut clears the session for a nil identity event, but
// only when the current session is provider-originated. A guest session
// never participated in the provider and must not be clobbered by it.
func (s *Store) handleProviderSignOut(ctx context.Context) {
	s.mu.Lock()
	providerOriginated := s.mode == types.AuthModeReal
	if providerOriginated {
		if _, err := s.persist.Get(ctx, persist.KeyProviderUserID); err != nil && kberr.IsNotFound(err) {
			providerOriginated = false
		}
	}

	if !providerOriginated {
		s.mu.Unlock()
		s.log.Debug("ignoring provider sign-out for non-provider session",
			"mode", string(s.mode))
		return
	}

	if err := persist.DeleteAll(ctx, s.persist, persist.SessionKeys...); err != nil {
		s.log.Warn("session purge after provider sign-out left residue", "error", err)
	}
	s.applyUnauthenticatedLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
}

// --- locked internals ---

func (s *Store) setCurrentLocked(ctx context.Context, user *types.User, role types.Role) error {
	if role == types.RoleGuest || user == nil {
		s.applyGuestLocked(true)
		return nil
	}

	enriched, err := s.enrichBounded(ctx, user)
	if err != nil {
		s.log.Warn("enrichment failed, installing raw principal",
			"user_id", user.ID, "error", err)
		enriched = user
	}

	if !s.cleanedOnce {
		if err := s.cleaner.ClearLocalCollections(ctx); err != nil {
			s.log.Warn("local data cleanup failed", "error", err)
		}
		s.cleanedOnce = true
	}

	s.applyRealLocked(enriched, types.AuthModeReal)
	return s.persistRecordLocked(ctx, enriched, types.AuthModeReal)
}

// checkAuthLocked is the restoration core behind CheckAuthStatus and
// Initialize. It always leaves the engine in a well-defined terminal state.
func (s *Store) checkAuthLocked(ctx context.Context) {
	if s.restoreStagedLoginLocked(ctx) {
		return
	}
	if s.restorePersistedRecordLocked(ctx) {
		return
	}

	// Terminal: unauthenticated, with stale flag keys swept.
	if err := persist.DeleteAll(ctx, s.persist,
		persist.KeyAuthMode, persist.KeyGuestMode, persist.KeyProviderUserID); err != nil {
		s.log.Warn("stale session key cleanup failed", "error", err)
	}
	s.applyUnauthenticatedLocked()
}

// restoreStagedLoginLocked consumes a completed-but-unprocessed out-of-band
// login artifact. The staging keys are deleted on first read whether or not
// the artifact turns out to be usable.
func (s *Store) restoreStagedLoginLocked(ctx context.Context) bool {
	flag, err := s.persist.Get(ctx, persist.KeyLoginSuccessFlag)
	if err != nil || flag != "true" {
		return false
	}

	rawUser, userErr := s.persist.Get(ctx, persist.KeyStagedLoginUser)
	stagedToken, _ := s.persist.Get(ctx, persist.KeyStagedLoginToken)

	if err := persist.DeleteAll(ctx, s.persist,
		persist.KeyLoginSuccessFlag, persist.KeyStagedLoginUser, persist.KeyStagedLoginToken); err != nil {
		s.log.Warn("failed to clear staged login keys", "error", err)
	}

	if userErr != nil {
		s.log.Warn("staged login flag without user payload, ignoring artifact", "error", userErr)
		return false
	}

	user, err := decodeUser(rawUser)
	if err != nil {
		s.log.Warn("staged login user is corrupt, ignoring artifact", "error", err)
		return false
	}

	tok, err := s.tokens.Validate(ctx, stagedToken)
	if err != nil {
		s.log.Warn("staged login token rejected, ignoring artifact",
			"user_id", user.ID, "error", err)
		return false
	}
	s.token = tok

	s.log.Info("restoring session from staged login artifact", "user_id", user.ID)

	enriched, err := s.enrichBounded(ctx, user)
	if err != nil {
		s.log.Warn("staged login enrichment failed, using raw user", "error", err)
		enriched = user
	}

	s.applyRealLocked(enriched, types.AuthModeReal)
	if err := s.persistRecordLocked(ctx, enriched, types.AuthModeReal); err != nil {
		s.log.Warn("failed to persist restored staged session", "error", err)
	}
	return true
}

// restorePersistedRecordLocked restores from current_user + auth_mode.
// Returns true when a session was restored.
func (s *Store) restorePersistedRecordLocked(ctx context.Context) bool {
	rawUser, err := s.persist.Get(ctx, persist.KeyCurrentUser)
	if err != nil {
		if !kberr.IsNotFound(err) {
			s.log.Warn("failed to read persisted session record", "error", err)
		}
		return false
	}

	user, err := decodeUser(rawUser)
	if err != nil {
		s.log.Warn("persisted session record is corrupt, purging it", "error", err)
		if delErr := s.persist.Delete(ctx, persist.KeyCurrentUser); delErr != nil && !kberr.IsNotFound(delErr) {
			s.log.Warn("failed to purge corrupt session record", "error", delErr)
		}
		return false
	}

	mode := types.AuthModeReal
	if rawMode, err := s.persist.Get(ctx, persist.KeyAuthMode); err == nil {
		if m := types.AuthMode(rawMode); m.Valid() {
			mode = m
		}
	}

	if mode == types.AuthModeGuest {
		// Legacy persisted guest session: restore without a token check.
		s.principal = user
		s.token = ""
		s.mode = types.AuthModeGuest
		s.role = types.RoleGuest
		s.authenticated = false
		s.guestUsable = true
		return true
	}

	stored := s.token
	if stored == "" {
		if persisted, err := s.persist.Get(ctx, persist.KeyAuthToken); err == nil {
			stored = persisted
		}
	}

	vctx, cancel := context.WithTimeout(ctx, s.cfg.RestoreTimeout)
	tok, err := s.tokens.Validate(vctx, stored)
	cancel()
	if err != nil {
		s.log.Warn("persisted session token invalid, purging session",
			"user_id", user.ID, "error", err)
		if purgeErr := persist.DeleteAll(ctx, s.persist, persist.SessionKeys...); purgeErr != nil {
			s.log.Warn("session purge left residue", "error", purgeErr)
		}
		return false
	}
	s.token = tok

	enriched, err := s.enrichBounded(ctx, user)
	if err != nil {
		s.log.Warn("restore enrichment failed, using persisted roles", "error", err)
		enriched = user
	}

	s.applyRealLocked(enriched, mode)
	if !types.EqualRoleSets(user.Roles, enriched.Roles) {
		if err := s.persistRecordLocked(ctx, enriched, mode); err != nil {
			s.log.Warn("failed to persist re-enriched session record", "error", err)
		}
	}
	return true
}

func (s *Store) persistRecordLocked(ctx context.Context, user *types.User, mode types.AuthMode) error {
	raw, err := encodeUser(user)
	if err != nil {
		return err
	}

	if err := s.persist.Set(ctx, persist.KeyCurrentUser, raw); err != nil {
		return kberr.Wrap(err, kberr.CodePersistWriteFailure, "persisting session record",
			kberr.FieldUserID(user.ID))
	}
	if err := s.persist.Set(ctx, persist.KeyAuthMode, string(mode)); err != nil {
		return kberr.Wrap(err, kberr.CodePersistWriteFailure, "persisting auth mode")
	}
	if s.token != "" {
		if err := s.persist.Set(ctx, persist.KeyAuthToken, s.token); err != nil {
			return kberr.Wrap(err, kberr.CodePersistWriteFailure, "persisting auth token")
		}
	}
	return nil
}

func (s *Store) enrichBounded(ctx context.Context, user *types.User) (*types.User, error) {
	ectx, cancel := context.WithTimeout(ctx, s.cfg.EnrichTimeout)
	defer cancel()
	return s.enricher.Enrich(ectx, user)
}

func (s *Store) applyRealLocked(user *types.User, mode types.AuthMode) {
	s.principal = user
	s.mode = mode
	s.role = types.ComputeRole(user, mode)
	s.authenticated = true
	s.guestUsable = false
}

func (s *Store) applyGuestLocked(usable bool) {
	s.principal = nil
	s.token = ""
	s.mode = types.AuthModeGuest
	s.role = types.RoleGuest
	s.authenticated = false
	s.guestUsable = usable
}

func (s *Store) applyUnauthenticatedLocked() {
	s.applyGuestLocked(false)
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Principal:       s.principal,
		Mode:            s.mode,
		Role:            s.role,
		IsAuthenticated: s.authenticated,
		IsGuestMode:     s.guestUsable && !s.authenticated,
		IsRealAuth:      s.authenticated && s.mode == types.AuthModeReal,
		IsAdmin:         s.role == types.RoleAdmin,
	}
}

func (s *Store) transitionListener(to ListenerState) error {
	s.lmu.Lock()
	defer s.lmu.Unlock()

	if !ValidListenerTransition(s.listener, to) {
		return kberr.Errorf(kberr.CodeSessionStateInvalid,
			"invalid listener transition: %s -> %s", s.listener, to)
	}
	s.listener = to
	return nil
}

func (s *Store) publish(snap Snapshot) {
	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
