// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package identity

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kindbridge/kindbridge/internal/backend"
	"github.com/kindbridge/kindbridge/internal/provider"
	kberr "github.com/kindbridge/kindbridge/pkg/errors"
	"github.com/kindbridge/kindbridge/pkg/types"
)

// BackendClient is the slice of the API client the resolver needs.
type BackendClient interface {
	ResolveUserID(ctx context.Context, req backend.ResolveRequest) (*types.User, error)
	GetUser(ctx context.Context, idOrEmail string) (*types.User, error)
}

// ExternalIdentity is the provider-side identity to be mapped to a canonical
// user record.
type ExternalIdentity struct {
	UID         string
	SecondaryID string
	Email       string
}

// Resolver maps external-provider identities to canonical KindBridge users.
type Resolver struct {
	client BackendClient
	log    *slog.Logger
}

// NewResolver creates a Resolver backed by the given API client.
func NewResolver(client BackendClient, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{client: client, log: log}
}

// Resolve looks up the canonical user for an external identity. Canonical-id
// resolution is tried first; when it fails or comes back empty, an
// email-keyed lookup is the fallback. A failure here is non-fatal to the
// caller: the provider session stays intact and resolution is retried on the
// next identity event.
func (r *Resolver) Resolve(ctx context.Context, ext ExternalIdentity) (*types.User, error) {
	if ext.UID == "" {
		return nil, kberr.New(kberr.CodeIdentityInputInvalid, "resolve: external uid must not be empty")
	}

	user, err := r.client.ResolveUserID(ctx, backend.ResolveRequest{
		ExternalUID:         ext.UID,
		SecondaryProviderID: ext.SecondaryID,
		Email:               ext.Email,
	})
	if err == nil {
		return user, nil
	}

	if ext.Email == "" {
		return nil, kberr.Wrap(err, kberr.CodeIdentityResolveFailure, "resolving external identity",
			kberr.Field("external_uid", ext.UID))
	}

	r.log.Debug("canonical resolution failed, falling back to email lookup",
		"external_uid", ext.UID, "error", err)

	user, emailErr := r.client.GetUser(ctx, strings.ToLower(ext.Email))
	if emailErr != nil {
		return nil, kberr.Wrap(kberr.Join(err, emailErr), kberr.CodeIdentityResolveFailure,
			"resolving external identity",
			kberr.Field("external_uid", ext.UID),
			kberr.FieldEmail(ext.Email),
		)
	}
	return user, nil
}

// UserFromProvider builds a first-login user record from a provider
// descriptor, for accounts the backend has not seen yet. The display name
// falls back to the email local part.
func UserFromProvider(pu *provider.ProviderUser, now time.Time) *types.User {
	name := pu.DisplayName
	if name == "" {
		if at := strings.Index(pu.Email, "@"); at > 0 {
			name = pu.Email[:at]
		} else {
			name = "User"
		}
	}

	return &types.User{
		ID:         pu.UID,
		Name:       name,
		Email:      pu.Email,
		Avatar:     pu.PhotoURL,
		IsActive:   true,
		JoinDate:   now,
		LastActive: now,
		Roles:      []string{types.RoleTagUser},
		Settings: types.Settings{
			Language:             "en",
			NotificationsEnabled: true,
		},
	}
}
