// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

// Package provider defines the surface the engine consumes from the external
// identity provider. The concrete implementation lives in the mobile shell;
// this repo only sees the interface.
package provider

import "context"

// ProviderUser is the provider's descriptor of the authenticated device
// session. It is transient: never persisted directly, only translated into a
// canonical user record through identity resolution.
type ProviderUser struct {
	// UID is the provider's stable user identifier.
	UID string
	// SecondaryID is an optional second-provider identifier (e.g. the
	// OAuth account id behind the provider session).
	SecondaryID string
	Email       string
	DisplayName string
	PhotoURL    string
}

// IdentityProvider is the push surface of the external identity provider.
type IdentityProvider interface {
	// Subscribe registers a callback for sign-in/sign-out events. A nil
	// ProviderUser means the provider session ended. The returned cancel
	// function detaches the subscription.
	Subscribe(fn func(*ProviderUser)) (cancel func())

	// FreshToken returns a currently valid (refreshed if needed) auth token
	// for the active provider session.
	FreshToken(ctx context.Context) (string, error)

	// SignOut ends the provider session.
	SignOut(ctx context.Context) error
}
