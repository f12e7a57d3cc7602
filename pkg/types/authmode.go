// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package types

// AuthMode classifies how the current session was established.
type AuthMode string

const (
	// AuthModeGuest is an unauthenticated but usable session, scoped to the
	// process lifetime and never persisted.
	AuthModeGuest AuthMode = "guest"
	// AuthModeDemo is a legacy mode kept for API compatibility. No code path
	// creates demo sessions anymore.
	AuthModeDemo AuthMode = "demo"
	// AuthModeReal is a provider- or backend-authenticated session. Real
	// sessions are persisted and restored across restarts.
	AuthModeReal AuthMode = "real"
)

// Valid reports whether the mode is a known auth mode.
func (m AuthMode) Valid() bool {
	switch m {
	case AuthModeGuest, AuthModeDemo, AuthModeReal:
		return true
	default:
		return false
	}
}
