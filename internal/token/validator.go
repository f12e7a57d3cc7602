// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

// Package token confirms or refreshes the auth token guarding a persisted
// real-mode session. Token issuance is delegated to the external identity
// provider; this package only decides "usable" vs "definitively invalid".
package token

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	kberr "github.com/kindbridge/kindbridge/pkg/errors"
)

// Source issues fresh tokens for the active provider session.
// provider.IdentityProvider satisfies it.
type Source interface {
	FreshToken(ctx context.Context) (string, error)
}

// Validator decides whether a persisted session's token is still usable.
type Validator struct {
	source Source
	log    *slog.Logger
	now    func() time.Time
}

// NewValidator creates a Validator backed by the given token source.
func NewValidator(source Source, log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	return &Validator{source: source, log: log, now: time.Now}
}

// Validate returns a usable token for the session or an error with code
// token.invalid — never an ambiguous state. The stored token is inspected
// locally first: a structurally expired JWT cannot be trusted, so a refresh
// must succeed for the session to survive. An unexpired (or opaque) stored
// token tolerates a refresh transport failure by degrading to itself, so a
// flaky network does not sign the user out.
func (v *Validator) Validate(ctx context.Context, stored string) (string, error) {
	expired := stored == "" || v.locallyExpired(stored)

	fresh, err := v.source.FreshToken(ctx)
	if err == nil && fresh != "" {
		return fresh, nil
	}

	if expired {
		if err != nil {
			return "", kberr.Wrap(err, kberr.CodeTokenInvalid, "refreshing expired session token")
		}
		return "", kberr.New(kberr.CodeTokenInvalid, "provider returned no token for expired session")
	}

	v.log.Warn("token refresh failed, keeping unexpired stored token", "error", err)
	return stored, nil
}

// locallyExpired reports whether the stored token is a JWT whose expiry has
// passed. Signature verification is intentionally skipped — issuance and
// verification belong to the provider and backend; this is only a cheap
// local reject of tokens that cannot possibly work. Opaque tokens are never
// locally decidable and report false.
func (v *Validator) locallyExpired(stored string) bool {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(stored, claims)
	if err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(v.now())
}
