// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

// Package roles merges role facts from independent authorities into one
// deduplicated role set. Policy: union, never subtract — a stored role is
// never removed by enrichment, even when the authority that granted it no
// longer agrees.
package roles

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kindbridge/kindbridge/internal/config"
	kberr "github.com/kindbridge/kindbridge/pkg/errors"
	"github.com/kindbridge/kindbridge/pkg/types"
)

// OrgApplicationSource lists organization applications for a lowercase email
// key. Implemented by the backend client.
type OrgApplicationSource interface {
	ListOrgApplications(ctx context.Context, emailKey string) ([]types.OrgApplication, error)
}

// Enricher computes the merged role set for a user from the stored roles,
// the admin allowlist, and approved organization applications.
type Enricher struct {
	apps            OrgApplicationSource
	superAdminEmail string
	adminEmails     map[string]struct{}
	sourceTimeout   time.Duration
	log             *slog.Logger
}

// NewEnricher creates an Enricher from the roles configuration. Emails in
// cfg are expected to be lowercase already (config normalization does this).
func NewEnricher(apps OrgApplicationSource, cfg config.RolesConfig, log *slog.Logger) *Enricher {
	if log == nil {
		log = slog.Default()
	}

	allow := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		allow[email] = struct{}{}
	}

	return &Enricher{
		apps:            apps,
		superAdminEmail: cfg.SuperAdminEmail,
		adminEmails:     allow,
		sourceTimeout:   cfg.SourceTimeout,
		log:             log,
	}
}

// contribution is what a single role source adds to the merged set.
type contribution struct {
	roles   []string
	appID   string
	orgName string
}

// Enrich returns a copy of user with the merged role set. The two external
// authorities are consulted concurrently, each bounded by its own timeout; a
// source that fails or times out contributes nothing rather than failing the
// enrichment. The result is deterministic given stable inputs: the merged
// set is deduplicated and sorted.
func (e *Enricher) Enrich(ctx context.Context, user *types.User) (*types.User, error) {
	if user == nil {
		return nil, kberr.New(kberr.CodeIdentityInputInvalid, "enrich: user must not be nil")
	}

	enriched := *user

	emailKey := strings.ToLower(strings.TrimSpace(user.Email))
	if emailKey == "" {
		return &enriched, nil
	}

	allowCh := make(chan contribution, 1)
	orgCh := make(chan contribution, 1)

	go func() {
		allowCh <- e.allowlistRoles(emailKey)
	}()
	go func() {
		srcCtx, cancel := context.WithTimeout(ctx, e.sourceTimeout)
		defer cancel()
		orgCh <- e.orgApplicationRoles(srcCtx, emailKey)
	}()

	allow := <-allowCh
	org := <-orgCh

	enriched.Roles = types.UniqueSortedRoles(user.Roles, allow.roles, org.roles)
	if org.appID != "" {
		enriched.OrgApplicationID = org.appID
		enriched.OrgName = org.orgName
	}

	return &enriched, nil
}

// allowlistRoles is the config-backed authority: the super-admin email gets
// super_admin, other allowlisted emails get admin.
func (e *Enricher) allowlistRoles(emailKey string) contribution {
	if e.superAdminEmail != "" && emailKey == e.superAdminEmail {
		return contribution{roles: []string{types.RoleTagSuperAdmin}}
	}
	if _, ok := e.adminEmails[emailKey]; ok {
		return contribution{roles: []string{types.RoleTagAdmin}}
	}
	return contribution{}
}

// orgApplicationRoles is the backend authority: an approved application for
// the email grants org_admin and carries the org identity onto the user.
func (e *Enricher) orgApplicationRoles(ctx context.Context, emailKey string) contribution {
	apps, err := e.apps.ListOrgApplications(ctx, emailKey)
	if err != nil {
		e.log.Warn("org application source unavailable, proceeding without it",
			"email", emailKey,
			"code", kberr.CodeRolesSourceUnavailable,
			"error", err,
		)
		return contribution{}
	}

	for _, app := range apps {
		if app.Status == types.OrgApplicationApproved {
			return contribution{
				roles:   []string{types.RoleTagOrgAdmin},
				appID:   app.ID,
				orgName: app.OrgName,
			}
		}
	}
	return contribution{}
}
