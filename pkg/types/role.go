// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package types

import "sort"

// Role is the simplified access level derived from a user's role tags.
type Role string

const (
	RoleGuest Role = "guest"
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Role tags carried in User.Roles.
const (
	RoleTagUser       = "user"
	RoleTagAdmin      = "admin"
	RoleTagSuperAdmin = "super_admin"
	RoleTagOrgAdmin   = "org_admin"
)

// ComputeRole derives the access level from a user and auth mode. Guest mode
// and a missing user always compute to guest, regardless of stored tags.
func ComputeRole(user *User, mode AuthMode) Role {
	if mode == AuthModeGuest || user == nil {
		return RoleGuest
	}
	for _, tag := range user.Roles {
		switch tag {
		case RoleTagAdmin, RoleTagSuperAdmin, RoleTagOrgAdmin:
			return RoleAdmin
		}
	}
	return RoleUser
}

// IsAdminUser reports whether the user carries an admin-equivalent tag.
// org_admin scopes to a single organization and does not count.
func IsAdminUser(user *User) bool {
	if user == nil {
		return false
	}
	for _, tag := range user.Roles {
		if tag == RoleTagAdmin || tag == RoleTagSuperAdmin {
			return true
		}
	}
	return false
}

// UniqueSortedRoles returns the deduplicated union of the given role tag
// slices, sorted so that equal sets always serialize identically.
func UniqueSortedRoles(sets ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, set := range sets {
		for _, tag := range set {
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

// EqualRoleSets reports whether two role tag slices contain the same set of
// tags, ignoring order and duplicates.
func EqualRoleSets(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, tag := range a {
		as[tag] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, tag := range b {
		bs[tag] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for tag := range as {
		if _, ok := bs[tag]; !ok {
			return false
		}
	}
	return true
}
