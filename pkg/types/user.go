// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

// Package types holds the domain types shared between the session engine,
// the backend client, and consumers of the public API.
package types

import "time"

// User is the canonical KindBridge user record: the principal held by the
// session engine once a login or restoration succeeds.
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	KarmaPoints int       `json:"karma_points"`
	JoinDate    time.Time `json:"join_date"`
	IsActive    bool      `json:"is_active"`
	LastActive  time.Time `json:"last_active"`

	Location  Location `json:"location"`
	Interests []string `json:"interests,omitempty"`

	// Roles is the deduplicated role tag set. The persisted value is not
	// ground truth on its own: role enrichment unions it with the admin
	// allowlist and approved organization applications.
	Roles []string `json:"roles,omitempty"`

	PostsCount     int `json:"posts_count"`
	FollowersCount int `json:"followers_count"`
	FollowingCount int `json:"following_count"`

	Notifications []Notification `json:"notifications,omitempty"`
	Settings      Settings       `json:"settings"`

	// Org enrichment, set when an approved organization application exists
	// for the user's email.
	OrgApplicationID string `json:"org_application_id,omitempty"`
	OrgName          string `json:"org_name,omitempty"`
}

// Location is the user's coarse location.
type Location struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// Notification is a single in-app notification entry.
type Notification struct {
	Type string    `json:"type"`
	Text string    `json:"text"`
	Date time.Time `json:"date"`
}

// Settings holds per-user app preferences.
type Settings struct {
	Language             string `json:"language"`
	DarkMode             bool   `json:"dark_mode"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
}

// OrgApplication is an organization application record keyed by the
// applicant's lowercase email. An approved application grants org_admin.
type OrgApplication struct {
	ID      string `json:"id"`
	OrgName string `json:"org_name"`
	Email   string `json:"email"`
	Status  string `json:"status"`
}

// Organization application statuses.
const (
	OrgApplicationPending  = "pending"
	OrgApplicationApproved = "approved"
)
