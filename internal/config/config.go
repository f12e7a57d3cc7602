// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	kberr "github.com/kindbridge/kindbridge/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level KindBridge session engine configuration.
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Session SessionConfig `mapstructure:"session"`
	Roles   RolesConfig   `mapstructure:"roles"`
}

// BackendConfig points the engine at the KindBridge REST API.
type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SessionConfig controls session persistence and restoration behavior.
type SessionConfig struct {
	// StorageBackend selects the persistence adapter: memory, keyring, or sqlite.
	StorageBackend string `mapstructure:"storage_backend"`
	// KeyringService is the OS keyring service name used by the keyring backend.
	KeyringService string `mapstructure:"keyring_service"`
	// SQLitePath is the database file used by the sqlite backend.
	SQLitePath string `mapstructure:"sqlite_path"`
	// RestoreTimeout bounds boot-time role enrichment during CheckAuthStatus.
	// A slow backend degrades to restoring the unenriched record.
	RestoreTimeout time.Duration `mapstructure:"restore_timeout"`
	// EnrichTimeout bounds role enrichment during an interactive login.
	EnrichTimeout time.Duration `mapstructure:"enrich_timeout"`
}

// RolesConfig feeds the Role Enrichment Service.
type RolesConfig struct {
	// SuperAdminEmail receives the super_admin role. Lowercased on load.
	SuperAdminEmail string `mapstructure:"super_admin_email"`
	// AdminEmails is the allowlist of emails granted the admin role.
	AdminEmails []string `mapstructure:"admin_emails"`
	// SourceTimeout bounds each individual role-source lookup.
	SourceTimeout time.Duration `mapstructure:"source_timeout"`
}

// SetDefaults installs the default configuration values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", "https://api.kindbridge.org")
	v.SetDefault("backend.request_timeout", 5*time.Second)

	v.SetDefault("session.storage_backend", "keyring")
	v.SetDefault("session.keyring_service", "kindbridge")
	v.SetDefault("session.sqlite_path", "")
	v.SetDefault("session.restore_timeout", 4*time.Second)
	v.SetDefault("session.enrich_timeout", 6*time.Second)

	v.SetDefault("roles.super_admin_email", "")
	v.SetDefault("roles.admin_emails", []string{})
	v.SetDefault("roles.source_timeout", 3*time.Second)
}

// SetupEnv binds environment variable overrides (prefix KINDBRIDGE_).
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("KINDBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, kberr.Errorf(kberr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a configuration from an already
// populated Viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, kberr.Errorf(kberr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	cfg.normalize()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, kberr.Errorf(kberr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// normalize lowercases allowlist emails so role computation can key on
// the lowercase form everywhere.
func (c *Config) normalize() {
	c.Roles.SuperAdminEmail = strings.ToLower(strings.TrimSpace(c.Roles.SuperAdminEmail))
	emails := make([]string, 0, len(c.Roles.AdminEmails))
	for _, e := range c.Roles.AdminEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			emails = append(emails, e)
		}
	}
	c.Roles.AdminEmails = emails
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateBackend()...)
	errs = append(errs, c.validateSession()...)
	errs = append(errs, c.validateRoles()...)

	return errs
}

func (c *Config) validateBackend() []error {
	var errs []error

	if c.Backend.BaseURL == "" {
		errs = append(errs, kberr.Errorf(kberr.CodeConfigValidateInvalidValue, "config: backend.base_url must not be empty"))
	} else {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, kberr.Errorf(kberr.CodeConfigValidateInvalidValue,
				"config: backend.base_url must be an absolute URL, got %q",
				c.Backend.BaseURL,
			))
		}
	}

	if c.Backend.RequestTimeout <= 0 {
		errs = append(errs, kberr.Errorf(kberr.CodeConfigValidateInvalidValue,
			"config: backend.request_timeout must be greater than 0, got %s",
			c.Backend.RequestTimeout,
		))
	}

	return errs
}

func (c *Config) validateSession() []error {
	var errs []error

	validBackends := map[string]bool{"memory": true, "keyring": true, "sqlite": true}
	if !validBackends[c.Session.StorageBackend] {
		errs = append(errs, kberr.Errorf(kberr.CodeConfigValidateInvalidValue,
			"config: session.storage_backend must be one of [memory, keyring, sqlite], got %q",
			c.Session.StorageBackend,
		))
	}

	if c.Session.StorageBackend == "keyring" && c.Session.KeyringService == "" {
		errs = append(errs, kberr.Errorf(kberr.CodeConfigValidateInvalidValue,
			"config: session.keyring_service must not be empty for the keyring backend"))
	}

	if c.Session.StorageBackend == "sqlite" && c.Session.SQLitePath == "" {
		errs = append(errs, kberr.Errorf(kberr.CodeConfigValidateInvalidValue,
			"config: session.sqlite_path must not be empty for the sqlite backend"))
	}

	if c.Session.RestoreTimeout <= 0 {
		errs = append(errs, kberr.Errorf(kberr.CodeConfigValidateInvalidValue,
			"config: session.restore_timeout must be greater than 0, got %s",
			c.Session.RestoreTimeout,
		))
	}

	if c.Session.EnrichTimeout <= 0 {
		errs = append(errs, kberr.Errorf(kberr.CodeConfigValidateInvalidValue,
			"config: session.enrich_timeout must be greater than 0, got %s",
			c.Session.EnrichTimeout,
		))
	}

	return errs
}

func (c *Config) validateRoles() []error {
	var errs []error

	for i, email := range c.Roles.AdminEmails {
		if !strings.Contains(email, "@") {
			errs = append(errs, kberr.Errorf(kberr.CodeConfigValidateInvalidValue,
				"config: roles.admin_emails[%d] must be an email address, got %q",
				i, email,
			))
		}
	}

	if c.Roles.SuperAdminEmail != "" && !strings.Contains(c.Roles.SuperAdminEmail, "@") {
		errs = append(errs, kberr.Errorf(kberr.CodeConfigValidateInvalidValue,
			"config: roles.super_admin_email must be an email address, got %q",
			c.Roles.SuperAdminEmail,
		))
	}

	if c.Roles.SourceTimeout <= 0 {
		errs = append(errs, kberr.Errorf(kberr.CodeConfigValidateInvalidValue,
			"config: roles.source_timeout must be greater than 0, got %s",
			c.Roles.SourceTimeout,
		))
	}

	return errs
}
