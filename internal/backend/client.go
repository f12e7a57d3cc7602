// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

// Package backend is the HTTP client for the KindBridge REST API: identity
// resolution, user lookup, and the org-application role source.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	kberr "github.com/kindbridge/kindbridge/pkg/errors"
	"github.com/kindbridge/kindbridge/pkg/types"
)

// ResolveRequest identifies an external-provider identity to be mapped to a
// canonical user record. ExternalUID is required; the rest are fallbacks the
// server may use.
type ResolveRequest struct {
	ExternalUID         string `json:"external_uid"`
	SecondaryProviderID string `json:"secondary_provider_id,omitempty"`
	Email               string `json:"email,omitempty"`
}

// Client talks to the KindBridge API.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// New creates a Client for the given base URL. Every request is bounded by
// timeout in addition to any deadline on the caller's context.
func New(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// envelope is the standard API response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	User    json.RawMessage `json:"user,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ResolveUserID maps an external-provider identity to the canonical user
// record via POST /api/users/resolve-id.
func (c *Client) ResolveUserID(ctx context.Context, req ResolveRequest) (*types.User, error) {
	if req.ExternalUID == "" {
		return nil, kberr.New(kberr.CodeBackendRequestInvalid, "resolve: external uid must not be empty")
	}

	env, err := c.postJSON(ctx, "/api/users/resolve-id", req)
	if err != nil {
		return nil, err
	}

	if !env.Success || len(env.User) == 0 {
		return nil, kberr.New(kberr.CodeIdentityUserNotFound, "no canonical user for external identity",
			kberr.Field("external_uid", req.ExternalUID))
	}

	var user types.User
	if err := json.Unmarshal(env.User, &user); err != nil {
		return nil, kberr.Wrap(err, kberr.CodeBackendResponseInvalid, "decoding resolved user")
	}
	return &user, nil
}

// GetUser fetches a user record by internal id or email via GET /api/users/{idOrEmail}.
func (c *Client) GetUser(ctx context.Context, idOrEmail string) (*types.User, error) {
	if idOrEmail == "" {
		return nil, kberr.New(kberr.CodeBackendRequestInvalid, "get user: id or email must not be empty")
	}

	env, err := c.getJSON(ctx, "/api/users/"+url.PathEscape(idOrEmail))
	if err != nil {
		return nil, err
	}

	if !env.Success || len(env.Data) == 0 {
		return nil, kberr.New(kberr.CodeIdentityUserNotFound, "user not found",
			kberr.Field("id_or_email", idOrEmail))
	}

	var user types.User
	if err := json.Unmarshal(env.Data, &user); err != nil {
		return nil, kberr.Wrap(err, kberr.CodeBackendResponseInvalid, "decoding user")
	}
	return &user, nil
}

// ListOrgApplications returns the organization applications filed under the
// given lowercase email key via GET /api/org-applications.
func (c *Client) ListOrgApplications(ctx context.Context, emailKey string) ([]types.OrgApplication, error) {
	if emailKey == "" {
		return nil, kberr.New(kberr.CodeBackendRequestInvalid, "list org applications: email key must not be empty")
	}

	env, err := c.getJSON(ctx, "/api/org-applications?email="+url.QueryEscape(emailKey))
	if err != nil {
		return nil, err
	}

	if len(env.Data) == 0 {
		return nil, nil
	}

	var apps []types.OrgApplication
	if err := json.Unmarshal(env.Data, &apps); err != nil {
		return nil, kberr.Wrap(err, kberr.CodeBackendResponseInvalid, "decoding org applications")
	}
	return apps, nil
}

func (c *Client) getJSON(ctx context.Context, path string) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, kberr.Wrap(err, kberr.CodeBackendRequestInvalid, "building request")
	}
	return c.do(req)
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, kberr.Wrap(err, kberr.CodeBackendRequestInvalid, "encoding request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, kberr.Wrap(err, kberr.CodeBackendRequestInvalid, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*envelope, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return nil, kberr.Wrapf(err, kberr.CodeBackendTimeout, "%s %s timed out", req.Method, req.URL.Path)
		}
		return nil, kberr.Wrapf(err, kberr.CodeBackendUpstreamFailure, "%s %s", req.Method, req.URL.Path)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &envelope{Success: false}, nil
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, kberr.Errorf(kberr.CodeBackendUpstreamFailure,
			"%s %s returned status %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(body))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, kberr.Wrapf(err, kberr.CodeBackendResponseInvalid, "decoding %s response", req.URL.Path)
	}
	return &env, nil
}

// isClientTimeout reports whether err is the http.Client timeout rather
// than a connection failure.
func isClientTimeout(err error) bool {
	var uerr *url.Error
	return errors.As(err, &uerr) && uerr.Timeout()
}
