// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kindbridge/kindbridge/internal/backend"
	kberr "github.com/kindbridge/kindbridge/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUserID_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/users/resolve-id", r.URL.Path)

		var req backend.ResolveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ext-1", req.ExternalUID)
		assert.Equal(t, "alice@example.org", req.Email)

		_, _ = w.Write([]byte(`{"success":true,"user":{"id":"u-1","name":"Alice","email":"alice@example.org"}}`))
	}))
	defer srv.Close()

	c := backend.New(srv.URL, time.Second, nil)
	user, err := c.ResolveUserID(context.Background(), backend.ResolveRequest{
		ExternalUID: "ext-1",
		Email:       "alice@example.org",
	})
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, "Alice", user.Name)
}

func TestResolveUserID_NoMatchIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"no user"}`))
	}))
	defer srv.Close()

	c := backend.New(srv.URL, time.Second, nil)
	_, err := c.ResolveUserID(context.Background(), backend.ResolveRequest{ExternalUID: "ext-x"})
	require.Error(t, err)
	assert.True(t, kberr.HasCode(err, kberr.CodeIdentityUserNotFound))
}

func TestResolveUserID_RequiresUID(t *testing.T) {
	c := backend.New("http://unused", time.Second, nil)
	_, err := c.ResolveUserID(context.Background(), backend.ResolveRequest{Email: "a@b.c"})
	require.Error(t, err)
	assert.True(t, kberr.HasCode(err, kberr.CodeBackendRequestInvalid))
}

func TestGetUser_ByEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/users/alice@example.org", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"u-1","email":"alice@example.org"}}`))
	}))
	defer srv.Close()

	c := backend.New(srv.URL, time.Second, nil)
	user, err := c.GetUser(context.Background(), "alice@example.org")
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
}

func TestGetUser_404IsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := backend.New(srv.URL, time.Second, nil)
	_, err := c.GetUser(context.Background(), "u-missing")
	require.Error(t, err)
	assert.True(t, kberr.IsNotFound(err))
}

func TestListOrgApplications(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/org-applications", r.URL.Path)
		require.Equal(t, "org@example.org", r.URL.Query().Get("email"))
		_, _ = w.Write([]byte(`{"success":true,"data":[{"id":"app-1","org_name":"Food Bank","email":"org@example.org","status":"approved"}]}`))
	}))
	defer srv.Close()

	c := backend.New(srv.URL, time.Second, nil)
	apps, err := c.ListOrgApplications(context.Background(), "org@example.org")
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "approved", apps[0].Status)
	assert.Equal(t, "Food Bank", apps[0].OrgName)
}

func TestListOrgApplications_EmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := backend.New(srv.URL, time.Second, nil)
	apps, err := c.ListOrgApplications(context.Background(), "nobody@example.org")
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestDo_ServerErrorIsUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := backend.New(srv.URL, time.Second, nil)
	_, err := c.GetUser(context.Background(), "u-1")
	require.Error(t, err)
	assert.True(t, kberr.IsUpstreamFailure(err))
}

func TestDo_SlowServerIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := backend.New(srv.URL, 20*time.Millisecond, nil)
	_, err := c.GetUser(context.Background(), "u-1")
	require.Error(t, err)
	assert.True(t, kberr.IsTimeout(err))
}

func TestDo_MalformedJSONIsResponseInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":`))
	}))
	defer srv.Close()

	c := backend.New(srv.URL, time.Second, nil)
	_, err := c.GetUser(context.Background(), "u-1")
	require.Error(t, err)
	assert.True(t, kberr.HasCode(err, kberr.CodeBackendResponseInvalid))
}
