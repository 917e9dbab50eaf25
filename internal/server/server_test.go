package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jjudge-oj/authserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(driver string) config.Config {
	return config.Config{
		ServerPort:  0,
		StoreDriver: driver,
		Auth: config.AuthConfig{
			JWTSecret:            "test-secret",
			JWTIssuer:            "authserver-test",
			TokenTTL:             time.Hour,
			BcryptCost:           4,
			MaxConcurrentHashing: 2,
		},
		MQ:  config.MQConfig{Backend: config.MQBackendNone},
		Log: config.LogConfig{Level: "error", Format: "text"},
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getWithToken(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func exerciseServer(t *testing.T, cfg config.Config) {
	t.Helper()

	srv, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.closeAll() })

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := getWithToken(t, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/v1/auth/register", map[string]string{
		"email": "a@x.com", "firstName": "Ann", "lastName": "Lee", "password": "pw123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/v1/auth/authenticate", map[string]string{"email": "a@x.com", "password": "pw123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var auth struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&auth))
	require.NotEmpty(t, auth.Token)

	resp = getWithToken(t, ts.URL+"/api/v1/users/me", auth.Token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = getWithToken(t, ts.URL+"/api/v1/users/me", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = getWithToken(t, ts.URL+"/api/v1/missing", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = getWithToken(t, ts.URL+"/api/v1/missing", auth.Token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/v1/auth/authenticate", map[string]string{"email": "a@x.com", "password": "bad"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_MemoryStore(t *testing.T) {
	exerciseServer(t, testConfig(config.StoreDriverMemory))
}

func TestServer_MemoryEvents(t *testing.T) {
	cfg := testConfig(config.StoreDriverMemory)
	cfg.MQ = config.MQConfig{Backend: config.MQBackendMemory, EventsChannel: "auth-events"}
	exerciseServer(t, cfg)
}

func TestServer_SQLiteStore(t *testing.T) {
	cfg := testConfig(config.StoreDriverSQLite)
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "auth.db")
	exerciseServer(t, cfg)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(config.StoreDriverMemory)
	cfg.Auth.JWTSecret = ""

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)

	cfg = testConfig("mongo")
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestServer_ShutdownWithoutStart(t *testing.T) {
	srv, err := New(context.Background(), testConfig(config.StoreDriverMemory))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}
