package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"managervnc/internal/auth"
	"managervnc/internal/db"
	"managervnc/internal/identity"
	"managervnc/internal/policy"
	"managervnc/internal/registry"
)

type testServer struct {
	t   *testing.T
	srv *Server
	ids *identity.Service
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	ctx := context.Background()
	d, err := db.Open(ctx, t.TempDir()+"/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	iss, err := auth.NewIssuer("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)
	ids := identity.New(d, iss, logger)
	ids.Argon = auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}
	reg := registry.New(d, policy.Policy{}, nil, logger)

	srv, err := New(d, ids, reg, logger, opts)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, ids: ids}
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(ts.t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) register(email string) (token, id string) {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/auth/register", "", map[string]string{"email": email, "password": "secret1"})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		Token string        `json:"token"`
		User  identity.User `json:"user"`
	}
	decode(ts.t, rec, &out)
	return out.Token, out.User.ID
}

func (ts *testServer) admin() string {
	ts.t.Helper()
	_, _, err := ts.ids.EnsureAdmin(context.Background(), "admin@example.com", "adminpass")
	require.NoError(ts.t, err)
	rec := ts.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "admin@example.com", "password": "adminpass"})
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	decode(ts.t, rec, &out)
	return out.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out struct {
		Error string `json:"error"`
	}
	decode(t, rec, &out)
	return out.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("x-content-type-options"))
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.do(http.MethodGet, "/api/vnc-machines", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "no token provided", errorOf(t, rec))

	rec = ts.do(http.MethodGet, "/api/vnc-machines", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid token", errorOf(t, rec))
}

func TestRegisterMeLogout(t *testing.T) {
	ts := newTestServer(t, Options{})
	tok, id := ts.register("alice@example.com")

	rec := ts.do(http.MethodGet, "/api/auth/me", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		User identity.User `json:"user"`
	}
	decode(t, rec, &me)
	assert.Equal(t, id, me.User.ID)
	assert.Equal(t, "USER", me.User.Role)

	rec = ts.do(http.MethodPost, "/api/auth/register", "", map[string]string{"email": "alice@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodPost, "/api/auth/logout", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(http.MethodGet, "/api/auth/me", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.register("alice@example.com")
	rec := ts.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "nope123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid email or password", errorOf(t, rec))
}

func TestLoginRateLimited(t *testing.T) {
	ts := newTestServer(t, Options{LoginRateMax: 2, LoginRateWindow: time.Minute})
	body := map[string]string{"email": "x@example.com", "password": "whatever"}
	for i := 0; i < 2; i++ {
		rec := ts.do(http.MethodPost, "/api/auth/login", "", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := ts.do(http.MethodPost, "/api/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("retry-after"))
}

func TestMachineLifecycle(t *testing.T) {
	ts := newTestServer(t, Options{})
	alice, aliceID := ts.register("alice@example.com")
	bob, _ := ts.register("bob@example.com")

	rec := ts.do(http.MethodPost, "/api/vnc-machines", alice, map[string]any{"name": "lab", "host": "10.0.0.9", "tags": []string{"dev"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Machine registry.Machine `json:"machine"`
	}
	decode(t, rec, &created)
	m := created.Machine
	assert.Equal(t, 5900, m.Port)
	require.NotNil(t, m.OwnerID)
	assert.Equal(t, aliceID, *m.OwnerID)

	rec = ts.do(http.MethodGet, "/api/vnc-machines/"+m.ID, bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access denied", errorOf(t, rec))

	rec = ts.do(http.MethodPatch, "/api/vnc-machines/"+m.ID, alice, map[string]any{"port": 5901})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated struct {
		Machine registry.Machine `json:"machine"`
	}
	decode(t, rec, &updated)
	assert.Equal(t, 5901, updated.Machine.Port)
	assert.Equal(t, "lab", updated.Machine.Name)

	rec = ts.do(http.MethodPatch, "/api/vnc-machines/"+m.ID, alice, map[string]any{"port": 70000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPatch, "/api/vnc-machines/"+m.ID, alice, map[string]any{"isShared": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/api/vnc-machines/personal", alice, nil)
	var list struct {
		Machines []registry.Machine `json:"machines"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Machines, 1)

	rec = ts.do(http.MethodDelete, "/api/vnc-machines/"+m.ID, bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.do(http.MethodDelete, "/api/vnc-machines/"+m.ID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"VNC machine deleted successfully"}`, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/vnc-machines/"+m.ID, alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "VNC machine not found", errorOf(t, rec))
}

func TestInvalidJSON(t *testing.T) {
	ts := newTestServer(t, Options{})
	tok, _ := ts.register("alice@example.com")
	req := httptest.NewRequest(http.MethodPost, "/api/vnc-machines", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSharedMachinesAndFavorites(t *testing.T) {
	ts := newTestServer(t, Options{})
	admin := ts.admin()
	alice, _ := ts.register("alice@example.com")

	rec := ts.do(http.MethodPost, "/api/vnc-machines", alice, map[string]any{"name": "s", "host": "h", "isShared": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, "/api/vnc-machines", admin, map[string]any{"name": "s", "host": "h", "isShared": true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Machine registry.Machine `json:"machine"`
	}
	decode(t, rec, &created)
	id := created.Machine.ID

	rec = ts.do(http.MethodPost, "/api/favorites/"+id, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"isFavorite":true}`, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/vnc-machines/shared", alice, nil)
	var list struct {
		Machines []registry.Machine `json:"machines"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Machines, 1)
	assert.True(t, list.Machines[0].IsFavorite)

	rec = ts.do(http.MethodGet, "/api/favorites", alice, nil)
	decode(t, rec, &list)
	assert.Len(t, list.Machines, 1)

	rec = ts.do(http.MethodPost, "/api/favorites/"+id, alice, nil)
	assert.JSONEq(t, `{"isFavorite":false}`, rec.Body.String())

	rec = ts.do(http.MethodPost, "/api/favorites/missing", alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodDelete, "/api/vnc-machines/"+id, alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "you do not have permission to delete shared machines", errorOf(t, rec))
}

func TestActivityLog(t *testing.T) {
	ts := newTestServer(t, Options{})
	alice, _ := ts.register("alice@example.com")
	bob, _ := ts.register("bob@example.com")

	rec := ts.do(http.MethodPost, "/api/vnc-machines", alice, map[string]any{"name": "lab", "host": "h"})
	var created struct {
		Machine registry.Machine `json:"machine"`
	}
	decode(t, rec, &created)
	id := created.Machine.ID

	rec = ts.do(http.MethodPost, "/api/activity-logs", alice, map[string]string{"machineId": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var logged struct {
		Log registry.ActivityEntry `json:"log"`
	}
	decode(t, rec, &logged)
	assert.Equal(t, "connect", logged.Log.Action)

	rec = ts.do(http.MethodPost, "/api/activity-logs", bob, map[string]string{"machineId": id})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/api/activity-logs?limit=1", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs struct {
		Logs []registry.ActivityEntry `json:"logs"`
	}
	decode(t, rec, &logs)
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, "connect", logs.Logs[0].Action)

	rec = ts.do(http.MethodGet, "/api/activity-logs?limit=abc", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/activity-logs/export", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("content-disposition"), "vnc-activity-")
	var exported []registry.ActivityEntry
	decode(t, rec, &exported)
	assert.Len(t, exported, 2)
}

func TestExportImportRoundTrip(t *testing.T) {
	ts := newTestServer(t, Options{})
	alice, _ := ts.register("alice@example.com")
	bob, _ := ts.register("bob@example.com")

	rec := ts.do(http.MethodPost, "/api/vnc-machines", alice, map[string]any{"name": "lab", "host": "h", "password": "pw", "groups": []string{"ops"}})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodGet, "/api/vnc-machines/export?compress=true", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zstd", rec.Header().Get("content-type"))
	payload := rec.Body.Bytes()

	req := httptest.NewRequest(http.MethodPost, "/api/vnc-machines/import", bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+bob)
	rec = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res registry.ImportResult
	decode(t, rec, &res)
	assert.Equal(t, 1, res.Imported)

	rec = ts.do(http.MethodGet, "/api/vnc-machines/personal", bob, nil)
	var list struct {
		Machines []registry.Machine `json:"machines"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Machines, 1)
	assert.Equal(t, []string{"ops"}, list.Machines[0].Groups)
	assert.Nil(t, list.Machines[0].Password, "export omits passwords by default")

	req = httptest.NewRequest(http.MethodPost, "/api/vnc-machines/import", strings.NewReader("not json"))
	req.Header.Set("Authorization", "Bearer "+bob)
	rec = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserAdministration(t *testing.T) {
	ts := newTestServer(t, Options{})
	admin := ts.admin()
	alice, aliceID := ts.register("alice@example.com")

	rec := ts.do(http.MethodGet, "/api/users", alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "admin access required", errorOf(t, rec))

	rec = ts.do(http.MethodGet, "/api/users", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users struct {
		Users []identity.User `json:"users"`
	}
	decode(t, rec, &users)
	assert.Len(t, users.Users, 2)

	rec = ts.do(http.MethodPatch, "/api/users/"+aliceID, admin, map[string]any{"canManageSharedMachines": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/api/vnc-machines", alice, map[string]any{"name": "s", "host": "h", "isShared": true})
	assert.Equal(t, http.StatusCreated, rec.Code, "capability applies without a new token")

	rec = ts.do(http.MethodDelete, "/api/users/"+aliceID, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"User deleted successfully"}`, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/auth/me", alice, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAllowlist(t *testing.T) {
	ts := newTestServer(t, Options{AdminAllowCIDRs: []string{"10.0.0.0/8"}})
	admin := ts.admin()

	// httptest requests come from 192.0.2.1.
	rec := ts.do(http.MethodGet, "/api/users", admin, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("Authorization", "Bearer "+admin)
	rec = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRejectsBadCIDR(t *testing.T) {
	d, err := db.Open(context.Background(), t.TempDir()+"/test.db")
	require.NoError(t, err)
	defer d.Close()
	iss, err := auth.NewIssuer("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)
	_, err = New(d, identity.New(d, iss, nil), registry.New(d, policy.Policy{}, nil, nil), nil, Options{AdminAllowCIDRs: []string{"nope"}})
	assert.Error(t, err)
}

func TestRecoverAnswers500(t *testing.T) {
	ts := newTestServer(t, Options{})
	h := ts.srv.withRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "server error", errorOf(t, rec))
}

func TestFixedWindowLimiter(t *testing.T) {
	l := newFixedWindowLimiter(2, time.Minute)
	defer l.Stop()
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	ok, _ := l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.True(t, ok)
	ok, wait := l.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, wait)
	ok, _ = l.Allow("b")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = l.Allow("a")
	assert.True(t, ok)
	l.cleanup()
	l.Stop()
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "0", retryAfterSeconds(0))
	assert.Equal(t, "1", retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, "60", retryAfterSeconds(time.Minute))
}
