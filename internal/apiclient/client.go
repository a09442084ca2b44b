// Package apiclient is the HTTP client the console uses to talk to the
// managervnc API with a bearer token.
package apiclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"managervnc/internal/identity"
	"managervnc/internal/registry"
)

// Client is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	hc      *http.Client

	mu    sync.RWMutex
	token string
	user  *identity.User
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	Addr     string
	Insecure bool
	Timeout  time.Duration
	Token    string
}

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// IsStatus reports whether err is an API error with the given status.
func IsStatus(err error, status int) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == status
}

// NewClient validates the address. Plain http is accepted.
func NewClient(opt ClientOptions) (*Client, error) {
	if opt.Addr == "" {
		return nil, errors.New("addr is required")
	}
	u, err := url.Parse(opt.Addr)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Host == "" {
		return nil, errors.New("invalid addr")
	}
	t := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if strings.EqualFold(u.Scheme, "https") {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: opt.Insecure, MinVersion: tls.VersionTLS12} //nolint:gosec
	}
	timeout := opt.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: u,
		hc:      &http.Client{Transport: t, Timeout: timeout},
		token:   opt.Token,
	}, nil
}

// Addr returns scheme://host of the server, without credentials.
func (c *Client) Addr() string { return c.baseURL.Scheme + "://" + c.baseURL.Host }

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// User returns the signed-in account, if known.
func (c *Client) User() *identity.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Client) setSession(token string, u *identity.User) {
	c.mu.Lock()
	c.token, c.user = token, u
	c.mu.Unlock()
}

type sessionResponse struct {
	Token string        `json:"token"`
	User  identity.User `json:"user"`
}

// Login signs in and keeps the token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*identity.User, error) {
	var resp sessionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", nil, map[string]string{"email": email, "password": password}, &resp); err != nil {
		return nil, err
	}
	c.setSession(resp.Token, &resp.User)
	return &resp.User, nil
}

// Register creates an account and signs in as it.
func (c *Client) Register(ctx context.Context, email, password string) (*identity.User, error) {
	var resp sessionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", nil, map[string]string{"email": email, "password": password}, &resp); err != nil {
		return nil, err
	}
	c.setSession(resp.Token, &resp.User)
	return &resp.User, nil
}

// Logout revokes the token server side and forgets it.
func (c *Client) Logout(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil)
	c.setSession("", nil)
	return err
}

// Me refreshes the signed-in account.
func (c *Client) Me(ctx context.Context) (*identity.User, error) {
	var resp struct {
		User identity.User `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/me", nil, nil, &resp); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.user = &resp.User
	c.mu.Unlock()
	return &resp.User, nil
}

// ChangePassword replaces the account password.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/password", nil, map[string]string{"currentPassword": current, "newPassword": next}, nil)
}

// Pool selects a machine listing.
type Pool string

const (
	PoolAll      Pool = ""
	PoolShared   Pool = "shared"
	PoolPersonal Pool = "personal"
)

// ListMachines returns the visible machines of a pool.
func (c *Client) ListMachines(ctx context.Context, pool Pool) ([]registry.Machine, error) {
	path := "/api/vnc-machines"
	if pool != PoolAll {
		path += "/" + string(pool)
	}
	var resp struct {
		Machines []registry.Machine `json:"machines"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Machines, nil
}

// GetMachine fetches one machine.
func (c *Client) GetMachine(ctx context.Context, id string) (*registry.Machine, error) {
	return c.machineCall(ctx, http.MethodGet, "/api/vnc-machines/"+url.PathEscape(id), nil)
}

// CreateMachine adds a machine.
func (c *Client) CreateMachine(ctx context.Context, in registry.MachineInput) (*registry.Machine, error) {
	return c.machineCall(ctx, http.MethodPost, "/api/vnc-machines", in)
}

// UpdateMachine applies a partial update.
func (c *Client) UpdateMachine(ctx context.Context, id string, p registry.MachinePatch) (*registry.Machine, error) {
	return c.machineCall(ctx, http.MethodPatch, "/api/vnc-machines/"+url.PathEscape(id), p)
}

func (c *Client) machineCall(ctx context.Context, method, path string, body any) (*registry.Machine, error) {
	var resp struct {
		Machine registry.Machine `json:"machine"`
	}
	if err := c.doJSON(ctx, method, path, nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Machine, nil
}

// DeleteMachine removes a machine.
func (c *Client) DeleteMachine(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/vnc-machines/"+url.PathEscape(id), nil, nil, nil)
}

// ToggleFavorite flips the favorite mark and returns the new state.
func (c *Client) ToggleFavorite(ctx context.Context, machineID string) (bool, error) {
	var resp struct {
		IsFavorite bool `json:"isFavorite"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/favorites/"+url.PathEscape(machineID), nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.IsFavorite, nil
}

// ListFavorites returns the caller's favorite machines.
func (c *Client) ListFavorites(ctx context.Context) ([]registry.Machine, error) {
	var resp struct {
		Machines []registry.Machine `json:"machines"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/favorites", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Machines, nil
}

// LogActivity records a connect or disconnect.
func (c *Client) LogActivity(ctx context.Context, machineID, action string) (*registry.ActivityEntry, error) {
	var resp struct {
		Log registry.ActivityEntry `json:"log"`
	}
	body := map[string]string{"machineId": machineID, "action": action}
	if err := c.doJSON(ctx, http.MethodPost, "/api/activity-logs", nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Log, nil
}

// ListActivity returns recent activity. Zero limit uses the server default.
func (c *Client) ListActivity(ctx context.Context, limit int, machineID string) ([]registry.ActivityEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if machineID != "" {
		q.Set("machineId", machineID)
	}
	var resp struct {
		Logs []registry.ActivityEntry `json:"logs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/activity-logs", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

// ExportActivity downloads the activity export as JSON bytes.
func (c *Client) ExportActivity(ctx context.Context) ([]byte, error) {
	return c.doRaw(ctx, http.MethodGet, "/api/activity-logs/export", nil, nil, "")
}

// ExportMachines downloads the machine export file.
func (c *Client) ExportMachines(ctx context.Context, pool Pool, includePasswords, compress bool) ([]byte, error) {
	q := url.Values{}
	if pool != PoolAll {
		q.Set("pool", string(pool))
	}
	if includePasswords {
		q.Set("includePasswords", "true")
	}
	if compress {
		q.Set("compress", "true")
	}
	return c.doRaw(ctx, http.MethodGet, "/api/vnc-machines/export", q, nil, "")
}

// ImportMachines uploads an export file, plain or zstd.
func (c *Client) ImportMachines(ctx context.Context, data []byte) (*registry.ImportResult, error) {
	b, err := c.doRaw(ctx, http.MethodPost, "/api/vnc-machines/import", nil, bytes.NewReader(data), "application/octet-stream")
	if err != nil {
		return nil, err
	}
	var res registry.ImportResult
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListUsers returns every account. Admin only.
func (c *Client) ListUsers(ctx context.Context) ([]identity.User, error) {
	var resp struct {
		Users []identity.User `json:"users"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/users", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// UpdateUser changes a user's role and/or sharing flag. Admin only.
func (c *Client) UpdateUser(ctx context.Context, id string, role *string, canManageShared *bool) (*identity.User, error) {
	body := struct {
		Role                    *string `json:"role,omitempty"`
		CanManageSharedMachines *bool   `json:"canManageSharedMachines,omitempty"`
	}{role, canManageShared}
	var resp struct {
		User identity.User `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodPatch, "/api/users/"+url.PathEscape(id), nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// DeleteUser removes an account. Admin only.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/users/"+url.PathEscape(id), nil, nil, nil)
}

// Health checks the server and its database.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, body, out any) error {
	var rd io.Reader
	ctype := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
		ctype = "application/json"
	}
	b, err := c.doRaw(ctx, method, path, q, rd, ctype)
	if err != nil || out == nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (c *Client) doRaw(ctx context.Context, method, path string, q url.Values, body io.Reader, ctype string) ([]byte, error) {
	u := c.baseURL.ResolveReference(&url.URL{Path: path, RawQuery: q.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if ctype != "" {
		req.Header.Set("content-type", ctype)
	}
	req.Header.Set("accept", "application/json")
	if tok := c.Token(); tok != "" {
		req.Header.Set("authorization", "Bearer "+tok)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(b, &er)
		msg := er.Error
		if msg == "" {
			msg = resp.Status
		}
		return nil, &Error{Status: resp.StatusCode, Message: msg}
	}
	return b, nil
}

// IsLocal reports whether addr points at this host, where a self-signed
// certificate is expected.
func IsLocal(addr string) bool {
	u, err := url.Parse(addr)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func (p Pool) String() string {
	if p == PoolAll {
		return "all"
	}
	return string(p)
}
