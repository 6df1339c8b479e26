package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stackpanel/stackpanel/internal/cloudstack"
	"github.com/stackpanel/stackpanel/internal/config"
	"github.com/stackpanel/stackpanel/internal/domain"
	"github.com/stackpanel/stackpanel/internal/repository/etcd"
	"github.com/stackpanel/stackpanel/internal/repository/memory"
	"github.com/stackpanel/stackpanel/internal/repository/redis"
	"github.com/stackpanel/stackpanel/internal/services/auth"
	"github.com/stackpanel/stackpanel/internal/services/cloudsync"
	"github.com/stackpanel/stackpanel/internal/services/inventory"
)

type staticFetcher map[string]string

func (f staticFetcher) List(ctx context.Context, command string, params cloudstack.Params) ([]*simplejson.Json, error) {
	raw, ok := f[command]
	if !ok {
		return nil, fmt.Errorf("%s: %w", command, domain.ErrUnavailable)
	}
	js, err := simplejson.NewJson([]byte(raw))
	if err != nil {
		return nil, err
	}
	var items []*simplejson.Json
	for i := range js.MustArray() {
		items = append(items, js.GetIndex(i))
	}
	return items, nil
}

func (f staticFetcher) ListOnce(ctx context.Context, command string, params cloudstack.Params) ([]*simplejson.Json, error) {
	return f.List(ctx, command, params)
}

type chanEvents chan redis.Event

func (c chanEvents) Subscribe(ctx context.Context, channels ...string) <-chan redis.Event {
	return c
}

func register[T any, PT domain.EntityPtr[T]](reg *inventory.Registry) *inventory.Service[T, PT] {
	svc := inventory.NewService[T, PT](memory.NewStore[T, PT](), nil, zap.NewNop())
	reg.Register(svc.Resource())
	return svc
}

func zoneBinding(t *testing.T) cloudsync.Binding {
	t.Helper()
	for _, b := range cloudsync.DefaultBindings() {
		if b.Kind == domain.KindZone {
			return b
		}
	}
	t.Fatal("no zone binding")
	return cloudsync.Binding{}
}

type fakeLeader struct {
	leading bool
	holder  string
}

func (l *fakeLeader) IsLeader() bool { return l.leading }

func (l *fakeLeader) Holder(ctx context.Context) (string, error) {
	if l.holder == "" {
		return "", etcd.ErrKeyNotFound
	}
	return l.holder, nil
}

func (l *fakeLeader) Resign(ctx context.Context) error {
	l.leading = false
	return nil
}

type testServer struct {
	*httptest.Server
	users  *inventory.Service[domain.User, *domain.User]
	zones  *inventory.Service[domain.Zone, *domain.Zone]
	syncer *cloudsync.Syncer
	token  string
	events chanEvents
}

func newTestServer(t *testing.T, opts ...ServerOption) *testServer {
	t.Helper()
	logger := zap.NewNop()

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second},
		Auth: config.AuthConfig{
			JWTSecret:         "server-test-secret-at-least-32-bytes",
			TokenExpiry:       time.Minute,
			RefreshExpiry:     time.Hour,
			MaxFailedAttempts: 5,
			LockoutDuration:   time.Minute,
		},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		},
	}

	reg := inventory.NewRegistry()
	ts := &testServer{
		users:  register[domain.User](reg),
		zones:  register[domain.Zone](reg),
		events: make(chanEvents, 4),
	}
	history := register[domain.LoginHistory](reg)
	tracks := register[domain.LoginSecurityTrack](reg)
	syncs := register[domain.ManualCloudSync](reg)
	register[domain.Event](reg)

	authService := auth.NewService(ts.users, history, tracks, nil, auth.NewJWTManager(cfg.Auth), cfg.Auth, logger)
	require.NoError(t, authService.EnsureAdmin(context.Background(), "admin", "admin-password"))

	fetcher := staticFetcher{"listZones": `[{"id":"z1","name":"Zone A"},{"id":"z2","name":"Zone B"}]`}
	ts.syncer = cloudsync.NewSyncer(fetcher, reg, syncs, config.SyncConfig{Concurrency: 1}, logger,
		cloudsync.WithBindings([]cloudsync.Binding{zoneBinding(t)}))

	opts = append([]ServerOption{WithSyncer(ts.syncer), WithEventSource(ts.events)}, opts...)
	srv := New(cfg, reg, authService, logger, opts...)
	ts.Server = httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp := ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin", "password": "admin-password"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login struct {
		Tokens auth.TokenPair `json:"tokens"`
	}
	decodeBody(t, resp, &login)
	ts.token = login.Tokens.AccessToken
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dest interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)
	ts.token = ""

	for _, path := range []string{"/health", "/ready", "/live", "/api/v1/info"} {
		resp := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestServer_RequiresToken(t *testing.T) {
	ts := newTestServer(t)
	ts.token = ""

	resp := ts.do(t, http.MethodGet, "/api/v1/resources/zone", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ts.token = "not-a-token"
	resp = ts.do(t, http.MethodGet, "/api/v1/resources/zone", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_Login_BadPassword(t *testing.T) {
	ts := newTestServer(t)
	ts.token = ""

	resp := ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_ResourceLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/resources/zone", map[string]string{"name": "Manual Zone", "uuid": "zm"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var zone domain.Zone
	decodeBody(t, resp, &zone)
	assert.Zero(t, zone.Version)
	assert.Equal(t, domain.StatusActive, zone.Status)
	assert.NotZero(t, zone.CreatedBy)

	resp = ts.do(t, http.MethodGet, "/api/v1/resources/zone/by-key/zm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	zone.Name = "Renamed"
	resp = ts.do(t, http.MethodPut, fmt.Sprintf("/api/v1/resources/zone/%d", zone.ID), zone)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated domain.Zone
	decodeBody(t, resp, &updated)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, int64(1), updated.Version)

	// stale version
	resp = ts.do(t, http.MethodPut, fmt.Sprintf("/api/v1/resources/zone/%d", zone.ID), zone)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/resources/zone/%d?version=1", zone.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page listResponse
	resp = ts.do(t, http.MethodGet, "/api/v1/resources/zone", nil)
	decodeBody(t, resp, &page)
	assert.Zero(t, page.Total)

	resp = ts.do(t, http.MethodGet, "/api/v1/resources/zone?include_inactive=true&search=renamed", nil)
	decodeBody(t, resp, &page)
	assert.Equal(t, int64(1), page.Total)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/resources/zone/%d/activate?version=2", zone.ID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_UpdateKeepsSyncIdentity(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := ts.syncer.Run(ctx, 0, []domain.Kind{domain.KindZone})
	require.NoError(t, err)
	z1, err := ts.zones.GetByKey(ctx, "z1")
	require.NoError(t, err)
	path := fmt.Sprintf("/api/v1/resources/zone/%d", z1.ID)

	resp := ts.do(t, http.MethodPut, path, map[string]interface{}{"name": "Zone A edited", "version": 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated domain.Zone
	decodeBody(t, resp, &updated)
	assert.Equal(t, "z1", updated.UUID)
	assert.Equal(t, "Zone A edited", updated.Name)

	resp = ts.do(t, http.MethodPut, path, map[string]interface{}{"name": "Zone A", "uuid": "z9", "version": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, path+"?version=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// a PUT without status leaves the row inactive
	resp = ts.do(t, http.MethodPut, path, map[string]interface{}{"name": "Zone A", "version": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &updated)
	assert.Equal(t, domain.StatusInactive, updated.Status)

	_, err = ts.syncer.Run(ctx, 0, []domain.Kind{domain.KindZone})
	require.NoError(t, err)
	all, total, err := ts.zones.List(ctx, domain.ListFilter{IncludeInactive: true}, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, z := range all {
		assert.Equal(t, domain.StatusActive, z.Status, z.UUID)
	}
}

func TestServer_SystemManagedKindsAreReadOnly(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/resources/login_history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page listResponse
	decodeBody(t, resp, &page)
	require.NotZero(t, page.Total)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
	}{
		{"rewrite login history", http.MethodPut, "/api/v1/resources/login_history/1", map[string]interface{}{"username": "someone", "success": false, "version": 0}},
		{"deactivate login history", http.MethodDelete, "/api/v1/resources/login_history/1?version=0", nil},
		{"reactivate login history", http.MethodPost, "/api/v1/resources/login_history/1/activate?version=0", nil},
		{"create sync request", http.MethodPost, "/api/v1/resources/manual_cloud_sync", map[string]interface{}{"sync_status": "PENDING"}},
		{"create event", http.MethodPost, "/api/v1/resources/event", map[string]interface{}{"uuid": "e1", "type": "VM.CREATE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
			assert.Equal(t, http.MethodGet, resp.Header.Get("Allow"))
		})
	}

	resp = ts.do(t, http.MethodGet, "/api/v1/resources/login_history/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entry domain.LoginHistory
	decodeBody(t, resp, &entry)
	assert.Equal(t, "admin", entry.Username)
	assert.True(t, entry.Success)
}

func TestServer_ResourceErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"unknown kind", http.MethodGet, "/api/v1/resources/spaceship", nil, http.StatusNotFound},
		{"missing record", http.MethodGet, "/api/v1/resources/zone/99", nil, http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/v1/resources/zone/abc", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/resources/zone?limit=-1", nil, http.StatusBadRequest},
		{"deactivate without version", http.MethodDelete, "/api/v1/resources/zone/1", nil, http.StatusBadRequest},
		{"bad body", http.MethodPost, "/api/v1/resources/zone", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestServer_UserPasswordHidden(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/resources/user", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw bytes.Buffer
	_, err := raw.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, raw.String(), "password_hash")

	// a PUT without the hash keeps it
	admin, err := ts.users.Get(context.Background(), 1)
	require.NoError(t, err)
	body := *admin
	body.PasswordHash = ""
	body.FirstName = "Ada"
	resp = ts.do(t, http.MethodPut, "/api/v1/resources/user/1", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := ts.users.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, admin.PasswordHash, stored.PasswordHash)
	assert.Equal(t, "Ada", stored.FirstName)
}

func TestServer_SetPassword(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/users/1/password", map[string]string{"password": "short"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/v1/users/1/password", map[string]string{"password": "a-new-admin-password"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	ts.token = ""
	resp = ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin", "password": "a-new-admin-password"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_SetPassword_MirroredUserCannotChangeOthers(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	mirrored, err := ts.users.Create(ctx, &domain.User{Username: "cs-user", Meta: domain.Meta{UUID: "u-1"}})
	require.NoError(t, err)
	// only the local admin can give the mirrored user a password
	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/users/%d/password", mirrored.ID), map[string]string{"password": "mirrored-password"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	ts.token = ""
	resp = ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "cs-user", "password": "mirrored-password"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login struct {
		Tokens auth.TokenPair `json:"tokens"`
	}
	decodeBody(t, resp, &login)
	ts.token = login.Tokens.AccessToken

	resp = ts.do(t, http.MethodPost, "/api/v1/users/1/password", map[string]string{"password": "taking-over-admin"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_Sync(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/sync", map[string][]string{"kinds": {"zone"}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var req domain.ManualCloudSync
	decodeBody(t, resp, &req)
	assert.Equal(t, domain.SyncPending, req.SyncStatus)
	assert.Equal(t, int64(1), req.RequestedBy)

	ts.syncer.Wait()

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/sync/%d", req.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var done domain.ManualCloudSync
	decodeBody(t, resp, &done)
	assert.Equal(t, domain.SyncSucceeded, done.SyncStatus)
	assert.Equal(t, int64(2), done.Created)

	_, total, err := ts.zones.List(context.Background(), domain.ListFilter{}, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	resp = ts.do(t, http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/v1/sync", map[string][]string{"kinds": {"spaceship"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SyncStatus_ReportsLeader(t *testing.T) {
	ts := newTestServer(t, WithLeader(&fakeLeader{holder: "panel-2-4242"}))

	resp := ts.do(t, http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		Kinds  []domain.Kind `json:"kinds"`
		Leader struct {
			Self   bool   `json:"self"`
			Holder string `json:"holder"`
		} `json:"leader"`
	}
	decodeBody(t, resp, &status)
	assert.Equal(t, []domain.Kind{domain.KindZone}, status.Kinds)
	assert.False(t, status.Leader.Self)
	assert.Equal(t, "panel-2-4242", status.Leader.Holder)

	ts = newTestServer(t, WithLeader(&fakeLeader{}))
	resp = ts.do(t, http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var noHolder struct {
		Leader map[string]interface{} `json:"leader"`
	}
	decodeBody(t, resp, &noHolder)
	assert.Equal(t, false, noHolder.Leader["self"])
	assert.NotContains(t, noHolder.Leader, "holder")
}

func TestServer_Events(t *testing.T) {
	ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events?access_token=" + ts.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ts.events <- redis.Event{Type: cloudsync.EventSyncCompleted, ResourceID: 7}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event redis.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, cloudsync.EventSyncCompleted, event.Type)
	assert.Equal(t, int64(7), event.ResourceID)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{fmt.Errorf("zone: %w", domain.ErrInvalidArgument), http.StatusBadRequest},
		{&domain.ConversionError{Kind: domain.KindZone, Field: "id", Cause: domain.ErrMissingField}, http.StatusBadRequest},
		{domain.ErrUnauthenticated, http.StatusUnauthorized},
		{domain.ErrPermissionDenied, http.StatusForbidden},
		{domain.ErrAccountLocked, http.StatusLocked},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}
