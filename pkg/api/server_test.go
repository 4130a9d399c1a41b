package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacfleet/pacfleet/pkg/analyzer"
	"github.com/pacfleet/pacfleet/pkg/auth"
	"github.com/pacfleet/pacfleet/pkg/config"
	"github.com/pacfleet/pacfleet/pkg/coordinator"
	"github.com/pacfleet/pacfleet/pkg/events"
	"github.com/pacfleet/pacfleet/pkg/log"
	"github.com/pacfleet/pacfleet/pkg/pool"
	"github.com/pacfleet/pacfleet/pkg/state"
	"github.com/pacfleet/pacfleet/pkg/storage"
	"github.com/pacfleet/pacfleet/pkg/types"
)

const adminToken = "test-admin-token"

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type testServer struct {
	*httptest.Server
	store  *storage.Store
	broker *events.Broker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	d, err := storage.OpenDriver(config.Database{Kind: config.DatabaseEmbedded, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, storage.Migrate(ctx, d))

	store := storage.NewStore(d)
	cfg := &config.Config{
		Server:   config.Server{Host: "127.0.0.1", Port: 0},
		Security: config.Security{AdminTokens: []string{adminToken}},
	}

	states := state.NewManager(store, 10)
	analyses := analyzer.New(store)
	pools := pool.NewManager(store, states, analyses)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	coord := coordinator.New(coordinator.Config{
		Store: store, States: states, Pools: pools, Broker: broker,
	})
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		coord.Shutdown(sctx)
	})

	srv := NewServer(cfg, Deps{
		Store:    store,
		Auth:     auth.NewManager(store, cfg.Security),
		Pools:    pools,
		States:   states,
		Analyzer: analyses,
		Coord:    coord,
		Broker:   broker,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, store: store, broker: broker}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body, out interface{}) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (ts *testServer) register(t *testing.T, name, hostname string) (endpointID, token string) {
	t.Helper()
	var out struct {
		Endpoint types.Endpoint `json:"endpoint"`
		Token    string         `json:"token"`
	}
	resp := ts.do(t, http.MethodPost, "/api/endpoints/register", "",
		map[string]string{"name": name, "hostname": hostname}, &out)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, out.Token)
	return out.Endpoint.ID, out.Token
}

func (ts *testServer) createPool(t *testing.T, name string, policy *types.SyncPolicy) string {
	t.Helper()
	body := map[string]interface{}{"name": name}
	if policy != nil {
		body["sync_policy"] = policy
	}
	var p types.Pool
	resp := ts.do(t, http.MethodPost, "/api/pools", adminToken, body, &p)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return p.ID
}

func (ts *testServer) assign(t *testing.T, poolID, endpointID string) {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/pools/"+poolID+"/endpoints", adminToken,
		map[string]string{"endpoint_id": endpointID}, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func (ts *testServer) pushSnapshot(t *testing.T, endpointID, token string, pkgs map[string]string) {
	t.Helper()
	records := make([]types.PackageRecord, 0, len(pkgs))
	for name, version := range pkgs {
		records = append(records, types.PackageRecord{Name: name, Version: version, Repository: "core"})
	}
	resp := ts.do(t, http.MethodPost, "/api/endpoints/"+endpointID+"/snapshots", token,
		map[string]interface{}{"pacman_version": "6.1.0", "architecture": "x86_64", "packages": records}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func (ts *testServer) waitOperation(t *testing.T, opID string) types.Operation {
	t.Helper()
	var op types.Operation
	require.Eventually(t, func() bool {
		resp := ts.do(t, http.MethodGet, "/api/operations/"+opID, adminToken, nil, &op)
		return resp.StatusCode == http.StatusOK && op.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return op
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)

	var body struct {
		Error struct {
			Code      string    `json:"code"`
			Message   string    `json:"message"`
			Timestamp time.Time `json:"timestamp"`
		} `json:"error"`
	}
	resp := ts.do(t, http.MethodPost, "/api/endpoints/register", "",
		map[string]string{"name": "", "hostname": "h1"}, &body)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.NotEmpty(t, body.Error.Message)
	assert.False(t, body.Error.Timestamp.IsZero())
}

func TestAuthRejection(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/endpoints", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/endpoints", "garbage-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPoolWritesRequireAdmin(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.register(t, "alpha", "h1")

	resp := ts.do(t, http.MethodPost, "/api/pools", token, map[string]string{"name": "prod"}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/pools", adminToken, map[string]string{"name": "prod"}, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestEndpointSelfScoping(t *testing.T) {
	ts := newTestServer(t)
	e1, t1 := ts.register(t, "alpha", "h1")
	e2, _ := ts.register(t, "beta", "h2")

	// A token may not act on another endpoint.
	resp := ts.do(t, http.MethodPut, "/api/endpoints/"+e2+"/status", t1,
		map[string]string{"status": "in_sync"}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// It may act on its own.
	resp = ts.do(t, http.MethodPut, "/api/endpoints/"+e1+"/status", t1,
		map[string]string{"status": "in_sync"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Unknown statuses are rejected.
	resp = ts.do(t, http.MethodPut, "/api/endpoints/"+e1+"/status", t1,
		map[string]string{"status": "sideways"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegisterSyncHappyPath(t *testing.T) {
	ts := newTestServer(t)

	poolID := ts.createPool(t, "prod", &types.SyncPolicy{ConflictResolution: types.ResolutionNewest})
	e1, t1 := ts.register(t, "alpha", "h1")
	e2, t2 := ts.register(t, "beta", "h2")
	ts.assign(t, poolID, e1)
	ts.assign(t, poolID, e2)

	ts.pushSnapshot(t, e1, t1, map[string]string{"gcc": "11.2.0-1", "python": "3.10.8-1"})

	var op types.Operation
	resp := ts.do(t, http.MethodPost, "/api/endpoints/"+e1+"/set-latest", adminToken, nil, &op)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	done := ts.waitOperation(t, op.ID)
	require.Equal(t, types.OpStatusCompleted, done.Status)

	var p types.Pool
	resp = ts.do(t, http.MethodGet, "/api/pools/"+poolID, t1, nil, &p)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, p.TargetSnapshotID)

	ts.pushSnapshot(t, e2, t2, map[string]string{"gcc": "11.1.0-1", "python": "3.10.8-1"})

	resp = ts.do(t, http.MethodPost, "/api/endpoints/"+e2+"/sync", t2, nil, &op)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	done = ts.waitOperation(t, op.ID)
	require.Equal(t, types.OpStatusCompleted, done.Status)
	require.Len(t, done.Details.Conflicts, 1)
	assert.Equal(t, "gcc", done.Details.Conflicts[0].Package)

	var st types.PoolStatus
	resp = ts.do(t, http.MethodGet, "/api/pools/"+poolID+"/status", adminToken, nil, &st)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.PoolStatusFullySynced, st.OverallStatus)
	assert.Equal(t, 2, st.InSyncCount)
}

func TestSyncWithoutTargetIsRejected(t *testing.T) {
	ts := newTestServer(t)

	poolID := ts.createPool(t, "prod", nil)
	e1, t1 := ts.register(t, "alpha", "h1")
	ts.assign(t, poolID, e1)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	resp := ts.do(t, http.MethodPost, "/api/endpoints/"+e1+"/sync", t1, nil, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
}

func TestRepositoriesAndAnalysis(t *testing.T) {
	ts := newTestServer(t)

	poolID := ts.createPool(t, "prod", nil)
	e1, t1 := ts.register(t, "alpha", "h1")
	ts.assign(t, poolID, e1)

	repos := map[string]interface{}{"repositories": []types.Repository{{
		RepoName:   "core",
		PrimaryURL: "https://mirror.example/core",
		Packages: []types.RepositoryPackage{
			{Name: "gcc", Version: "11.2.0-1", Repository: "core", Architecture: "x86_64"},
		},
	}}}
	resp := ts.do(t, http.MethodPost, "/api/endpoints/"+e1+"/repositories", t1, repos, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var analysis types.CompatibilityAnalysis
	resp = ts.do(t, http.MethodGet, "/api/repositories/analysis/"+poolID, t1, nil, &analysis)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, poolID, analysis.PoolID)
	require.Len(t, analysis.CommonPackages, 1)
	assert.Equal(t, "gcc", analysis.CommonPackages[0].Name)

	// Excluding the package via pool policy drops the cached result, so the
	// next read reflects the new policy.
	update := map[string]interface{}{"sync_policy": types.SyncPolicy{
		ExcludePackages:    []string{"gcc"},
		ConflictResolution: types.ResolutionNewest,
	}}
	resp = ts.do(t, http.MethodPut, "/api/pools/"+poolID, adminToken, update, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/repositories/analysis/"+poolID, t1, nil, &analysis)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, analysis.CommonPackages)
	require.Len(t, analysis.ExcludedPackages, 1)
	assert.Equal(t, "gcc", analysis.ExcludedPackages[0].Name)
	assert.Equal(t, types.ExcludedByPolicy, analysis.ExcludedPackages[0].Reason)
}

func TestCancelOperationScoping(t *testing.T) {
	ts := newTestServer(t)

	poolID := ts.createPool(t, "prod", nil)
	e1, _ := ts.register(t, "alpha", "h1")
	_, t2 := ts.register(t, "beta", "h2")
	ts.assign(t, poolID, e1)

	resp := ts.do(t, http.MethodGet, "/api/operations/"+types.NewID(), adminToken, nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// A pending row that no pipeline owns, cancellable over the API.
	op := &types.Operation{
		ID: types.NewID(), PoolID: poolID, EndpointID: e1,
		Kind: types.OpSyncToLatest, Status: types.OpStatusPending,
	}
	require.NoError(t, ts.store.CreateOperation(context.Background(), op))

	// Another endpoint's token may not cancel it.
	var fetched types.Operation
	resp = ts.do(t, http.MethodDelete, "/api/operations/"+op.ID, t2, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/api/operations/"+op.ID, adminToken, nil, &fetched)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.OpStatusCancelled, fetched.Status)
}

func TestOperationHistory(t *testing.T) {
	ts := newTestServer(t)

	poolID := ts.createPool(t, "prod", nil)
	e1, t1 := ts.register(t, "alpha", "h1")
	ts.assign(t, poolID, e1)
	ts.pushSnapshot(t, e1, t1, map[string]string{"gcc": "11.2.0-1"})

	var op types.Operation
	resp := ts.do(t, http.MethodPost, "/api/endpoints/"+e1+"/set-latest", t1, nil, &op)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	ts.waitOperation(t, op.ID)

	var out struct {
		Operations []types.Operation `json:"operations"`
	}
	resp = ts.do(t, http.MethodGet, "/api/endpoints/"+e1+"/operations", t1, nil, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, out.Operations, 1)
	assert.Equal(t, op.ID, out.Operations[0].ID)

	resp = ts.do(t, http.MethodGet, "/api/pools/"+poolID+"/operations?limit=1", adminToken, nil, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, out.Operations, 1)

	resp = ts.do(t, http.MethodGet, "/api/pools/"+poolID+"/operations?limit=bogus", adminToken, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/health/live", "", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var detailed map[string]interface{}
	resp = ts.do(t, http.MethodGet, "/health/detailed", "", nil, &detailed)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, detailed, "status")
}

func TestEndpointDeleteDetaches(t *testing.T) {
	ts := newTestServer(t)

	poolID := ts.createPool(t, "prod", nil)
	e1, t1 := ts.register(t, "alpha", "h1")
	ts.assign(t, poolID, e1)

	resp := ts.do(t, http.MethodDelete, "/api/endpoints/"+e1, t1, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/endpoints/"+e1, adminToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var p types.Pool
	resp = ts.do(t, http.MethodGet, "/api/pools/"+poolID, adminToken, nil, &p)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, p.EndpointIDs)
}
