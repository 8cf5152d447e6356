package api

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/pingcap-incubator/txqueue/kv/config"
	"github.com/pingcap-incubator/txqueue/kv/server"
	"github.com/pingcap-incubator/txqueue/kv/storage"
	"github.com/pingcap-incubator/txqueue/kv/transaction/manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	t      *testing.T
	svr    *server.Server
	http   *httptest.Server
	prefix string
}

func newTestAPI(t *testing.T) *testAPI {
	mem := storage.NewMemStorage()
	require.NoError(t, mem.Start())
	svr, err := server.NewServer(context.Background(), config.NewTestConfig(), mem, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(NewHandler(svr))
	t.Cleanup(func() {
		ts.Close()
		svr.Stop()
	})
	return &testAPI{t: t, svr: svr, http: ts, prefix: ts.URL + apiPrefix}
}

func (a *testAPI) do(method, path string, out interface{}) int {
	req, err := http.NewRequest(method, a.http.URL+path, nil)
	require.NoError(a.t, err)
	resp, err := a.http.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(a.t, err)
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(a.t, json.Unmarshal(body, out))
	}
	return resp.StatusCode
}

func TestTransactionState(t *testing.T) {
	a := newTestAPI(t)
	tx, err := a.svr.Manager().Start(context.Background())
	require.NoError(t, err)

	var state manager.StateSnapshot
	require.Equal(t, http.StatusOK, a.do("GET", "/api/v1/transactions/state", &state))
	require.Len(t, state.InProgress, 1)
	assert.Equal(t, tx.ReadPointer, state.InProgress[0].ID)
	assert.Equal(t, "short", strings.ToLower(state.InProgress[0].Type))
	assert.Empty(t, state.Invalids)
}

func TestInvalidate(t *testing.T) {
	a := newTestAPI(t)
	tx, err := a.svr.Manager().Start(context.Background())
	require.NoError(t, err)
	path := "/api/v1/transactions/" + strconv.FormatUint(tx.ReadPointer, 10) + "/invalidate"

	var res InvalidateResult
	require.Equal(t, http.StatusOK, a.do("POST", path, &res))
	assert.Equal(t, InvalidateResult{ID: tx.ReadPointer, Invalidated: true}, res)
	assert.Equal(t, []uint64{tx.ReadPointer}, a.svr.Manager().Invalids())

	require.Equal(t, http.StatusOK, a.do("POST", path, &res))
	assert.False(t, res.Invalidated)

	assert.Equal(t, http.StatusBadRequest, a.do("POST", "/api/v1/transactions/abc/invalidate", nil))
	assert.Equal(t, http.StatusNotFound, a.do("POST", "/api/v1/transactions/999999/invalidate", nil))
}

func TestPrune(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()
	tx, err := a.svr.Manager().Start(ctx)
	require.NoError(t, err)
	_, err = a.svr.Manager().Invalidate(ctx, tx.ReadPointer)
	require.NoError(t, err)

	var report server.JanitorReport
	require.Equal(t, http.StatusOK, a.do("POST", "/api/v1/transactions/prune", &report))
	assert.Equal(t, tx.ReadPointer+1, report.Watermark)
	require.Equal(t, http.StatusOK, a.do("POST", "/api/v1/transactions/prune", &report))
	assert.Equal(t, 1, report.Pruned.Invalids)
	assert.Empty(t, a.svr.Manager().Invalids())
}

func TestStatusAndMetrics(t *testing.T) {
	a := newTestAPI(t)
	_, err := a.svr.Manager().Start(context.Background())
	require.NoError(t, err)

	var st status
	require.Equal(t, http.StatusOK, a.do("GET", "/api/v1/status", &st))
	assert.Equal(t, ReleaseVersion, st.ReleaseVersion)
	assert.Equal(t, 1, st.Open)
	assert.NotZero(t, st.StartTimestamp)

	resp, err := a.http.Client().Get(a.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "txqueue_txn_events")

	assert.Equal(t, http.StatusNotFound, a.do("GET", "/api/v1/nothing", nil))
}
