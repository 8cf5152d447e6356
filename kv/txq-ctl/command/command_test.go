package command

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/pingcap-incubator/txqueue/kv/config"
	"github.com/pingcap-incubator/txqueue/kv/server"
	"github.com/pingcap-incubator/txqueue/kv/server/api"
	"github.com/pingcap-incubator/txqueue/kv/storage"
	"github.com/pingcap-incubator/txqueue/kv/transaction/manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*server.Server, string) {
	mem := storage.NewMemStorage()
	require.NoError(t, mem.Start())
	svr, err := server.NewServer(context.Background(), config.NewTestConfig(), mem, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(api.NewHandler(svr))
	t.Cleanup(func() {
		ts.Close()
		svr.Stop()
	})
	return svr, ts.URL
}

func TestStateAndInvalidate(t *testing.T) {
	svr, url := newTestServer(t)
	tx, err := svr.Manager().Start(context.Background())
	require.NoError(t, err)

	_, out, err := ExecuteCommandC(InitCommand(), "-u", url, "state")
	require.NoError(t, err)
	var state manager.StateSnapshot
	require.NoError(t, json.Unmarshal(out, &state))
	require.Len(t, state.InProgress, 1)
	assert.Equal(t, tx.ReadPointer, state.InProgress[0].ID)

	id := strconv.FormatUint(tx.ReadPointer, 10)
	_, out, err = ExecuteCommandC(InitCommand(), "--url", url, "invalidate", id)
	require.NoError(t, err)
	var res api.InvalidateResult
	require.NoError(t, json.Unmarshal(out, &res))
	assert.True(t, res.Invalidated)
	assert.Equal(t, []uint64{tx.ReadPointer}, svr.Manager().Invalids())

	_, out, err = ExecuteCommandC(InitCommand(), "-u", url, "prune")
	require.NoError(t, err)
	var report server.JanitorReport
	require.NoError(t, json.Unmarshal(out, &report))
	assert.Equal(t, tx.ReadPointer+1, report.Watermark)
}

func TestCommandErrors(t *testing.T) {
	_, url := newTestServer(t)

	_, _, err := ExecuteCommandC(InitCommand(), "-u", url, "invalidate", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transaction id")

	_, _, err = ExecuteCommandC(InitCommand(), "-u", url, "invalidate", "424242")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[404] unknown transaction")

	_, _, err = ExecuteCommandC(InitCommand(), "-u", url, "invalidate")
	assert.Error(t, err)

	_, out, err := ExecuteCommandC(InitCommand(), "-u", url, "status")
	require.NoError(t, err)
	assert.Contains(t, string(out), `"open_transactions": 0`)
}
