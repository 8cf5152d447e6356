package api

import (
	"net/http"
	"time"

	"github.com/pingcap-incubator/txqueue/kv/server"
	"github.com/unrolled/render"
)

// Set at link time.
var (
	ReleaseVersion = "None"
	GitHash        = "None"
)

type status struct {
	ReleaseVersion string              `json:"version"`
	GitHash        string              `json:"git_hash"`
	StartTimestamp int64               `json:"start_timestamp"`
	Open           int                 `json:"open_transactions"`
	Invalids       int                 `json:"invalids"`
	Janitor        server.JanitorStats `json:"janitor"`
}

type statusHandler struct {
	svr     *server.Server
	rd      *render.Render
	started time.Time
}

func newStatusHandler(svr *server.Server, rd *render.Render) *statusHandler {
	return &statusHandler{
		svr:     svr,
		rd:      rd,
		started: time.Now(),
	}
}

func (h *statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := h.svr.Manager().Snapshot()
	h.rd.JSON(w, http.StatusOK, &status{
		ReleaseVersion: ReleaseVersion,
		GitHash:        GitHash,
		StartTimestamp: h.started.Unix(),
		Open:           len(snapshot.InProgress),
		Invalids:       len(snapshot.Invalids),
		Janitor:        h.svr.Janitor().Stats(),
	})
}
