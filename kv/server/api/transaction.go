package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/txqueue/kv/server"
	"github.com/pingcap-incubator/txqueue/kv/transaction/manager"
	"github.com/pingcap/errors"
	"github.com/unrolled/render"
)

type transactionHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newTransactionHandler(svr *server.Server, rd *render.Render) *transactionHandler {
	return &transactionHandler{
		svr: svr,
		rd:  rd,
	}
}

func (h *transactionHandler) GetState(w http.ResponseWriter, r *http.Request) {
	h.rd.JSON(w, http.StatusOK, h.svr.Manager().Snapshot())
}

// InvalidateResult is the response of the invalidate endpoint.
type InvalidateResult struct {
	ID          uint64 `json:"id"`
	Invalidated bool   `json:"invalidated"`
}

func (h *transactionHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := h.svr.Manager().Invalidate(r.Context(), id)
	if errors.Cause(err) == manager.ErrUnknownTransaction {
		h.rd.JSON(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.rd.JSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.rd.JSON(w, http.StatusOK, &InvalidateResult{ID: id, Invalidated: ok})
}

// Prune runs the janitor once: timed out transactions are invalidated, their rows collected and the manager pruned.
func (h *transactionHandler) Prune(w http.ResponseWriter, r *http.Request) {
	report, err := h.svr.Janitor().RunOnce(r.Context())
	if err != nil {
		h.rd.JSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.rd.JSON(w, http.StatusOK, report)
}
