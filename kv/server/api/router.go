package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/txqueue/kv/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
)

const apiPrefix = "/api/v1"

func createRouter(svr *server.Server) *mux.Router {
	rd := render.New(render.Options{
		IndentJSON: true,
	})

	router := mux.NewRouter()
	apiRouter := router.PathPrefix(apiPrefix).Subrouter()

	txnHandler := newTransactionHandler(svr, rd)
	apiRouter.HandleFunc("/transactions/state", txnHandler.GetState).Methods("GET")
	apiRouter.HandleFunc("/transactions/{id}/invalidate", txnHandler.Invalidate).Methods("POST")
	apiRouter.HandleFunc("/transactions/prune", txnHandler.Prune).Methods("POST")

	apiRouter.Handle("/status", newStatusHandler(svr, rd)).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rd.JSON(w, http.StatusNotFound, "no route for "+r.URL.Path)
	})
	return router
}
