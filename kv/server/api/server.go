package api

import (
	"net/http"
	"time"

	"github.com/pingcap-incubator/txqueue/kv/server"
	"github.com/pingcap/log"
	"github.com/urfave/negroni"
	"go.uber.org/zap"
)

// NewHandler returns the admin HTTP API of svr.
func NewHandler(svr *server.Server) http.Handler {
	engine := negroni.New()
	engine.Use(negroni.NewRecovery())
	engine.Use(negroni.HandlerFunc(logRequest))
	engine.UseHandler(createRouter(svr))
	return engine
}

func logRequest(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	start := time.Now()
	next(w, r)
	status := 0
	if rw, ok := w.(negroni.ResponseWriter); ok {
		status = rw.Status()
	}
	log.Debug("api request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Duration("took", time.Since(start)))
}
