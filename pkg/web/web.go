// Package web provides the lifecycle HTTP surface of the daemon: a
// healthcheck and the Go runtime profiling endpoints.
package web

import (
	"context"
	"expvar"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

type route struct {
	path    string
	handler http.HandlerFunc
	method  string
	name    string
}

// Server is the lifecycle HTTP server.
type Server struct {
	logger logrus.FieldLogger
	addr   string
	router *mux.Router
}

// NewServer initialises the lifecycle server on addr.
func NewServer(logger logrus.FieldLogger, addr string) *Server {
	router := mux.NewRouter()
	routes := []route{
		{path: "/healthcheck", handler: healthCheck, method: "GET", name: "healthcheck"},
		{path: "/expvar", handler: expvar.Handler().ServeHTTP, method: "GET", name: "expvar"},
		{path: "/debug/pprof/", handler: pprof.Index, method: "GET", name: "pprof-index"},
		{path: "/debug/pprof/cmdline", handler: pprof.Cmdline, method: "GET", name: "pprof-cmdline"},
		{path: "/debug/pprof/profile", handler: pprof.Profile, method: "GET", name: "pprof-profile"},
		{path: "/debug/pprof/symbol", handler: pprof.Symbol, method: "GET", name: "pprof-symbol"},
		{path: "/debug/pprof/trace", handler: pprof.Trace, method: "GET", name: "pprof-trace"},
	}
	for _, r := range routes {
		router.HandleFunc(r.path, r.handler).Methods(r.method).Name(r.name)
	}
	return &Server{
		logger: logger,
		addr:   addr,
		router: router,
	}
}

// Run serves until the context signals done.
func (s *Server) Run(ctx context.Context) {
	server := &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("Web server shutdown failed")
		}
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Web server failed")
	}
}

func healthCheck(resp http.ResponseWriter, req *http.Request) {
	resp.Header().Set("content-type", "application/json")
	enc := jsoniter.NewEncoder(resp)
	_ = enc.Encode(map[string]bool{"ok": true})
}
