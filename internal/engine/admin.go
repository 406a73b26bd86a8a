package engine

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nabbar/muproxy/internal/xlog"
)

// AdminServer exposes the operational surface that sits beside the
// in-band "#?" introspection command: a Prometheus scrape endpoint and a
// liveness probe for orchestrators, bound to the configured admin
// address.
type AdminServer struct {
	srv *http.Server
	log xlog.Logger
}

// NewAdmin builds the admin HTTP server. metricsHandler serves /metrics;
// cmd/muproxy builds it with promhttp.HandlerFor over the same registry
// passed to metrics.New, so /metrics reflects the counters the engine
// updates.
func NewAdmin(addr string, log xlog.Logger, metricsHandler http.Handler) *AdminServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &AdminServer{
		srv: &http.Server{Addr: addr, Handler: mux},
		log: log.WithFields(xlog.Fields{"component": "admin"}),
	}
}

func (a *AdminServer) Start() {
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.WithFields(xlog.Fields{"err": err.Error()}).Error("admin server stopped unexpectedly")
		}
	}()
	a.log.WithFields(xlog.Fields{"addr": a.srv.Addr}).Info("admin server listening")
}

func (a *AdminServer) Stop(ctx context.Context) error {
	if err := a.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return nil
}
