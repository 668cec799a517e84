package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/geph-official/gamekcp/libs/kcpmetrics"
	"github.com/geph-official/gamekcp/libs/kcpnet"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

func statsRouter(srv *kcpnet.Server) *mux.Router {
	registry := prometheus.NewRegistry()
	registry.MustRegister(kcpmetrics.NewCollector("gamekcp", srv))
	registry.MustRegister(prometheus.NewGoCollector())

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		bts, err := json.Marshal(srv.Stats())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Add("content-type", "application/json")
		w.Write(bts)
	}).Methods("GET")
	return r
}

func serveHTTP(ctx context.Context, addr string, srv *kcpnet.Server) error {
	hs := &http.Server{Addr: addr, Handler: statsRouter(srv)}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hs.Shutdown(sctx)
	}()
	log.WithField("addr", addr).Info("serving metrics")
	if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}
