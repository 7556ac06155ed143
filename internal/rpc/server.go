// Package rpc wires a worker.Worker to HTTP endpoints and implements
// peer.Proxy over the same transport so workers can reach each other, using
// plain net/http + JSON rather than a generated RPC stack — see DESIGN.md.
package rpc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreamware/tablerun/internal/logger"
	"github.com/dreamware/tablerun/internal/wire"
	"github.com/dreamware/tablerun/internal/worker"
)

// Handler builds the *http.ServeMux a worker process serves: the full set of
// worker RPC endpoints plus a Prometheus /metrics endpoint. Routing
// violations are fatal inside the worker itself; this layer only needs to
// translate ordinary errors into HTTP responses.
func Handler(w *worker.Worker) http.Handler {
	mux := http.NewServeMux()
	log := logger.Named("rpc")

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/worker/initialize", func(rw http.ResponseWriter, r *http.Request) {
		var req wire.WorkerInitReq
		if !decode(rw, r, &req) {
			return
		}
		w.Initialize(req.ID, BuildProxies(req.ID, req.Workers))
		encode(rw, wire.Empty{})
	})

	mux.HandleFunc("/worker/create_table", func(rw http.ResponseWriter, r *http.Request) {
		var req wire.CreateTableReq
		if !decode(rw, r, &req) {
			return
		}
		if err := w.CreateTable(req); err != nil {
			log.Errorw("create_table failed", "error", err)
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		encode(rw, wire.Empty{})
	})

	mux.HandleFunc("/worker/destroy_table", func(rw http.ResponseWriter, r *http.Request) {
		var req wire.DestroyTableReq
		if !decode(rw, r, &req) {
			return
		}
		if err := w.DestroyTable(req.Table); err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		encode(rw, wire.Empty{})
	})

	mux.HandleFunc("/worker/assign_shards", func(rw http.ResponseWriter, r *http.Request) {
		var req wire.ShardAssignmentReq
		if !decode(rw, r, &req) {
			return
		}
		if err := w.AssignShards(req); err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		encode(rw, wire.Empty{})
	})

	mux.HandleFunc("/worker/get", func(rw http.ResponseWriter, r *http.Request) {
		var req wire.GetRequest
		if !decode(rw, r, &req) {
			return
		}
		value, missing, err := w.Get(r.Context(), req.Table, req.Key)
		if err != nil {
			log.Errorw("get failed", "table_id", req.Table, "error", err)
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		encode(rw, wire.TableData{
			Table:      req.Table,
			Shard:      req.Shard,
			MissingKey: missing,
			Value:      value,
			Done:       true,
		})
	})

	mux.HandleFunc("/worker/put", func(rw http.ResponseWriter, r *http.Request) {
		var req wire.TableData
		if !decode(rw, r, &req) {
			return
		}
		if err := w.Put(req.Table, req.Shard, req.KV); err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		encode(rw, wire.Empty{})
	})

	mux.HandleFunc("/worker/get_iterator", func(rw http.ResponseWriter, r *http.Request) {
		var req wire.IteratorReq
		if !decode(rw, r, &req) {
			return
		}
		resp, err := w.GetIterator(r.Context(), req.Table, req.Shard, req.ID, req.Count)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		encode(rw, resp)
	})

	mux.HandleFunc("/worker/run_kernel", func(rw http.ResponseWriter, r *http.Request) {
		var req wire.RunKernelReq
		if !decode(rw, r, &req) {
			return
		}
		encode(rw, w.RunKernel(r.Context(), req))
	})

	mux.HandleFunc("/worker/flush", func(rw http.ResponseWriter, r *http.Request) {
		if err := w.Flush(r.Context()); err != nil {
			http.Error(rw, err.Error(), http.StatusBadGateway)
			return
		}
		encode(rw, wire.Empty{})
	})

	mux.HandleFunc("/worker/shutdown", func(rw http.ResponseWriter, _ *http.Request) {
		w.Shutdown()
		encode(rw, wire.Empty{})
	})

	return mux
}

// NewServer wraps Handler in an *http.Server with a slowloris-hardening
// read-header timeout applied uniformly.
func NewServer(addr string, w *worker.Worker) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Handler(w),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func decode(rw http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(rw, "bad request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func encode(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}
