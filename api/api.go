// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/WaleedMaghraby/burn-relayer/allocation"
	"github.com/WaleedMaghraby/burn-relayer/api/allocations"
	"github.com/WaleedMaghraby/burn-relayer/api/relayers"
	"github.com/WaleedMaghraby/burn-relayer/api/restutil"
	"github.com/WaleedMaghraby/burn-relayer/log"
	"github.com/WaleedMaghraby/burn-relayer/metrics"
	"github.com/WaleedMaghraby/burn-relayer/registry"
	"github.com/WaleedMaghraby/burn-relayer/txstub"
)

var logger = log.WithContext("pkg", "api")

type Options struct {
	AllowedOrigins  string
	PprofOn         bool
	EnableReqLogger bool
	EnableMetrics   bool
}

// New return api router
func New(
	reg *registry.Registry,
	engine *allocation.Engine,
	buffer *txstub.Buffer,
	opts Options,
) http.HandlerFunc {
	origins := strings.Split(strings.TrimSpace(opts.AllowedOrigins), ",")
	for i, o := range origins {
		origins[i] = strings.ToLower(strings.TrimSpace(o))
	}

	router := mux.NewRouter()

	relayers.New(reg).
		Mount(router, "/relayers")
	allocations.New(reg, engine, buffer).
		Mount(router, "/allocations")

	router.Path("/status").Methods(http.MethodGet).HandlerFunc(
		restutil.WrapHandlerFunc(func(w http.ResponseWriter, _ *http.Request) error {
			return restutil.WriteJSON(w, restutil.M{
				"window":            reg.CurrentWindow(),
				"relayersPerWindow": reg.RelayersPerWindow(),
				"buffered":          buffer.Len(),
			})
		}))

	if opts.PprofOn {
		router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		router.HandleFunc("/debug/pprof/profile", pprof.Profile)
		router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		router.HandleFunc("/debug/pprof/trace", pprof.Trace)
		router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}

	if opts.EnableMetrics {
		router.Use(metricsMiddleware)
		router.Path("/metrics").Handler(metrics.HTTPHandler())
	}

	handler := handlers.CompressHandler(router)
	handler = handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedHeaders([]string{"content-type"}),
	)(handler)

	if opts.EnableReqLogger {
		handler = RequestLoggerHandler(handler, logger)
	}

	return handler.ServeHTTP
}
