// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/WaleedMaghraby/burn-relayer/log"
)

// RequestLoggerHandler logs every request with its outcome and duration.
// Bodies are small JSON documents on this API, so they are logged in full.
func RequestLoggerHandler(handler http.Handler, logger log.Logger) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		// the body can only be read once; restore it for the handler
		var bodyBytes []byte
		var err error
		if r.Body != nil {
			bodyBytes, err = io.ReadAll(r.Body)
			if err != nil {
				logger.Warn("unexpected body read error", "err", err)
				return // don't pass bad request to the next handler
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		handler.ServeHTTP(rw, r)

		logger.Info("api request",
			"method", r.Method,
			"uri", r.URL.String(),
			"status", rw.status,
			"duration", time.Since(started),
			"body", string(bodyBytes),
		)
	}

	return http.HandlerFunc(fn)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
