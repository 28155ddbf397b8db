// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopByDefault(t *testing.T) {
	assert.NotPanics(t, func() {
		Counter("noop_counter").Add(1)
		Gauge("noop_gauge").Set(5)
		Histogram("noop_hist", Bucket10s).Observe(100)
	})
}

func TestPrometheusMetrics(t *testing.T) {
	InitializePrometheusMetrics()

	Counter("test_counter").Add(3)
	Counter("test_counter").Add(2)
	CounterVec("test_counter_vec", []string{"op"}).AddWithLabel(1, map[string]string{"op": "register"})
	Gauge("test_gauge").Set(7)
	Histogram("test_hist", Bucket10s).Observe(250)

	server := httptest.NewServer(HTTPHandler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.True(t, strings.Contains(out, "brn_metrics_test_counter 5"))
	assert.True(t, strings.Contains(out, "brn_metrics_test_gauge 7"))
}

func TestLazyLoad(t *testing.T) {
	calls := 0
	loader := LazyLoad(func() int {
		calls++
		return 42
	})
	assert.Equal(t, 42, loader())
	assert.Equal(t, 42, loader())
	assert.Equal(t, 1, calls)
}
