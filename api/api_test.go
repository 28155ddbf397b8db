// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WaleedMaghraby/burn-relayer/allocation"
	"github.com/WaleedMaghraby/burn-relayer/brn"
	"github.com/WaleedMaghraby/burn-relayer/lvldb"
	"github.com/WaleedMaghraby/burn-relayer/registry"
	"github.com/WaleedMaghraby/burn-relayer/txstub"
)

type manualClock struct{ block uint64 }

func (c *manualClock) BlockNumber() uint64 { return c.block }

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry, *manualClock) {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &manualClock{}
	reg, err := registry.New(db, clock, registry.NoopVault{}, registry.DefaultConfig())
	require.NoError(t, err)

	buffer := txstub.NewBuffer(1024)
	engine := allocation.New(reg, nil)

	srv := httptest.NewServer(New(reg, engine, buffer, Options{AllowedOrigins: "*"}))
	t.Cleanup(srv.Close)
	return srv, reg, clock
}

func httpPost(t *testing.T, url string, body any) (int, []byte) {
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, data
}

func httpGet(t *testing.T, url string) (int, []byte) {
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, data
}

func TestAPI(t *testing.T) {
	srv, _, clock := newTestServer(t)
	relayer := brn.BytesToAddress([]byte{1})

	code, _ := httpGet(t, srv.URL+"/status")
	assert.Equal(t, http.StatusOK, code)

	// register
	code, body := httpPost(t, srv.URL+"/relayers", map[string]any{
		"relayer":  relayer,
		"prev":     map[string]any{"stakes": []uint32{}, "delegations": []uint32{}},
		"stake":    "10000000000000000000000",
		"accounts": []brn.Address{relayer},
		"endpoint": "http://relayer-1",
	})
	require.Equal(t, http.StatusOK, code, string(body))

	// stale prev arrays now conflict
	code, _ = httpPost(t, srv.URL+"/relayers", map[string]any{
		"relayer":  brn.BytesToAddress([]byte{2}),
		"prev":     map[string]any{"stakes": []uint32{}, "delegations": []uint32{}},
		"stake":    "10000000000000000000000",
		"accounts": []brn.Address{brn.BytesToAddress([]byte{2})},
	})
	assert.Equal(t, http.StatusConflict, code)

	// record readable
	code, body = httpGet(t, srv.URL+"/relayers/"+relayer.String())
	require.Equal(t, http.StatusOK, code)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, relayer.Checksummed(), rec["address"])
	assert.Equal(t, "http://relayer-1", rec["endpoint"])

	code, _ = httpGet(t, srv.URL+"/relayers/"+brn.BytesToAddress([]byte{9}).String())
	assert.Equal(t, http.StatusNotFound, code)

	// arrays and cdf
	code, body = httpGet(t, srv.URL+"/relayers/arrays")
	require.Equal(t, http.StatusOK, code)
	var arrays struct {
		Stakes      []uint32 `json:"stakes"`
		Delegations []uint32 `json:"delegations"`
	}
	require.NoError(t, json.Unmarshal(body, &arrays))
	assert.Equal(t, []uint32{10000}, arrays.Stakes)

	code, _ = httpGet(t, srv.URL+"/relayers/cdf")
	assert.Equal(t, http.StatusOK, code)

	// submit a candidate request, twice
	request := map[string]any{
		"to":    brn.BytesToAddress([]byte{0xee}),
		"data":  "0xdead",
		"gas":   100000,
		"value": "0",
	}
	code, body = httpPost(t, srv.URL+"/allocations/requests", request)
	require.Equal(t, http.StatusOK, code)
	var submitted struct {
		Accepted bool `json:"accepted"`
	}
	require.NoError(t, json.Unmarshal(body, &submitted))
	assert.True(t, submitted.Accepted)

	code, body = httpPost(t, srv.URL+"/allocations/requests", request)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &submitted))
	assert.False(t, submitted.Accepted)

	// selection becomes effective one window later
	clock.block = 10
	code, body = httpGet(t, srv.URL+"/allocations/relayers")
	require.Equal(t, http.StatusOK, code, string(body))
	var selected struct {
		Relayers []brn.Address `json:"relayers"`
		Window   uint64        `json:"window"`
	}
	require.NoError(t, json.Unmarshal(body, &selected))
	assert.Equal(t, uint64(1), selected.Window)
	for _, r := range selected.Relayers {
		assert.Equal(t, relayer, r)
	}

	// alloted transactions for the sole relayer
	code, body = httpGet(t, srv.URL+"/allocations/transactions/"+relayer.String())
	require.Equal(t, http.StatusOK, code, string(body))
	var alloted struct {
		Alloted  []json.RawMessage `json:"alloted"`
		CdfIndex uint64            `json:"cdfIndex"`
	}
	require.NoError(t, json.Unmarshal(body, &alloted))
	assert.Len(t, alloted.Alloted, 1)
	assert.Equal(t, uint64(0), alloted.CdfIndex)

	code, _ = httpGet(t, fmt.Sprintf("%s/relayers/%s/attendance/1", srv.URL, relayer))
	assert.Equal(t, http.StatusOK, code)
}

func TestAllocationsStableMidWindow(t *testing.T) {
	srv, _, clock := newTestServer(t)
	relayer := brn.BytesToAddress([]byte{1})

	code, body := httpPost(t, srv.URL+"/relayers", map[string]any{
		"relayer":  relayer,
		"prev":     map[string]any{"stakes": []uint32{}, "delegations": []uint32{}},
		"stake":    "10000000000000000000000",
		"accounts": []brn.Address{relayer},
		"endpoint": "http://relayer-1",
	})
	require.Equal(t, http.StatusOK, code, string(body))

	clock.block = 10 // window 1, the registration is active

	code, body = httpGet(t, srv.URL+"/allocations/cdf")
	require.Equal(t, http.StatusOK, code, string(body))
	var active struct {
		Hash   brn.Bytes32 `json:"hash"`
		Window uint64      `json:"window"`
	}
	require.NoError(t, json.Unmarshal(body, &active))
	assert.Equal(t, uint64(1), active.Window)

	code, _ = httpGet(t, srv.URL+"/allocations/relayers")
	require.Equal(t, http.StatusOK, code)

	// mutate the arrays mid-window
	code, body = httpPost(t, srv.URL+"/relayers/"+relayer.String()+"/delegations", map[string]any{
		"delegator": brn.BytesToAddress([]byte{2}),
		"prev":      map[string]any{"stakes": []uint32{10000}, "delegations": []uint32{0}},
		"amount":    "1000000000000000000000",
	})
	require.Equal(t, http.StatusNoContent, code, string(body))

	// the window keeps serving the distribution it started with
	code, body = httpGet(t, srv.URL+"/allocations/cdf")
	require.Equal(t, http.StatusOK, code, string(body))
	var after struct {
		Hash   brn.Bytes32 `json:"hash"`
		Window uint64      `json:"window"`
	}
	require.NoError(t, json.Unmarshal(body, &after))
	assert.Equal(t, active.Hash, after.Hash)
	assert.Equal(t, active.Window, after.Window)

	code, body = httpGet(t, srv.URL+"/allocations/relayers")
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = httpGet(t, srv.URL+"/allocations/transactions/"+relayer.String())
	require.Equal(t, http.StatusOK, code, string(body))
}

func TestListRelayersEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	relayer := brn.BytesToAddress([]byte{1})

	code, body := httpGet(t, srv.URL+"/relayers")
	require.Equal(t, http.StatusOK, code, string(body))
	var list []map[string]any
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Empty(t, list)

	code, body = httpPost(t, srv.URL+"/relayers", map[string]any{
		"relayer":  relayer,
		"prev":     map[string]any{"stakes": []uint32{}, "delegations": []uint32{}},
		"stake":    "10000000000000000000000",
		"accounts": []brn.Address{relayer},
		"endpoint": "http://relayer-1",
	})
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = httpGet(t, srv.URL+"/relayers")
	require.Equal(t, http.StatusOK, code, string(body))
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, relayer.Checksummed(), list[0]["address"])
	assert.Equal(t, "http://relayer-1", list[0]["endpoint"])
}
