// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package txstub buffers candidate transactions awaiting allocation. It is a
// non-authoritative holding area: nothing in here is trusted or verified, the
// allocation engine decides who may act on what.
package txstub

import (
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/WaleedMaghraby/burn-relayer/allocation"
	"github.com/WaleedMaghraby/burn-relayer/brn"
	"github.com/WaleedMaghraby/burn-relayer/cache"
	"github.com/WaleedMaghraby/burn-relayer/log"
	"github.com/WaleedMaghraby/burn-relayer/metrics"
)

var logger = log.WithContext("pkg", "txstub")

var metricBuffered = metrics.LazyLoadGauge("txstub_buffered_count")

const seenCacheBytes = 1024 * 1024

// Buffer is a bounded FIFO of candidate requests. Duplicates, identified by
// content hash, are dropped on entry; the seen-filter outlives the buffered
// entries so a drained request does not come back.
type Buffer struct {
	mu       sync.Mutex
	requests []*allocation.Request
	limit    int
	seen     *cache.Bytes
}

// NewBuffer creates a buffer holding at most limit requests.
func NewBuffer(limit int) *Buffer {
	return &Buffer{
		limit: limit,
		seen:  cache.NewBytes(seenCacheBytes),
	}
}

// Add appends a request. False returned when the buffer is full or the
// request was seen before.
func (b *Buffer) Add(request *allocation.Request) bool {
	hash := request.Hash()

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.requests) >= b.limit {
		logger.Debug("buffer full, request dropped", "hash", hash.AbbrevString())
		return false
	}
	if _, ok := b.seen.Get(hash.Bytes()); ok {
		return false
	}
	b.seen.Set(hash.Bytes(), []byte{1})
	b.requests = append(b.requests, request)
	metricBuffered().Set(int64(len(b.requests)))
	return true
}

// Pending returns up to max buffered requests in arrival order without
// removing them. max <= 0 means all.
func (b *Buffer) Pending(max int) []*allocation.Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.requests)
	if max > 0 && max < n {
		n = max
	}
	return append([]*allocation.Request(nil), b.requests[:n]...)
}

// Remove drops the requests with the given hashes, typically after they have
// been executed by a relayer.
func (b *Buffer) Remove(hashes []brn.Bytes32) {
	drop := make(map[brn.Bytes32]bool, len(hashes))
	for _, h := range hashes {
		drop[h] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.requests[:0]
	for _, request := range b.requests {
		if !drop[request.Hash()] {
			kept = append(kept, request)
		}
	}
	b.requests = kept
	metricBuffered().Set(int64(len(b.requests)))
}

// Len returns the number of buffered requests.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

// Generator produces synthetic candidate requests, for demos and load tests.
type Generator struct {
	mu   sync.Mutex
	next uint64
}

// NewGenerator creates a generator with a deterministic sequence.
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns a fresh synthetic request. Each request has distinct content
// so the assignment hash spreads them across iterations.
func (g *Generator) Next() *allocation.Request {
	g.mu.Lock()
	n := g.next
	g.next++
	g.mu.Unlock()

	var data [8]byte
	binary.BigEndian.PutUint64(data[:], n)
	to := brn.BytesToAddress(brn.Blake2b(data[:]).Bytes()[:20])
	return &allocation.Request{
		To:    to,
		Data:  data[:],
		Gas:   21_000,
		Value: new(big.Int),
	}
}
