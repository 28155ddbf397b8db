// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cache

import "github.com/qianbin/directcache"

// Bytes is a capacity-bounded byte cache with random eviction, suited for
// hot encoded records keyed by their content hash.
type Bytes struct {
	c *directcache.Cache
}

// NewBytes create a byte cache bounded to capacity bytes.
func NewBytes(capacity int) *Bytes {
	return &Bytes{directcache.New(capacity)}
}

// Set sets value for the given key. Oversized entries are silently dropped.
func (b *Bytes) Set(key, value []byte) {
	_ = b.c.Set(key, value)
}

// Get gets a copy of the value for the given key.
func (b *Bytes) Get(key []byte) ([]byte, bool) {
	return b.c.Get(key)
}
