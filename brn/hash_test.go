// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package brn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlake2b(t *testing.T) {
	h := Blake2b([]byte{})
	assert.Equal(t, "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8", h.String()[2:])

	// multi-chunk input hashes like the concatenation
	assert.Equal(t, Blake2b([]byte("hello world")), Blake2b([]byte("hello "), []byte("world")))
}

func TestKeccak256(t *testing.T) {
	h := Keccak256([]byte{})
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", h.String()[2:])

	assert.Equal(t, Keccak256([]byte("ab"), []byte("c")), Keccak256([]byte("abc")))
}
