// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package txstub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/WaleedMaghraby/burn-relayer/brn"
)

func TestBuffer(t *testing.T) {
	buffer := NewBuffer(3)
	gen := NewGenerator()

	r1, r2, r3, r4 := gen.Next(), gen.Next(), gen.Next(), gen.Next()

	assert.True(t, buffer.Add(r1))
	assert.True(t, buffer.Add(r2))
	assert.True(t, buffer.Add(r3))
	assert.Equal(t, 3, buffer.Len())

	// full
	assert.False(t, buffer.Add(r4))

	// duplicate content never re-enters, even after removal
	buffer.Remove([]brn.Bytes32{r1.Hash(), r2.Hash()})
	assert.Equal(t, 1, buffer.Len())
	assert.False(t, buffer.Add(r1))

	assert.True(t, buffer.Add(r4))
	assert.Equal(t, 2, buffer.Len())

	pending := buffer.Pending(1)
	assert.Len(t, pending, 1)
	assert.Equal(t, r3.Hash(), pending[0].Hash())
	assert.Equal(t, 2, buffer.Len())

	buffer.Remove([]brn.Bytes32{r3.Hash()})
	assert.Equal(t, 1, buffer.Len())
	assert.Equal(t, r4.Hash(), buffer.Pending(0)[0].Hash())
}

func TestGeneratorDistinct(t *testing.T) {
	gen := NewGenerator()
	seen := make(map[brn.Bytes32]bool)
	for i := 0; i < 100; i++ {
		h := gen.Next().Hash()
		assert.False(t, seen[h])
		seen[h] = true
	}
}
