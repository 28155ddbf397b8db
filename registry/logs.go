// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"sort"

	"github.com/WaleedMaghraby/burn-relayer/brn"
	"github.com/WaleedMaghraby/burn-relayer/weights"
)

// IndexLogEntry records which relayer occupies a dense slot starting at Window.
// The zero relayer address means the slot became vacant.
type IndexLogEntry struct {
	Window  uint64
	Relayer brn.Address
}

// indexLog is the per-slot occupancy history, ordered by strictly increasing
// window. Slots reuse live indices, never their history.
type indexLog []IndexLogEntry

// append records a new occupant effective at the given window.
// A second update within the same window overwrites the previous one
// (last-writer-wins per window) so the log stays bounded by update windows.
func (l indexLog) append(window uint64, relayer brn.Address) indexLog {
	if n := len(l); n > 0 && l[n-1].Window == window {
		l[n-1].Relayer = relayer
		return l
	}
	return append(l, IndexLogEntry{Window: window, Relayer: relayer})
}

// lookup returns the relayer occupying the slot at the given window: the
// entry with the greatest window <= the target window. Zero address returned
// when the slot was vacant.
func (l indexLog) lookup(window uint64) brn.Address {
	i := sort.Search(len(l), func(i int) bool {
		return l[i].Window > window
	})
	if i == 0 {
		return brn.Address{}
	}
	return l[i-1].Relayer
}

// CdfLogEntry records the CDF content hash effective from Window on.
type CdfLogEntry struct {
	Window uint64
	Hash   brn.Bytes32
}

// cdfLog is the distribution history, ordered by strictly increasing window.
// Only hashes are kept for the full history; operations on a past window are
// handed the array by their caller and the log authenticates it. The content
// of the active and pending distributions is retained separately in
// cdfContents.
type cdfLog []CdfLogEntry

func (l cdfLog) append(window uint64, hash brn.Bytes32) cdfLog {
	if n := len(l); n > 0 && l[n-1].Window == window {
		l[n-1].Hash = hash
		return l
	}
	return append(l, CdfLogEntry{Window: window, Hash: hash})
}

// lookup returns the CDF hash active at the given window, or a zero hash if
// no distribution existed yet.
func (l cdfLog) lookup(window uint64) brn.Bytes32 {
	i := sort.Search(len(l), func(i int) bool {
		return l[i].Window > window
	})
	if i == 0 {
		return brn.Bytes32{}
	}
	return l[i-1].Hash
}

// CdfContentEntry retains the CDF content effective from Window on.
type CdfContentEntry struct {
	Window uint64
	Cdf    weights.CDF
}

// cdfContents holds the CDF content of the pending update and of the
// distribution it supersedes. Updates take effect one window after they are
// made, so at most one entry is pending at any time and two entries cover
// every current and future window.
type cdfContents []CdfContentEntry

func (l cdfContents) append(window uint64, cdf weights.CDF) cdfContents {
	if n := len(l); n > 0 && l[n-1].Window == window {
		l[n-1].Cdf = cdf
		return l
	}
	l = append(l, CdfContentEntry{Window: window, Cdf: cdf})
	if len(l) > 2 {
		l = l[len(l)-2:]
	}
	return l
}

// lookup returns the CDF content active at the given window, nil if the
// window predates the retained entries or no distribution existed yet.
func (l cdfContents) lookup(window uint64) weights.CDF {
	i := sort.Search(len(l), func(i int) bool {
		return l[i].Window > window
	})
	if i == 0 {
		return nil
	}
	return l[i-1].Cdf
}
