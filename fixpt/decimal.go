// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package fixpt

import (
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// multiplier is the fixed scaling factor, 24 decimal digits.
var multiplier = uint256.MustFromDecimal("1000000000000000000000000")

// Decimal is a non-negative fixed-point number with 24 fractional decimal
// digits, backed by a 256-bit unsigned integer.
// It can be used as a value without state sharing.
//
// Division and multiplication truncate toward zero. Reward-share accounting
// depends on this rounding direction; do not change it.
type Decimal struct {
	value uint256.Int
}

// Zero the zero value of Decimal.
var Zero = Decimal{}

// FromUint64 creates a Decimal presenting the integer v.
func FromUint64(v uint64) Decimal {
	var d Decimal
	d.value.SetUint64(v)
	d.value.Mul(&d.value, multiplier)
	return d
}

// FromBigUnits creates a Decimal presenting the native integer amount.
// Negative or overflowing amounts yield Zero.
func FromBigUnits(amount *big.Int) Decimal {
	if amount == nil || amount.Sign() <= 0 {
		return Zero
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return Zero
	}
	var d Decimal
	if _, overflow = d.value.MulOverflow(v, multiplier); overflow {
		return Zero
	}
	return d
}

// FromRaw creates a Decimal from its raw scaled integer, as returned by Raw.
// Used when decoding persisted values.
func FromRaw(raw *big.Int) Decimal {
	if raw == nil || raw.Sign() <= 0 {
		return Zero
	}
	v, overflow := uint256.FromBig(raw)
	if overflow {
		return Zero
	}
	return Decimal{value: *v}
}

// Raw returns the underlying scaled integer, fraction preserved.
func (d Decimal) Raw() *big.Int {
	return d.value.ToBig()
}

// BigUnits converts back to a native integer amount, truncating the
// fractional part toward zero.
func (d Decimal) BigUnits() *big.Int {
	var q uint256.Int
	q.Div(&d.value, multiplier)
	return q.ToBig()
}

// Add returns d + other.
func (d Decimal) Add(other Decimal) Decimal {
	var r Decimal
	r.value.Add(&d.value, &other.value)
	return r
}

// Sub returns d - other, clamped at zero.
// Clamping absorbs the sub-unit drift that truncating division introduces
// when unwinding shares back into amounts.
func (d Decimal) Sub(other Decimal) Decimal {
	if d.value.Lt(&other.value) {
		return Zero
	}
	var r Decimal
	r.value.Sub(&d.value, &other.value)
	return r
}

// Mul returns d * other, truncating toward zero.
func (d Decimal) Mul(other Decimal) Decimal {
	var r Decimal
	r.value.Mul(&d.value, &other.value)
	r.value.Div(&r.value, multiplier)
	return r
}

// Div returns d / other, truncating toward zero.
// Division by zero yields Zero.
func (d Decimal) Div(other Decimal) Decimal {
	if other.value.IsZero() {
		return Zero
	}
	var r Decimal
	r.value.Mul(&d.value, multiplier)
	r.value.Div(&r.value, &other.value)
	return r
}

// Cmp compares with another Decimal.
// Returns -1 if d < other, 0 if equal, +1 if d > other.
func (d Decimal) Cmp(other Decimal) int {
	return d.value.Cmp(&other.value)
}

// IsZero returns true if d presents a zero value.
func (d Decimal) IsZero() bool {
	return d.value.IsZero()
}

// String implements the stringer interface. Trailing fractional zeros are
// trimmed.
func (d Decimal) String() string {
	var q, r uint256.Int
	q.DivMod(&d.value, multiplier, &r)
	if r.IsZero() {
		return q.Dec()
	}
	dec := r.Dec()
	frac := strings.Repeat("0", 24-len(dec)) + dec
	return q.Dec() + "." + strings.TrimRight(frac, "0")
}
