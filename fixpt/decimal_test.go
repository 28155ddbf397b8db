// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package fixpt

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecimalRoundTrip(t *testing.T) {
	amount := new(big.Int).Mul(big.NewInt(12345), big.NewInt(1e18))
	d := FromBigUnits(amount)
	assert.Equal(t, amount, d.BigUnits())
}

func TestDecimalDivTruncatesTowardZero(t *testing.T) {
	// 10 / 3 = 3.333... truncated at the 24th digit
	d := FromUint64(10).Div(FromUint64(3))
	// multiplying back must not round up
	assert.Equal(t, -1, d.Mul(FromUint64(3)).Cmp(FromUint64(10)))

	// integer part is exactly 3
	assert.Equal(t, big.NewInt(3), d.BigUnits())
}

func TestDecimalDivByZero(t *testing.T) {
	assert.True(t, FromUint64(42).Div(Zero).IsZero())
}

func TestDecimalSubClampsAtZero(t *testing.T) {
	assert.True(t, FromUint64(1).Sub(FromUint64(2)).IsZero())

	d := FromUint64(5).Sub(FromUint64(3))
	assert.Equal(t, 0, d.Cmp(FromUint64(2)))
}

func TestDecimalMul(t *testing.T) {
	d := FromUint64(6).Mul(FromUint64(7))
	assert.Equal(t, 0, d.Cmp(FromUint64(42)))
	assert.Equal(t, "42", d.String())
}

func TestDecimalString(t *testing.T) {
	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

	// the fraction is zero-padded to its full width
	d := FromRaw(new(big.Int).Add(one, big.NewInt(5)))
	assert.Equal(t, "1.000000000000000000000005", d.String())

	// trailing fractional zeros are trimmed
	half := new(big.Int).Div(one, big.NewInt(2))
	assert.Equal(t, "0.5", FromRaw(half).String())
}

func TestDecimalShareMathNoDrift(t *testing.T) {
	// minting shares at a price then burning them back must never pay out
	// more than was put in
	totalShares := FromUint64(31)
	totalStake := FromUint64(1000)

	price := totalStake.Div(totalShares)
	minted := FromUint64(100).Div(price)
	paidBack := minted.Mul(price)

	assert.True(t, paidBack.Cmp(FromUint64(100)) <= 0)
}

func TestDecimalFromBigUnitsNegative(t *testing.T) {
	assert.True(t, FromBigUnits(big.NewInt(-1)).IsZero())
	assert.True(t, FromBigUnits(nil).IsZero())
}
