package payout

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulDiv(t *testing.T) {
	q, ok := MulDiv(math.MaxUint64, 2, 4)
	require.True(t, ok)
	assert.Equal(t, uint64(math.MaxUint64/2), q)

	_, ok = MulDiv(math.MaxUint64, 2, 1)
	assert.False(t, ok)

	_, ok = MulDiv(1, 1, 0)
	assert.False(t, ok)
}

func TestSaturating(t *testing.T) {
	assert.Equal(t, uint64(5), SaturatingAdd(2, 3))
	assert.Equal(t, uint64(math.MaxUint64), SaturatingAdd(math.MaxUint64, 1))
	assert.Equal(t, uint32(math.MaxUint32), SaturatingInc32(math.MaxUint32))
	assert.Equal(t, uint32(1), SaturatingInc32(0))
}

func TestLocked(t *testing.T) {
	tests := []struct {
		name                       string
		amount, sideAfter, totalAf uint64
		want                       uint64
	}{
		{"seeded book", 100, 500_000_100, 1_000_000_100, 199},
		{"only bettor", 100, 100, 100, 100},
		{"empty side", 100, 0, 100, 100},
		{"overflow falls back to stake", math.MaxUint64, 1, math.MaxUint64, math.MaxUint64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Locked(tt.amount, tt.sideAfter, tt.totalAf))
		})
	}
}

func TestProportional(t *testing.T) {
	assert.Equal(t, uint64(400), Proportional(200, 300, 600))
	assert.Equal(t, uint64(200), Proportional(100, 300, 600))
	assert.Equal(t, uint64(50), Proportional(50, 0, 600))
	assert.Equal(t, uint64(0), Proportional(math.MaxUint64, 1, math.MaxUint64))
}

func TestClampAndProfit(t *testing.T) {
	assert.Equal(t, uint64(300), Clamp(400, 300))
	assert.Equal(t, uint64(400), Clamp(400, 1000))
	assert.Equal(t, uint64(0), Profit(100, 200))
	assert.Equal(t, uint64(99), Profit(199, 100))
}

func TestMultiplier(t *testing.T) {
	assert.Equal(t, "2.00", Multiplier(400, 200).String())
	assert.Equal(t, "1.99", Multiplier(199, 100).String())
	assert.Equal(t, "1.00", Multiplier(5, 0).String())
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		in   []byte
		want bool
	}{
		{nil, false},
		{[]byte{}, false},
		{[]byte("0"), false},
		{[]byte("false"), false},
		{[]byte("1"), true},
		{[]byte("true"), true},
		{[]byte{1, 0, 0, 0}, true},
		{[]byte{0, 0, 0, 0}, false},
		{[]byte("000"), false},
		{[]byte("yes"), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseBool(tt.in), "input %q", tt.in)
	}
}
