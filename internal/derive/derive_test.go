package derive

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriver_Deterministic(t *testing.T) {
	d := New(common.HexToAddress("0x5a"))
	m1 := d.Market(42)
	m2 := d.Market(42)
	require.Equal(t, m1, m2)
	assert.NotEqual(t, m1, d.Market(43))
	assert.NotEqual(t, common.Address{}, m1)
}

func TestDeriver_ProgramScoped(t *testing.T) {
	a := New(common.HexToAddress("0x01")).Market(7)
	b := New(common.HexToAddress("0x02")).Market(7)
	assert.NotEqual(t, a, b)
}

func TestDeriver_DistinctAccounts(t *testing.T) {
	d := New(common.HexToAddress("0x5a"))
	market := d.Market(1)
	owner := common.HexToAddress("0xbeef")
	vault := d.Vault(market)
	pos := d.Position(market, owner)

	assert.NotEqual(t, market, vault)
	assert.NotEqual(t, vault, pos)
	assert.NotEqual(t, pos, d.Position(market, common.HexToAddress("0xcafe")))
	assert.Equal(t, vault, d.Address(VaultSeeds(market)))
}

func TestDeriver_LengthPrefixAvoidsCollisions(t *testing.T) {
	d := New(common.HexToAddress("0x5a"))
	a := d.Address([][]byte{[]byte("ab"), []byte("c")})
	b := d.Address([][]byte{[]byte("a"), []byte("bc")})
	assert.NotEqual(t, a, b)
}
