// Package derive computes deterministic sub-account addresses from seed
// material, the way program-derived accounts are located: the same seeds
// under the same program always yield the same address, and nobody holds a
// private key for it.
package derive

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const marker = "ProgramDerivedAddress"

// Seed prefixes.
var (
	SeedMarket   = []byte("market")
	SeedVault    = []byte("vault")
	SeedPosition = []byte("position")
)

// Deriver derives addresses owned by one program.
type Deriver struct {
	program common.Address
}

// New returns a Deriver for program.
func New(program common.Address) *Deriver {
	return &Deriver{program: program}
}

// Program returns the owning program address.
func (d *Deriver) Program() common.Address {
	return d.program
}

// Address hashes the program, each length-prefixed seed and a fixed marker
// with keccak256 and keeps the low 20 bytes.
func (d *Deriver) Address(seeds [][]byte) common.Address {
	buf := make([]byte, 0, 64)
	buf = append(buf, d.program.Bytes()...)
	for _, s := range seeds {
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(s)))
		buf = append(buf, l[:]...)
		buf = append(buf, s...)
	}
	buf = append(buf, marker...)
	return common.BytesToAddress(ethcrypto.Keccak256(buf)[12:])
}

// MarketSeeds returns the seeds for the market account of marketID.
func MarketSeeds(marketID uint64) [][]byte {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], marketID)
	return [][]byte{SeedMarket, id[:]}
}

// VaultSeeds returns the seeds for a market's escrow vault.
func VaultSeeds(market common.Address) [][]byte {
	return [][]byte{SeedVault, market.Bytes()}
}

// PositionSeeds returns the seeds for owner's position in market.
func PositionSeeds(market, owner common.Address) [][]byte {
	return [][]byte{SeedPosition, market.Bytes(), owner.Bytes()}
}

// Market derives the market account address.
func (d *Deriver) Market(marketID uint64) common.Address {
	return d.Address(MarketSeeds(marketID))
}

// Vault derives the vault account address for market.
func (d *Deriver) Vault(market common.Address) common.Address {
	return d.Address(VaultSeeds(market))
}

// Position derives the position account address for owner in market.
func (d *Deriver) Position(market, owner common.Address) common.Address {
	return d.Address(PositionSeeds(market, owner))
}
