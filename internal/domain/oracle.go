package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Oracle is the confidential compute capability. It owns every encrypted
// value; callers only ever see Handles.
type Oracle interface {
	// NewEncrypted ingests a client-sealed ciphertext and returns its handle.
	NewEncrypted(ctx context.Context, ciphertext []byte, signer common.Address) (Handle, error)
	// Encrypt wraps a plaintext of at most 128 bits.
	Encrypt(ctx context.Context, value *uint256.Int, signer common.Address) (Handle, error)
	// Equal returns a handle to the encrypted boolean a == b.
	Equal(ctx context.Context, a, b Handle, signer common.Address) (Handle, error)
	// Allow authorises recipient to decrypt h.
	Allow(ctx context.Context, h Handle, signer, recipient common.Address) error
	// VerifyDecryption checks that each plaintext is the authentic decryption
	// of the matching handle, attested for signer by the matching proof.
	VerifyDecryption(ctx context.Context, signer common.Address, handles []Handle, plaintexts, proofs [][]byte) error
}

// Decryption is an attested plaintext for one handle.
type Decryption struct {
	Handle    Handle `json:"handle"`
	Plaintext []byte `json:"plaintext"`
	Proof     []byte `json:"proof"`
}

// SealedValue is one oracle-held value, encrypted at rest.
type SealedValue struct {
	Handle     Handle
	Ciphertext []byte
	Creator    common.Address
	CreatedAt  time.Time
}

// OracleStore persists sealed values and the addresses allowed to decrypt
// them.
type OracleStore interface {
	PutValue(ctx context.Context, v SealedValue) error
	// GetValue returns ErrNotFound for an unknown handle.
	GetValue(ctx context.Context, h Handle) (SealedValue, error)
	Grant(ctx context.Context, h Handle, addr common.Address) error
	HasAccess(ctx context.Context, h Handle, addr common.Address) (bool, error)
}
