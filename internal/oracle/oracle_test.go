package oracle

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dake/internal/domain"
	"github.com/alanyoungcy/dake/internal/payout"
)

var (
	program = common.HexToAddress("0x00000000000000000000000000000000000da4e0")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	mallory = common.HexToAddress("0x000000000000000000000000000000000000bad0")
)

func newTestOracle(t *testing.T) *Local {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	o, err := New(key, NewMemoryStore(), nil)
	require.NoError(t, err)
	return o
}

func TestLocal_SealedInputEquality(t *testing.T) {
	ctx := context.Background()
	o := newTestOracle(t)

	ct, err := SealInput(o.PublicKey(), uint256.NewInt(1))
	require.NoError(t, err)
	side, err := o.NewEncrypted(ctx, ct, program)
	require.NoError(t, err)
	require.False(t, side.IsZero())

	yes, err := o.Encrypt(ctx, uint256.NewInt(1), program)
	require.NoError(t, err)
	no, err := o.Encrypt(ctx, uint256.NewInt(0), program)
	require.NoError(t, err)

	win, err := o.Equal(ctx, side, yes, program)
	require.NoError(t, err)
	lose, err := o.Equal(ctx, side, no, program)
	require.NoError(t, err)

	require.NoError(t, o.Allow(ctx, win, program, alice))
	require.NoError(t, o.Allow(ctx, lose, program, alice))

	d, err := o.Decrypt(ctx, alice, win)
	require.NoError(t, err)
	assert.True(t, payout.ParseBool(d.Plaintext))

	d, err = o.Decrypt(ctx, alice, lose)
	require.NoError(t, err)
	assert.False(t, payout.ParseBool(d.Plaintext))
}

func TestLocal_AccessControl(t *testing.T) {
	ctx := context.Background()
	o := newTestOracle(t)

	h, err := o.Encrypt(ctx, uint256.NewInt(7), program)
	require.NoError(t, err)

	_, err = o.Decrypt(ctx, alice, h)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	err = o.Allow(ctx, h, mallory, mallory)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	other, err := o.Encrypt(ctx, uint256.NewInt(7), alice)
	require.NoError(t, err)
	_, err = o.Equal(ctx, h, other, program)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	require.NoError(t, o.Allow(ctx, h, program, alice))
	d, err := o.Decrypt(ctx, alice, h)
	require.NoError(t, err)
	assert.True(t, EqualPlaintext(d.Plaintext, uint256.NewInt(7)))
}

func TestLocal_VerifyDecryption(t *testing.T) {
	ctx := context.Background()
	o := newTestOracle(t)

	h, err := o.Encrypt(ctx, uint256.NewInt(1), program)
	require.NoError(t, err)
	require.NoError(t, o.Allow(ctx, h, program, alice))
	d, err := o.Decrypt(ctx, alice, h)
	require.NoError(t, err)

	hs := []domain.Handle{h}
	require.NoError(t, o.VerifyDecryption(ctx, alice, hs, [][]byte{d.Plaintext}, [][]byte{d.Proof}))

	t.Run("bound to requester", func(t *testing.T) {
		err := o.VerifyDecryption(ctx, mallory, hs, [][]byte{d.Plaintext}, [][]byte{d.Proof})
		assert.ErrorIs(t, err, domain.ErrProofInvalid)
	})
	t.Run("tampered plaintext", func(t *testing.T) {
		err := o.VerifyDecryption(ctx, alice, hs, [][]byte{{0}}, [][]byte{d.Proof})
		assert.ErrorIs(t, err, domain.ErrProofInvalid)
	})
	t.Run("foreign oracle", func(t *testing.T) {
		other := newTestOracle(t)
		err := other.VerifyDecryption(ctx, alice, hs, [][]byte{d.Plaintext}, [][]byte{d.Proof})
		assert.ErrorIs(t, err, domain.ErrProofInvalid)
	})
	t.Run("length mismatch", func(t *testing.T) {
		err := o.VerifyDecryption(ctx, alice, hs, nil, nil)
		assert.ErrorIs(t, err, domain.ErrProofInvalid)
	})
}

func TestLocal_RejectsWideValues(t *testing.T) {
	o := newTestOracle(t)
	wide := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	_, err := o.Encrypt(context.Background(), wide, program)
	assert.Error(t, err)

	_, err = o.NewEncrypted(context.Background(), []byte("not a ciphertext"), program)
	assert.ErrorIs(t, err, domain.ErrProofInvalid)
}
