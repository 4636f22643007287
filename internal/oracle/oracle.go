// Package oracle is a local confidential compute oracle. Values enter either
// as ECIES ciphertexts sealed by clients to the oracle's public key or as
// plaintexts wrapped by a caller; they are kept AES-GCM encrypted at rest and
// referenced only by Handle. Decryptions are attested with a secp256k1
// signature that VerifyDecryption checks.
package oracle

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/hkdf"

	"github.com/alanyoungcy/dake/internal/domain"
)

// ValueLen is the width of every plaintext the oracle holds: a
// little-endian unsigned 128-bit integer.
const ValueLen = 16

var attestationDomain = []byte("dake/oracle/decryption/v1")

// Local implements domain.Oracle on a single key pair.
type Local struct {
	key     *ecdsa.PrivateKey
	ecies   *ecies.PrivateKey
	address common.Address
	aead    cipher.AEAD
	store   domain.OracleStore
	logger  *slog.Logger
	now     func() time.Time
}

// New builds an oracle around key. The at-rest encryption key is derived from
// key with HKDF-SHA256, so a restarted oracle with the same key can read the
// values it sealed before.
func New(key *ecdsa.PrivateKey, store domain.OracleStore, logger *slog.Logger) (*Local, error) {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}

	atRest := make([]byte, 32)
	kdf := hkdf.New(sha256.New, ethcrypto.FromECDSA(key), nil, []byte("dake/oracle/at-rest"))
	if _, err := io.ReadFull(kdf, atRest); err != nil {
		return nil, fmt.Errorf("oracle: deriving at-rest key: %w", err)
	}
	block, err := aes.NewCipher(atRest)
	if err != nil {
		return nil, fmt.Errorf("oracle: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("oracle: creating GCM: %w", err)
	}

	return &Local{
		key:     key,
		ecies:   ecies.ImportECDSA(key),
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		aead:    gcm,
		store:   store,
		logger:  logger.With(slog.String("component", "oracle")),
		now:     time.Now,
	}, nil
}

// Address is the address whose signatures attest decryptions.
func (o *Local) Address() common.Address {
	return o.address
}

// PublicKey returns the uncompressed public key clients seal inputs to.
func (o *Local) PublicKey() *ecdsa.PublicKey {
	return &o.key.PublicKey
}

// NewEncrypted opens a client-sealed ciphertext and stores the value under a
// fresh handle the signer may use.
func (o *Local) NewEncrypted(ctx context.Context, ciphertext []byte, signer common.Address) (domain.Handle, error) {
	pt, err := o.ecies.Decrypt(ciphertext, nil, nil)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("oracle: open input: %w", domain.ErrProofInvalid)
	}
	if len(pt) > ValueLen {
		return domain.Handle{}, fmt.Errorf("oracle: input is %d bytes, max %d", len(pt), ValueLen)
	}
	var v [ValueLen]byte
	copy(v[:], pt)
	return o.put(ctx, v, signer)
}

// Encrypt stores value, which must fit in 128 bits.
func (o *Local) Encrypt(ctx context.Context, value *uint256.Int, signer common.Address) (domain.Handle, error) {
	v, err := encodeValue(value)
	if err != nil {
		return domain.Handle{}, err
	}
	return o.put(ctx, v, signer)
}

// Equal stores the encrypted boolean a == b. The signer must be allowed on
// both operands.
func (o *Local) Equal(ctx context.Context, a, b domain.Handle, signer common.Address) (domain.Handle, error) {
	va, err := o.open(ctx, a, signer)
	if err != nil {
		return domain.Handle{}, err
	}
	vb, err := o.open(ctx, b, signer)
	if err != nil {
		return domain.Handle{}, err
	}
	var out [ValueLen]byte
	if va == vb {
		out[0] = 1
	}
	return o.put(ctx, out, signer)
}

// Allow lets recipient decrypt h. The signer must already be allowed.
func (o *Local) Allow(ctx context.Context, h domain.Handle, signer, recipient common.Address) error {
	if err := o.authorize(ctx, h, signer); err != nil {
		return err
	}
	if err := o.store.Grant(ctx, h, recipient); err != nil {
		return fmt.Errorf("oracle: allow: %w", err)
	}
	o.logger.DebugContext(ctx, "decrypt access granted",
		slog.String("handle", h.String()),
		slog.String("recipient", recipient.Hex()),
	)
	return nil
}

// Decrypt reveals h to requester together with an attestation bound to
// requester. Only allowed addresses may decrypt.
func (o *Local) Decrypt(ctx context.Context, requester common.Address, h domain.Handle) (domain.Decryption, error) {
	v, err := o.open(ctx, h, requester)
	if err != nil {
		return domain.Decryption{}, err
	}
	pt := v[:]
	proof, err := ethcrypto.Sign(attestationDigest(h, pt, requester), o.key)
	if err != nil {
		return domain.Decryption{}, fmt.Errorf("oracle: sign attestation: %w", err)
	}
	return domain.Decryption{Handle: h, Plaintext: pt, Proof: proof}, nil
}

// VerifyDecryption checks that every plaintext was attested by this oracle
// as the decryption of its handle for signer.
func (o *Local) VerifyDecryption(ctx context.Context, signer common.Address, handles []domain.Handle, plaintexts, proofs [][]byte) error {
	if len(handles) == 0 || len(handles) != len(plaintexts) || len(handles) != len(proofs) {
		return fmt.Errorf("oracle: verify: %d handles, %d plaintexts, %d proofs: %w",
			len(handles), len(plaintexts), len(proofs), domain.ErrProofInvalid)
	}
	for i, h := range handles {
		if _, err := o.store.GetValue(ctx, h); err != nil {
			return fmt.Errorf("oracle: verify handle %s: %w", h, domain.ErrProofInvalid)
		}
		if len(proofs[i]) != 65 {
			return fmt.Errorf("oracle: verify handle %s: malformed proof: %w", h, domain.ErrProofInvalid)
		}
		pub, err := ethcrypto.SigToPub(attestationDigest(h, plaintexts[i], signer), proofs[i])
		if err != nil || ethcrypto.PubkeyToAddress(*pub) != o.address {
			return fmt.Errorf("oracle: verify handle %s: %w", h, domain.ErrProofInvalid)
		}
	}
	return nil
}

func (o *Local) put(ctx context.Context, v [ValueLen]byte, signer common.Address) (domain.Handle, error) {
	h := domain.Handle(uuid.New())

	nonce := make([]byte, o.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return domain.Handle{}, fmt.Errorf("oracle: nonce: %w", err)
	}
	sealed := o.aead.Seal(nonce, nonce, v[:], h[:])

	err := o.store.PutValue(ctx, domain.SealedValue{
		Handle:     h,
		Ciphertext: sealed,
		Creator:    signer,
		CreatedAt:  o.now().UTC(),
	})
	if err != nil {
		return domain.Handle{}, fmt.Errorf("oracle: store value: %w", err)
	}
	if err := o.store.Grant(ctx, h, signer); err != nil {
		return domain.Handle{}, fmt.Errorf("oracle: grant creator: %w", err)
	}
	return h, nil
}

func (o *Local) open(ctx context.Context, h domain.Handle, who common.Address) ([ValueLen]byte, error) {
	var v [ValueLen]byte
	if err := o.authorize(ctx, h, who); err != nil {
		return v, err
	}
	sv, err := o.store.GetValue(ctx, h)
	if err != nil {
		return v, fmt.Errorf("oracle: load %s: %w", h, err)
	}
	ns := o.aead.NonceSize()
	if len(sv.Ciphertext) < ns {
		return v, fmt.Errorf("oracle: load %s: truncated ciphertext", h)
	}
	pt, err := o.aead.Open(nil, sv.Ciphertext[:ns], sv.Ciphertext[ns:], h[:])
	if err != nil {
		return v, fmt.Errorf("oracle: open %s: %w", h, err)
	}
	copy(v[:], pt)
	return v, nil
}

func (o *Local) authorize(ctx context.Context, h domain.Handle, who common.Address) error {
	if h.IsZero() {
		return fmt.Errorf("oracle: zero handle: %w", domain.ErrNotFound)
	}
	ok, err := o.store.HasAccess(ctx, h, who)
	if err != nil {
		return fmt.Errorf("oracle: access check: %w", err)
	}
	if !ok {
		return fmt.Errorf("oracle: %s on %s: %w", who.Hex(), h, domain.ErrAccessDenied)
	}
	return nil
}

func attestationDigest(h domain.Handle, plaintext []byte, requester common.Address) []byte {
	return ethcrypto.Keccak256(
		attestationDomain,
		h[:],
		ethcrypto.Keccak256(plaintext),
		requester.Bytes(),
	)
}

func encodeValue(value *uint256.Int) ([ValueLen]byte, error) {
	var out [ValueLen]byte
	if value == nil {
		return out, errors.New("oracle: nil value")
	}
	if value.BitLen() > ValueLen*8 {
		return out, fmt.Errorf("oracle: value needs %d bits, max %d", value.BitLen(), ValueLen*8)
	}
	be := value.Bytes32()
	for i := 0; i < ValueLen; i++ {
		out[i] = be[31-i]
	}
	return out, nil
}

// SealInput encrypts value to the oracle public key pub, producing the
// ciphertext NewEncrypted accepts. Clients use it to hide their side.
func SealInput(pub *ecdsa.PublicKey, value *uint256.Int) ([]byte, error) {
	v, err := encodeValue(value)
	if err != nil {
		return nil, err
	}
	ct, err := ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), v[:], nil, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: seal input: %w", err)
	}
	return ct, nil
}

// EqualPlaintext reports whether a decrypted value equals want, for clients
// checking their own decryptions.
func EqualPlaintext(plaintext []byte, want *uint256.Int) bool {
	v, err := encodeValue(want)
	if err != nil {
		return false
	}
	return bytes.Equal(plaintext, v[:])
}
