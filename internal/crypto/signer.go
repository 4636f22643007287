package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Header names carried by a signed API request.
const (
	HeaderAddress   = "X-Dake-Address"
	HeaderTimestamp = "X-Dake-Timestamp"
	HeaderSignature = "X-Dake-Signature"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// DakeRequest(address signer,uint256 timestamp,string method,string path,bytes32 body)
	requestTypeHash = ethcrypto.Keccak256(
		[]byte("DakeRequest(address signer,uint256 timestamp,string method,string path,bytes32 body)"),
	)
)

// ErrBadSignature is returned when a signature does not recover to the
// claimed address.
var ErrBadSignature = errors.New("crypto: signature does not match address")

// Signer signs API requests with a secp256k1 key. The recovered address is
// the caller identity the server acts for.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk, chainID), nil
}

// NewSignerFromKey wraps an already-loaded key.
func NewSignerFromKey(pk *ecdsa.PrivateKey, chainID int64) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(chainID),
	}
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// RequestHeaders signs a request at the current time.
func (s *Signer) RequestHeaders(method, path string, body []byte) (map[string]string, error) {
	return s.RequestHeadersAt(method, path, body, time.Now().Unix())
}

// RequestHeadersAt is like RequestHeaders with a caller-supplied timestamp.
func (s *Signer) RequestHeadersAt(method, path string, body []byte, unixTS int64) (map[string]string, error) {
	digest := RequestDigest(s.domainSep, s.address, unixTS, method, path, body)
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets expect {27,28}.
	sig[64] += 27

	return map[string]string{
		HeaderAddress:   s.address.Hex(),
		HeaderTimestamp: strconv.FormatInt(unixTS, 10),
		HeaderSignature: "0x" + hex.EncodeToString(sig),
	}, nil
}

// Verifier checks signed requests for one chain domain.
type Verifier struct {
	domainSep []byte
}

// NewVerifier returns a Verifier for chainID.
func NewVerifier(chainID int64) *Verifier {
	return &Verifier{domainSep: domainSeparator(chainID)}
}

// Verify recovers the signer of a request and checks it against the claimed
// address. It returns the verified address.
func (v *Verifier) Verify(address string, unixTS int64, sigHex, method, path string, body []byte) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("crypto/signer: invalid address %q", address)
	}
	claimed := common.HexToAddress(address)

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decoding signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest := RequestDigest(v.domainSep, claimed, unixTS, method, path, body)
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recovering key: %w", err)
	}
	if ethcrypto.PubkeyToAddress(*pub) != claimed {
		return common.Address{}, ErrBadSignature
	}
	return claimed, nil
}

// RequestDigest computes the EIP-712 digest of a request.
func RequestDigest(domainSep []byte, signer common.Address, unixTS int64, method, path string, body []byte) []byte {
	structHash := ethcrypto.Keccak256(
		requestTypeHash,
		common.LeftPadBytes(signer.Bytes(), 32),
		common.LeftPadBytes(big.NewInt(unixTS).Bytes(), 32),
		ethcrypto.Keccak256([]byte(strings.ToUpper(method))),
		ethcrypto.Keccak256([]byte(path)),
		ethcrypto.Keccak256(body),
	)
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte("Dake")),
		ethcrypto.Keccak256([]byte("1")),
		common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32),
	)
}
