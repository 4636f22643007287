package domain

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

// HandleLen is the width of an encrypted value handle in bytes.
const HandleLen = 16

// Handle is an opaque reference to a value held by the confidential compute
// oracle. The zero Handle means "unset". Handles support no arithmetic; every
// operation on the underlying value goes through Oracle.
type Handle [HandleLen]byte

// IsZero reports whether h is the unset handle.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// String returns the handle as a decimal u128, the way clients display it.
func (h Handle) String() string {
	return h.Big().String()
}

// Hex returns the handle as 0x-prefixed little-endian hex.
func (h Handle) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// Big interprets the handle as a little-endian unsigned 128-bit integer.
func (h Handle) Big() *big.Int {
	var be [HandleLen]byte
	for i := range h {
		be[HandleLen-1-i] = h[i]
	}
	return new(big.Int).SetBytes(be[:])
}

// HandleFromBytes copies a little-endian 16-byte buffer into a Handle.
func HandleFromBytes(b []byte) (Handle, error) {
	var h Handle
	if len(b) != HandleLen {
		return h, fmt.Errorf("domain: handle must be %d bytes, got %d", HandleLen, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ParseHandle accepts either a decimal u128 or 0x-prefixed little-endian hex.
func ParseHandle(s string) (Handle, error) {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return Handle{}, fmt.Errorf("domain: parse handle: %w", err)
		}
		return HandleFromBytes(b)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > HandleLen*8 {
		return Handle{}, fmt.Errorf("domain: parse handle: invalid u128 %q", s)
	}
	var h Handle
	be := n.FillBytes(make([]byte, HandleLen))
	for i := range be {
		h[HandleLen-1-i] = be[i]
	}
	return h, nil
}

// MarshalText encodes the handle as a decimal string.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a decimal or hex handle.
func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
