package crypto

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	data, err := SealKey(key, "hunter2")
	require.NoError(t, err)

	got, err := OpenKey(data, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.FromECDSA(key), ethcrypto.FromECDSA(got))

	_, err = OpenKey(data, "wrong")
	assert.Error(t, err)

	_, err = SealKey(key, "")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	raw := "0x" + hex.EncodeToString(ethcrypto.FromECDSA(key))

	got, err := LoadKey(KeySource{Raw: raw})
	require.NoError(t, err)
	assert.Equal(t, key.D, got.D)

	data, err := SealKey(key, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "oracle.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	got, err = LoadKey(KeySource{Path: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, key.D, got.D)

	_, err = LoadKey(KeySource{})
	assert.Error(t, err)
}

func TestSignedRequestRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s := NewSignerFromKey(key, 1)
	v := NewVerifier(1)

	body := []byte(`{"amount":100}`)
	h, err := s.RequestHeadersAt("POST", "/api/markets/0x01/bets", body, 1_700_000_000)
	require.NoError(t, err)

	ts, err := strconv.ParseInt(h[HeaderTimestamp], 10, 64)
	require.NoError(t, err)

	addr, err := v.Verify(h[HeaderAddress], ts, h[HeaderSignature], "POST", "/api/markets/0x01/bets", body)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	_, err = v.Verify(h[HeaderAddress], ts, h[HeaderSignature], "POST", "/api/markets/0x01/bets", []byte(`{"amount":1}`))
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = NewVerifier(2).Verify(h[HeaderAddress], ts, h[HeaderSignature], "POST", "/api/markets/0x01/bets", body)
	assert.ErrorIs(t, err, ErrBadSignature)
}
