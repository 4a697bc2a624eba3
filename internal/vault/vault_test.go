package vault

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, keySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestNew_RejectsWrongKeySize(t *testing.T) {
	_, err := New([]byte("too-short"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestNewFromBase64_RejectsInvalidBase64(t *testing.T) {
	_, err := NewFromBase64("not base64 at all!!!")
	require.Error(t, err)
}

func TestNewFromBase64_RejectsWrongDecodedLength(t *testing.T) {
	short := base64.StdEncoding.EncodeToString([]byte("short-key"))
	_, err := NewFromBase64(short)
	require.Error(t, err)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	v, err := New(randomKey(t))
	require.NoError(t, err)

	for _, plaintext := range []string{"", "short", strings.Repeat("x", 4096), "unicöde 🎬"} {
		sealed, err := v.Seal(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, sealed)

		opened, err := v.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestSeal_ProducesDistinctCiphertextsForSamePlaintext(t *testing.T) {
	v, err := New(randomKey(t))
	require.NoError(t, err)

	a, err := v.Seal("same-secret")
	require.NoError(t, err)
	b, err := v.Seal("same-secret")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "nonce must differ per seal")
}

func TestOpen_RejectsTamperedCiphertext(t *testing.T) {
	v, err := New(randomKey(t))
	require.NoError(t, err)

	sealed, err := v.Seal("credential-value")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = v.Open(tampered)
	require.Error(t, err)
}

func TestOpen_RejectsWrongKey(t *testing.T) {
	v1, err := New(randomKey(t))
	require.NoError(t, err)
	v2, err := New(randomKey(t))
	require.NoError(t, err)

	sealed, err := v1.Seal("credential-value")
	require.NoError(t, err)

	_, err = v2.Open(sealed)
	require.Error(t, err)
}

func TestOpen_RejectsNotBase64(t *testing.T) {
	v, err := New(randomKey(t))
	require.NoError(t, err)

	_, err = v.Open("!!!not-base64!!!")
	require.Error(t, err)
}

func TestOpen_RejectsTruncatedCiphertext(t *testing.T) {
	v, err := New(randomKey(t))
	require.NoError(t, err)

	_, err = v.Open(base64.StdEncoding.EncodeToString([]byte("x")))
	require.Error(t, err)
}
