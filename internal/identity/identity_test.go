package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSharedKeyConverges(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	kAB, err := Derive(a, b.PublicKey())
	require.NoError(t, err)
	kBA, err := Derive(b, a.PublicKey())
	require.NoError(t, err)

	require.Equal(t, kAB, kBA, "both sides must derive the same shared key")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	key, err := Derive(a, b.PublicKey())
	require.NoError(t, err)

	nonce, err := RandomNonce()
	require.NoError(t, err)

	plain := []byte("privacy is important")
	ct, err := key.Encrypt(plain, nonce)
	require.NoError(t, err)

	got, err := key.Decrypt(ct, nonce)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)
	other, err := Generate()
	require.NoError(t, err)

	key, err := Derive(a, b.PublicKey())
	require.NoError(t, err)
	wrong, err := Derive(other, b.PublicKey())
	require.NoError(t, err)

	nonce, err := RandomNonce()
	require.NoError(t, err)
	ct, err := key.Encrypt([]byte("secret"), nonce)
	require.NoError(t, err)

	_, err = wrong.Decrypt(ct, nonce)
	require.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	sig := kp.Sign([]byte("hello"))
	require.True(t, Verify(kp.PublicKey(), []byte("hello"), sig))
	require.False(t, Verify(kp.PublicKey(), []byte("goodbye"), sig))
}

// Property (spec.md §8 law #4): decrypt(encrypt(m, k, n), k, n) == m for
// all m, k, n; decrypt(c, k', n) fails when k' != k.
func TestEncryptionRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a, err := Generate()
		require.NoError(t, err)
		b, err := Generate()
		require.NoError(t, err)
		key, err := Derive(a, b.PublicKey())
		require.NoError(t, err)

		msg := []byte(rapid.StringN(0, 256, -1).Draw(t, "msg"))
		nonce, err := RandomNonce()
		require.NoError(t, err)

		ct, err := key.Encrypt(msg, nonce)
		require.NoError(t, err)
		got, err := key.Decrypt(ct, nonce)
		require.NoError(t, err)
		require.Equal(t, msg, got)
	})
}
