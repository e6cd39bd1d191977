package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecretRoundTrip(t *testing.T) {
	t.Parallel()

	cipher, err := EncryptSecret("tongyi_sso_ticket=abc123")
	require.NoError(t, err)
	require.NotEmpty(t, cipher)
	require.NotContains(t, cipher, "abc123")

	plain, err := DecryptSecret(cipher)
	require.NoError(t, err)
	require.Equal(t, "tongyi_sso_ticket=abc123", plain)
}

func TestSecretEmptyValues(t *testing.T) {
	t.Parallel()

	cipher, err := EncryptSecret("")
	require.NoError(t, err)
	require.Empty(t, cipher)

	plain, err := DecryptSecret("")
	require.NoError(t, err)
	require.Empty(t, plain)
}

func TestSecretNonceUnique(t *testing.T) {
	t.Parallel()

	first, err := EncryptSecret("same value")
	require.NoError(t, err)
	second, err := EncryptSecret("same value")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := DecryptSecret("not base64!!!")
	require.Error(t, err)

	_, err = DecryptSecret("aGVsbG8=")
	require.Error(t, err)
}

func TestMaskSecret(t *testing.T) {
	t.Parallel()

	require.Empty(t, MaskSecret(""))
	masked := MaskSecret("super secret")
	require.NotEqual(t, "super secret", masked)
	require.True(t, IsMaskedSecret(masked))
	require.False(t, IsMaskedSecret("super secret"))
}
