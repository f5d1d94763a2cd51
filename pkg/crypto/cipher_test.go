package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	sealed, err := EncryptString("key-material", "gho_secret")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "gho_secret")

	plain, err := DecryptToString("key-material", sealed)
	require.NoError(t, err)
	assert.Equal(t, "gho_secret", plain)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	sealed, err := EncryptString("key-a", "gho_secret")
	require.NoError(t, err)

	_, err = DecryptToString("key-b", sealed)
	assert.Error(t, err)

	_, err = DecryptToString("key-a", sealed[:4])
	assert.Error(t, err)
}
