package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vircore/controlplane/internal/config"
	"github.com/vircore/controlplane/internal/errs"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := LoadKey(config.CryptoConfig{
		AEADKeyHex: "00000000000000000000000000000000000000000000000000000000000000ff",
		HMACSecret: "test-secret",
	})
	require.NoError(t, err)
	return m
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m := testManager(t)

	plaintext := []byte("super secret vm config")
	ciphertext, err := m.Encrypt(plaintext)
	require.NoError(t, err)

	got, err := m.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEncryptNonceVaries(t *testing.T) {
	m := testManager(t)

	plaintext := []byte("same plaintext")
	a, err := m.Encrypt(plaintext)
	require.NoError(t, err)
	b, err := m.Encrypt(plaintext)
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "re-encrypting the same plaintext must yield different ciphertexts")
}

func TestEncryptToStringRoundTrip(t *testing.T) {
	m := testManager(t)

	encoded, err := m.EncryptToString("ldap-bind-password")
	require.NoError(t, err)

	got, err := m.DecryptFromString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "ldap-bind-password", got)

	_, err = m.DecryptFromString("not base64!!")
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestDecryptTamperedFails(t *testing.T) {
	m := testManager(t)

	ciphertext, err := m.Encrypt([]byte("data"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = m.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestEncryptKeyUnset(t *testing.T) {
	m := &Manager{}
	_, err := m.Encrypt([]byte("x"))
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestPasswordHashVerify(t *testing.T) {
	m := testManager(t)

	hash, err := m.HashPassword("hunter2")
	require.NoError(t, err)

	assert.True(t, m.VerifyPassword("hunter2", hash))
	assert.False(t, m.VerifyPassword("wrong", hash))
}

func TestTokenSignVerify(t *testing.T) {
	m := testManager(t)

	token, err := m.SignToken("user-1", "alice", "Administrator", time.Hour)
	require.NoError(t, err)

	claims, err := m.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "Administrator", claims.Role)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestTokenExpired(t *testing.T) {
	m := testManager(t)

	token, err := m.SignToken("user-1", "alice", "VMUser", -time.Minute)
	require.NoError(t, err)

	_, err = m.VerifyToken(token)
	assert.Equal(t, errs.TokenExpired, errs.KindOf(err))
}

func TestTokenBadSignature(t *testing.T) {
	m := testManager(t)
	other, err := LoadKey(config.CryptoConfig{HMACSecret: "different-secret"})
	require.NoError(t, err)

	token, err := m.SignToken("user-1", "alice", "VMUser", time.Hour)
	require.NoError(t, err)

	_, err = other.VerifyToken(token)
	assert.Error(t, err)
}
