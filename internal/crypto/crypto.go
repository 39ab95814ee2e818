package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/vircore/controlplane/internal/config"
	"github.com/vircore/controlplane/internal/errs"
)

const keySize = 32 // AES-256

// Manager holds the process-wide AEAD key and HMAC secret. Both are
// injected dependencies constructed once at startup; nothing here is
// reached through an ambient global.
type Manager struct {
	aeadKey    []byte
	hmacSecret []byte
}

// LoadKey resolves the AEAD key in priority order: explicit hex config,
// then key file, then (only if allowed) random generation. A manager
// built with no key is usable for token operations only; Encrypt/Decrypt
// fail with errs.Validation ("encryption key not set") until a key is loaded.
func LoadKey(cfg config.CryptoConfig) (*Manager, error) {
	m := &Manager{hmacSecret: []byte(cfg.HMACSecret)}

	switch {
	case cfg.AEADKeyHex != "":
		key, err := hex.DecodeString(strings.TrimSpace(cfg.AEADKeyHex))
		if err != nil {
			return nil, fmt.Errorf("decode AEAD key hex: %w", err)
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("AEAD key must be %d bytes, got %d", keySize, len(key))
		}
		m.aeadKey = key

	case cfg.KeyFile != "":
		data, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read AEAD key file: %w", err)
		}
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode AEAD key file: %w", err)
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("AEAD key must be %d bytes, got %d", keySize, len(key))
		}
		m.aeadKey = key

	case cfg.AllowAutoGenerate:
		key := make([]byte, keySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("generate AEAD key: %w", err)
		}
		m.aeadKey = key
	}

	return m, nil
}

// Encrypt seals plaintext with AES-256-GCM using a random 12-byte nonce
// prepended to the ciphertext.
func (m *Manager) Encrypt(plaintext []byte) ([]byte, error) {
	if len(m.aeadKey) == 0 {
		return nil, errs.Validationf("encryption key not set")
	}

	block, err := aes.NewCipher(m.aeadKey)
	if err != nil {
		return nil, errs.Internalf(err, "create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Internalf(err, "create GCM")
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Internalf(err, "generate nonce")
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (m *Manager) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(m.aeadKey) == 0 {
		return nil, errs.Validationf("encryption key not set")
	}

	block, err := aes.NewCipher(m.aeadKey)
	if err != nil {
		return nil, errs.Internalf(err, "create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Internalf(err, "create GCM")
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errs.Validationf("ciphertext too short")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, &errs.Error{Kind: errs.Decrypt, Message: "authentication failed", Err: err}
	}
	return plaintext, nil
}

// EncryptToString seals plaintext and base64-wraps the result, for
// ciphertexts embedded in string fields of otherwise plain records.
func (m *Manager) EncryptToString(plaintext string) (string, error) {
	ct, err := m.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptFromString reverses EncryptToString.
func (m *Manager) DecryptFromString(encoded string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errs.Validationf("ciphertext is not valid base64")
	}
	pt, err := m.Decrypt(ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// HashPassword hashes a password with bcrypt at the library default cost.
func (m *Manager) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errs.Internalf(err, "hash password")
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored phc-style hash.
func (m *Manager) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Claims is the JWT claim set carried by control-plane tokens.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token with sub/username/role/iat/exp claims.
func (m *Manager) SignToken(subject, username, role string, ttl time.Duration) (string, error) {
	if len(m.hmacSecret) == 0 {
		return "", errs.Validationf("HMAC secret not set")
	}

	now := time.Now()
	claims := Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.hmacSecret)
	if err != nil {
		return "", errs.Internalf(err, "sign token")
	}
	return signed, nil
}

// VerifyToken parses and validates a token, returning its claims.
func (m *Manager) VerifyToken(tokenString string) (*Claims, error) {
	if len(m.hmacSecret) == 0 {
		return nil, errs.Validationf("HMAC secret not set")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.hmacSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errs.TokenExpiredf("token expired")
		}
		return nil, &errs.Error{Kind: errs.Signature, Message: "invalid token signature", Err: err}
	}

	return claims, nil
}
