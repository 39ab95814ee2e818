/*
Package crypto provides the control plane's cryptographic primitives:
encryption at rest, password hashing, and signed tokens.

# Encryption

Encrypt/Decrypt use AES-256-GCM. The wire layout is

	nonce(12B) || ciphertext || auth_tag(16B)

with a fresh random nonce per call, so encrypting the same plaintext
twice yields different ciphertexts. EncryptToString/DecryptFromString
base64-wrap the same layout for ciphertexts embedded in string fields
of otherwise plain records.

Key material resolves in priority order: explicit hex configuration,
then a key file, then random generation when auto-generation is
enabled. A Manager without a key still signs and verifies tokens;
Encrypt and Decrypt fail until a key is loaded.

# Passwords

HashPassword/VerifyPassword use bcrypt at the library default cost.
The raw password is never stored and cannot be recovered from the
hash.

# Tokens

SignToken/VerifyToken issue and check HS256 tokens carrying
sub/username/role/iat/exp claims. An expired token fails with
TokenExpired; any other verification failure fails with Signature.
A missing HMAC secret is always an error, never silently accepted.

# Usage

	mgr, err := crypto.LoadKey(cfg.Crypto)
	if err != nil {
		return err
	}

	ct, err := mgr.Encrypt([]byte("secret"))
	pt, err := mgr.Decrypt(ct)

	token, err := mgr.SignToken("user-1", "alice", "Administrator", time.Hour)
	claims, err := mgr.VerifyToken(token)

# Integration Points

This package integrates with:

  - internal/auth for password verification and session tokens
  - internal/config for key-material resolution at startup
*/
package crypto
