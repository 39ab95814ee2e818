/*
Package auth provides authentication and authorization: realm login,
session lifecycle, API key validation, and RBAC permission checks.

User identities are (username, realm) pairs. Each realm maps to an
Authenticator; the built-in internal authenticator checks the bcrypt
hash stored on the User record, and external directories (PAM, LDAP)
are wired in behind the same interface via RegisterRealm.

# Login Flow

 1. Dispatch to the realm's Authenticator
 2. Load the User record and verify it is enabled
 3. Create a Session with the default TTL and a fresh CSRF token
 4. Persist the session and return {session id, csrf, username, role}

Failures emit a LoginFailed audit event; success emits Login. A
disabled account is rejected after the password check so the audit
trail distinguishes bad credentials from a disabled user.

# Sessions

A session is valid iff its record exists in the store and has not
expired. Expired rows are rejected at read time and removed by a
periodic background sweep. Logout is idempotent.

# API Keys

GenerateApiKey returns the plaintext secret exactly once; only its
SHA-256 verifier hash is persisted. Validation hashes the presented
secret and compares it against every enabled, unexpired key in
constant time, so timing reveals nothing about which key matched.
A match refreshes the key's last-used stamp.

# Authorization

CheckPermission resolves the session to its user, then walks the
user's role permission table. A permission grants the requested
privilege when its path is a prefix of the requested path and its
privilege set contains the privilege or the wildcard "*". Both grant
and denial are audited.

Built-in roles, seeded at construction:

  - Administrator: all privileges on /
  - VMUser: console and audit on /vms
  - VMAdmin: lifecycle on /vms

# Usage

	mgr := auth.New(st, cryptoMgr, auditLog)

	res, err := mgr.Login("alice", "hunter2", "pam")
	if err != nil {
		return err
	}

	granted, err := mgr.CheckPermission(res.SessionID, "/vms/100", "console")

# Integration Points

This package integrates with:

  - internal/store for User, Session, and ApiKey persistence
  - internal/crypto for password hashing and verification
  - internal/audit for login and permission events
*/
package auth
