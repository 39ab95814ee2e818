package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vircore/controlplane/internal/audit"
	"github.com/vircore/controlplane/internal/crypto"
	"github.com/vircore/controlplane/internal/errs"
	"github.com/vircore/controlplane/internal/log"
	"github.com/vircore/controlplane/internal/store"
	"github.com/vircore/controlplane/internal/types"
)

const (
	defaultSessionTTL = 2 * time.Hour
	csrfBytes         = 32
)

// Authenticator verifies a plaintext password for a user in a given
// realm. Internal realms check the stored bcrypt hash; PAM/LDAP realms
// are adapted by wrapping an external directory client behind this
// interface.
type Authenticator interface {
	Authenticate(username, password string) error
}

// internalAuthenticator checks the bcrypt hash stored on the User record.
type internalAuthenticator struct {
	mgr   *Manager
	realm string
}

func (a *internalAuthenticator) Authenticate(username, password string) error {
	u, err := a.mgr.store.GetUser(username, a.realm)
	if err != nil {
		return errs.AuthenticationFailedf("unknown user")
	}
	if !a.mgr.crypto.VerifyPassword(password, u.PasswordHash) {
		return errs.AuthenticationFailedf("invalid credentials")
	}
	return nil
}

// Permission is one entry in a role's permission table: the privilege is
// granted for any requested path that has Path as a prefix.
type Permission struct {
	Path       string
	Privileges map[string]bool
}

// Manager is the C4 authentication and authorization manager.
type Manager struct {
	store  store.Store
	crypto *crypto.Manager
	audit  *audit.Log

	realms map[string]Authenticator
	roles  map[types.Role][]Permission

	mu sync.Mutex // serializes bookkeeping below, store does its own locking
}

// New constructs a Manager with the built-in internal realm and the
// built-in Administrator/VMUser/VMAdmin roles pre-seeded.
func New(st store.Store, cr *crypto.Manager, al *audit.Log) *Manager {
	m := &Manager{
		store:  st,
		crypto: cr,
		audit:  al,
		realms: make(map[string]Authenticator),
		roles:  make(map[types.Role][]Permission),
	}
	m.realms["pam"] = &internalAuthenticator{mgr: m, realm: "pam"}
	m.seedBuiltinRoles()
	return m
}

// RegisterRealm wires an external authenticator (PAM/LDAP) under a realm
// name, replacing the internal fallback for that realm.
func (m *Manager) RegisterRealm(realm string, a Authenticator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.realms[realm] = a
}

func (m *Manager) seedBuiltinRoles() {
	m.roles[types.Role("Administrator")] = []Permission{
		{Path: "/", Privileges: map[string]bool{"*": true}},
	}
	m.roles[types.Role("VMUser")] = []Permission{
		{Path: "/vms", Privileges: map[string]bool{"console": true, "audit": true}},
	}
	m.roles[types.Role("VMAdmin")] = []Permission{
		{Path: "/vms", Privileges: map[string]bool{"lifecycle": true}},
	}
}

// LoginResult is what a successful Login returns to the caller.
type LoginResult struct {
	SessionID string
	CSRF      string
	Username  string
	Role      types.Role
}

// Login authenticates against the named realm and, on success, opens a
// new session.
func (m *Manager) Login(username, password, realm string) (*LoginResult, error) {
	authr, ok := m.realms[realm]
	if !ok {
		authr = &internalAuthenticator{mgr: m, realm: realm}
	}

	if err := authr.Authenticate(username, password); err != nil {
		m.logEvent(types.EventLoginFailed, types.SeverityWarning, types.ResultFailure, username, "login")
		return nil, errs.AuthenticationFailedf("authentication failed")
	}

	u, err := m.store.GetUser(username, realm)
	if err != nil {
		m.logEvent(types.EventLoginFailed, types.SeverityWarning, types.ResultFailure, username, "login")
		return nil, errs.AuthenticationFailedf("authentication failed")
	}
	if !u.Enabled {
		m.logEvent(types.EventLoginFailed, types.SeverityWarning, types.ResultFailure, username, "login: account disabled")
		return nil, errs.PermissionDeniedf("account disabled")
	}

	csrf, err := randomHex(csrfBytes)
	if err != nil {
		return nil, errs.Internalf(err, "generate csrf token")
	}

	sess := &types.Session{
		ID:       uuid.NewString(),
		Username: username,
		Realm:    realm,
		CSRF:     csrf,
		Created:  time.Now(),
		Expires:  time.Now().Add(defaultSessionTTL),
	}
	if err := m.store.CreateSession(sess); err != nil {
		return nil, err
	}

	m.logEvent(types.EventLogin, types.SeverityInfo, types.ResultSuccess, username, "login")

	return &LoginResult{
		SessionID: sess.ID,
		CSRF:      sess.CSRF,
		Username:  username,
		Role:      u.Role,
	}, nil
}

// Logout invalidates a session immediately, ahead of its natural expiry.
func (m *Manager) Logout(sessionID string) error {
	sess, err := m.store.GetSession(sessionID)
	if err != nil {
		return nil // already gone; logout is idempotent
	}
	if err := m.store.DeleteSession(sessionID); err != nil {
		return err
	}
	m.logEvent(types.EventLogout, types.SeverityInfo, types.ResultSuccess, sess.Username, "logout")
	return nil
}

// ValidateSession resolves a session id to its record, rejecting expired
// or unknown sessions with InvalidSession.
func (m *Manager) ValidateSession(sessionID string) (*types.Session, error) {
	sess, err := m.store.GetSession(sessionID)
	if err != nil {
		return nil, errs.InvalidSessionf("session not found or expired")
	}
	return sess, nil
}

// ValidateApiKey hashes the presented secret and compares it in constant
// time against every enabled, non-expired key, refreshing LastUsedAt on
// match.
func (m *Manager) ValidateApiKey(presented string) (*types.User, error) {
	keys, err := m.store.ListApiKeys()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	presentedHash := hashApiKey(presented)

	var matched *types.ApiKey
	for _, k := range keys {
		if !k.Enabled || k.Expired(now) {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(presentedHash), []byte(k.SecretHash)) == 1 {
			matched = k
		}
	}

	if matched == nil {
		return nil, errs.AuthenticationFailedf("invalid api key")
	}

	matched.LastUsedAt = &now
	if err := m.store.UpdateApiKey(matched); err != nil {
		logger := log.WithComponent("auth")
		logger.Warn().Err(err).Msg("failed to refresh api key last_used_at")
	}

	return m.store.GetUser(matched.Username, matched.Realm)
}

func hashApiKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// GenerateApiKey mints a new API key for a user and returns the
// plaintext secret exactly once; only its hash is persisted.
func (m *Manager) GenerateApiKey(username, realm string, ttl *time.Duration) (string, *types.ApiKey, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, errs.Internalf(err, "generate api key secret")
	}
	secret := hex.EncodeToString(secretBytes)

	var expiresAt *time.Time
	if ttl != nil {
		t := time.Now().Add(*ttl)
		expiresAt = &t
	}

	k := &types.ApiKey{
		ID:         uuid.NewString(),
		Username:   username,
		Realm:      realm,
		Enabled:    true,
		SecretHash: hashApiKey(secret),
		ExpiresAt:  expiresAt,
		CreatedAt:  time.Now(),
	}
	if err := m.store.CreateApiKey(k); err != nil {
		return "", nil, err
	}
	return secret, k, nil
}

// CheckPermission walks the role->permission table for the session's
// user, granting privilege when some permission's Path is a prefix of
// the requested path and its privilege set contains either the exact
// privilege or the wildcard "*".
func (m *Manager) CheckPermission(sessionID, path, privilege string) (bool, error) {
	sess, err := m.ValidateSession(sessionID)
	if err != nil {
		return false, err
	}

	u, err := m.store.GetUser(sess.Username, sess.Realm)
	if err != nil {
		return false, err
	}

	granted := m.roleGrants(u.Role, path, privilege)

	if granted {
		m.logEvent(types.EventPermissionGranted, types.SeverityInfo, types.ResultSuccess, u.Username, path+":"+privilege)
	} else {
		m.logEvent(types.EventPermissionDenied, types.SeverityWarning, types.ResultFailure, u.Username, path+":"+privilege)
	}

	return granted, nil
}

func (m *Manager) roleGrants(role types.Role, path, privilege string) bool {
	for _, perm := range m.roles[role] {
		if !strings.HasPrefix(path, perm.Path) {
			continue
		}
		if perm.Privileges["*"] || perm.Privileges[privilege] {
			return true
		}
	}
	return false
}

func (m *Manager) logEvent(kind types.EventKind, sev types.Severity, result types.Result, user, action string) {
	if m.audit == nil {
		return
	}
	m.audit.Log(types.AuditEvent{
		Kind:     kind,
		Severity: sev,
		Result:   result,
		User:     user,
		Action:   action,
	})
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
