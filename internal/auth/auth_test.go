package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vircore/controlplane/internal/audit"
	"github.com/vircore/controlplane/internal/config"
	"github.com/vircore/controlplane/internal/crypto"
	"github.com/vircore/controlplane/internal/errs"
	"github.com/vircore/controlplane/internal/store"
	"github.com/vircore/controlplane/internal/types"
)

func testSetup(t *testing.T) (*Manager, store.Store, *audit.Log) {
	t.Helper()

	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cr, err := crypto.LoadKey(config.CryptoConfig{HMACSecret: "test-secret"})
	require.NoError(t, err)

	al, err := audit.New(100, "")
	require.NoError(t, err)
	t.Cleanup(func() { al.Close() })

	m := New(st, cr, al)
	return m, st, al
}

func createUser(t *testing.T, m *Manager, st store.Store, username, password string, role types.Role) {
	t.Helper()
	hash, err := m.crypto.HashPassword(password)
	require.NoError(t, err)
	require.NoError(t, st.CreateUser(&types.User{
		Username:     username,
		Realm:        "pam",
		PasswordHash: hash,
		Role:         role,
		Enabled:      true,
	}))
}

func TestLoginSuccess(t *testing.T) {
	m, st, _ := testSetup(t)
	createUser(t, m, st, "alice", "hunter2", types.Role("VMUser"))

	res, err := m.Login("alice", "hunter2", "pam")
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.NotEmpty(t, res.CSRF)
	assert.Equal(t, types.Role("VMUser"), res.Role)
}

func TestLoginWrongPassword(t *testing.T) {
	m, st, _ := testSetup(t)
	createUser(t, m, st, "alice", "hunter2", types.Role("VMUser"))

	_, err := m.Login("alice", "wrong", "pam")
	assert.Equal(t, errs.AuthenticationFailed, errs.KindOf(err))
}

func TestLoginDisabledAccount(t *testing.T) {
	m, st, _ := testSetup(t)
	hash, err := m.crypto.HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, st.CreateUser(&types.User{Username: "bob", Realm: "pam", PasswordHash: hash, Enabled: false}))

	_, err = m.Login("bob", "hunter2", "pam")
	assert.Equal(t, errs.PermissionDenied, errs.KindOf(err))
}

func TestValidateSessionExpired(t *testing.T) {
	m, st, _ := testSetup(t)
	sess := &types.Session{ID: "s1", Username: "alice", Realm: "pam", Created: time.Now().Add(-time.Hour), Expires: time.Now().Add(-time.Minute)}
	require.NoError(t, st.CreateSession(sess))

	_, err := m.ValidateSession("s1")
	assert.Equal(t, errs.InvalidSession, errs.KindOf(err))
}

func TestApiKeyValidationRoundTrip(t *testing.T) {
	m, st, _ := testSetup(t)
	createUser(t, m, st, "alice", "hunter2", types.Role("VMUser"))

	secret, key, err := m.GenerateApiKey("alice", "pam", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.NotEmpty(t, key.SecretHash)

	u, err := m.ValidateApiKey(secret)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
}

func TestApiKeyValidationRejectsExpired(t *testing.T) {
	m, st, _ := testSetup(t)
	createUser(t, m, st, "alice", "hunter2", types.Role("VMUser"))

	ttl := -time.Minute
	secret, _, err := m.GenerateApiKey("alice", "pam", &ttl)
	require.NoError(t, err)

	_, err = m.ValidateApiKey(secret)
	assert.Equal(t, errs.AuthenticationFailed, errs.KindOf(err))
}

func TestCheckPermissionAdministratorWildcard(t *testing.T) {
	m, st, _ := testSetup(t)
	createUser(t, m, st, "root", "hunter2", types.Role("Administrator"))
	res, err := m.Login("root", "hunter2", "pam")
	require.NoError(t, err)

	granted, err := m.CheckPermission(res.SessionID, "/vms/123", "lifecycle")
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestCheckPermissionVMUserDeniedLifecycle(t *testing.T) {
	m, st, _ := testSetup(t)
	createUser(t, m, st, "alice", "hunter2", types.Role("VMUser"))
	res, err := m.Login("alice", "hunter2", "pam")
	require.NoError(t, err)

	granted, err := m.CheckPermission(res.SessionID, "/vms/123", "lifecycle")
	require.NoError(t, err)
	assert.False(t, granted)

	granted, err = m.CheckPermission(res.SessionID, "/vms/123", "console")
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestLogoutIsIdempotent(t *testing.T) {
	m, st, _ := testSetup(t)
	createUser(t, m, st, "alice", "hunter2", types.Role("VMUser"))
	res, err := m.Login("alice", "hunter2", "pam")
	require.NoError(t, err)

	require.NoError(t, m.Logout(res.SessionID))
	require.NoError(t, m.Logout(res.SessionID))
}
