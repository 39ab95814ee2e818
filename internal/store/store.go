package store

import (
	"time"

	"github.com/vircore/controlplane/internal/types"
)

// Store is the persistence contract used by every other component.
// get_* operations return a NotFound error (see internal/errs) when no row
// matches; list operations return an empty slice, never an error, on
// empty tables. Writes are transactional: partial failure leaves no record.
type Store interface {
	// VMs
	CreateVm(vm *types.VmRecord) error
	GetVm(id string) (*types.VmRecord, error)
	ListVms() ([]*types.VmRecord, error)
	UpdateVm(vm *types.VmRecord) error
	DeleteVm(id string) error

	// Users
	CreateUser(u *types.User) error
	GetUser(username, realm string) (*types.User, error)
	ListUsers() ([]*types.User, error)
	UpdateUser(u *types.User) error
	DeleteUser(username, realm string) error

	// Sessions
	CreateSession(s *types.Session) error
	GetSession(id string) (*types.Session, error)
	DeleteSession(id string) error
	SweepExpiredSessions(now time.Time) (int, error)

	// API keys
	CreateApiKey(k *types.ApiKey) error
	GetApiKey(id string) (*types.ApiKey, error)
	ListApiKeys() ([]*types.ApiKey, error)
	UpdateApiKey(k *types.ApiKey) error

	// Storage pools
	CreateStoragePool(p *types.StoragePool) error
	GetStoragePool(id string) (*types.StoragePool, error)
	ListStoragePools() ([]*types.StoragePool, error)
	UpdateStoragePool(p *types.StoragePool) error
	DeleteStoragePool(id string) error

	Close() error
}
