package store

import (
	"encoding/json"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vircore/controlplane/internal/errs"
	"github.com/vircore/controlplane/internal/types"
)

var (
	bucketVms      = []byte("vms")
	bucketUsers    = []byte("users")
	bucketSessions = []byte("sessions")
	bucketApiKeys  = []byte("api_keys")
	bucketPools    = []byte("storage_pools")
	bucketMeta     = []byte("meta") // schema_version marker
)

var allBuckets = [][]byte{bucketVms, bucketUsers, bucketSessions, bucketApiKeys, bucketPools, bucketMeta}

// migration is one step of the fixed, ordered migration list applied
// idempotently at startup.
type migration struct {
	id    string
	apply func(tx *bolt.Tx) error
}

var migrations = []migration{
	{
		id: "0001_create_buckets",
		apply: func(tx *bolt.Tx) error {
			for _, b := range allBuckets {
				if _, err := tx.CreateBucketIfNotExists(b); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// BoltStore implements Store on an embedded bbolt database.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the control-plane database under
// dataDir and applies all pending migrations in order.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "controlplane.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, errs.Internalf(err, "open database")
	}

	s := &BoltStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) migrate() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		for _, m := range migrations {
			key := []byte("migration:" + m.id)
			if meta.Get(key) != nil {
				continue // already applied
			}
			if err := m.apply(tx); err != nil {
				return errs.Internalf(err, "apply migration %s", m.id)
			}
			if err := meta.Put(key, []byte("1")); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error { return s.db.Close() }

// --- VMs ---

func (s *BoltStore) CreateVm(vm *types.VmRecord) error {
	if vm.MemoryBytes <= 0 || vm.CPUs <= 0 {
		return errs.Validationf("vm must have memory > 0 and cpus > 0")
	}
	return s.put(bucketVms, vm.ID, vm)
}

func (s *BoltStore) GetVm(id string) (*types.VmRecord, error) {
	var vm types.VmRecord
	if err := s.get(bucketVms, id, &vm); err != nil {
		return nil, err
	}
	return &vm, nil
}

func (s *BoltStore) ListVms() ([]*types.VmRecord, error) {
	var out []*types.VmRecord
	err := s.forEach(bucketVms, func(v []byte) error {
		var vm types.VmRecord
		if err := json.Unmarshal(v, &vm); err != nil {
			return err
		}
		out = append(out, &vm)
		return nil
	})
	return out, err
}

func (s *BoltStore) UpdateVm(vm *types.VmRecord) error {
	if _, err := s.GetVm(vm.ID); err != nil {
		return err
	}
	return s.put(bucketVms, vm.ID, vm)
}

func (s *BoltStore) DeleteVm(id string) error {
	return s.delete(bucketVms, id)
}

// --- Users ---

func userKey(username, realm string) string { return username + "@" + realm }

func (s *BoltStore) CreateUser(u *types.User) error {
	key := userKey(u.Username, u.Realm)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b.Get([]byte(key)) != nil {
			return errs.Conflictf("user %s already exists", key)
		}
		data, err := json.Marshal(u)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) GetUser(username, realm string) (*types.User, error) {
	var u types.User
	if err := s.get(bucketUsers, userKey(username, realm), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *BoltStore) ListUsers() ([]*types.User, error) {
	var out []*types.User
	err := s.forEach(bucketUsers, func(v []byte) error {
		var u types.User
		if err := json.Unmarshal(v, &u); err != nil {
			return err
		}
		out = append(out, &u)
		return nil
	})
	return out, err
}

func (s *BoltStore) UpdateUser(u *types.User) error {
	return s.put(bucketUsers, userKey(u.Username, u.Realm), u)
}

func (s *BoltStore) DeleteUser(username, realm string) error {
	return s.delete(bucketUsers, userKey(username, realm))
}

// --- Sessions ---

func (s *BoltStore) CreateSession(sess *types.Session) error {
	if !sess.Expires.After(sess.Created) {
		return errs.Validationf("session expiry must be after creation")
	}
	return s.put(bucketSessions, sess.ID, sess)
}

// GetSession transparently rejects expired rows as InvalidSession.
func (s *BoltStore) GetSession(id string) (*types.Session, error) {
	var sess types.Session
	if err := s.get(bucketSessions, id, &sess); err != nil {
		return nil, err
	}
	if !sess.Valid(time.Now()) {
		return nil, errs.InvalidSessionf("session %s has expired", id)
	}
	return &sess, nil
}

func (s *BoltStore) DeleteSession(id string) error {
	return s.delete(bucketSessions, id)
}

// SweepExpiredSessions removes every session where expires < now,
// returning the count removed. Run periodically by a background sweeper.
func (s *BoltStore) SweepExpiredSessions(now time.Time) (int, error) {
	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var sess types.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if now.After(sess.Expires) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// --- API keys ---

func (s *BoltStore) CreateApiKey(k *types.ApiKey) error {
	return s.put(bucketApiKeys, k.ID, k)
}

func (s *BoltStore) GetApiKey(id string) (*types.ApiKey, error) {
	var k types.ApiKey
	if err := s.get(bucketApiKeys, id, &k); err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *BoltStore) ListApiKeys() ([]*types.ApiKey, error) {
	var out []*types.ApiKey
	err := s.forEach(bucketApiKeys, func(v []byte) error {
		var k types.ApiKey
		if err := json.Unmarshal(v, &k); err != nil {
			return err
		}
		out = append(out, &k)
		return nil
	})
	return out, err
}

func (s *BoltStore) UpdateApiKey(k *types.ApiKey) error {
	return s.put(bucketApiKeys, k.ID, k)
}

// --- Storage pools ---

func (s *BoltStore) CreateStoragePool(p *types.StoragePool) error {
	return s.put(bucketPools, p.ID, p)
}

func (s *BoltStore) GetStoragePool(id string) (*types.StoragePool, error) {
	var p types.StoragePool
	if err := s.get(bucketPools, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListStoragePools() ([]*types.StoragePool, error) {
	var out []*types.StoragePool
	err := s.forEach(bucketPools, func(v []byte) error {
		var p types.StoragePool
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		out = append(out, &p)
		return nil
	})
	return out, err
}

func (s *BoltStore) UpdateStoragePool(p *types.StoragePool) error {
	return s.put(bucketPools, p.ID, p)
}

func (s *BoltStore) DeleteStoragePool(id string) error {
	return s.delete(bucketPools, id)
}

// --- generic helpers ---

func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) get(bucket []byte, key string, out interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return errs.NotFoundf("%s not found: %s", bucket, key)
		}
		return json.Unmarshal(data, out)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

func (s *BoltStore) forEach(bucket []byte, fn func(v []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(_, v []byte) error {
			return fn(v)
		})
	})
}
