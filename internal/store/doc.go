/*
Package store provides durable persistence for control-plane records:
VMs, users, sessions, API keys, and storage pools.

The Store interface is backed by BoltStore, an embedded bbolt database
with one bucket per entity and a fixed, ordered migration list applied
idempotently when the database is opened. Every write runs inside a
transaction, so a partial failure leaves no record behind.

# Contracts

  - Get operations fail with NotFound when no row matches
  - List operations return an empty slice, never an error, on empty
    buckets
  - CreateUser enforces (username, realm) uniqueness with Conflict
  - GetSession transparently rejects expired rows as InvalidSession
  - SweepExpiredSessions removes rows past their expiry and is run
    periodically by the process's background sweeper

# Usage

	st, err := store.NewBoltStore("/var/lib/vcp")
	if err != nil {
		return err
	}
	defer st.Close()

	err = st.CreateVm(&types.VmRecord{
		ID:          "vm-100",
		Name:        "db",
		MemoryBytes: 4 << 30,
		CPUs:        2,
	})

# Integration Points

This package integrates with:

  - internal/auth for user, session, and API key records
  - internal/snapshot, which resolves VM ids through a store-backed
    lookup
  - cmd/vcpd, which opens the store once at startup and injects it
*/
package store
