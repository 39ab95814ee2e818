/*
Package storagebackend provides polymorphic storage pool, volume, and
snapshot operations across backend kinds.

The Registry dispatches each operation to the Backend registered for a
pool's kind. Every kind is wired explicitly at construction, so an
unknown kind is a defined Unsupported error rather than a nil
dereference, and backends without snapshot support (directory, iscsi,
cifs, nfs, s3) return Unsupported from snapshot operations rather
than panicking.

# Backends

  - directory: a real local-filesystem driver; volumes are
    directories under the pool's base path
  - zfs, ceph, lvm, btrfs, glusterfs: drive the external storage tool
    (zfs, rbd, lvcreate, btrfs, gluster) through an injected
    CommandRunner; a failed or timed-out invocation surfaces as
    ExternalCommandFailed or Timeout, never as silent success
  - iscsi: maintains a monotonically increasing per-target LUN
    counter so concurrent volume creation never collides
  - cifs, nfs: network filesystems, no snapshot support
  - s3: object-only backup target; volume creation is rejected, and
    validation enforces the s3:// prefix and 3-63 character bucket
    names before anything external is invoked

# Usage

	reg := storagebackend.NewRegistry("/var/lib/vcp/volumes")
	// or, with the command seam injected:
	// reg := storagebackend.NewRegistryWithRunner(baseDir, fakeRunner)

	pool := &types.StoragePool{
		ID:       "backup",
		Kind:     types.BackendS3,
		Location: "s3://cluster-backups/site-a",
	}
	if err := reg.Validate(pool); err != nil {
		return err
	}

	err := reg.CreateSnapshot(ctx, pool, "vol-1", "snap-1")
	// errs.KindOf(err) == errs.Unsupported for an s3 pool

# Integration Points

This package integrates with:

  - internal/types for StoragePool and backend kind tags
  - internal/store, which persists pool definitions
*/
package storagebackend
