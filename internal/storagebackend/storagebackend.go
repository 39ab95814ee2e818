package storagebackend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vircore/controlplane/internal/errs"
	"github.com/vircore/controlplane/internal/types"
)

// CommandRunner executes an external storage management command (zfs,
// rbd, lvcreate, btrfs, gluster). The production runner shells out with
// the caller's context bounding the invocation; tests inject a recorder.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return out, errs.Timeoutf("%s timed out", name)
	}
	if err != nil {
		return out, errs.ExternalCommandFailedErr(err, "%s: %s", name, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// Backend is implemented once per StorageBackendKind. Backends that do
// not support snapshots return Unsupported from the snapshot
// operations, a defined error, never a panic.
type Backend interface {
	Validate(pool *types.StoragePool) error
	CreateVolume(ctx context.Context, pool *types.StoragePool, name string, sizeBytes int64) error
	DeleteVolume(ctx context.Context, pool *types.StoragePool, name string) error
	CreateSnapshot(ctx context.Context, pool *types.StoragePool, vol, snap string) error
	RestoreSnapshot(ctx context.Context, pool *types.StoragePool, vol, snap string) error
}

// Registry dispatches storage operations to the Backend registered for a
// pool's kind.
type Registry struct {
	backends map[types.StorageBackendKind]Backend
}

// NewRegistry wires up every backend kind named in the data model,
// shelling out to the real storage tools for the command-backed kinds.
func NewRegistry(baseDir string) *Registry {
	return NewRegistryWithRunner(baseDir, execRunner{})
}

// NewRegistryWithRunner is NewRegistry with the external-command seam
// injected, for tests and alternative execution environments.
func NewRegistryWithRunner(baseDir string, run CommandRunner) *Registry {
	return &Registry{
		backends: map[types.StorageBackendKind]Backend{
			types.BackendDirectory: &directoryBackend{baseDir: baseDir},
			types.BackendZFS:       &cmdBackend{kind: types.BackendZFS, run: run},
			types.BackendCeph:      &cmdBackend{kind: types.BackendCeph, run: run},
			types.BackendLVM:       &cmdBackend{kind: types.BackendLVM, run: run},
			types.BackendBtrfs:     &cmdBackend{kind: types.BackendBtrfs, run: run},
			types.BackendISCSI:     &iscsiBackend{},
			types.BackendCIFS:      &noSnapshotBackend{kind: types.BackendCIFS},
			types.BackendNFS:       &noSnapshotBackend{kind: types.BackendNFS},
			types.BackendGlusterFS: &cmdBackend{kind: types.BackendGlusterFS, run: run},
			types.BackendS3:        &s3Backend{},
		},
	}
}

func (r *Registry) resolve(kind types.StorageBackendKind) (Backend, error) {
	b, ok := r.backends[kind]
	if !ok {
		return nil, errs.Unsupportedf("unsupported storage backend kind %q", kind)
	}
	return b, nil
}

func (r *Registry) Validate(pool *types.StoragePool) error {
	b, err := r.resolve(pool.Kind)
	if err != nil {
		return err
	}
	return b.Validate(pool)
}

func (r *Registry) CreateVolume(ctx context.Context, pool *types.StoragePool, name string, sizeBytes int64) error {
	b, err := r.resolve(pool.Kind)
	if err != nil {
		return err
	}
	return b.CreateVolume(ctx, pool, name, sizeBytes)
}

func (r *Registry) DeleteVolume(ctx context.Context, pool *types.StoragePool, name string) error {
	b, err := r.resolve(pool.Kind)
	if err != nil {
		return err
	}
	return b.DeleteVolume(ctx, pool, name)
}

func (r *Registry) CreateSnapshot(ctx context.Context, pool *types.StoragePool, vol, snap string) error {
	b, err := r.resolve(pool.Kind)
	if err != nil {
		return err
	}
	return b.CreateSnapshot(ctx, pool, vol, snap)
}

func (r *Registry) RestoreSnapshot(ctx context.Context, pool *types.StoragePool, vol, snap string) error {
	b, err := r.resolve(pool.Kind)
	if err != nil {
		return err
	}
	return b.RestoreSnapshot(ctx, pool, vol, snap)
}

// --- directory backend: a real local driver over the filesystem ---

type directoryBackend struct {
	baseDir string
}

func (d *directoryBackend) Validate(pool *types.StoragePool) error {
	if pool.Location == "" {
		return errs.Validationf("directory pool requires a location")
	}
	return nil
}

func (d *directoryBackend) volumePath(pool *types.StoragePool, name string) string {
	return filepath.Join(d.baseDir, pool.ID, name)
}

func (d *directoryBackend) CreateVolume(_ context.Context, pool *types.StoragePool, name string, _ int64) error {
	path := d.volumePath(pool, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		return errs.Internalf(err, "create volume directory %s", path)
	}
	return nil
}

func (d *directoryBackend) DeleteVolume(_ context.Context, pool *types.StoragePool, name string) error {
	path := d.volumePath(pool, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return errs.Internalf(err, "delete volume directory %s", path)
	}
	return nil
}

func (d *directoryBackend) CreateSnapshot(context.Context, *types.StoragePool, string, string) error {
	return errs.Unsupportedf("directory backend does not support snapshots")
}

func (d *directoryBackend) RestoreSnapshot(context.Context, *types.StoragePool, string, string) error {
	return errs.Unsupportedf("directory backend does not support snapshots")
}

// --- generic no-snapshot backend: cifs, nfs (network filesystems) ---

type noSnapshotBackend struct {
	kind types.StorageBackendKind
}

func (n *noSnapshotBackend) Validate(pool *types.StoragePool) error {
	if pool.Location == "" {
		return errs.Validationf("%s pool requires a location", n.kind)
	}
	return nil
}

func (n *noSnapshotBackend) CreateVolume(context.Context, *types.StoragePool, string, int64) error {
	return nil
}

func (n *noSnapshotBackend) DeleteVolume(context.Context, *types.StoragePool, string) error {
	return nil
}

func (n *noSnapshotBackend) CreateSnapshot(context.Context, *types.StoragePool, string, string) error {
	return errs.Unsupportedf("%s backend does not support snapshots", n.kind)
}

func (n *noSnapshotBackend) RestoreSnapshot(context.Context, *types.StoragePool, string, string) error {
	return errs.Unsupportedf("%s backend does not support snapshots", n.kind)
}

// --- command-backed backends: zfs, ceph, lvm, btrfs, glusterfs ---
//
// These backends drive an external storage tool through the injected
// CommandRunner. Structural validation happens before any command is
// built; every mutating operation is one or more tool invocations
// bounded by the caller's context.

type cmdBackend struct {
	kind types.StorageBackendKind
	run  CommandRunner
}

func (c *cmdBackend) Validate(pool *types.StoragePool) error {
	if pool.Location == "" {
		return errs.Validationf("%s pool requires a location", c.kind)
	}
	return nil
}

func (c *cmdBackend) runAll(ctx context.Context, cmds [][]string) error {
	for _, argv := range cmds {
		if _, err := c.run.Run(ctx, argv[0], argv[1:]...); err != nil {
			return err
		}
	}
	return nil
}

func (c *cmdBackend) CreateVolume(ctx context.Context, pool *types.StoragePool, name string, sizeBytes int64) error {
	var cmds [][]string
	switch c.kind {
	case types.BackendZFS:
		cmds = [][]string{{"zfs", "create", "-V", fmt.Sprintf("%d", sizeBytes), pool.Location + "/" + name}}
	case types.BackendCeph:
		cmds = [][]string{{"rbd", "create", "--size", fmt.Sprintf("%d", sizeBytes>>20), pool.Location + "/" + name}}
	case types.BackendLVM:
		cmds = [][]string{{"lvcreate", "-y", "-L", fmt.Sprintf("%db", sizeBytes), "-n", name, pool.Location}}
	case types.BackendBtrfs:
		cmds = [][]string{{"btrfs", "subvolume", "create", pool.Location + "/" + name}}
	case types.BackendGlusterFS:
		cmds = [][]string{{"gluster", "volume", "create", name, pool.Location, "force"}}
	}
	return c.runAll(ctx, cmds)
}

func (c *cmdBackend) DeleteVolume(ctx context.Context, pool *types.StoragePool, name string) error {
	var cmds [][]string
	switch c.kind {
	case types.BackendZFS:
		cmds = [][]string{{"zfs", "destroy", pool.Location + "/" + name}}
	case types.BackendCeph:
		cmds = [][]string{{"rbd", "rm", pool.Location + "/" + name}}
	case types.BackendLVM:
		cmds = [][]string{{"lvremove", "-f", "-y", pool.Location + "/" + name}}
	case types.BackendBtrfs:
		cmds = [][]string{{"btrfs", "subvolume", "delete", pool.Location + "/" + name}}
	case types.BackendGlusterFS:
		cmds = [][]string{
			{"gluster", "volume", "stop", name, "force"},
			{"gluster", "volume", "delete", name},
		}
	}
	return c.runAll(ctx, cmds)
}

func (c *cmdBackend) CreateSnapshot(ctx context.Context, pool *types.StoragePool, vol, snap string) error {
	var cmds [][]string
	switch c.kind {
	case types.BackendZFS:
		cmds = [][]string{{"zfs", "snapshot", pool.Location + "/" + vol + "@" + snap}}
	case types.BackendCeph:
		cmds = [][]string{{"rbd", "snap", "create", pool.Location + "/" + vol + "@" + snap}}
	case types.BackendLVM:
		cmds = [][]string{{"lvcreate", "-y", "-s", "-n", snap, pool.Location + "/" + vol}}
	case types.BackendBtrfs:
		cmds = [][]string{{"btrfs", "subvolume", "snapshot", "-r", pool.Location + "/" + vol, pool.Location + "/" + snap}}
	case types.BackendGlusterFS:
		cmds = [][]string{{"gluster", "snapshot", "create", snap, vol, "no-timestamp"}}
	}
	return c.runAll(ctx, cmds)
}

func (c *cmdBackend) RestoreSnapshot(ctx context.Context, pool *types.StoragePool, vol, snap string) error {
	var cmds [][]string
	switch c.kind {
	case types.BackendZFS:
		cmds = [][]string{{"zfs", "rollback", pool.Location + "/" + vol + "@" + snap}}
	case types.BackendCeph:
		cmds = [][]string{{"rbd", "snap", "rollback", pool.Location + "/" + vol + "@" + snap}}
	case types.BackendLVM:
		cmds = [][]string{{"lvconvert", "--mergesnapshot", pool.Location + "/" + snap}}
	case types.BackendBtrfs:
		// a read-only snapshot is restored by replacing the live subvolume
		// with a writable copy of it
		cmds = [][]string{
			{"btrfs", "subvolume", "delete", pool.Location + "/" + vol},
			{"btrfs", "subvolume", "snapshot", pool.Location + "/" + snap, pool.Location + "/" + vol},
		}
	case types.BackendGlusterFS:
		cmds = [][]string{{"gluster", "snapshot", "restore", snap}}
	}
	return c.runAll(ctx, cmds)
}

// --- iSCSI backend: per-target monotonic LUN counter ---

type iscsiBackend struct {
	mu      sync.Mutex
	nextLUN map[string]int // keyed by pool ID (the iSCSI target)
}

func (i *iscsiBackend) Validate(pool *types.StoragePool) error {
	if pool.Location == "" {
		return errs.Validationf("iscsi pool requires a target location")
	}
	return nil
}

func (i *iscsiBackend) CreateVolume(_ context.Context, pool *types.StoragePool, _ string, _ int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.nextLUN == nil {
		i.nextLUN = make(map[string]int)
	}
	i.nextLUN[pool.ID]++ // allocate the next LUN for this target; collision-free under the mutex
	return nil
}

// NextLUN reports the most recently allocated LUN for a target, for
// callers that need to record it against the created volume.
func (i *iscsiBackend) NextLUN(poolID string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.nextLUN[poolID]
}

func (i *iscsiBackend) DeleteVolume(context.Context, *types.StoragePool, string) error {
	return nil
}

func (i *iscsiBackend) CreateSnapshot(context.Context, *types.StoragePool, string, string) error {
	return errs.Unsupportedf("iscsi backend does not support snapshots")
}

func (i *iscsiBackend) RestoreSnapshot(context.Context, *types.StoragePool, string, string) error {
	return errs.Unsupportedf("iscsi backend does not support snapshots")
}

// --- S3 backend: object-only, used for backup targets ---

type s3Backend struct{}

func (s *s3Backend) Validate(pool *types.StoragePool) error {
	if !strings.HasPrefix(pool.Location, "s3://") {
		return errs.Validationf("s3 pool location must start with s3://")
	}
	bucket := strings.TrimPrefix(pool.Location, "s3://")
	bucket, _, _ = strings.Cut(bucket, "/")
	if len(bucket) < 3 || len(bucket) > 63 {
		return errs.Validationf("s3 bucket name length must be 3-63 characters, got %d", len(bucket))
	}
	return nil
}

func (s *s3Backend) CreateVolume(context.Context, *types.StoragePool, string, int64) error {
	return errs.Unsupportedf("s3 backend is object-only and does not support volume creation")
}

func (s *s3Backend) DeleteVolume(context.Context, *types.StoragePool, string) error {
	return nil
}

func (s *s3Backend) CreateSnapshot(context.Context, *types.StoragePool, string, string) error {
	return errs.Unsupportedf("s3 backend does not support snapshots")
}

func (s *s3Backend) RestoreSnapshot(context.Context, *types.StoragePool, string, string) error {
	return errs.Unsupportedf("s3 backend does not support snapshots")
}
