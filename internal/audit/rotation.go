package audit

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/vircore/controlplane/internal/log"
)

// RotationPolicyKind tags the trigger that causes Rotator to roll the
// active audit file.
type RotationPolicyKind string

const (
	RotateBySize   RotationPolicyKind = "size"
	RotateDaily    RotationPolicyKind = "daily"
	RotateWeekly   RotationPolicyKind = "weekly"
	RotateCombined RotationPolicyKind = "combined" // size OR schedule, whichever comes first
)

// RotationPolicy configures when and how the audit file is rolled.
type RotationPolicy struct {
	Kind        RotationPolicyKind
	MaxBytes    int64        // RotateBySize / RotateCombined
	AtHour      int          // RotateDaily / RotateWeekly / RotateCombined: hour of day, 0-23
	Weekday     time.Weekday // RotateWeekly only
	MaxArchives int          // oldest archives beyond this count are pruned
}

// Rotator rolls a single active log file into timestamped,
// gzip-compressed archives and prunes the oldest past MaxArchives.
// Rotation failures never stop event ingestion.
type Rotator struct {
	path     string
	policy   RotationPolicy
	lastRoll time.Time
	logger   zerolog.Logger
}

// NewRotator targets the file at path (same path the Log writes to).
func NewRotator(path string, policy RotationPolicy) *Rotator {
	return &Rotator{
		path:     path,
		policy:   policy,
		lastRoll: time.Now(),
		logger:   log.WithComponent("audit-rotation"),
	}
}

// Due reports whether, as of now, the active file should be rotated.
func (r *Rotator) Due(now time.Time) bool {
	switch r.policy.Kind {
	case RotateBySize:
		return r.overSize()
	case RotateDaily:
		return r.dueDaily(now)
	case RotateWeekly:
		return r.dueWeekly(now)
	case RotateCombined:
		return r.overSize() || r.dueDaily(now)
	default:
		return false
	}
}

func (r *Rotator) overSize() bool {
	if r.policy.MaxBytes <= 0 {
		return false
	}
	info, err := os.Stat(r.path)
	if err != nil {
		return false
	}
	return info.Size() >= r.policy.MaxBytes
}

func (r *Rotator) dueDaily(now time.Time) bool {
	if now.Hour() < r.policy.AtHour {
		return false
	}
	return now.YearDay() != r.lastRoll.YearDay() || now.Year() != r.lastRoll.Year()
}

func (r *Rotator) dueWeekly(now time.Time) bool {
	if now.Weekday() != r.policy.Weekday || now.Hour() < r.policy.AtHour {
		return false
	}
	daysSince := now.Sub(r.lastRoll).Hours() / 24
	return daysSince >= 6
}

// Rotate renames the active file to a timestamped name, creates a fresh
// empty file in its place, gzip-compresses the archive, and prunes
// archives beyond MaxArchives (oldest mtime first). The Log writing to
// this path must call Reopen afterwards so its handle points at the
// fresh file rather than the archived inode.
func (r *Rotator) Rotate(now time.Time) error {
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		return nil
	}

	archived := fmt.Sprintf("%s.%s", r.path, now.Format("20060102T150405"))
	if err := os.Rename(r.path, archived); err != nil {
		return err
	}

	if f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY, 0600); err != nil {
		r.logger.Error().Err(err).Str("file", r.path).Msg("failed to create fresh audit file after rotation")
	} else {
		f.Close()
	}

	if err := r.compress(archived); err != nil {
		r.logger.Error().Err(err).Str("file", archived).Msg("failed to compress archived audit log")
	}

	r.lastRoll = now
	return r.prune()
}

func (r *Rotator) compress(archived string) error {
	src, err := os.Open(archived)
	if err != nil {
		return err
	}
	defer src.Close()

	dstPath := archived + ".gz"
	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}

	return os.Remove(archived)
}

// prune removes the oldest archives beyond MaxArchives, by mtime. Every
// regular file in the directory whose name extends the active file's name
// counts as an archive, compressed or not.
func (r *Rotator) prune() error {
	if r.policy.MaxArchives <= 0 {
		return nil
	}

	dir := filepath.Dir(r.path)
	base := filepath.Base(r.path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type archive struct {
		path    string
		modTime time.Time
	}
	var archives []archive
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) <= len(base) || name[:len(base)] != base {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		archives = append(archives, archive{path: filepath.Join(dir, name), modTime: info.ModTime()})
	}

	if len(archives) <= r.policy.MaxArchives {
		return nil
	}

	sort.Slice(archives, func(i, j int) bool { return archives[i].modTime.Before(archives[j].modTime) })

	excess := len(archives) - r.policy.MaxArchives
	for i := 0; i < excess; i++ {
		if err := os.Remove(archives[i].path); err != nil {
			r.logger.Error().Err(err).Str("file", archives[i].path).Msg("failed to prune archived audit log")
		}
	}
	return nil
}
