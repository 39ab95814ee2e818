// Package config loads the process-wide configuration once at startup:
// one struct per subsystem, assembled into a top-level Config passed by
// reference into constructors. Nothing is read through an ambient
// global afterward.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CryptoConfig configures key material loading for C1.
type CryptoConfig struct {
	// AEADKeyHex is an explicit 64-char hex-encoded 256-bit key.
	AEADKeyHex string
	// KeyFile is a path to a file containing the hex key, used if
	// AEADKeyHex is unset.
	KeyFile string
	// AllowAutoGenerate permits generating a random key if neither of the
	// above is set. Never used implicitly in production.
	AllowAutoGenerate bool
	// HMACSecret signs/verifies JWT-style tokens. Must be set in production.
	HMACSecret string
}

// StoreConfig configures the embedded persistent store (C2).
type StoreConfig struct {
	DataDir      string
	SessionSweep time.Duration
}

// AuditConfig configures the audit log (C3).
type AuditConfig struct {
	RingCapacity int
	FilePath     string
	MaxArchives  int
}

// ClusterConfig configures cluster state sync (C6).
type ClusterConfig struct {
	NodeID  string
	LockTTL time.Duration
}

// FencingConfig configures the fencing manager (C7).
type FencingConfig struct {
	Enabled       bool
	DeviceTimeout time.Duration
}

// SnapshotConfig configures the snapshot scheduler (C10).
type SnapshotConfig struct {
	TickInterval time.Duration
}

// ObservabilityConfig configures the process's /healthz and /metrics
// HTTP surface (C11 aggregator, C9/C10/C12 Prometheus collectors).
type ObservabilityConfig struct {
	ListenAddr string
	// VMManagerProbe is an optional command (argv, space-separated in the
	// environment) probed for VM-manager health; exit zero means healthy.
	VMManagerProbe []string
}

// Config is the assembled process configuration.
type Config struct {
	Crypto        CryptoConfig
	Store         StoreConfig
	Audit         AuditConfig
	Cluster       ClusterConfig
	Fencing       FencingConfig
	Snapshot      SnapshotConfig
	Observability ObservabilityConfig
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Crypto: CryptoConfig{
			AEADKeyHex:        os.Getenv("VCP_AEAD_KEY"),
			KeyFile:           os.Getenv("VCP_AEAD_KEY_FILE"),
			AllowAutoGenerate: envBool("VCP_AEAD_AUTOGEN", false),
			HMACSecret:        os.Getenv("VCP_JWT_SECRET"),
		},
		Store: StoreConfig{
			DataDir:      envStr("VCP_DATA_DIR", "/var/lib/vcp"),
			SessionSweep: envDuration("VCP_SESSION_SWEEP", 30*time.Second),
		},
		Audit: AuditConfig{
			RingCapacity: envInt("VCP_AUDIT_RING", 10000),
			FilePath:     os.Getenv("VCP_AUDIT_FILE"),
			MaxArchives:  envInt("VCP_AUDIT_MAX_ARCHIVES", 30),
		},
		Cluster: ClusterConfig{
			NodeID:  envStr("VCP_NODE_ID", "node-1"),
			LockTTL: envDuration("VCP_LOCK_TTL", 60*time.Second),
		},
		Fencing: FencingConfig{
			Enabled:       envBool("VCP_FENCING_ENABLED", true),
			DeviceTimeout: envDuration("VCP_FENCING_TIMEOUT", 60*time.Second),
		},
		Snapshot: SnapshotConfig{
			TickInterval: envDuration("VCP_SNAPSHOT_TICK", 60*time.Second),
		},
		Observability: ObservabilityConfig{
			ListenAddr:     envStr("VCP_LISTEN_ADDR", ":8080"),
			VMManagerProbe: strings.Fields(os.Getenv("VCP_VM_MANAGER_PROBE")),
		},
	}

	if cfg.Crypto.HMACSecret == "" && !cfg.Crypto.AllowAutoGenerate {
		return nil, fmt.Errorf("VCP_JWT_SECRET must be set (or VCP_AEAD_AUTOGEN enabled for non-production use)")
	}

	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
