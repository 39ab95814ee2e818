package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vircore/controlplane/internal/log"
	"github.com/vircore/controlplane/internal/snapshot"
	"github.com/vircore/controlplane/internal/types"
)

// applyCmd bulk-loads affinity rules, fencing devices, and snapshot
// schedules from a single YAML manifest.
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration manifest of affinity rules, fencing devices, and snapshot schedules",
	Long: `Apply a control-plane configuration from a YAML file.

Examples:
  # Apply affinity rules and fencing devices
  vcpd apply -f cluster-config.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

// Manifest groups every bulk-loadable resource kind into one file so an
// operator can describe a cluster's placement, fencing, and backup
// policy in a single apply.
type Manifest struct {
	AffinityRules     []types.AffinityRule  `yaml:"affinityRules"`
	FencingDevices    []types.FencingDevice `yaml:"fencingDevices"`
	SnapshotSchedules []manifestSchedule    `yaml:"snapshotSchedules"`
}

// manifestSchedule mirrors types.SnapshotSchedule but spells Frequency as
// a flat, YAML-friendly struct instead of the tagged union the scheduler
// uses internally.
type manifestSchedule struct {
	ID            string `yaml:"id"`
	VmID          string `yaml:"vmId"`
	NamePrefix    string `yaml:"namePrefix"`
	Frequency     string `yaml:"frequency"` // hourly, daily, weekly, monthly, custom
	Hour          int    `yaml:"hour"`
	Weekday       int    `yaml:"weekday"`
	Day           int    `yaml:"day"`
	Cron          string `yaml:"cron"`
	RetentionN    int    `yaml:"retentionN"`
	Enabled       bool   `yaml:"enabled"`
	IncludeMemory bool   `yaml:"includeMemory"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	c, err := buildCore()
	if err != nil {
		return fmt.Errorf("failed to initialize control plane: %w", err)
	}
	defer c.store.Close()

	if len(manifest.AffinityRules) > 0 {
		c.affinity.SetRules(manifest.AffinityRules)
		fmt.Printf("applied %d affinity rules\n", len(manifest.AffinityRules))
	}

	for _, dev := range manifest.FencingDevices {
		c.fencingMgr.RegisterDevice(dev)
		fmt.Printf("registered fencing device: %s (%s -> %s)\n", dev.ID, dev.Kind, dev.TargetNode)
	}

	for _, ms := range manifest.SnapshotSchedules {
		sch, err := toSnapshotSchedule(ms)
		if err != nil {
			return fmt.Errorf("snapshot schedule %q: %w", ms.ID, err)
		}
		c.snapshots.AddSchedule(sch)
		fmt.Printf("applied snapshot schedule: %s (vm=%s)\n", sch.ID, sch.VmID)
	}

	return nil
}

func toSnapshotSchedule(ms manifestSchedule) (types.SnapshotSchedule, error) {
	var kind types.FrequencyKind
	switch ms.Frequency {
	case "hourly":
		kind = types.FreqHourly
	case "daily":
		kind = types.FreqDaily
	case "weekly":
		kind = types.FreqWeekly
	case "monthly":
		kind = types.FreqMonthly
	case "custom":
		kind = types.FreqCustom
	default:
		return types.SnapshotSchedule{}, fmt.Errorf("unknown frequency %q", ms.Frequency)
	}

	freq := types.Frequency{Kind: kind, Hour: ms.Hour, Weekday: ms.Weekday, Day: ms.Day, Cron: ms.Cron}
	now := time.Now()

	return types.SnapshotSchedule{
		ID:            ms.ID,
		VmID:          ms.VmID,
		NamePrefix:    ms.NamePrefix,
		Frequency:     freq,
		RetentionN:    ms.RetentionN,
		Enabled:       ms.Enabled,
		IncludeMemory: ms.IncludeMemory,
		NextRun:       snapshot.NextRunAfter(freq, now, log.WithComponent("apply")),
	}, nil
}
