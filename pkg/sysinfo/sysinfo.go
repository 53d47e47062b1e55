// Package sysinfo describes the host and the drive a benchmark runs on.
package sysinfo

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	gcpu "github.com/shirou/gopsutil/v4/cpu"
	gdisk "github.com/shirou/gopsutil/v4/disk"
	ghost "github.com/shirou/gopsutil/v4/host"
	gmem "github.com/shirou/gopsutil/v4/mem"
)

// Info is the environment recorded alongside a run.
type Info struct {
	Hostname    string  `json:"hostname,omitempty"`
	OS          string  `json:"os"`
	Arch        string  `json:"arch"`
	Platform    string  `json:"platform,omitempty"`
	Kernel      string  `json:"kernel,omitempty"`
	CPUModel    string  `json:"cpu_model,omitempty"`
	CPUCores    int     `json:"cpu_cores,omitempty"`
	MemoryBytes uint64  `json:"memory_bytes,omitempty"`
	Device      string  `json:"device,omitempty"`
	Mountpoint  string  `json:"mountpoint,omitempty"`
	Filesystem  string  `json:"filesystem,omitempty"`
	DriveSerial string  `json:"drive_serial,omitempty"`
	DriveLabel  string  `json:"drive_label,omitempty"`
	TotalBytes  uint64  `json:"total_bytes,omitempty"`
	UsedBytes   uint64  `json:"used_bytes,omitempty"`
	UsedPercent float64 `json:"used_percent,omitempty"`
}

// Collect gathers what it can about the host and the filesystem holding
// location. Lookups that fail leave their fields empty.
func Collect(ctx context.Context, location string, logger *slog.Logger) Info {
	if logger == nil {
		logger = slog.Default()
	}
	info := Info{OS: runtime.GOOS, Arch: runtime.GOARCH}

	if h, err := ghost.InfoWithContext(ctx); err != nil {
		logger.Debug("host info unavailable", "error", err)
	} else {
		info.Hostname = h.Hostname
		info.Platform = strings.TrimSpace(h.Platform + " " + h.PlatformVersion)
		info.Kernel = h.KernelVersion
	}

	if cpus, err := gcpu.InfoWithContext(ctx); err != nil || len(cpus) == 0 {
		logger.Debug("cpu info unavailable", "error", err)
	} else {
		info.CPUModel = cpus[0].ModelName
	}
	if n, err := gcpu.CountsWithContext(ctx, true); err == nil {
		info.CPUCores = n
	}

	if vm, err := gmem.VirtualMemoryWithContext(ctx); err != nil {
		logger.Debug("memory info unavailable", "error", err)
	} else {
		info.MemoryBytes = vm.Total
	}

	abs, err := filepath.Abs(location)
	if err != nil {
		abs = location
	}
	if parts, err := gdisk.PartitionsWithContext(ctx, true); err != nil {
		logger.Debug("partitions unavailable", "error", err)
	} else if p, ok := mountFor(abs, parts); ok {
		info.Device = p.Device
		info.Mountpoint = p.Mountpoint
		info.Filesystem = p.Fstype
		if strings.HasPrefix(p.Device, "/dev/") {
			if s, err := gdisk.SerialNumberWithContext(ctx, p.Device); err == nil {
				info.DriveSerial = s
			}
			if l, err := gdisk.LabelWithContext(ctx, filepath.Base(p.Device)); err == nil {
				info.DriveLabel = l
			}
		}
	}

	if u, err := gdisk.UsageWithContext(ctx, abs); err != nil {
		logger.Debug("disk usage unavailable", "path", abs, "error", err)
	} else {
		info.TotalBytes = u.Total
		info.UsedBytes = u.Used
		info.UsedPercent = u.UsedPercent
		if info.Filesystem == "" {
			info.Filesystem = u.Fstype
		}
	}
	return info
}

// mountFor returns the partition with the longest mountpoint containing path.
func mountFor(path string, parts []gdisk.PartitionStat) (gdisk.PartitionStat, bool) {
	var best gdisk.PartitionStat
	found := false
	for _, p := range parts {
		if !within(path, p.Mountpoint) {
			continue
		}
		if !found || len(p.Mountpoint) > len(best.Mountpoint) {
			best, found = p, true
		}
	}
	return best, found
}

func within(path, mount string) bool {
	if mount == "" {
		return false
	}
	rel, err := filepath.Rel(mount, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// DriveSummary is a one-line description of the drive and its usage.
func (i Info) DriveSummary() string {
	name := i.Device
	if i.DriveLabel != "" {
		name = i.DriveLabel
	}
	if name == "" {
		name = "unknown drive"
	}
	if i.TotalBytes == 0 {
		return name
	}
	const gb = 1 << 30
	return fmt.Sprintf("%s (%s) %.0f%% used (%.1f/%.1f GB)",
		name, i.Filesystem, i.UsedPercent, float64(i.UsedBytes)/gb, float64(i.TotalBytes)/gb)
}
