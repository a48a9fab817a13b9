package metrics

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStats is the runtime snapshot reported by the info endpoint.
type SystemStats struct {
	UptimeSeconds     int64   `json:"uptime_seconds"`
	CPUCores          int     `json:"cpu_cores"`
	MemoryTotalBytes  uint64  `json:"memory_total_bytes"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
}

// SystemTracker reports coarse process and host statistics.
type SystemTracker struct {
	startTime time.Time
}

// NewSystemTracker creates a tracker anchored at the current time.
func NewSystemTracker() *SystemTracker {
	return &SystemTracker{startTime: time.Now()}
}

// Uptime returns seconds since the tracker was created.
func (t *SystemTracker) Uptime() int64 {
	return int64(time.Since(t.startTime).Seconds())
}

// Snapshot returns the current system statistics. Collection failures
// leave the corresponding fields zeroed rather than failing the caller.
func (t *SystemTracker) Snapshot() *SystemStats {
	stats := &SystemStats{UptimeSeconds: t.Uptime()}

	if cores, err := cpu.Counts(true); err == nil {
		stats.CPUCores = cores
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryTotalBytes = vm.Total
		stats.MemoryUsedPercent = vm.UsedPercent
	}

	return stats
}
