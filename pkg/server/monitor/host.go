package monitor

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostInfo describes the machine dbpulse itself runs on.
type HostInfo struct {
	Hostname           string  `json:"hostname,omitempty"`
	UptimeSeconds      uint64  `json:"uptime_seconds,omitempty"`
	CPUUsagePercent    float64 `json:"cpu_usage_percent"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	MemoryUsedBytes    uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes   uint64  `json:"memory_total_bytes"`
	LoadAvg1m          float64 `json:"load_1m"`
	LoadAvg5m          float64 `json:"load_5m"`
	LoadAvg15m         float64 `json:"load_15m"`
}

// CollectHost gathers host diagnostics. Readings that fail on the current
// platform are left zero.
func CollectHost() HostInfo {
	var h HostInfo

	if info, err := host.Info(); err == nil {
		h.Hostname = info.Hostname
		h.UptimeSeconds = info.Uptime
	}

	// Interval 0 compares against the previous call, so this never blocks.
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		h.CPUUsagePercent = pct[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		h.MemoryUsagePercent = vm.UsedPercent
		h.MemoryUsedBytes = vm.Used
		h.MemoryTotalBytes = vm.Total
	}

	if avg, err := load.Avg(); err == nil {
		h.LoadAvg1m = avg.Load1
		h.LoadAvg5m = avg.Load5
		h.LoadAvg15m = avg.Load15
	}

	return h
}
