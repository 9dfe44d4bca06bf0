//go:build linux

package monitor

import "testing"

func TestCollectHost(t *testing.T) {
	h := CollectHost()
	if h.MemoryTotalBytes == 0 {
		t.Error("MemoryTotalBytes should be set on linux")
	}
	if h.MemoryUsagePercent < 0 || h.MemoryUsagePercent > 100 {
		t.Errorf("MemoryUsagePercent = %.2f, want within [0, 100]", h.MemoryUsagePercent)
	}
}
