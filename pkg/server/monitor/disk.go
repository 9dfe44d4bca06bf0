package monitor

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// diskRefresh is how long a directory walk result is reused.
const diskRefresh = 10 * time.Second

// DiskUsage is the health-check view of the embedded store's footprint.
type DiskUsage struct {
	Path         string  `json:"path"`
	UsedBytes    int64   `json:"used_bytes"`
	LimitBytes   int64   `json:"limit_bytes"`
	UsagePercent float64 `json:"usage_percent"`
	OverLimit    bool    `json:"over_limit"`
}

// DiskMonitor reports how much of MAX_STORAGE_GB the data directory uses.
type DiskMonitor struct {
	dir        string
	limitBytes int64
	now        func() time.Time

	mu      sync.Mutex
	last    DiskUsage
	checked time.Time
}

// NewDiskMonitor watches dir. limitBytes <= 0 disables the limit check.
func NewDiskMonitor(dir string, limitBytes int64) *DiskMonitor {
	return &DiskMonitor{dir: dir, limitBytes: limitBytes, now: time.Now}
}

// Usage walks the data directory at most once per refresh period.
func (d *DiskMonitor) Usage() (DiskUsage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if !d.checked.IsZero() && now.Sub(d.checked) < diskRefresh {
		return d.last, nil
	}

	used, err := dirSize(d.dir)
	if err != nil {
		return DiskUsage{}, err
	}

	u := DiskUsage{Path: d.dir, UsedBytes: used, LimitBytes: d.limitBytes}
	if d.limitBytes > 0 {
		u.UsagePercent = float64(used) / float64(d.limitBytes) * 100
		u.OverLimit = used > d.limitBytes
	}
	d.last, d.checked = u, now
	return u, nil
}

// dirSize sums allocated bytes of every regular file under dir.
func dirSize(dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if n, err := getActualFileSize(path, info); err == nil {
			size += n
		} else {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
