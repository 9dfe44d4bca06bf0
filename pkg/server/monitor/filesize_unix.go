//go:build !windows

package monitor

import (
	"os"
	"syscall"
)

// getActualFileSize reports allocated blocks so sparse badger value logs are
// not counted at their logical size.
func getActualFileSize(_ string, info os.FileInfo) (int64, error) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Blocks * 512, nil
	}
	return info.Size(), nil
}
