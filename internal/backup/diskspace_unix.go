//go:build unix

package backup

import "golang.org/x/sys/unix"

// AvailableBytes reports the free disk space for the filesystem holding
// path, or 0 when it cannot be determined.
func AvailableBytes(path string) int64 {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0
	}
	return int64(stat.Bavail) * int64(stat.Bsize)
}
