//go:build unix

package scanner

import "syscall"

// inodeOf extracts the inode number from os.FileInfo.Sys().
func inodeOf(sys any) uint64 {
	if stat, ok := sys.(*syscall.Stat_t); ok {
		return stat.Ino
	}
	return 0
}
