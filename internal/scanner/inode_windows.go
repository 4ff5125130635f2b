//go:build windows

package scanner

// inodeOf returns 0 on Windows. Inodes are informational only, so nothing
// depends on a real file index here.
func inodeOf(sys any) uint64 {
	return 0
}
