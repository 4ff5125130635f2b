package scanner

import (
	"fmt"
	"io"
	"os"

	"github.com/zeebo/xxh3"
)

// checksumFile returns the xxh3 hash of a file's contents.
// Zero is reserved for "not computed", so a zero hash is mapped to one.
func checksumFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, fmt.Errorf("hash %s: %w", path, err)
	}

	sum := h.Sum64()
	if sum == 0 {
		sum = 1
	}
	return sum, nil
}
