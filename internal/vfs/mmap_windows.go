//go:build windows

package vfs

import (
	"io"
	"os"
)

// Windows keeps a heap copy instead of a mapping, so files stay removable
// while a reader holds them.
func mmapFile(f *os.File, size int) ([]byte, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, err
	}
	return data, nil
}

func munmap([]byte) error {
	return nil
}
