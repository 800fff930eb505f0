//go:build !unix

package checkpoint

import "os"

func mapFile(f *os.File, size int) ([]byte, bool, error) {
	data, err := readAllAt(f, size)
	return data, false, err
}

func unmap([]byte) error { return nil }
