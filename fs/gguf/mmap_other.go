//go:build !unix

package gguf

import (
	"errors"
	"os"
)

func mmap(*os.File, int64) ([]byte, error) {
	return nil, errors.ErrUnsupported
}

func munmap([]byte) error {
	return nil
}
