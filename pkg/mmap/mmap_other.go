//go:build !linux && !darwin

package mmap

// Supported reports whether files can be mapped on this platform.
const Supported = false

func mmap(int, int) ([]byte, error) {
	return nil, ErrUnsupported
}

func munmap([]byte) error {
	return nil
}

func madvise([]byte, Advice) error {
	return nil
}
