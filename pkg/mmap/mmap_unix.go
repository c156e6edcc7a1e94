//go:build linux || darwin

package mmap

import "golang.org/x/sys/unix"

// Supported reports whether files can be mapped on this platform.
const Supported = true

func mmap(fd int, length int) ([]byte, error) {
	return unix.Mmap(fd, 0, length, unix.PROT_READ, unix.MAP_SHARED)
}

func munmap(b []byte) error {
	return unix.Munmap(b)
}

func madvise(b []byte, advice Advice) error {
	a := unix.MADV_NORMAL
	switch advice {
	case Sequential:
		a = unix.MADV_SEQUENTIAL
	case Random:
		a = unix.MADV_RANDOM
	case WillNeed:
		a = unix.MADV_WILLNEED
	}
	return unix.Madvise(b, a)
}
