//go:build linux

package reactor

import "golang.org/x/sys/unix"

// readv issues a single scatter read across the given buffers using the
// readv(2) syscall, exposed through golang.org/x/sys/unix.
func readv(fd int, iov [][]byte) (int, error) {
	return unix.Readv(fd, iov)
}
