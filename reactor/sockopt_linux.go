//go:build linux

package reactor

import "golang.org/x/sys/unix"

// getsockname wraps unix.Getsockname for acceptor.go/tcpserver.go's
// address-reporting helpers.
func getsockname(fd int) (unix.Sockaddr, error) {
	return unix.Getsockname(fd)
}
