//go:build linux

package reactor

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// NewConnectionCallback is invoked with the accepted connection's fd
// and its peer address.
type NewConnectionCallback func(connFd int, peerAddr net.Addr)

// Acceptor owns the listening socket (component H). It holds one idle,
// preopened file descriptor as an escape valve against EMFILE (spec
// §4.7, §9 "EMFILE resilience").
type Acceptor struct {
	loop         *EventLoop
	listenFd     int
	channel      *Channel
	idleFd       int
	listening    bool
	newConnCb    NewConnectionCallback
	loopbackOnly bool
}

// NewAcceptor creates a nonblocking listening socket bound to addr:port
// with SO_REUSEADDR set (and SO_REUSEPORT if reusePort is true).
func NewAcceptor(loop *EventLoop, addr string, port int, loopbackOnly, reusePort bool) (*Acceptor, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("reactor: acceptor socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = closeFd(fd)
		return nil, fmt.Errorf("reactor: SO_REUSEADDR: %w", err)
	}
	if reusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			_ = closeFd(fd)
			return nil, fmt.Errorf("reactor: SO_REUSEPORT: %w", err)
		}
	}

	ip := net.IPv4(0, 0, 0, 0)
	if loopbackOnly {
		ip = net.IPv4(127, 0, 0, 1)
	} else if addr != "" {
		if parsed := net.ParseIP(addr); parsed != nil {
			ip = parsed
		}
	}
	var sa unix.SockaddrInet4
	copy(sa.Addr[:], ip.To4())
	sa.Port = port
	if err := unix.Bind(fd, &sa); err != nil {
		_ = closeFd(fd)
		return nil, fmt.Errorf("reactor: bind: %w", err)
	}

	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		_ = closeFd(fd)
		return nil, fmt.Errorf("reactor: open idle fd: %w", err)
	}

	a := &Acceptor{
		loop:         loop,
		listenFd:     fd,
		idleFd:       idleFd,
		loopbackOnly: loopbackOnly,
	}
	a.channel = NewChannel(loop, fd)
	a.channel.SetReadCallback(a.handleRead)
	return a, nil
}

// SetNewConnectionCallback installs the callback invoked for every
// accepted connection.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnCb = cb
}

// Listen marks the socket listening and enables read interest on the
// loop, so accept only ever happens on the owning loop's goroutine.
func (a *Acceptor) Listen() error {
	a.loop.AssertInLoopThread()
	a.listening = true
	if err := unix.Listen(a.listenFd, unix.SOMAXCONN); err != nil {
		return fmt.Errorf("reactor: listen: %w", err)
	}
	a.channel.EnableReading()
	return nil
}

// handleRead implements spec §4.7's four numbered steps.
func (a *Acceptor) handleRead(_ Timestamp) {
	connFd, sa, err := unix.Accept4(a.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		switch err {
		case unix.EMFILE, unix.ENFILE:
			// Step 3: the EMFILE dance — close the idle fd to free a
			// slot, accept (and immediately drop) the connection stuck
			// at the head of the listen queue, then reopen the idle fd.
			_ = closeFd(a.idleFd)
			if fd, _, acceptErr := unix.Accept(a.listenFd); acceptErr == nil {
				_ = closeFd(fd)
			}
			a.idleFd, _ = unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
		case unix.EAGAIN, unix.EWOULDBLOCK, unix.ECONNABORTED, unix.EINTR:
			// transient; nothing stuck in the listen queue worth logging
		default:
			loopLogger().Error().Err(err).Msg("acceptor: accept failed")
		}
		return
	}

	if a.newConnCb != nil {
		a.newConnCb(connFd, sockaddrToAddr(sa))
	} else {
		_ = closeFd(connFd)
	}
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	default:
		return nil
	}
}

// Close releases the listening and idle file descriptors.
func (a *Acceptor) Close() error {
	a.channel.DisableAll()
	a.channel.Remove()
	_ = closeFd(a.idleFd)
	return closeFd(a.listenFd)
}
