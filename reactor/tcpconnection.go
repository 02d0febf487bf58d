//go:build linux

package reactor

import (
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// connState is the TcpConnection lifecycle state (spec §3, §4.8).
type connState int32

const (
	connStateConnecting connState = iota
	connStateConnected
	connStateDisconnecting
	connStateDisconnected
)

// ConnectionCallback, MessageCallback, WriteCompleteCallback and
// CloseCallback are the four lifecycle callbacks a connection fires
// (spec §3, "TcpConnection state").
type (
	ConnectionCallback     func(conn *TcpConnection)
	MessageCallback        func(conn *TcpConnection, buf *Buffer, receiveTime Timestamp)
	WriteCompleteCallback  func(conn *TcpConnection)
	CloseCallback          func(conn *TcpConnection)
)

// TcpConnection is the per-connection state machine and send/receive
// buffering (component I). It must be driven entirely from its owning
// loop's goroutine, with the sole exception of the atomic
// Connected->Disconnecting transition performed by Shutdown.
type TcpConnection struct {
	name string
	loop *EventLoop
	fd   int

	channel *Channel

	localAddr net.Addr
	peerAddr  net.Addr

	inputBuffer  *Buffer
	outputBuffer *Buffer

	context any

	state atomic.Int32

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	closeCallback         CloseCallback
}

// NewTcpConnection wraps an already-accepted, nonblocking socket fd.
func NewTcpConnection(loop *EventLoop, name string, fd int, localAddr, peerAddr net.Addr) *TcpConnection {
	c := &TcpConnection{
		name:         name,
		loop:         loop,
		fd:           fd,
		localAddr:    localAddr,
		peerAddr:     peerAddr,
		inputBuffer:  NewBuffer(),
		outputBuffer: NewBuffer(),
	}
	c.state.Store(int32(connStateConnecting))
	c.channel = NewChannel(loop, fd)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	c.channel.Tie(c)
	return c
}

// alive implements tieOwner for the channel's liveness check (§9 "tie").
func (c *TcpConnection) alive() bool {
	return connState(c.state.Load()) != connStateDisconnected
}

func (c *TcpConnection) Name() string        { return c.name }
func (c *TcpConnection) LocalAddr() net.Addr { return c.localAddr }
func (c *TcpConnection) PeerAddr() net.Addr  { return c.peerAddr }
func (c *TcpConnection) Loop() *EventLoop    { return c.loop }
func (c *TcpConnection) Fd() int             { return c.fd }

// Context and SetContext implement the single any-typed extension slot
// described in spec §9 — a tagged, typed slot rather than a variant
// enum, so application layers like the HTTP connection can ride along.
func (c *TcpConnection) Context() any        { return c.context }
func (c *TcpConnection) SetContext(ctx any)  { c.context = ctx }

func (c *TcpConnection) Connected() bool {
	return connState(c.state.Load()) == connStateConnected
}

func (c *TcpConnection) Disconnected() bool {
	return connState(c.state.Load()) == connStateDisconnected
}

func (c *TcpConnection) SetConnectionCallback(cb ConnectionCallback)         { c.connectionCallback = cb }
func (c *TcpConnection) SetMessageCallback(cb MessageCallback)               { c.messageCallback = cb }
func (c *TcpConnection) SetWriteCompleteCallback(cb WriteCompleteCallback)   { c.writeCompleteCallback = cb }
func (c *TcpConnection) setCloseCallback(cb CloseCallback)                  { c.closeCallback = cb }

// connectEstablished transitions Connecting -> Connected, installs the
// read interest and fires the user connection callback. Called by the
// server exactly once, on this connection's own loop.
func (c *TcpConnection) connectEstablished() {
	c.loop.AssertInLoopThread()
	c.state.Store(int32(connStateConnected))
	c.channel.EnableReading()
	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
}

// connectDestroyed removes the channel from the demultiplexer. Must be
// called exactly once by the server, on the owning loop, after
// handleClose has already run.
func (c *TcpConnection) connectDestroyed() {
	c.loop.AssertInLoopThread()
	if connState(c.state.Load()) == connStateConnected {
		c.state.Store(int32(connStateDisconnected))
		c.channel.DisableAll()
		if c.connectionCallback != nil {
			c.connectionCallback(c)
		}
	}
	c.channel.Remove()
}

// Send serializes to sendInLoop via RunInLoop so writes stay ordered
// with the write state machine even when called off-loop (spec §4.8,
// "Send path").
func (c *TcpConnection) Send(data []byte) {
	cp := append([]byte(nil), data...)
	if c.loop.IsInLoopThread() {
		c.sendInLoop(cp)
	} else {
		c.loop.QueueInLoop(func() { c.sendInLoop(cp) })
	}
}

func (c *TcpConnection) SendString(s string) { c.Send([]byte(s)) }

func (c *TcpConnection) sendInLoop(data []byte) {
	if connState(c.state.Load()) == connStateDisconnected {
		return
	}

	var nwrote int
	var writeErr error
	remaining := len(data)

	if c.outputBuffer.ReadableBytes() == 0 && !c.channel.IsWriting() {
		n, err := unix.Write(c.fd, data)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				writeErr = err
			}
			n = 0
		}
		nwrote = n
		remaining = len(data) - nwrote
		if remaining == 0 && c.writeCompleteCallback != nil {
			c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
		}
	}

	if writeErr == nil && remaining > 0 {
		c.outputBuffer.Append(data[nwrote:])
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	} else if writeErr != nil {
		loopLogger().Error().Err(writeErr).Str("conn", c.name).Msg("tcpconnection: write failed")
	}
}

// Shutdown compare-and-swaps Connected -> Disconnecting, then enqueues
// shutdownInLoop, which shuts the socket down for both reading and
// writing once no write is pending. Safe from any goroutine.
func (c *TcpConnection) Shutdown() {
	if c.state.CompareAndSwap(int32(connStateConnected), int32(connStateDisconnecting)) {
		c.loop.QueueInLoop(c.shutdownInLoop)
	}
}

func (c *TcpConnection) shutdownInLoop() {
	c.loop.AssertInLoopThread()
	if !c.channel.IsWriting() {
		_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
	}
}

func (c *TcpConnection) handleRead(receiveTime Timestamp) {
	n, err := c.inputBuffer.ReadFd(c.fd)
	switch {
	case n > 0:
		if c.messageCallback != nil {
			c.messageCallback(c, c.inputBuffer, receiveTime)
		}
	case n == 0:
		c.handleClose()
	default:
		if err != nil {
			loopLogger().Error().Err(err).Str("conn", c.name).Msg("tcpconnection: read failed")
		}
	}
}

func (c *TcpConnection) handleWrite() {
	if !c.channel.IsWriting() {
		return
	}
	buf := c.outputBuffer.Peek()
	n, err := unix.Write(c.fd, buf)
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			loopLogger().Error().Err(err).Str("conn", c.name).Msg("tcpconnection: write failed")
		}
		return
	}
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeCompleteCallback != nil {
			cb := c.writeCompleteCallback
			c.loop.QueueInLoop(func() { cb(c) })
		}
		if connState(c.state.Load()) == connStateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

// handleClose transitions to Disconnected, disables all interest, and
// fires the connection callback then the close callback while holding a
// reference across both so the object survives them (spec §4.8).
func (c *TcpConnection) handleClose() {
	c.loop.AssertInLoopThread()
	prev := connState(c.state.Swap(int32(connStateDisconnected)))
	if prev == connStateDisconnected {
		return
	}
	c.channel.DisableAll()

	self := c
	if self.connectionCallback != nil {
		self.connectionCallback(self)
	}
	if self.closeCallback != nil {
		self.closeCallback(self)
	}
}

func (c *TcpConnection) handleError() {
	errno, _ := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	loopLogger().Error().Int("errno", errno).Str("conn", c.name).Msg("tcpconnection: socket error")
}
