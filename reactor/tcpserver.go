//go:build linux

package reactor

import (
	"fmt"
	"net"
	"sync"
)

// TcpServer owns an Acceptor and a LoopPool, accepting new connections on
// the base loop and handing each off to a worker loop in round-robin
// order (component J, spec §4.9). It tracks every live connection by
// name so Close can drive an orderly shutdown.
type TcpServer struct {
	baseLoop *EventLoop
	acceptor *Acceptor
	pool     *LoopPool

	name     string
	hostport string

	mu          sync.Mutex
	connections map[string]*TcpConnection
	nextConnID  int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback

	started bool
}

// NewTcpServer creates a server bound to addr:port on baseLoop, with
// numLoops worker loops in its pool (0 collapses onto baseLoop itself).
func NewTcpServer(baseLoop *EventLoop, name, addr string, port, numLoops int, loopbackOnly, reusePort bool) (*TcpServer, error) {
	acceptor, err := NewAcceptor(baseLoop, addr, port, loopbackOnly, reusePort)
	if err != nil {
		return nil, fmt.Errorf("reactor: tcpserver: %w", err)
	}

	s := &TcpServer{
		baseLoop:    baseLoop,
		acceptor:    acceptor,
		pool:        NewLoopPool(baseLoop, numLoops),
		name:        name,
		hostport:    fmt.Sprintf("%s:%d", addr, port),
		connections: make(map[string]*TcpConnection),
	}
	acceptor.SetNewConnectionCallback(s.newConnection)
	return s, nil
}

func (s *TcpServer) SetConnectionCallback(cb ConnectionCallback)       { s.connectionCallback = cb }
func (s *TcpServer) SetMessageCallback(cb MessageCallback)             { s.messageCallback = cb }
func (s *TcpServer) SetWriteCompleteCallback(cb WriteCompleteCallback) { s.writeCompleteCallback = cb }

// Start launches the loop pool and begins listening. Must be called
// from the base loop's goroutine before Run.
func (s *TcpServer) Start() error {
	if s.started {
		return nil
	}
	s.started = true
	if err := s.pool.Start(); err != nil {
		return fmt.Errorf("reactor: tcpserver: starting loop pool: %w", err)
	}
	return s.acceptor.Listen()
}

// newConnection runs on the base loop (it is the acceptor's read
// callback). It assigns the new fd to the next worker loop in
// round-robin order, names the connection uniquely and installs the
// three user callbacks plus the internal removal hook as close callback.
func (s *TcpServer) newConnection(connFd int, peerAddr net.Addr) {
	s.baseLoop.AssertInLoopThread()

	loop := s.pool.GetNextLoop()

	s.mu.Lock()
	connName := fmt.Sprintf("%s-%s#%d", s.name, s.hostport, s.nextConnID)
	s.nextConnID++
	s.mu.Unlock()

	localAddr := localAddrOf(connFd)
	conn := NewTcpConnection(loop, connName, connFd, localAddr, peerAddr)
	conn.SetConnectionCallback(s.connectionCallback)
	conn.SetMessageCallback(s.messageCallback)
	conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	conn.setCloseCallback(s.removeConnection)

	s.mu.Lock()
	s.connections[connName] = conn
	s.mu.Unlock()

	loop.RunInLoop(func() { conn.connectEstablished() })
}

// removeConnection is the close callback every TcpConnection is wired
// to. It always runs on the connection's own loop (fired out of
// handleClose), but must hop back onto the base loop to safely mutate
// the shared connection registry before hopping once more onto the
// connection's own loop to finish destruction — the two-hop protocol
// of spec §4.9.
func (s *TcpServer) removeConnection(conn *TcpConnection) {
	s.baseLoop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *TcpServer) removeConnectionInLoop(conn *TcpConnection) {
	s.baseLoop.AssertInLoopThread()
	s.mu.Lock()
	delete(s.connections, conn.Name())
	s.mu.Unlock()
	conn.Loop().QueueInLoop(conn.connectDestroyed)
}

// Connections returns a snapshot of the currently tracked connections.
func (s *TcpServer) Connections() []*TcpConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TcpConnection, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, c)
	}
	return out
}

// Close stops accepting new connections and shuts down every live one.
func (s *TcpServer) Close() error {
	for _, c := range s.Connections() {
		c.Shutdown()
	}
	return s.acceptor.Close()
}

func localAddrOf(fd int) net.Addr {
	sa, err := getsockname(fd)
	if err != nil {
		return nil
	}
	return sockaddrToAddr(sa)
}
