package httpd

import (
	"fmt"

	"github.com/yanksx233/httpd-go/reactor"
)

// Server wires a reactor.TcpServer to the HTTP connection state machine
// defined in this package (component K riding on components I/J).
type Server struct {
	tcp  *reactor.TcpServer
	root string
}

// NewServer creates an HTTP server listening on addr:port, serving
// files out of root, dispatching across numLoops worker loops.
func NewServer(baseLoop *reactor.EventLoop, name, addr string, port, numLoops int, loopbackOnly, reusePort bool, root string) (*Server, error) {
	tcp, err := reactor.NewTcpServer(baseLoop, name, addr, port, numLoops, loopbackOnly, reusePort)
	if err != nil {
		return nil, fmt.Errorf("httpd: %w", err)
	}

	s := &Server{tcp: tcp, root: root}
	tcp.SetConnectionCallback(s.onConnection)
	tcp.SetMessageCallback(s.onMessage)
	return s, nil
}

// Start launches the loop pool and begins accepting connections.
func (s *Server) Start() error { return s.tcp.Start() }

// Close shuts every live connection down and stops accepting new ones.
func (s *Server) Close() error { return s.tcp.Close() }

// onConnection fires twice per TcpConnection lifetime (spec §4.8): once
// on establishment (Connected), once on teardown (Disconnected). It
// installs the HttpConnection on establishment and tears down its idle
// timer on close.
func (s *Server) onConnection(tc *reactor.TcpConnection) {
	if tc.Connected() {
		hc := NewConnection(tc, s.root)
		tc.SetContext(hc)
		return
	}
	if hc, ok := tc.Context().(*Connection); ok {
		hc.onClose()
	}
}

func (s *Server) onMessage(tc *reactor.TcpConnection, buf *reactor.Buffer, receiveTime reactor.Timestamp) {
	hc, ok := tc.Context().(*Connection)
	if !ok {
		return
	}
	hc.OnMessage(buf, receiveTime)
}
