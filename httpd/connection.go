//go:build linux

package httpd

import (
	"fmt"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yanksx233/httpd-go/reactor"
	"golang.org/x/sys/unix"
)

// parseState is the HttpConnection parse phase (spec §3, §4.10).
type parseState int

const (
	stateRequestLine parseState = iota
	stateHeader
	stateBody
	stateFinish
)

// parseResult is the terminal/non-terminal status returned by a single
// parse attempt over the connection's input buffer.
type parseResult int

const (
	resultNoRequest parseResult = iota
	resultGetRequest
	resultBadRequest
	resultForbidden
	resultNoResource
)

// idleTimeout and keepAliveTimeout are the two fixed durations named in
// spec §6.
const (
	idleTimeout      = reactor.Duration(60)
	keepAliveTimeout = 120
	keepAliveMax     = 6
	maxBodySize      = 1 << 20
)

var statusReason = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

// Connection is one HttpConnection (component K), riding along on a
// TcpConnection's context slot (spec §9).
type Connection struct {
	tc   *reactor.TcpConnection
	root string

	state parseState

	method  string
	path    string
	version string
	headers map[string]string

	contentLength int
	form          map[string]string

	code     int
	filePath string
	keepAlive bool

	idleTimerID reactor.TimerId
	idleArmed   bool
}

// NewConnection creates an HttpConnection rooted at root (the directory
// containing servable resources and the 4xx error pages).
func NewConnection(tc *reactor.TcpConnection, root string) *Connection {
	c := &Connection{tc: tc, root: root}
	c.reset()
	return c
}

// reset returns the parser to RequestLine without touching the
// underlying TCP connection, so pipelined requests are served without
// reconstructing the HttpConnection (spec §4.10, "pipelining").
func (c *Connection) reset() {
	c.state = stateRequestLine
	c.method = ""
	c.path = ""
	c.version = ""
	c.headers = make(map[string]string)
	c.contentLength = 0
	c.form = nil
	c.code = 0
	c.filePath = ""
	c.keepAlive = false
}

// OnMessage is the reactor.MessageCallback installed by Server. It
// re-arms the idle timer, then parses and responds to as many complete
// requests as the buffer currently holds (pipelining).
func (c *Connection) OnMessage(buf *reactor.Buffer, _ reactor.Timestamp) {
	c.rearmIdleTimer()

	for {
		result := c.parseOnce(buf)
		if result == resultNoRequest {
			return
		}

		c.buildResponse(result)

		if result == resultGetRequest && c.keepAlive {
			c.reset()
			continue
		}
		c.tc.Shutdown()
		return
	}
}

// onClose cancels any armed idle timer. Installed by Server as the
// second phase of the connection callback (fired from handleClose).
func (c *Connection) onClose() {
	if c.idleArmed {
		c.tc.Loop().Cancel(c.idleTimerID)
		c.idleArmed = false
	}
}

func (c *Connection) rearmIdleTimer() {
	loop := c.tc.Loop()
	if c.idleArmed {
		loop.Cancel(c.idleTimerID)
	}
	conn := c.tc
	c.idleTimerID = loop.RunAfter(idleTimeout, func() { conn.Shutdown() })
	c.idleArmed = true
}

// parseOnce runs the state machine until it produces a terminal result
// or runs out of buffered bytes (spec §4.10).
func (c *Connection) parseOnce(buf *reactor.Buffer) parseResult {
	for {
		switch c.state {
		case stateRequestLine:
			idx := buf.FindCRLF()
			if idx < 0 {
				return resultNoRequest
			}
			line := buf.RetrieveAsString(idx)
			buf.Retrieve(2)
			if !c.parseRequestLine(line) {
				return c.fail(400)
			}
			if res, ok := c.resolveResource(); !ok {
				return res
			}
			c.state = stateHeader

		case stateHeader:
			idx := buf.FindCRLF()
			if idx < 0 {
				return resultNoRequest
			}
			line := buf.RetrieveAsString(idx)
			buf.Retrieve(2)
			if line == "" {
				if c.contentLength <= 0 {
					c.state = stateFinish
				} else if c.contentLength > maxBodySize {
					return c.fail(400)
				} else {
					c.state = stateBody
				}
				continue
			}
			if !c.parseHeaderLine(line) {
				return c.fail(400)
			}

		case stateBody:
			if buf.ReadableBytes() < c.contentLength {
				return resultNoRequest
			}
			body := buf.RetrieveAsString(c.contentLength)
			if strings.EqualFold(c.method, "POST") &&
				strings.EqualFold(c.headers["Content-Type"], "application/x-www-form-urlencoded") {
				form, ok := parseForm(body)
				if !ok {
					return c.fail(400)
				}
				c.form = form
			}
			if res, ok := c.userVerify(); !ok {
				return res
			}
			c.state = stateFinish

		case stateFinish:
			c.code = 200
			c.keepAlive = c.version == "1.1" && strings.EqualFold(c.headers["Connection"], "keep-alive")
			return resultGetRequest
		}
	}
}

// parseRequestLine matches "METHOD SP URI SP HTTP/VERSION".
func (c *Connection) parseRequestLine(line string) bool {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return false
	}
	method, uri, httpVersion := fields[0], fields[1], fields[2]
	if !strings.HasPrefix(httpVersion, "HTTP/") {
		return false
	}
	if !strings.HasPrefix(uri, "/") {
		return false
	}
	c.method = method
	c.path = uri
	c.version = strings.TrimPrefix(httpVersion, "HTTP/")
	return true
}

// parseHeaderLine matches "NAME: VALUE".
func (c *Connection) parseHeaderLine(line string) bool {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return false
	}
	name := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(line[:idx]))
	value := strings.TrimSpace(line[idx+1:])
	if name == "" || strings.ContainsAny(name, " \t") {
		return false
	}
	c.headers[name] = value
	if strings.EqualFold(name, "Content-Length") {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return false
		}
		c.contentLength = n
	}
	return true
}

// resolveResource applies the "/" -> index.html and no-dot -> .html
// rewrites, then stats the resolved path under root (spec §4.10 step 1).
// ok is false when the parse should terminate early with res.
func (c *Connection) resolveResource() (res parseResult, ok bool) {
	p := c.path
	if strings.HasSuffix(p, "/") {
		p += "index.html"
	}
	if !strings.Contains(filepath.Base(p), ".") {
		p += ".html"
	}

	full := filepath.Join(c.root, filepath.Clean("/"+p))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return c.fail(404), false
	}
	if info.Mode().Perm()&0o444 == 0 {
		return c.fail(403), false
	}
	c.filePath = full
	return 0, true
}

// userVerify is the bit-exact placeholder described in spec §9: it
// rewrites the served path without consulting any credential store.
func (c *Connection) userVerify() (res parseResult, ok bool) {
	base := filepath.Base(c.path)
	if base != "register.html" && base != "login.html" {
		return 0, true
	}
	c.path = "/welcome.html"
	return c.resolveResource()
}

// parseForm decodes application/x-www-form-urlencoded bodies per
// spec §4.10 step 3: '&' separates pairs, '=' separates name/value
// (both required nonempty), '+' is space, '%HH' is a hex byte.
func parseForm(body string) (map[string]string, bool) {
	form := make(map[string]string)
	if body == "" {
		return form, true
	}
	for _, pair := range strings.Split(body, "&") {
		idx := strings.IndexByte(pair, '=')
		if idx <= 0 || idx == len(pair)-1 {
			return nil, false
		}
		name, err1 := url.QueryUnescape(strings.ReplaceAll(pair[:idx], "+", " "))
		value, err2 := url.QueryUnescape(strings.ReplaceAll(pair[idx+1:], "+", " "))
		if err1 != nil || err2 != nil || name == "" || value == "" {
			return nil, false
		}
		form[name] = value
	}
	return form, true
}

// fail sets the error status and its canned error-page path, returning
// the matching parseResult for the caller to propagate.
func (c *Connection) fail(code int) parseResult {
	c.code = code
	c.filePath = filepath.Join(c.root, fmt.Sprintf("%d.html", code))
	switch code {
	case 403:
		return resultForbidden
	case 404:
		return resultNoResource
	default:
		return resultBadRequest
	}
}

// buildResponse writes the status line, headers and mmap'd body
// (spec §4.10, "Response construction"). A non-200 result's page is
// expected to exist; if it does not, the process has no sane
// recovery and aborts (spec §4.10, last paragraph).
func (c *Connection) buildResponse(result parseResult) {
	if result != resultGetRequest {
		c.keepAlive = false
	}

	info, err := os.Stat(c.filePath)
	if err != nil {
		loopLogger().Fatal().Err(err).Str("path", c.filePath).Msg("httpd: missing error page, aborting")
	}

	fd, err := unix.Open(c.filePath, unix.O_RDONLY, 0)
	if err != nil {
		loopLogger().Fatal().Err(err).Str("path", c.filePath).Msg("httpd: cannot open response body")
	}

	var body []byte
	if info.Size() > 0 {
		body, err = unix.Mmap(fd, 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			_ = unix.Close(fd)
			loopLogger().Fatal().Err(err).Str("path", c.filePath).Msg("httpd: mmap failed")
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", c.code, statusReason[c.code])
	if c.keepAlive {
		b.WriteString("Connection: keep-alive\r\n")
		fmt.Fprintf(&b, "Keep-Alive: max=%d, timeout=%d\r\n", keepAliveMax, keepAliveTimeout)
	} else {
		b.WriteString("Connection: close\r\n")
	}
	fmt.Fprintf(&b, "Content-Type: %s\r\n", contentTypeFor(c.filePath))
	fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", info.Size())

	out := make([]byte, 0, b.Len()+len(body))
	out = append(out, b.String()...)
	out = append(out, body...)

	if body != nil {
		_ = unix.Munmap(body)
	}
	_ = unix.Close(fd)

	c.tc.Send(out)
}
