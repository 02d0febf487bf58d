package httpd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yanksx233/httpd-go/reactor"
)

func newFixtureRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write := func(name, contents string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
	}
	write("index.html", "<h1>Hi</h1>")
	write("400.html", "bad request")
	write("403.html", "forbidden")
	write("404.html", "not found")
	write("login.html", "<form>login</form>")
	write("welcome.html", "<h1>welcome</h1>")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.html"), []byte("secret"), 0o000))
	return dir
}

func newTestConnection(root string) *Connection {
	c := &Connection{root: root}
	c.reset()
	return c
}

func TestParseOnceGetRootResolvesToIndex(t *testing.T) {
	root := newFixtureRoot(t)
	c := newTestConnection(root)

	buf := reactor.NewBuffer()
	buf.AppendString("GET / HTTP/1.1\r\nConnection: close\r\n\r\n")

	result := c.parseOnce(buf)
	require.Equal(t, resultGetRequest, result)
	require.Equal(t, filepath.Join(root, "index.html"), c.filePath)
	require.False(t, c.keepAlive)
}

func TestParseOnceMissingResourceIs404(t *testing.T) {
	root := newFixtureRoot(t)
	c := newTestConnection(root)

	buf := reactor.NewBuffer()
	buf.AppendString("GET /missing HTTP/1.1\r\n\r\n")

	result := c.parseOnce(buf)
	require.Equal(t, resultNoResource, result)
	require.Equal(t, filepath.Join(root, "404.html"), c.filePath)
}

func TestParseOnceUnreadableResourceIs403(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	root := newFixtureRoot(t)
	c := newTestConnection(root)

	buf := reactor.NewBuffer()
	buf.AppendString("GET /a HTTP/1.1\r\n\r\n")

	result := c.parseOnce(buf)
	require.Equal(t, resultForbidden, result)
	require.Equal(t, filepath.Join(root, "403.html"), c.filePath)
}

func TestParseOnceMalformedRequestLineIs400(t *testing.T) {
	root := newFixtureRoot(t)
	c := newTestConnection(root)

	buf := reactor.NewBuffer()
	buf.AppendString("NOTHTTP\r\n\r\n")

	result := c.parseOnce(buf)
	require.Equal(t, resultBadRequest, result)
	require.Equal(t, filepath.Join(root, "400.html"), c.filePath)
}

func TestParseOncePipelinedRequestsBothResolve(t *testing.T) {
	root := newFixtureRoot(t)
	c := newTestConnection(root)

	buf := reactor.NewBuffer()
	buf.AppendString("GET / HTTP/1.1\r\nConnection: keep-alive\r\n\r\nGET / HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")

	first := c.parseOnce(buf)
	require.Equal(t, resultGetRequest, first)
	require.True(t, c.keepAlive)

	c.reset()
	second := c.parseOnce(buf)
	require.Equal(t, resultGetRequest, second)
	require.True(t, c.keepAlive)
	require.Equal(t, 0, buf.ReadableBytes())
}

func TestParseOncePostFormTriggersUserVerifyRewrite(t *testing.T) {
	root := newFixtureRoot(t)
	c := newTestConnection(root)

	body := "user=a&pass=b%2Bc"
	req := "POST /login.html HTTP/1.1\r\n" +
		"Content-Length: 17\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"\r\n" + body

	buf := reactor.NewBuffer()
	buf.AppendString(req)

	result := c.parseOnce(buf)
	require.Equal(t, resultGetRequest, result)
	require.Equal(t, "/welcome.html", c.path)
	require.Equal(t, filepath.Join(root, "welcome.html"), c.filePath)
	require.Equal(t, "a", c.form["user"])
	require.Equal(t, "b+c", c.form["pass"])
}

func TestParseOnceIncompleteBodyReturnsNoRequest(t *testing.T) {
	root := newFixtureRoot(t)
	c := newTestConnection(root)

	buf := reactor.NewBuffer()
	buf.AppendString("POST /login.html HTTP/1.1\r\nContent-Length: 17\r\n\r\nuser=a")

	result := c.parseOnce(buf)
	require.Equal(t, resultNoRequest, result)
}

func TestParseFormDecoding(t *testing.T) {
	form, ok := parseForm("a=1&b=hello+world&c=%2Bx")
	require.True(t, ok)
	require.Equal(t, "1", form["a"])
	require.Equal(t, "hello world", form["b"])
	require.Equal(t, "+x", form["c"])
}

func TestParseFormRejectsEmptyNameOrValue(t *testing.T) {
	_, ok := parseForm("=novalue")
	require.False(t, ok)
	_, ok = parseForm("novalue=")
	require.False(t, ok)
}
