// Command httpd starts the reactor-backed HTTP server (spec §6,
// "External Interfaces"; supplemented from original_source/HttpServer's
// test.cc/HttpServer.cc bootstrap — see SPEC_FULL.md).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/yanksx233/httpd-go/httpd"
	"github.com/yanksx233/httpd-go/logging"
	"github.com/yanksx233/httpd-go/reactor"
)

func main() {
	addr := flag.String("addr", "0.0.0.0", "listen address")
	port := flag.Int("port", 12345, "listen port")
	loopbackOnly := flag.Bool("loopback-only", false, "bind to 127.0.0.1 regardless of -addr")
	reusePort := flag.Bool("reuse-port", false, "set SO_REUSEPORT on the listening socket")
	numLoops := flag.Int("threads", 4, "number of worker event loops (0 runs single-threaded)")
	root := flag.String("root", "./www", "resource root directory")
	logDir := flag.String("log-dir", "", "async log roll directory (stdout if empty)")
	rollSize := flag.Int64("log-roll-size", 1<<20, "async logger file-roll threshold in bytes")
	flag.Parse()

	if *logDir != "" {
		async, err := logging.NewAsyncLogger(*logDir, "httpd", *rollSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "httpd: starting async logger: %v\n", err)
			os.Exit(1)
		}
		defer async.Close()
		l := logging.NewStructuredLogger(async)
		reactor.SetLogger(l)
		httpd.SetLogger(l)
	}

	baseLoop, err := reactor.NewEventLoop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "httpd: creating base loop: %v\n", err)
		os.Exit(1)
	}

	server, err := httpd.NewServer(baseLoop, "HttpServer", *addr, *port, *numLoops, *loopbackOnly, *reusePort, *root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "httpd: %v\n", err)
		os.Exit(1)
	}

	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "httpd: starting server: %v\n", err)
		os.Exit(1)
	}

	baseLoop.Run()
}
