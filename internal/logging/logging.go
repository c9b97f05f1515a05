// Package logging builds the daemon's rolling file logger, with optional
// stderr and UDP tees for development.
package logging

import (
	"io"
	"log"
	"net"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the logger's sinks.
type Options struct {
	// Dir receives daemon.log; must exist.
	Dir string

	// Stderr tees every line to stderr.
	Stderr bool

	// UDPAddr, when non-empty ("host:port"), tees lines to a UDP log
	// collector, best effort.
	UDPAddr string
}

// New returns a logger rolling over Dir/daemon.log. Close the returned
// Closer on shutdown.
func New(opts Options) (*log.Logger, io.Closer, error) {
	roller := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, "daemon.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   false,
	}

	writers := []io.Writer{roller}
	closers := multiCloser{roller}

	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}
	if opts.UDPAddr != "" {
		if conn, err := net.Dial("udp", opts.UDPAddr); err == nil {
			writers = append(writers, &dropWriter{conn: conn})
			closers = append(closers, conn)
		}
		// An unreachable collector is not a reason to refuse to start.
	}

	logger := log.New(io.MultiWriter(writers...), "", log.LstdFlags|log.Lmsgprefix)
	return logger, closers, nil
}

// Discard returns a logger that writes nowhere, for tests and one-shot
// CLI paths that do not keep a log file.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// dropWriter writes best-effort: a full or dead UDP socket never fails
// the write path.
type dropWriter struct {
	conn net.Conn
}

func (w *dropWriter) Write(p []byte) (int, error) {
	_, _ = w.conn.Write(p)
	return len(p), nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
