// Package controlsock implements the design's C8 control socket: a local
// Unix domain socket accepting single-command sessions from CLI clients
// (start/confirm/stop/toggle/status), spec.md §4.8.
//
// Grounded on doismellburning-samoyed's kissutil.go local protocol server
// loop (one goroutine per connection, text-line-in/text-line-out), adapted
// from a TCP/serial KISS-framed protocol to a Unix socket carrying a single
// ASCII verb + LF per connection.
package controlsock

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rhue-dev/voicedictated/internal/errs"
)

// Verb is a recognized command verb.
type Verb string

const (
	VerbStart   Verb = "start"
	VerbConfirm Verb = "confirm"
	VerbStop    Verb = "stop"
	VerbToggle  Verb = "toggle"
	VerbStatus  Verb = "status"

	// VerbStatusVerbose is SPEC_FULL.md's supplemented "status -v" detail
	// line (a second whitespace-separated token on the same request line),
	// not a change to the plain status contract.
	VerbStatusVerbose Verb = "status -v"
)

// Handler executes a verb against the session orchestrator and returns the
// single-line ASCII reply (without the trailing LF).
type Handler func(ctx context.Context, verb Verb) (reply string, err error)

// Server accepts connections on a Unix socket and dispatches each one's verb
// to Handler, one goroutine per connection.
type Server struct {
	path    string
	handler Handler
	log     *slog.Logger

	ln net.Listener
}

// New returns a Server that will listen at path once Serve is called.
func New(path string, handler Handler) *Server {
	return &Server{
		path:    path,
		handler: handler,
		log:     slog.Default().With("component", "controlsock"),
	}
}

// Bind binds the Unix socket at s.path, probing for a live listener first
// (spec.md §5: "Init removes stale sockets only after verifying no live
// process is listening"). It returns an *errs.Error of kind
// KindSocketBindFailed if the path is owned by a live process, or if the
// bind otherwise fails.
func (s *Server) Bind() error {
	if _, err := os.Stat(s.path); err == nil {
		if probeAlive(s.path) {
			return errs.New(errs.KindSocketBindFailed, "controlsock.bind",
				fmt.Errorf("socket %s is owned by a running instance", s.path))
		}
		if err := os.Remove(s.path); err != nil {
			return errs.New(errs.KindSocketBindFailed, "controlsock.bind",
				fmt.Errorf("remove stale socket %s: %w", s.path, err))
		}
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return errs.New(errs.KindSocketBindFailed, "controlsock.bind", err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		return errs.New(errs.KindSocketBindFailed, "controlsock.bind",
			fmt.Errorf("chmod socket %s: %w", s.path, err))
	}
	s.ln = ln
	return nil
}

// probeAlive reports whether a live process is listening at path by
// attempting a short-timeout connect.
func probeAlive(path string) bool {
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Bind must be called first.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return fmt.Errorf("controlsock: Serve called before Bind")
	}
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("controlsock: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// Close removes the socket file and stops the listener.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	os.Remove(s.path)
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		s.log.Warn("controlsock: read verb failed", "err", err)
		return
	}
	verb := Verb(strings.Join(strings.Fields(line), " "))

	reply, err := s.dispatch(ctx, verb)
	if err != nil {
		s.log.Warn("controlsock: handler error", "verb", verb, "err", err)
		reply = "error: " + err.Error()
	}
	fmt.Fprintf(conn, "%s\n", reply)
}

func (s *Server) dispatch(ctx context.Context, verb Verb) (string, error) {
	switch verb {
	case VerbStart, VerbConfirm, VerbStop, VerbToggle, VerbStatus, VerbStatusVerbose:
		return s.handler(ctx, verb)
	default:
		return "error: unknown", nil
	}
}

// SendVerb is the client half: dial path, write verb+LF, and return the
// single-line reply (without its trailing LF). Used by the CLI subcommands.
func SendVerb(path string, verb Verb) (string, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return "", fmt.Errorf("controlsock: dial %s: %w", path, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", verb); err != nil {
		return "", fmt.Errorf("controlsock: write verb: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("controlsock: read reply: %w", err)
	}
	return strings.TrimSpace(reply), nil
}
