package ami

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Common errors
var (
	ErrNotConnected     = errors.New("ami: not connected")
	ErrFrameTimeout     = errors.New("ami: frame read timed out")
	ErrConnectionClosed = errors.New("ami: connection closed by peer")
	ErrInvalidCommand   = errors.New("ami: invalid command")
)

// ConnectError reports a failed TCP connect.
type ConnectError struct {
	Addr   string
	Reason string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("ami: connect %s: %s: %v", e.Addr, e.Reason, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// newConnectError classifies a dial failure as timeout, refused, dns or other.
func newConnectError(addr string, err error) *ConnectError {
	reason := "other"
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.As(err, &dnsErr):
		reason = "dns"
	case errors.Is(err, syscall.ECONNREFUSED):
		reason = "refused"
	case errors.As(err, &netErr) && netErr.Timeout():
		reason = "timeout"
	}
	return &ConnectError{Addr: addr, Reason: reason, Err: err}
}

// AuthError reports a rejected or unanswered Login action. Message holds the
// server's Message header when one was present.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ami: authentication failed: %s: %v", e.Message, e.Err)
	}
	return "ami: authentication failed: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// CommandTimeoutError reports a command whose response frame did not arrive
// before the read deadline. Partial is whatever was received.
type CommandTimeoutError struct {
	Command string
	Partial string
}

func (e *CommandTimeoutError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("ami: command %q timed out with %d bytes of partial response", e.Command, len(e.Partial))
	}
	return fmt.Sprintf("ami: command %q timed out", e.Command)
}

func (e *CommandTimeoutError) Unwrap() error { return ErrFrameTimeout }

// ConnectionLostError reports an I/O failure or peer close in the middle of a
// session.
type ConnectionLostError struct {
	Op  string
	Err error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("ami: connection lost during %s: %v", e.Op, e.Err)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }

// Kind returns a short machine-readable name for an error produced by this
// package, used in bridge replies and metrics labels.
//
// An auth failure wins over everything else. A lost connection wins over
// the cause of the failed reconnect, so "connect" only names a session that
// could not be opened at all.
func Kind(err error) string {
	var (
		connectErr *ConnectError
		authErr    *AuthError
		timeoutErr *CommandTimeoutError
		lostErr    *ConnectionLostError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &lostErr):
		return "connection_lost"
	case errors.As(err, &connectErr):
		return "connect"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid"
	default:
		return "error"
	}
}
