package sshutils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// ErrorKind classifies every failure surfaced by a SessionHandle.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuthenticationFailed
	KindUntrustedHostKey
	KindTransport
	KindTimeout
	KindNetwork
	KindChannel
	KindClose
	KindInvalidParameters
	KindInvalidState
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrUntrustedHostKey     = errors.New("untrusted host key")
	ErrTransport            = errors.New("ssh transport error")
	ErrTimeout              = errors.New("timed out")
	ErrNetwork              = errors.New("network error")
	ErrChannel              = errors.New("channel error")
	ErrClose                = errors.New("close error")
	ErrInvalidParameters    = errors.New("invalid connection parameters")
	ErrInvalidState         = errors.New("invalid session state")
)

var kindSentinels = map[ErrorKind]error{
	KindAuthenticationFailed: ErrAuthenticationFailed,
	KindUntrustedHostKey:     ErrUntrustedHostKey,
	KindTransport:            ErrTransport,
	KindTimeout:              ErrTimeout,
	KindNetwork:              ErrNetwork,
	KindChannel:              ErrChannel,
	KindClose:                ErrClose,
	KindInvalidParameters:    ErrInvalidParameters,
	KindInvalidState:         ErrInvalidState,
}

func (k ErrorKind) String() string {
	if s, ok := kindSentinels[k]; ok {
		return s.Error()
	}
	return "unknown error"
}

// SSHError is returned by every SessionHandle operation that fails.
type SSHError struct {
	Op      string
	Kind    ErrorKind
	Host    string
	Command string
	Err     error
}

func (e *SSHError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Host != "" {
		b.WriteString(" ")
		b.WriteString(e.Host)
	}
	if e.Command != "" {
		fmt.Fprintf(&b, " (command %q)", e.Command)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SSHError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *SSHError) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf extracts the ErrorKind from err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var se *SSHError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

func newError(op string, kind ErrorKind, host string, err error) *SSHError {
	return &SSHError{Op: op, Kind: kind, Host: host, Err: err}
}

// classifyConnectError maps a dial/handshake failure onto the connect-phase taxonomy.
// hostKeyErr is the error recorded by the host key callback, if it rejected the server.
func classifyConnectError(err, hostKeyErr error) ErrorKind {
	switch {
	case hostKeyErr != nil:
		return KindUntrustedHostKey
	case isTimeout(err):
		return KindTimeout
	case isAuthFailure(err):
		return KindAuthenticationFailed
	case isNetworkError(err):
		return KindNetwork
	default:
		return KindTransport
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}

func isNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}
