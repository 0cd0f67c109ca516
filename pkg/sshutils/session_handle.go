// Package sshutils wraps an SSH client library with a connect / run / disconnect lifecycle
// and a typed error taxonomy.
package sshutils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/tg4nd4lf/ssh-template/pkg/logger"
)

// SessionState is the lifecycle position of a SessionHandle.
type SessionState int

const (
	StateUnconnected SessionState = iota
	StateConnected
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Option customises a SessionHandle.
type Option func(*SessionHandle)

// WithDialer replaces the network dialer, mainly for tests.
func WithDialer(d SSHDialer) Option {
	return func(h *SessionHandle) {
		if d != nil {
			h.dialer = d
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(h *SessionHandle) {
		if l != nil {
			h.log = l
		}
	}
}

// SessionHandle owns at most one SSH connection for its whole life:
// Unconnected -> Connected -> Closed. A closed handle cannot be reconnected.
//
// Commands run one at a time; callers must not call Run concurrently on one handle.
type SessionHandle struct {
	params ConnectionParameters
	dialer SSHDialer
	log    *logger.Logger

	mu     sync.Mutex
	state  SessionState
	client SSHClienter
}

// NewSessionHandle returns an unconnected handle. Defaults are applied to params.
func NewSessionHandle(params ConnectionParameters, opts ...Option) *SessionHandle {
	h := &SessionHandle{
		params: params.WithDefaults(),
		dialer: &DefaultSSHDialer{},
		log:    logger.Get(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With(zap.String("host", h.params.Address()))
	return h
}

// Connect creates a handle and connects it. On failure no handle is returned.
func Connect(ctx context.Context, params ConnectionParameters, opts ...Option) (*SessionHandle, error) {
	h := NewSessionHandle(params, opts...)
	if err := h.Connect(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *SessionHandle) State() SessionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Address returns the host:port this handle targets.
func (h *SessionHandle) Address() string {
	return h.params.Address()
}

// Connect performs TCP connect, key exchange, host key verification and authentication.
// Only an unconnected handle may connect; a failed attempt leaves it unconnected.
func (h *SessionHandle) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	addr := h.params.Address()
	if h.state != StateUnconnected {
		return newError("connect", KindInvalidState, addr,
			fmt.Errorf("session is %s, create a new handle to reconnect", h.state))
	}

	if err := h.params.Validate(); err != nil {
		return newError("connect", KindInvalidParameters, addr, err)
	}

	checker, err := newHostKeyChecker(h.params.HostKeyPolicy, h.params.KnownHostsFile, h.log)
	if err != nil {
		return newError("connect", KindInvalidParameters, addr, err)
	}
	config, closer, err := h.params.clientConfig(checker.Callback())
	if err != nil {
		return newError("connect", KindTransport, addr, err)
	}
	defer closer.Close()
	if algos := checker.KnownAlgorithms(addr); len(algos) > 0 {
		config.HostKeyAlgorithms = algos
		h.log.Debugf("Known host key algorithms for %s: %s", addr, strings.Join(algos, ", "))
	}

	h.log.Debugf("Connecting to %s@%s (timeout %s, host key policy %s)",
		h.params.User, addr, h.params.Timeout, h.params.HostKeyPolicy)

	client, err := h.dialer.Dial(ctx, "tcp", addr, config)
	if err != nil {
		kind := classifyConnectError(err, checker.Rejected())
		switch kind {
		case KindAuthenticationFailed:
			h.log.Error("Authentication failed, please verify your credentials.")
		case KindUntrustedHostKey:
			h.log.Errorf("Unable to verify server's host key: %v", err)
		default:
			h.log.Errorf("Unable to establish SSH connection: %v", err)
		}
		return newError("connect", kind, addr, err)
	}

	h.client = client
	h.state = StateConnected
	h.log.Info("Connected to client ...")
	return nil
}

// Run executes command verbatim and waits for it to exit. A non-zero exit status is
// reported in the result, not as an error. On timeout or a severed channel the partial
// output collected so far is returned together with the error.
func (h *SessionHandle) Run(ctx context.Context, command string) (*CommandResult, error) {
	client, err := h.connectedClient("run")
	if err != nil {
		return nil, err
	}

	if h.params.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.params.CommandTimeout)
		defer cancel()
	}

	fail := func(kind ErrorKind, err error) *SSHError {
		e := newError("run", kind, h.params.Address(), err)
		e.Command = command
		return e
	}

	if err := ctx.Err(); err != nil {
		return nil, fail(contextErrorKind(err), err)
	}

	session, err := client.NewSession()
	if err != nil {
		h.log.Errorf("Unable to execute command: %v", err)
		return nil, fail(KindChannel, fmt.Errorf("open session: %w", err))
	}
	defer session.Close()

	var stdout, stderr lockedBuffer
	session.SetStdout(&stdout)
	session.SetStderr(&stderr)

	h.log.Debugf("Executing command: %s", command)
	start := time.Now()
	if err := session.Start(command); err != nil {
		h.log.Errorf("Unable to execute command: %v", err)
		return nil, fail(KindChannel, fmt.Errorf("start command: %w", err))
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		elapsed := time.Since(start)
		if err == nil {
			return NewCommandResult(command, stdout.Bytes(), stderr.Bytes(), 0, elapsed), nil
		}

		var exitErr exitStatuser
		if errors.As(err, &exitErr) {
			status := exitErr.ExitStatus()
			h.log.Infof("Command '%s' exited with status %d", command, status)
			return NewCommandResult(command, stdout.Bytes(), stderr.Bytes(), status, elapsed), nil
		}

		h.log.Errorf("Unable to execute command due to SSH error: %v", err)
		result := NewCommandResult(command, stdout.Bytes(), stderr.Bytes(), exitStatusUnknown, elapsed)
		return result, fail(KindChannel, err)

	case <-ctx.Done():
		// The remote process may keep running; the signal is best effort.
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		elapsed := time.Since(start)
		h.log.Errorf("Unable to execute command due to timeout after %s", elapsed.Round(time.Millisecond))
		result := NewCommandResult(command, stdout.Bytes(), stderr.Bytes(), exitStatusUnknown, elapsed)
		return result, fail(contextErrorKind(ctx.Err()), ctx.Err())
	}
}

// exitStatuser is implemented by *ssh.ExitError.
type exitStatuser interface {
	ExitStatus() int
}

// Disconnect releases the connection. It is safe to call on a handle that never connected
// and on one already closed. The handle is closed afterwards even if closing failed.
func (h *SessionHandle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateUnconnected:
		h.log.Debug("Disconnect called on a session that never connected")
		return nil
	case StateClosed:
		h.log.Debug("Session already closed")
		return nil
	}

	client := h.client
	h.client = nil
	h.state = StateClosed

	if err := client.Close(); err != nil {
		h.log.Errorf("Unable to close connection: %v", err)
		return newError("disconnect", KindClose, h.params.Address(), err)
	}
	h.log.Info("Connection closed.")
	return nil
}

func (h *SessionHandle) connectedClient(op string) (SSHClienter, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateConnected {
		return nil, newError(op, KindInvalidState, h.params.Address(),
			fmt.Errorf("session is %s", h.state))
	}
	return h.client, nil
}

func contextErrorKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindChannel
}
