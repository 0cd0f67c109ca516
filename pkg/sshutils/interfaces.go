package sshutils

import (
	"context"
	"io"

	"golang.org/x/crypto/ssh"
)

// SSHDialer opens an authenticated transport to addr.
type SSHDialer interface {
	Dial(ctx context.Context, network, addr string, config *ssh.ClientConfig) (SSHClienter, error)
}

// SSHClienter is an established connection able to open session channels.
type SSHClienter interface {
	NewSession() (SSHSessioner, error)
	Close() error
}

// SSHSessioner is a single session channel.
type SSHSessioner interface {
	SetStdout(w io.Writer)
	SetStderr(w io.Writer)
	Start(cmd string) error
	Wait() error
	Signal(sig ssh.Signal) error
	RequestSubsystem(subsystem string) error
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.Reader, error)
	Close() error
}

var (
	_ SSHDialer    = (*DefaultSSHDialer)(nil)
	_ SSHClienter  = (*SSHClientWrapper)(nil)
	_ SSHSessioner = (*SSHSessionWrapper)(nil)
)
