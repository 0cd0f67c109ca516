package sshutils

import (
	"io"

	"golang.org/x/crypto/ssh"
)

// SSHSessionWrapper implements SSHSessioner on top of *ssh.Session.
type SSHSessionWrapper struct {
	Session *ssh.Session
}

func (s *SSHSessionWrapper) SetStdout(w io.Writer) {
	s.Session.Stdout = w
}

func (s *SSHSessionWrapper) SetStderr(w io.Writer) {
	s.Session.Stderr = w
}

func (s *SSHSessionWrapper) Start(cmd string) error {
	return s.Session.Start(cmd)
}

func (s *SSHSessionWrapper) Wait() error {
	return s.Session.Wait()
}

func (s *SSHSessionWrapper) Signal(sig ssh.Signal) error {
	return s.Session.Signal(sig)
}

func (s *SSHSessionWrapper) RequestSubsystem(subsystem string) error {
	return s.Session.RequestSubsystem(subsystem)
}

func (s *SSHSessionWrapper) StdinPipe() (io.WriteCloser, error) {
	return s.Session.StdinPipe()
}

func (s *SSHSessionWrapper) StdoutPipe() (io.Reader, error) {
	return s.Session.StdoutPipe()
}

func (s *SSHSessionWrapper) Close() error {
	return s.Session.Close()
}
