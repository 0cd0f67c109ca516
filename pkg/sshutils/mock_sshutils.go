package sshutils

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/ssh"
)

// MockSSHDialer is a mock implementation of SSHDialer
type MockSSHDialer struct {
	mock.Mock
}

func NewMockSSHDialer() *MockSSHDialer {
	return &MockSSHDialer{}
}

func (m *MockSSHDialer) Dial(
	ctx context.Context,
	network, addr string,
	config *ssh.ClientConfig,
) (SSHClienter, error) {
	args := m.Called(ctx, network, addr, config)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return args.Get(0).(SSHClienter), nil
}

type MockSSHClient struct {
	mock.Mock
}

func (m *MockSSHClient) NewSession() (SSHSessioner, error) {
	args := m.Called()
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return args.Get(0).(SSHSessioner), nil
}

func (m *MockSSHClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockSSHSession records the writers handed to it so expectations can produce output.
type MockSSHSession struct {
	mock.Mock
	Stdout io.Writer
	Stderr io.Writer
}

func NewMockSSHSession() *MockSSHSession {
	return &MockSSHSession{}
}

func (m *MockSSHSession) SetStdout(w io.Writer) {
	m.Stdout = w
}

func (m *MockSSHSession) SetStderr(w io.Writer) {
	m.Stderr = w
}

func (m *MockSSHSession) Start(cmd string) error {
	args := m.Called(cmd)
	return args.Error(0)
}

func (m *MockSSHSession) Wait() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockSSHSession) Signal(sig ssh.Signal) error {
	args := m.Called(sig)
	return args.Error(0)
}

func (m *MockSSHSession) RequestSubsystem(subsystem string) error {
	args := m.Called(subsystem)
	return args.Error(0)
}

func (m *MockSSHSession) StdinPipe() (io.WriteCloser, error) {
	args := m.Called()
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return args.Get(0).(io.WriteCloser), nil
}

func (m *MockSSHSession) StdoutPipe() (io.Reader, error) {
	args := m.Called()
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return args.Get(0).(io.Reader), nil
}

func (m *MockSSHSession) Close() error {
	args := m.Called()
	return args.Error(0)
}

// ExpectedCommand describes one command a mocked client should serve.
type ExpectedCommand struct {
	Cmd     string
	Stdout  string
	Stderr  string
	WaitErr error
}

// NewMockSSHClientWithCommands returns a client that hands out one session per expected
// command, in order. Each session writes the canned output when the command starts.
func NewMockSSHClientWithCommands(cmds ...ExpectedCommand) *MockSSHClient {
	client := &MockSSHClient{}
	for _, c := range cmds {
		c := c
		session := NewMockSSHSession()
		session.On("Start", c.Cmd).Run(func(mock.Arguments) {
			if c.Stdout != "" {
				_, _ = io.WriteString(session.Stdout, c.Stdout)
			}
			if c.Stderr != "" {
				_, _ = io.WriteString(session.Stderr, c.Stderr)
			}
		}).Return(nil).Once()
		session.On("Wait").Return(c.WaitErr).Once()
		session.On("Close").Return(nil)
		client.On("NewSession").Return(session, nil).Once()
	}
	return client
}

var (
	_ SSHDialer    = (*MockSSHDialer)(nil)
	_ SSHClienter  = (*MockSSHClient)(nil)
	_ SSHSessioner = (*MockSSHSession)(nil)
)
