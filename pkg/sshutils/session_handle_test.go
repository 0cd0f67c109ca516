package sshutils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/ssh"

	"github.com/tg4nd4lf/ssh-template/pkg/logger"
)

const authFailure = "ssh: handshake failed: ssh: unable to authenticate, " +
	"attempted methods [none password], no supported methods remain"

// exitStatusError stands in for *ssh.ExitError, whose status cannot be set outside x/crypto.
type exitStatusError int

func (e exitStatusError) Error() string   { return fmt.Sprintf("Process exited with status %d", int(e)) }
func (e exitStatusError) ExitStatus() int { return int(e) }

type sessionFixture struct {
	handle  *SessionHandle
	dialer  *MockSSHDialer
	client  *MockSSHClient
	session *MockSSHSession
	logs    *observer.ObservedLogs
}

func newSessionFixture(t *testing.T, params ConnectionParameters) *sessionFixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	f := &sessionFixture{
		dialer:  NewMockSSHDialer(),
		client:  &MockSSHClient{},
		session: NewMockSSHSession(),
		logs:    logs,
	}
	f.handle = NewSessionHandle(params,
		WithDialer(f.dialer),
		WithLogger(logger.New(zap.New(core))),
	)
	return f
}

func testParams() ConnectionParameters {
	return ConnectionParameters{
		Host:           "testhost",
		Port:           22,
		User:           "u",
		Password:       "secret",
		KnownHostsFile: "/nonexistent/known_hosts",
	}
}

// connected returns a fixture whose handle has connected through the mock dialer.
func connected(t *testing.T, params ConnectionParameters) *sessionFixture {
	t.Helper()
	f := newSessionFixture(t, params)
	f.dialer.On("Dial", mock.Anything, "tcp", "testhost:22", mock.AnythingOfType("*ssh.ClientConfig")).
		Return(f.client, nil)
	require.NoError(t, f.handle.Connect(context.Background()))
	return f
}

func (f *sessionFixture) expectSession() {
	f.client.On("NewSession").Return(f.session, nil)
	f.session.On("Close").Return(nil)
}

func TestConnectSuccess(t *testing.T) {
	f := connected(t, testParams())

	assert.Equal(t, StateConnected, f.handle.State())
	assert.Equal(t, 1, f.logs.FilterMessage("Connected to client ...").Len())

	cfg := f.dialer.Calls[0].Arguments.Get(3).(*ssh.ClientConfig)
	assert.Equal(t, "u", cfg.User)
	assert.Equal(t, DefaultConnectTimeout, cfg.Timeout)
	f.dialer.AssertExpectations(t)
}

func TestConnectBadPassword(t *testing.T) {
	params := ConnectionParameters{Host: "testhost", Port: 22, User: "u", Password: "badpass"}
	f := newSessionFixture(t, params)
	f.dialer.On("Dial", mock.Anything, "tcp", "testhost:22", mock.Anything).
		Return(nil, errors.New(authFailure))

	err := f.handle.Connect(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, StateUnconnected, f.handle.State())
	assert.Equal(t, 1, f.logs.FilterMessage("Authentication failed, please verify your credentials.").Len())

	_, err = f.handle.Run(context.Background(), "true")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestConnectPackageHelperReturnsNoHandleOnFailure(t *testing.T) {
	dialer := NewMockSSHDialer()
	dialer.On("Dial", mock.Anything, "tcp", "testhost:22", mock.Anything).
		Return(nil, context.DeadlineExceeded)

	h, err := Connect(context.Background(), testParams(), WithDialer(dialer), WithLogger(logger.NewNopLogger()))

	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestConnectInvalidParameters(t *testing.T) {
	params := testParams()
	params.Host = ""
	f := newSessionFixture(t, params)

	err := f.handle.Connect(context.Background())

	assert.ErrorIs(t, err, ErrInvalidParameters)
	f.dialer.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConnectTwiceRejected(t *testing.T) {
	f := connected(t, testParams())

	err := f.handle.Connect(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
	f.dialer.AssertNumberOfCalls(t, "Dial", 1)
}

func TestRunCapturesOutput(t *testing.T) {
	f := connected(t, testParams())
	f.expectSession()
	f.session.On("Start", "echo hello").Run(func(mock.Arguments) {
		_, _ = io.WriteString(f.session.Stdout, "hello\n")
	}).Return(nil)
	f.session.On("Wait").Return(nil)

	result, err := f.handle.Run(context.Background(), "echo hello")

	require.NoError(t, err)
	assert.Equal(t, []string{"hello\n"}, result.Stdout())
	assert.Empty(t, result.Stderr())
	assert.Equal(t, 0, result.ExitStatus())
	f.session.AssertExpectations(t)
}

func TestRunReturnsExitStatusAsData(t *testing.T) {
	f := connected(t, testParams())
	f.expectSession()
	f.session.On("Start", "false").Return(nil)
	f.session.On("Wait").Return(fmt.Errorf("wait: %w", exitStatusError(2)))

	result, err := f.handle.Run(context.Background(), "false")

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.ExitStatus())
	assert.Equal(t, 1, f.logs.FilterMessageSnippet("exited with status 2").Len())
}

func TestRunZeroValueExitError(t *testing.T) {
	f := connected(t, testParams())
	f.expectSession()
	f.session.On("Start", "true").Return(nil)
	f.session.On("Wait").Return(&ssh.ExitError{})

	result, err := f.handle.Run(context.Background(), "true")

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitStatus())
}

func TestRunSequentialCommands(t *testing.T) {
	client := NewMockSSHClientWithCommands(
		ExpectedCommand{Cmd: "hostname", Stdout: "build01\n"},
		ExpectedCommand{Cmd: "cat /nope", Stderr: "cat: /nope: No such file or directory\n", WaitErr: exitStatusError(1)},
		ExpectedCommand{Cmd: "seq 2", Stdout: "1\n2\n"},
	)
	dialer := NewMockSSHDialer()
	dialer.On("Dial", mock.Anything, "tcp", "testhost:22", mock.Anything).Return(client, nil)

	h, err := Connect(context.Background(), testParams(), WithDialer(dialer), WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)

	first, err := h.Run(context.Background(), "hostname")
	require.NoError(t, err)
	assert.Equal(t, []string{"build01\n"}, first.Stdout())

	second, err := h.Run(context.Background(), "cat /nope")
	require.NoError(t, err)
	assert.Equal(t, []string{"cat: /nope: No such file or directory\n"}, second.Stderr())
	assert.Empty(t, second.Stdout())
	assert.Equal(t, 1, second.ExitStatus())

	third, err := h.Run(context.Background(), "seq 2")
	require.NoError(t, err)
	assert.Equal(t, []string{"1\n", "2\n"}, third.Stdout())

	// Earlier results are unaffected by later runs.
	assert.Equal(t, []string{"build01\n"}, first.Stdout())
	client.AssertNumberOfCalls(t, "NewSession", 3)
}

func TestRunMissingExitStatus(t *testing.T) {
	f := connected(t, testParams())
	f.expectSession()
	f.session.On("Start", "drop").Run(func(mock.Arguments) {
		_, _ = io.WriteString(f.session.Stdout, "partial\n")
	}).Return(nil)
	f.session.On("Wait").Return(&ssh.ExitMissingError{})

	result, err := f.handle.Run(context.Background(), "drop")

	assert.ErrorIs(t, err, ErrChannel)
	require.NotNil(t, result)
	assert.Equal(t, []string{"partial\n"}, result.Stdout())
	assert.Equal(t, exitStatusUnknown, result.ExitStatus())

	var sshErr *SSHError
	require.ErrorAs(t, err, &sshErr)
	assert.Equal(t, "drop", sshErr.Command)
}

func TestRunSessionOpenFailure(t *testing.T) {
	f := connected(t, testParams())
	f.client.On("NewSession").Return(nil, errors.New("administratively prohibited"))

	result, err := f.handle.Run(context.Background(), "true")

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrChannel)
}

func TestRunStartFailure(t *testing.T) {
	f := connected(t, testParams())
	f.expectSession()
	f.session.On("Start", "true").Return(errors.New("exec request rejected"))

	_, err := f.handle.Run(context.Background(), "true")
	assert.ErrorIs(t, err, ErrChannel)
}

func TestRunTimeoutReturnsPartialOutput(t *testing.T) {
	params := testParams()
	params.CommandTimeout = 50 * time.Millisecond
	f := connected(t, params)
	f.expectSession()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	f.session.On("Start", "sleep 10").Run(func(mock.Arguments) {
		_, _ = io.WriteString(f.session.Stdout, "sleeping\n")
	}).Return(nil)
	f.session.On("Wait").Run(func(mock.Arguments) { <-release }).Return(nil)
	f.session.On("Signal", ssh.SIGKILL).Return(nil)

	result, err := f.handle.Run(context.Background(), "sleep 10")

	assert.ErrorIs(t, err, ErrTimeout)
	require.NotNil(t, result)
	assert.Equal(t, []string{"sleeping\n"}, result.Stdout())
	f.session.AssertCalled(t, "Signal", ssh.SIGKILL)
	assert.Equal(t, StateConnected, f.handle.State())

	f.client.On("Close").Return(nil)
	assert.NoError(t, f.handle.Disconnect())
}

func TestRunCancelledContext(t *testing.T) {
	f := connected(t, testParams())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.handle.Run(ctx, "true")
	assert.ErrorIs(t, err, ErrChannel)
	f.client.AssertNotCalled(t, "NewSession")
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := connected(t, testParams())
	f.client.On("Close").Return(nil)

	require.NoError(t, f.handle.Disconnect())
	require.NoError(t, f.handle.Disconnect())

	assert.Equal(t, StateClosed, f.handle.State())
	f.client.AssertNumberOfCalls(t, "Close", 1)
	assert.Equal(t, 1, f.logs.FilterMessage("Connection closed.").Len())

	_, err := f.handle.Run(context.Background(), "true")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, f.handle.Connect(context.Background()), ErrInvalidState)
}

func TestDisconnectNeverConnected(t *testing.T) {
	f := newSessionFixture(t, testParams())

	assert.NoError(t, f.handle.Disconnect())
	assert.Equal(t, StateUnconnected, f.handle.State())
}

func TestDisconnectCloseFailure(t *testing.T) {
	f := connected(t, testParams())
	f.client.On("Close").Return(errors.New("broken pipe"))

	err := f.handle.Disconnect()

	assert.ErrorIs(t, err, ErrClose)
	assert.Equal(t, StateClosed, f.handle.State())
	assert.NoError(t, f.handle.Disconnect())
}

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "unconnected", StateUnconnected.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "SessionState(9)", SessionState(9).String())
}
