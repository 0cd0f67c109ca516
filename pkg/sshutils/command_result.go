package sshutils

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// CommandResult is the outcome of one Run. It is never modified after Run returns.
type CommandResult struct {
	command    string
	stdout     []string
	stderr     []string
	exitStatus int
	duration   time.Duration
}

// NewCommandResult splits raw stream bytes into lines. Run builds results this way.
func NewCommandResult(command string, stdout, stderr []byte, exitStatus int, d time.Duration) *CommandResult {
	return &CommandResult{
		command:    command,
		stdout:     splitLines(stdout),
		stderr:     splitLines(stderr),
		exitStatus: exitStatus,
		duration:   d,
	}
}

func (r *CommandResult) Command() string { return r.command }

// Stdout returns the output lines, each keeping its trailing newline.
func (r *CommandResult) Stdout() []string { return append([]string(nil), r.stdout...) }

func (r *CommandResult) Stderr() []string { return append([]string(nil), r.stderr...) }

// ExitStatus is -1 when the command never reported one (timeout, severed channel).
func (r *CommandResult) ExitStatus() int { return r.exitStatus }

func (r *CommandResult) Duration() time.Duration { return r.duration }

func (r *CommandResult) Success() bool { return r.exitStatus == 0 }

func (r *CommandResult) StdoutString() string { return strings.Join(r.stdout, "") }

func (r *CommandResult) StderrString() string { return strings.Join(r.stderr, "") }

func (r *CommandResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Command    string   `json:"command"`
		ExitStatus int      `json:"exit_status"`
		Stdout     []string `json:"stdout"`
		Stderr     []string `json:"stderr"`
		Duration   string   `json:"duration"`
	}{
		Command:    r.command,
		ExitStatus: r.exitStatus,
		Stdout:     nonNil(r.stdout),
		Stderr:     nonNil(r.stderr),
		Duration:   r.duration.String(),
	})
}

// splitLines splits b after every newline. A trailing fragment without a newline is kept
// as the last line; empty input yields no lines.
func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(b), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// lockedBuffer lets the SSH library write while Run takes a snapshot on timeout.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
