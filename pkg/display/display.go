// Package display renders connection progress and command results for the CLI.
package display

import (
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"

	"github.com/tg4nd4lf/ssh-template/pkg/logger"
)

// Status shows a spinner while a step is in progress and a styled line once it ends.
// On anything but a terminal the spinner is skipped and only the final line is written.
type Status struct {
	out     io.Writer
	message string
	spinner *spinner.Spinner
}

// NewSpinner creates a new spinner to alert the user about the progress
func NewSpinner(out io.Writer, message string) *Status {
	l := logger.Get()
	l.Debugf("Creating spinner: %s", message)

	st := &Status{out: out, message: message}
	if !isTerminal(out) {
		return st
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	s.Prefix = message + " "
	_ = s.Color("green")
	s.Start()
	st.spinner = s
	return st
}

// Success stops the spinner and prints a green confirmation line.
func (s *Status) Success(text string) {
	s.finish(SuccessLine(text))
}

// Failure stops the spinner and prints a red error line.
func (s *Status) Failure(text string) {
	s.finish(FailureLine(text))
}

// Stop removes the spinner without printing anything.
func (s *Status) Stop() {
	if s.spinner != nil {
		s.spinner.Stop()
		s.spinner = nil
	}
}

func (s *Status) finish(line string) {
	s.Stop()
	_, _ = io.WriteString(s.out, line+"\n")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
