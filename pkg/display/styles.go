package display

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00c413"))
	failureStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff0000"))
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e0a800"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const (
	successSymbol = "✔"
	failureSymbol = "✘"
	warningSymbol = "!"
)

func SuccessLine(text string) string {
	return successStyle.Render(successSymbol) + " " + text
}

func FailureLine(text string) string {
	return failureStyle.Render(failureSymbol) + " " + text
}

func WarningLine(text string) string {
	return warningStyle.Render(warningSymbol) + " " + text
}

func InfoLine(text string) string {
	return infoStyle.Render(text)
}

// ExitStatusLine describes how a remote command finished.
func ExitStatusLine(command string, status int) string {
	switch {
	case status == 0:
		return SuccessLine(fmt.Sprintf("%s exited with status 0", command))
	case status < 0:
		return WarningLine(fmt.Sprintf("%s finished without an exit status", command))
	default:
		return FailureLine(fmt.Sprintf("%s exited with status %d", command, status))
	}
}
