package display

import (
	"fmt"
	"io"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/tg4nd4lf/ssh-template/pkg/sshutils"
)

type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputYAML OutputFormat = "yaml"
)

func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputYAML, "yml":
		return OutputYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want text or yaml)", s)
	}
}

// WriteResult prints result in the requested format. Text mode copies the remote stdout
// lines to stdout and the stderr lines to stderr byte for byte; YAML mode writes a single
// document to stdout.
func WriteResult(stdout, stderr io.Writer, result *sshutils.CommandResult, format OutputFormat) error {
	switch format {
	case OutputYAML:
		data, err := yaml.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		_, err = stdout.Write(data)
		return err
	case OutputText, "":
		if _, err := io.WriteString(stdout, result.StdoutString()); err != nil {
			return err
		}
		_, err := io.WriteString(stderr, result.StderrString())
		return err
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
