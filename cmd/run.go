package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tg4nd4lf/ssh-template/pkg/display"
	"github.com/tg4nd4lf/ssh-template/pkg/sshutils"
	"github.com/tg4nd4lf/ssh-template/pkg/table"
)

func newRunCmd(v *viper.Viper, opts *rootOptions) *cobra.Command {
	var (
		output   string
		summary  bool
		commands []string
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command> [args...]",
		Short: "Run commands on the remote host",
		Long: `Connect, run each command in order over a fresh channel, print its output and
disconnect. Positional arguments form one command; --command may be repeated to run more.
The process exits with the last non-zero remote exit status.`,
		Example: `  ssh-template run --host build01 --user deploy --ask-password -- uname -a
  ssh-template run -c 'df -h' -c 'uptime' --summary`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := display.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				commands = append([]string{strings.Join(args, " ")}, commands...)
			}
			if len(commands) == 0 {
				return errors.New("no command given: pass it after -- or with --command")
			}

			settings, err := loadSettings(cmd, v, opts)
			if err != nil {
				return err
			}
			h, err := openSession(cmd, settings.Connection)
			if err != nil {
				return err
			}
			defer closeSession(cmd, h)

			return runCommands(cmd, h, commands, format, summary)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", string(display.OutputText), "Output format: text or yaml")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print a summary table after the commands finish")
	cmd.Flags().StringArrayVarP(&commands, "command", "c", nil, "Command to run (repeatable)")

	return cmd
}

func runCommands(
	cmd *cobra.Command,
	h *sshutils.SessionHandle,
	commands []string,
	format display.OutputFormat,
	summary bool,
) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	results := table.NewResultTable(stderr)
	exit := 0

	for _, command := range commands {
		result, runErr := h.Run(cmd.Context(), command)
		if result != nil {
			if err := display.WriteResult(stdout, stderr, result, format); err != nil {
				return err
			}
			results.AddResult(h.Address(), result)
			if result.ExitStatus() > 0 {
				exit = result.ExitStatus()
			}
		}
		if runErr != nil {
			if summary {
				results.Render()
			}
			return fmt.Errorf("command %q failed: %w", command, runErr)
		}
		if format == display.OutputText && len(commands) > 1 {
			fmt.Fprintln(stderr, display.ExitStatusLine(command, result.ExitStatus()))
		}
	}

	if summary {
		results.Render()
	}
	if exit != 0 {
		return &ExitError{Code: exit}
	}
	return nil
}
