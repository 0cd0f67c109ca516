package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tg4nd4lf/ssh-template/pkg/display"
	"github.com/tg4nd4lf/ssh-template/pkg/sshutils"
)

func newPushCmd(v *viper.Viper, opts *rootOptions) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "push <local-file> <remote-path>",
		Short: "Upload a file to the remote host over SFTP",
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			fileMode, err := parseFileMode(mode)
			if err != nil {
				return err
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

			if err := h.PushFile(cmd.Context(), args[0], args[1], fileMode); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), display.SuccessLine(fmt.Sprintf("Pushed %s to %s:%s", args[0], h.Address(), args[1])))
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", fmt.Sprintf("%04o", sshutils.DefaultFileMode), "Octal permissions for the remote file")
	return cmd
}

func parseFileMode(s string) (os.FileMode, error) {
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil || m > 0o7777 {
		return 0, fmt.Errorf("invalid file mode %q: want octal such as 0644", s)
	}
	return os.FileMode(m), nil
}
