package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newCheckCmd(v *viper.Viper, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that the host is reachable, trusted and accepts the credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(cmd, v, opts)
			if err != nil {
				return err
			}
			h, err := openSession(cmd, settings.Connection)
			if err != nil {
				return err
			}
			closeSession(cmd, h)
			return nil
		},
	}
}
