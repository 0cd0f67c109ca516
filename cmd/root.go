package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tg4nd4lf/ssh-template/pkg/config"
	"github.com/tg4nd4lf/ssh-template/pkg/display"
	"github.com/tg4nd4lf/ssh-template/pkg/logger"
	"github.com/tg4nd4lf/ssh-template/pkg/sshutils"
)

var VersionNumber = "v0.1.0"

// ExitError carries a process exit code without printing anything further.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

type rootOptions struct {
	cfgFile     string
	envFile     string
	verbose     bool
	askPassword bool
}

// NewRootCmd builds the command tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "ssh-template",
		Short: "Run commands on a remote host over SSH",
		Long: `ssh-template connects to a single host over SSH, runs commands one at a time and
prints their output and exit status. Connection settings come from flags, SSH_TEMPLATE_*
environment variables, a .env file or $HOME/.ssh-template.yaml.`,
		Version:       VersionNumber,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmd, v, opts)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.ssh-template.yaml)")
	pf.StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "dotenv file to load before reading the environment")
	pf.BoolVar(&opts.verbose, "verbose", false, "Enable verbose output")
	pf.BoolVar(&opts.askPassword, "ask-password", false, "Prompt for the password instead of reading it from flags or config")

	pf.String("host", "", "Remote host name or address")
	pf.IntP("port", "p", sshutils.DefaultSSHPort, "Remote SSH port")
	pf.StringP("user", "u", "", "Remote user name")
	pf.String("password", "", "Password (prefer --ask-password or SSH_TEMPLATE_PASSWORD)")
	pf.StringP("key-file", "i", "", "Private key file")
	pf.String("passphrase", "", "Passphrase for an encrypted private key")
	pf.Bool("use-agent", false, "Offer keys from the SSH agent at SSH_AUTH_SOCK")
	pf.Duration("timeout", sshutils.DefaultConnectTimeout, "Connect timeout")
	pf.Duration("command-timeout", 0, "Per-command deadline (0 means none)")
	pf.String("known-hosts", sshutils.DefaultKnownHostsFile, "known_hosts file used to verify the server")
	pf.String("host-key-policy", sshutils.HostKeyStrict.String(), "Unknown host keys: strict, warn or tofu")
	pf.String("log-level", logger.InfoLogLevel, "Log level: debug, info, warn, error")
	pf.String("log-file", "", "Also write logs to this file")
	pf.String("log-format", "console", "Log format: console or json")

	for key, flag := range map[string]string{
		config.KeyHost:           "host",
		config.KeyPort:           "port",
		config.KeyUser:           "user",
		config.KeyPassword:       "password",
		config.KeyKeyFile:        "key-file",
		config.KeyPassphrase:     "passphrase",
		config.KeyUseAgent:       "use-agent",
		config.KeyTimeout:        "timeout",
		config.KeyCommandTimeout: "command-timeout",
		config.KeyKnownHosts:     "known-hosts",
		config.KeyHostKeyPolicy:  "host-key-policy",
		config.KeyLogLevel:       "log-level",
		config.KeyLogFile:        "log-file",
		config.KeyLogFormat:      "log-format",
	} {
		cobra.CheckErr(v.BindPFlag(key, pf.Lookup(flag)))
	}

	rootCmd.AddCommand(newRunCmd(v, opts))
	rootCmd.AddCommand(newCheckCmd(v, opts))
	rootCmd.AddCommand(newPushCmd(v, opts))

	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()

	code := exitCode(err)
	var exitErr *ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, display.FailureLine(err.Error()))
	}
	_ = logger.Sync()
	os.Exit(code)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, sshutils.ErrTimeout) {
		return 124
	}
	return 1
}

// initConfig reads in config file and ENV variables if set.
func initConfig(cmd *cobra.Command, v *viper.Viper, opts *rootOptions) error {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return err
	}
	config.SetDefaults(v)

	used, err := config.ReadConfigFile(v, opts.cfgFile)
	if err != nil {
		return err
	}

	settings, err := config.Load(v)
	if err != nil {
		return err
	}
	if opts.verbose {
		settings.Log.Level = "debug"
	}
	if err := logger.Initialize(settings.Log); err != nil {
		return err
	}

	l := logger.Get()
	if used != "" && l.Verbose() {
		fmt.Fprintln(cmd.ErrOrStderr(), display.InfoLine("Using config file: "+used))
	}
	cmd.SetContext(logger.IntoContext(cmd.Context(), l))
	return nil
}

// loadSettings returns the connection settings for a subcommand, prompting for the
// password when --ask-password is set.
func loadSettings(cmd *cobra.Command, v *viper.Viper, opts *rootOptions) (config.Settings, error) {
	settings, err := config.Load(v)
	if err != nil {
		return config.Settings{}, err
	}
	if opts.askPassword {
		password, err := promptPassword(cmd.InOrStdin(), cmd.ErrOrStderr(),
			fmt.Sprintf("%s@%s's password: ", settings.Connection.User, settings.Connection.Host))
		if err != nil {
			return config.Settings{}, err
		}
		settings.Connection.Password = password
	}
	return settings, nil
}

// ConnectFunc opens a session; tests replace it to avoid the network.
var ConnectFunc = sshutils.Connect

// openSession connects with a spinner on stderr.
func openSession(cmd *cobra.Command, params sshutils.ConnectionParameters) (*sshutils.SessionHandle, error) {
	ctx := cmd.Context()
	addr := params.WithDefaults().Address()

	status := display.NewSpinner(cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", addr))
	start := time.Now()
	h, err := ConnectFunc(ctx, params, sshutils.WithLogger(logger.FromContext(ctx)))
	if err != nil {
		status.Failure(fmt.Sprintf("Unable to connect to %s: %s", addr, sshutils.KindOf(err)))
		return nil, err
	}
	status.Success(fmt.Sprintf("Connected to %s in %s", addr, time.Since(start).Round(time.Millisecond)))
	return h, nil
}

func closeSession(cmd *cobra.Command, h *sshutils.SessionHandle) {
	if err := h.Disconnect(); err != nil {
		logger.FromContext(cmd.Context()).Warnf("Disconnect failed: %v", err)
	}
}
