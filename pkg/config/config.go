// Package config turns viper settings (flags, environment, config file, .env) into
// connection parameters and logger configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/tg4nd4lf/ssh-template/pkg/logger"
	"github.com/tg4nd4lf/ssh-template/pkg/sshutils"
)

const (
	EnvPrefix      = "SSH_TEMPLATE"
	ConfigName     = ".ssh-template"
	ConfigType     = "yaml"
	DefaultEnvFile = ".env"
)

// Keys understood by Load. Nested keys use viper's dot notation; in the environment the
// dot becomes an underscore (SSH_TEMPLATE_LOG_LEVEL).
const (
	KeyHost           = "host"
	KeyPort           = "port"
	KeyUser           = "user"
	KeyPassword       = "password"
	KeyKeyFile        = "key_file"
	KeyPassphrase     = "passphrase"
	KeyUseAgent       = "use_agent"
	KeyTimeout        = "timeout"
	KeyCommandTimeout = "command_timeout"
	KeyKnownHosts     = "known_hosts"
	KeyHostKeyPolicy  = "host_key_policy"
	KeyLogLevel       = "log.level"
	KeyLogFile        = "log.file_path"
	KeyLogFormat      = "log.format"
	KeyLogTrace       = "log.with_trace"
)

// Settings is everything the CLI needs to open a session.
type Settings struct {
	Connection sshutils.ConnectionParameters
	Log        logger.Config
}

// SetDefaults registers default values and environment binding on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, sshutils.DefaultSSHPort)
	v.SetDefault(KeyTimeout, sshutils.DefaultConnectTimeout)
	v.SetDefault(KeyCommandTimeout, 0)
	v.SetDefault(KeyKnownHosts, sshutils.DefaultKnownHostsFile)
	v.SetDefault(KeyHostKeyPolicy, sshutils.HostKeyStrict.String())
	v.SetDefault(KeyLogLevel, logger.InfoLogLevel)
	v.SetDefault(KeyLogFormat, "console")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv loads KEY=value pairs from path into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = DefaultEnvFile
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return err
	}
	if err := godotenv.Load(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", expanded, err)
	}
	return nil
}

// ReadConfigFile reads cfgFile, or $HOME/.ssh-template.yaml when cfgFile is empty.
// It returns the file used, or "" when no default config exists.
func ReadConfigFile(v *viper.Viper, cfgFile string) (string, error) {
	if cfgFile != "" {
		expanded, err := homedir.Expand(cfgFile)
		if err != nil {
			return "", err
		}
		v.SetConfigFile(expanded)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return "", err
		}
		v.AddConfigPath(home)
		v.SetConfigType(ConfigType)
		v.SetConfigName(ConfigName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config file: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Load builds Settings from v. The result is not validated; SessionHandle does that on
// connect so every caller gets the same errors.
func Load(v *viper.Viper) (Settings, error) {
	policy, err := sshutils.ParseHostKeyPolicy(v.GetString(KeyHostKeyPolicy))
	if err != nil {
		return Settings{}, err
	}

	keyFile := v.GetString(KeyKeyFile)
	if keyFile != "" {
		if keyFile, err = homedir.Expand(keyFile); err != nil {
			return Settings{}, fmt.Errorf("invalid key file path: %w", err)
		}
	}

	return Settings{
		Connection: sshutils.ConnectionParameters{
			Host:           v.GetString(KeyHost),
			Port:           v.GetInt(KeyPort),
			User:           v.GetString(KeyUser),
			Password:       v.GetString(KeyPassword),
			KeyFile:        keyFile,
			Passphrase:     v.GetString(KeyPassphrase),
			UseAgent:       v.GetBool(KeyUseAgent),
			Timeout:        v.GetDuration(KeyTimeout),
			CommandTimeout: v.GetDuration(KeyCommandTimeout),
			KnownHostsFile: v.GetString(KeyKnownHosts),
			HostKeyPolicy:  policy,
		},
		Log: logger.Config{
			Level:         v.GetString(KeyLogLevel),
			FilePath:      v.GetString(KeyLogFile),
			Format:        v.GetString(KeyLogFormat),
			WithTrace:     v.GetBool(KeyLogTrace),
			EnableConsole: true,
		},
	}, nil
}
