package sshutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tg4nd4lf/ssh-template/internal/testutil"
)

func TestConnectionParametersValidation(t *testing.T) {
	valid := ConnectionParameters{
		Host:     "example.com",
		Port:     22,
		User:     "testuser",
		Password: "secret",
	}

	tests := []struct {
		name          string
		mutate        func(p *ConnectionParameters)
		expectedError string
	}{
		{
			name:   "valid config",
			mutate: func(p *ConnectionParameters) {},
		},
		{
			name:          "empty host",
			mutate:        func(p *ConnectionParameters) { p.Host = "" },
			expectedError: "host cannot be empty",
		},
		{
			name:          "invalid port",
			mutate:        func(p *ConnectionParameters) { p.Port = 0 },
			expectedError: "invalid port number: 0",
		},
		{
			name:          "port out of range",
			mutate:        func(p *ConnectionParameters) { p.Port = 70000 },
			expectedError: "invalid port number: 70000",
		},
		{
			name:          "empty user",
			mutate:        func(p *ConnectionParameters) { p.User = "" },
			expectedError: "user cannot be empty",
		},
		{
			name:          "no auth method",
			mutate:        func(p *ConnectionParameters) { p.Password = "" },
			expectedError: "no authentication method",
		},
		{
			name: "key file and password together",
			mutate: func(p *ConnectionParameters) {
				p.KeyFile = "~/.ssh/id_ed25519"
			},
		},
		{
			name:          "negative timeout",
			mutate:        func(p *ConnectionParameters) { p.CommandTimeout = -time.Second },
			expectedError: "timeouts cannot be negative",
		},
		{
			name:          "unknown host key policy",
			mutate:        func(p *ConnectionParameters) { p.HostKeyPolicy = HostKeyPolicy(42) },
			expectedError: "unknown host key policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			if tt.expectedError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedError)
		})
	}
}

func TestWithDefaults(t *testing.T) {
	p := ConnectionParameters{Host: "example.com", User: "u", Password: "p"}.WithDefaults()

	assert.Equal(t, DefaultSSHPort, p.Port)
	assert.Equal(t, DefaultConnectTimeout, p.Timeout)
	assert.Equal(t, DefaultKnownHostsFile, p.KnownHostsFile)
	assert.Equal(t, HostKeyStrict, p.HostKeyPolicy)
	assert.Zero(t, p.CommandTimeout)

	custom := ConnectionParameters{Port: 2222, Timeout: time.Second}.WithDefaults()
	assert.Equal(t, 2222, custom.Port)
	assert.Equal(t, time.Second, custom.Timeout)
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "example.com:22", ConnectionParameters{Host: "example.com", Port: 22}.Address())
	assert.Equal(t, "[::1]:2222", ConnectionParameters{Host: "::1", Port: 2222}.Address())
}

func TestAuthMethodsPreferKeyFile(t *testing.T) {
	_, cleanupPublicKey, privateKeyPath, cleanupPrivateKey := testutil.CreateSSHPublicPrivateKeyPairOnDisk()
	defer cleanupPublicKey()
	defer cleanupPrivateKey()

	p := ConnectionParameters{KeyFile: privateKeyPath, Password: "secret"}
	methods, closer, err := p.authMethods()
	require.NoError(t, err)
	defer closer.Close()

	// public key, then password and keyboard-interactive
	assert.Len(t, methods, 3)
}

func TestAuthMethodsPasswordOnly(t *testing.T) {
	methods, closer, err := ConnectionParameters{Password: "secret"}.authMethods()
	require.NoError(t, err)
	defer closer.Close()
	assert.Len(t, methods, 2)
}

func TestAuthMethodsAgentUnavailable(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	_, _, err := ConnectionParameters{UseAgent: true}.authMethods()
	assert.Error(t, err)
}

func TestLoadSigner(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := loadSigner("/nonexistent/id_ed25519", "")
		assert.Error(t, err)
	})

	t.Run("encrypted key", func(t *testing.T) {
		privateKey, _, pub := testutil.GenerateSSHKeyMaterial("hunter2")
		path, cleanup, err := testutil.WriteStringToTempFile(privateKey)
		require.NoError(t, err)
		defer cleanup()

		_, err = loadSigner(path, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no passphrase")

		_, err = loadSigner(path, "wrong")
		assert.Error(t, err)

		signer, err := loadSigner(path, "hunter2")
		require.NoError(t, err)
		assert.Equal(t, pub.Marshal(), signer.PublicKey().Marshal())
	})
}

func TestClientConfig(t *testing.T) {
	p := ConnectionParameters{User: "u", Password: "p", Timeout: 5 * time.Second}
	cfg, closer, err := p.clientConfig(nil)
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, "u", cfg.User)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, ClientVersion, cfg.ClientVersion)
}
