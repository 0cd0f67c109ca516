package sshutils

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// ConnectionParameters describes how to reach and authenticate against one host.
// Nothing is defaulted implicitly; call WithDefaults to fill the documented defaults.
type ConnectionParameters struct {
	Host string
	// Port defaults to 22.
	Port int
	User string

	Password string
	// KeyFile is a path to a private key. Preferred over Password when both are set.
	KeyFile    string
	Passphrase string
	// UseAgent offers the keys held by the agent at $SSH_AUTH_SOCK.
	UseAgent bool

	// Timeout bounds TCP connect plus handshake. Defaults to 30s.
	Timeout time.Duration
	// CommandTimeout bounds each Run. Zero means only the caller's context applies.
	CommandTimeout time.Duration

	KnownHostsFile string
	HostKeyPolicy  HostKeyPolicy
}

// WithDefaults returns a copy with unset fields filled in.
func (p ConnectionParameters) WithDefaults() ConnectionParameters {
	if p.Port == 0 {
		p.Port = DefaultSSHPort
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultConnectTimeout
	}
	if p.KnownHostsFile == "" {
		p.KnownHostsFile = DefaultKnownHostsFile
	}
	return p
}

// Validate checks the parameters without touching the network.
func (p ConnectionParameters) Validate() error {
	var errs []error
	if p.Host == "" {
		errs = append(errs, errors.New("host cannot be empty"))
	}
	if p.Port <= 0 || p.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port number: %d", p.Port))
	}
	if p.User == "" {
		errs = append(errs, errors.New("user cannot be empty"))
	}
	if p.Password == "" && p.KeyFile == "" && !p.UseAgent {
		errs = append(errs, errors.New("no authentication method: set a password, a key file or enable the agent"))
	}
	if p.Timeout < 0 || p.CommandTimeout < 0 {
		errs = append(errs, errors.New("timeouts cannot be negative"))
	}
	if _, err := ParseHostKeyPolicy(p.HostKeyPolicy.String()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Address returns host:port.
func (p ConnectionParameters) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// authMethods builds the auth chain in preference order: key file, agent, password.
// The returned closer releases the agent connection once the handshake is over.
func (p ConnectionParameters) authMethods() ([]ssh.AuthMethod, io.Closer, error) {
	var methods []ssh.AuthMethod
	var closer io.Closer = nopCloser{}

	if p.KeyFile != "" {
		signer, err := loadSigner(p.KeyFile, p.Passphrase)
		if err != nil {
			return nil, nil, fmt.Errorf("load key %s: %w", p.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if p.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err == nil {
				closer = conn
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}
	}

	if p.Password != "" {
		password := p.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		closer.Close()
		return nil, nil, errors.New("no usable authentication method")
	}
	return methods, closer, nil
}

// clientConfig assembles the ssh.ClientConfig handed to the dialer.
func (p ConnectionParameters) clientConfig(hostKeyCallback ssh.HostKeyCallback) (*ssh.ClientConfig, io.Closer, error) {
	methods, closer, err := p.authMethods()
	if err != nil {
		return nil, nil, err
	}
	return &ssh.ClientConfig{
		User:            p.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         p.Timeout,
		ClientVersion:   ClientVersion,
	}, closer, nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(expanded)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(b)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, err
	}
	if passphrase == "" {
		return nil, errors.New("private key is encrypted and no passphrase was given")
	}
	return ssh.ParsePrivateKeyWithPassphrase(b, []byte(passphrase))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
