package sshutils

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tg4nd4lf/ssh-template/pkg/logger"
)

// HostKeyPolicy decides what happens to a host key absent from the known-hosts file.
// Keys that conflict with a known entry, or are revoked, are rejected under every policy.
type HostKeyPolicy int

const (
	// HostKeyStrict rejects unknown keys.
	HostKeyStrict HostKeyPolicy = iota
	// HostKeyWarn accepts unknown keys and logs a warning. This is permissive: the first
	// connection to a host is open to interception. Opt in explicitly.
	HostKeyWarn
	// HostKeyTrustOnFirstUse records unknown keys in the known-hosts file and accepts them.
	HostKeyTrustOnFirstUse
)

var hostKeyPolicyNames = map[HostKeyPolicy]string{
	HostKeyStrict:          "strict",
	HostKeyWarn:            "warn",
	HostKeyTrustOnFirstUse: "tofu",
}

func (p HostKeyPolicy) String() string {
	if s, ok := hostKeyPolicyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("HostKeyPolicy(%d)", int(p))
}

// ParseHostKeyPolicy accepts strict, warn, tofu (or trust-on-first-use). Empty means strict.
func ParseHostKeyPolicy(s string) (HostKeyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return HostKeyStrict, nil
	case "warn", "warning":
		return HostKeyWarn, nil
	case "tofu", "trust-on-first-use":
		return HostKeyTrustOnFirstUse, nil
	default:
		return HostKeyStrict, fmt.Errorf("unknown host key policy %q (want strict, warn or tofu)", s)
	}
}

// hostKeyChecker wraps knownhosts with a policy and remembers why it rejected a key,
// so the connect error can be classified without parsing handshake messages.
type hostKeyChecker struct {
	policy HostKeyPolicy
	path   string
	log    *logger.Logger

	mu       sync.Mutex
	rejected error
}

func newHostKeyChecker(policy HostKeyPolicy, path string, l *logger.Logger) (*hostKeyChecker, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand known hosts path: %w", err)
	}
	return &hostKeyChecker{policy: policy, path: expanded, log: l}, nil
}

func (c *hostKeyChecker) Callback() ssh.HostKeyCallback {
	return c.check
}

// Rejected returns the error that caused the last rejection, if any.
func (c *hostKeyChecker) Rejected() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}

func (c *hostKeyChecker) reject(err error) error {
	c.mu.Lock()
	c.rejected = err
	c.mu.Unlock()
	return err
}

func (c *hostKeyChecker) check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	err := c.lookup(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
		// Mismatch, revoked key, or an unreadable database.
		c.log.Errorf("Unable to verify server's host key for %s: %v", hostname, err)
		return c.reject(err)
	}

	fingerprint := ssh.FingerprintSHA256(key)
	switch c.policy {
	case HostKeyWarn:
		c.log.Warnf("Unknown %s host key for %s (%s) accepted without verification",
			key.Type(), hostname, fingerprint)
		return nil
	case HostKeyTrustOnFirstUse:
		if err := c.remember(hostname, key); err != nil {
			return c.reject(fmt.Errorf("record host key: %w", err))
		}
		c.log.Infof("Added %s host key for %s (%s) to %s", key.Type(), hostname, fingerprint, c.path)
		return nil
	default:
		c.log.Errorf("Unknown %s host key for %s (%s) rejected", key.Type(), hostname, fingerprint)
		return c.reject(fmt.Errorf("host %s not found in %s: %w", hostname, c.path, err))
	}
}

func (c *hostKeyChecker) lookup(hostname string, remote net.Addr, key ssh.PublicKey) error {
	if _, err := os.Stat(c.path); errors.Is(err, os.ErrNotExist) {
		return &knownhosts.KeyError{}
	}
	db, err := knownhosts.New(c.path)
	if err != nil {
		return fmt.Errorf("load known hosts: %w", err)
	}
	return db(hostname, remote, key)
}

// KnownAlgorithms returns the host key algorithms recorded for address, in file order,
// so the handshake asks for a key the known-hosts file can verify. Unknown hosts and an
// unreadable file yield nil, leaving negotiation to the library defaults.
func (c *hostKeyChecker) KnownAlgorithms(address string) []string {
	err := c.lookup(address, &net.TCPAddr{}, placeholderKey{})
	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) || len(keyErr.Want) == 0 {
		return nil
	}

	known := keyErr.Want
	sort.SliceStable(known, func(i, j int) bool { return known[i].Line < known[j].Line })

	var algos []string
	seen := make(map[string]bool)
	for _, k := range known {
		for _, algo := range hostKeyAlgorithmsFor(k.Key.Type()) {
			if !seen[algo] {
				seen[algo] = true
				algos = append(algos, algo)
			}
		}
	}
	return algos
}

// hostKeyAlgorithmsFor maps a known_hosts key type to the signature algorithms that
// verify with it. RSA keys sign with SHA-2 first.
func hostKeyAlgorithmsFor(keyType string) []string {
	switch keyType {
	case ssh.KeyAlgoRSA:
		return []string{ssh.KeyAlgoRSASHA512, ssh.KeyAlgoRSASHA256, ssh.KeyAlgoRSA}
	case ssh.CertAlgoRSAv01:
		return []string{ssh.CertAlgoRSASHA512v01, ssh.CertAlgoRSASHA256v01, ssh.CertAlgoRSAv01}
	default:
		return []string{keyType}
	}
}

// placeholderKey never matches a known_hosts entry; looking it up reports every key
// recorded for the host.
type placeholderKey struct{}

func (placeholderKey) Type() string                            { return "placeholder" }
func (placeholderKey) Marshal() []byte                         { return []byte("placeholder") }
func (placeholderKey) Verify(_ []byte, _ *ssh.Signature) error { return errors.New("placeholder key") }

func (c *hostKeyChecker) remember(hostname string, key ssh.PublicKey) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
