package testutil

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/sync/errgroup"
)

// ServerConfig controls which credentials the test server accepts.
type ServerConfig struct {
	User          string
	Password      string
	AuthorizedKey ssh.PublicKey
	// ExtraHostKeys are offered alongside the generated ed25519 host key.
	ExtraHostKeys []ssh.Signer
}

// SSHServer is an in-process SSH server that emulates a handful of shell commands:
//
//	true, false, echo ARGS, seq N, warn ARGS (to stderr), sleep SECONDS,
//	drop (closes the connection without an exit status)
//
// Anything else exits 127 with a "not found" message on stderr. The sftp subsystem is
// served against the local filesystem.
type SSHServer struct {
	Addr string

	config   ServerConfig
	signer   ssh.Signer
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	group    errgroup.Group

	mu    sync.Mutex
	conns []net.Conn
}

// StartSSHServer listens on a random loopback port; the server stops when the test ends.
func StartSSHServer(t testing.TB, config ServerConfig) *SSHServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SSHServer{
		Addr:     ln.Addr().String(),
		config:   config,
		signer:   signer,
		listener: ln,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.group.Go(s.acceptLoop)
	t.Cleanup(s.Close)
	return s
}

// NewECDSAHostKey returns a P-256 host key signer for ServerConfig.ExtraHostKeys.
func NewECDSAHostKey(t testing.TB) ssh.Signer {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ecdsa host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("ecdsa host key signer: %v", err)
	}
	return signer
}

// Host and Port split Addr for building connection parameters.
func (s *SSHServer) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr)
	return host
}

func (s *SSHServer) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr)
	p, _ := strconv.Atoi(port)
	return p
}

func (s *SSHServer) HostKey() ssh.PublicKey {
	return s.signer.PublicKey()
}

// KnownHostsLine is the known_hosts entry a client would store for this server.
func (s *SSHServer) KnownHostsLine() string {
	return knownhosts.Line([]string{knownhosts.Normalize(s.Addr)}, s.HostKey())
}

func (s *SSHServer) Close() {
	s.cancel()
	_ = s.listener.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	_ = s.group.Wait()
}

func (s *SSHServer) serverConfig() *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{}
	if s.config.Password != "" {
		cfg.PasswordCallback = func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if c.User() == s.config.User && string(password) == s.config.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		}
	}
	if s.config.AuthorizedKey != nil {
		want := s.config.AuthorizedKey.Marshal()
		cfg.PublicKeyCallback = func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == s.config.User && bytes.Equal(key.Marshal(), want) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key for %q", c.User())
		}
	}
	cfg.AddHostKey(s.signer)
	for _, extra := range s.config.ExtraHostKeys {
		cfg.AddHostKey(extra)
	}
	return cfg
}

func (s *SSHServer) acceptLoop() error {
	cfg := s.serverConfig()
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			_ = raw.Close()
			return nil
		}
		s.conns = append(s.conns, raw)
		s.mu.Unlock()

		s.group.Go(func() error {
			s.handleConn(raw, cfg)
			return nil
		})
	}
}

func (s *SSHServer) handleConn(raw net.Conn, cfg *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(raw, cfg)
	if err != nil {
		_ = raw.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		s.group.Go(func() error {
			s.handleSession(conn, ch, chReqs)
			return nil
		})
	}
}

func (s *SSHServer) handleSession(conn *ssh.ServerConn, ch ssh.Channel, reqs <-chan *ssh.Request) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	var running sync.WaitGroup
	defer running.Wait()

	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			running.Add(1)
			go func() {
				defer running.Done()
				code, drop := execute(ctx, payload.Command, ch, ch.Stderr())
				if drop {
					_ = conn.Close()
					return
				}
				status := struct{ Status uint32 }{uint32(code)}
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&status))
				_ = ch.Close()
			}()
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			running.Add(1)
			go func() {
				defer running.Done()
				serveSFTP(ch)
			}()
		case "signal":
			cancel()
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
	// The client closed the channel.
	cancel()
	_ = ch.Close()
}

func serveSFTP(ch ssh.Channel) {
	server, err := sftp.NewServer(ch)
	if err != nil {
		_ = ch.Close()
		return
	}
	if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
		_ = server.Close()
	}
	_ = ch.Close()
}

// execute runs one emulated command and returns its exit status. drop reports that the
// connection should be severed instead of sending a status.
func execute(ctx context.Context, command string, stdout, stderr io.Writer) (code int, drop bool) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return 0, false
	}
	args := fields[1:]

	switch fields[0] {
	case "true":
		return 0, false
	case "false":
		return 1, false
	case "echo":
		fmt.Fprintln(stdout, strings.Join(args, " "))
		return 0, false
	case "warn":
		fmt.Fprintln(stderr, strings.Join(args, " "))
		return 0, false
	case "seq":
		if len(args) != 1 {
			fmt.Fprintln(stderr, "seq: missing operand")
			return 1, false
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintf(stderr, "seq: invalid argument %q\n", args[0])
			return 1, false
		}
		for i := 1; i <= n; i++ {
			fmt.Fprintln(stdout, i)
		}
		return 0, false
	case "sleep":
		seconds := 1.0
		if len(args) > 0 {
			if v, err := strconv.ParseFloat(args[0], 64); err == nil {
				seconds = v
			}
		}
		fmt.Fprintln(stdout, "sleeping")
		select {
		case <-time.After(time.Duration(seconds * float64(time.Second))):
			return 0, false
		case <-ctx.Done():
			return 137, false
		}
	case "drop":
		fmt.Fprintln(stdout, "partial")
		return 0, true
	default:
		fmt.Fprintf(stderr, "sh: 1: %s: not found\n", fields[0])
		return 127, false
	}
}
