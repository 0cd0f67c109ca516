package sshutils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// DefaultSSHDialer dials TCP and runs the SSH handshake under a single deadline.
type DefaultSSHDialer struct{}

func (d *DefaultSSHDialer) Dial(
	ctx context.Context,
	network, addr string,
	config *ssh.ClientConfig,
) (SSHClienter, error) {
	netDialer := net.Dialer{Timeout: config.Timeout}
	conn, err := netDialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	// ssh.ClientConfig.Timeout only covers the TCP connect; bound the handshake too.
	deadline := time.Time{}
	if config.Timeout > 0 {
		deadline = time.Now().Add(config.Timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	if !deadline.IsZero() {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	interrupted := !stop()
	if err != nil {
		conn.Close()
		if interrupted && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) && !errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", os.ErrDeadlineExceeded, err)
		}
		return nil, err
	}
	if interrupted {
		c.Close()
		return nil, ctx.Err()
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		c.Close()
		return nil, err
	}
	return &SSHClientWrapper{Client: ssh.NewClient(c, chans, reqs)}, nil
}
