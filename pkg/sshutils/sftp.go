package sshutils

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/sftp"
)

// PushFile copies a local file to remotePath over the SFTP subsystem and sets its mode.
// It occupies the session the same way a command does.
func (h *SessionHandle) PushFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	client, err := h.connectedClient("push")
	if err != nil {
		return err
	}

	fail := func(kind ErrorKind, err error) *SSHError {
		e := newError("push", kind, h.params.Address(), err)
		e.Command = "sftp " + remotePath
		return e
	}

	expanded, err := homedir.Expand(localPath)
	if err != nil {
		return fail(KindInvalidParameters, err)
	}
	local, err := os.Open(expanded)
	if err != nil {
		return fail(KindInvalidParameters, fmt.Errorf("open local file: %w", err))
	}
	defer local.Close()

	if mode == 0 {
		mode = DefaultFileMode
	}

	session, err := client.NewSession()
	if err != nil {
		return fail(KindChannel, fmt.Errorf("open session: %w", err))
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return fail(KindChannel, err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fail(KindChannel, err)
	}
	if err := session.RequestSubsystem("sftp"); err != nil {
		return fail(KindChannel, fmt.Errorf("request sftp subsystem: %w", err))
	}

	sftpClient, err := sftp.NewClientPipe(stdout, stdin)
	if err != nil {
		return fail(KindChannel, fmt.Errorf("failed to create SFTP client: %w", err))
	}
	defer sftpClient.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = sftpClient.Close()
	})
	defer stop()

	h.log.Infof("Pushing %s to %s", expanded, remotePath)

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return fail(KindChannel, fmt.Errorf("failed to create remote directory: %w", err))
		}
	}

	remote, err := sftpClient.Create(remotePath)
	if err != nil {
		return fail(KindChannel, fmt.Errorf("failed to create remote file: %w", err))
	}
	written, err := io.Copy(remote, local)
	if closeErr := remote.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(contextErrorKind(ctxErr), ctxErr)
		}
		return fail(KindChannel, fmt.Errorf("failed to copy file contents: %w", err))
	}

	if err := sftpClient.Chmod(remotePath, mode); err != nil {
		return fail(KindChannel, fmt.Errorf("failed to set permissions: %w", err))
	}

	h.log.Infof("Pushed %d bytes to %s", written, remotePath)
	return nil
}
