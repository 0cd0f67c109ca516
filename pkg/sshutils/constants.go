package sshutils

import "time"

const (
	DefaultSSHPort        = 22
	DefaultConnectTimeout = 30 * time.Second
	DefaultKnownHostsFile = "~/.ssh/known_hosts"
	DefaultFileMode       = 0644

	// ClientVersion is sent to the server during the protocol exchange.
	ClientVersion = "SSH-2.0-ssh-template"

	// exitStatusUnknown is reported when the channel closed before an exit status arrived.
	exitStatusUnknown = -1
)
