package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"

	"golang.org/x/crypto/ssh"
)

// GenerateSSHKeyMaterial returns an OpenSSH private key (encrypted when passphrase is set),
// its authorized_keys line and the parsed public key.
func GenerateSSHKeyMaterial(passphrase string) (string, string, ssh.PublicKey) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "ssh-template test key")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "ssh-template test key", []byte(passphrase))
	}
	if err != nil {
		panic(err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		panic(err)
	}

	return string(pem.EncodeToMemory(block)), string(ssh.MarshalAuthorizedKey(sshPub)), sshPub
}

// CreateSSHPublicPrivateKeyPairOnDisk writes a fresh key pair to temp files and returns
// public path, public cleanup, private path, private cleanup.
func CreateSSHPublicPrivateKeyPairOnDisk() (string, func(), string, func()) {
	privateKey, publicKey, _ := GenerateSSHKeyMaterial("")
	return writeKeyPair(privateKey, publicKey)
}

func writeKeyPair(privateKey, publicKey string) (string, func(), string, func()) {
	testSSHPublicKeyPath, cleanupPublicKey, err := WriteStringToTempFile(publicKey)
	if err != nil {
		panic(err)
	}
	testSSHPrivateKeyPath, cleanupPrivateKey, err := WriteStringToTempFile(privateKey)
	if err != nil {
		panic(err)
	}

	return testSSHPublicKeyPath, cleanupPublicKey, testSSHPrivateKeyPath, cleanupPrivateKey
}
