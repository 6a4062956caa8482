// Package crypto secures the gateway to agent link with an ephemeral
// X25519 exchange and XChaCha20-Poly1305 records.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// GenerateKeyPair generates a X25519 key pair.
func GenerateKeyPair() (privateKey, publicKey [32]byte, err error) {
	if _, err := io.ReadFull(rand.Reader, privateKey[:]); err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	curve25519.ScalarBaseMult(&publicKey, &privateKey)
	return privateKey, publicKey, nil
}

// DeriveSessionKey turns the raw X25519 output into a 32-byte record key
// bound to both public keys. clientPub is always the dialing side's key.
func DeriveSessionKey(privateKey, remotePublicKey, clientPub, serverPub [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(privateKey[:], remotePublicKey[:])
	if err != nil {
		return nil, err
	}
	salt := make([]byte, 0, 64)
	salt = append(salt, clientPub[:]...)
	salt = append(salt, serverPub[:]...)

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, shared, salt, []byte("rdpgate-agent-link"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Handshake exchanges public keys over conn and returns the session key.
// The dialing side sends first.
func Handshake(conn net.Conn, isServer bool) ([]byte, error) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	var remotePub [32]byte
	if isServer {
		if _, err := io.ReadFull(conn, remotePub[:]); err != nil {
			return nil, fmt.Errorf("failed to read client public key: %w", err)
		}
		if _, err := conn.Write(pub[:]); err != nil {
			return nil, fmt.Errorf("failed to send server public key: %w", err)
		}
		return DeriveSessionKey(priv, remotePub, remotePub, pub)
	}

	if _, err := conn.Write(pub[:]); err != nil {
		return nil, fmt.Errorf("failed to send client public key: %w", err)
	}
	if _, err := io.ReadFull(conn, remotePub[:]); err != nil {
		return nil, fmt.Errorf("failed to read server public key: %w", err)
	}
	return DeriveSessionKey(priv, remotePub, pub, remotePub)
}
