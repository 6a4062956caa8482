package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// maxRecordSize bounds a single sealed record read from the peer.
const maxRecordSize = 1 << 20

var ErrRecordTooLarge = errors.New("encrypted record exceeds limit")

// SecureConn wraps a net.Conn with XChaCha20-Poly1305 records:
// 4-byte big-endian length, 24-byte nonce, sealed payload.
type SecureConn struct {
	net.Conn
	aead    cipher.AEAD
	wmu     sync.Mutex
	readBuf []byte
}

func NewSecureConn(conn net.Conn, key []byte) (*SecureConn, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &SecureConn{
		Conn: conn,
		aead: aead,
	}, nil
}

// Write seals p into one record. Large writes are split so that every
// record stays under maxRecordSize.
func (s *SecureConn) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	chunkLimit := maxRecordSize - s.aead.NonceSize() - s.aead.Overhead()
	written := 0
	for written < len(p) {
		end := written + chunkLimit
		if end > len(p) {
			end = len(p)
		}
		if err := s.writeRecord(p[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

func (s *SecureConn) writeRecord(chunk []byte) error {
	nonceSize := s.aead.NonceSize()
	record := make([]byte, 4+nonceSize, 4+nonceSize+len(chunk)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, record[4:4+nonceSize]); err != nil {
		return err
	}
	record = s.aead.Seal(record, record[4:4+nonceSize], chunk, nil)
	binary.BigEndian.PutUint32(record[:4], uint32(len(record)-4))
	_, err := s.Conn.Write(record)
	return err
}

func (s *SecureConn) Read(p []byte) (int, error) {
	if len(s.readBuf) > 0 {
		n := copy(p, s.readBuf)
		s.readBuf = s.readBuf[n:]
		return n, nil
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(s.Conn, lenBuf[:]); err != nil {
		return 0, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxRecordSize {
		return 0, ErrRecordTooLarge
	}
	nonceSize := s.aead.NonceSize()
	if int(length) < nonceSize+s.aead.Overhead() {
		return 0, fmt.Errorf("encrypted record too short: %d", length)
	}

	record := make([]byte, length)
	if _, err := io.ReadFull(s.Conn, record); err != nil {
		return 0, err
	}

	decrypted, err := s.aead.Open(nil, record[:nonceSize], record[nonceSize:], nil)
	if err != nil {
		return 0, fmt.Errorf("decryption failed: %w", err)
	}

	n := copy(p, decrypted)
	if n < len(decrypted) {
		s.readBuf = decrypted[n:]
	}
	return n, nil
}
