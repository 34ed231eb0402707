package backend

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// MagicBytes is the 4-byte prefix for framed entry files.
	MagicBytes = []byte("DKV1")

	// ErrInvalidMagic is returned when a file doesn't start with the expected magic bytes.
	ErrInvalidMagic = errors.New("invalid magic bytes: expected DKV1")

	// ErrKeyTooLarge is returned when a key exceeds MaxKeySize.
	ErrKeyTooLarge = errors.New("key exceeds maximum size")
)

// MaxKeySize is the maximum allowed size for a framed key (64 KiB).
const MaxKeySize = 64 * 1024

// headerSize is the fixed prefix: magic plus the key length.
const headerSize = 4 + 4

// WriteEntry writes a framed key/value entry to the writer.
// Format: MAGIC (4 bytes) | KEYLEN (uint32 big-endian) | KEYBYTES | VALUEBYTES
func WriteEntry(w io.Writer, key, value string) error {
	if len(key) > MaxKeySize {
		return ErrKeyTooLarge
	}

	if _, err := w.Write(MagicBytes); err != nil {
		return fmt.Errorf("writing magic bytes: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(key))); err != nil { //nolint:gosec // key length is bounds-checked above
		return fmt.Errorf("writing key length: %w", err)
	}
	if _, err := io.WriteString(w, key); err != nil {
		return fmt.Errorf("writing key: %w", err)
	}
	if _, err := io.WriteString(w, value); err != nil {
		return fmt.Errorf("writing value: %w", err)
	}
	return nil
}

// ReadEntryKey reads the magic bytes and key of a framed entry, leaving the
// reader positioned at the start of the value.
func ReadEntryKey(r io.Reader) (string, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", fmt.Errorf("reading header: %w", err)
	}
	if string(hdr[:4]) != string(MagicBytes) {
		return "", ErrInvalidMagic
	}

	keyLen := binary.BigEndian.Uint32(hdr[4:])
	if keyLen > MaxKeySize {
		return "", ErrKeyTooLarge
	}

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return "", fmt.Errorf("reading key: %w", err)
	}
	return string(key), nil
}

// ReadEntry reads a complete framed entry.
func ReadEntry(r io.Reader) (key, value string, err error) {
	br := bufio.NewReader(r)
	key, err = ReadEntryKey(br)
	if err != nil {
		return "", "", err
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return "", "", fmt.Errorf("reading value: %w", err)
	}
	return key, string(body), nil
}

// FrameOverhead returns the bytes WriteEntry adds in front of the value for key.
func FrameOverhead(key string) int64 {
	return int64(headerSize + len(key))
}
