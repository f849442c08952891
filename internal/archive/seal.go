package archive

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

var (
	// ErrBadPassword is returned when an archive does not open with the given password.
	ErrBadPassword = errors.New("wrong archive password")
	// ErrEmptyPassword is returned when sealing or opening without a password.
	ErrEmptyPassword = errors.New("archive password is empty")
	// ErrMalformed is returned for data that is not a sealed archive.
	ErrMalformed = errors.New("malformed archive")
)

const (
	scryptN = 32768
	scryptR = 8
	scryptP = 1

	saltSize  = 16
	nonceSize = 24
	keySize   = 32
)

var magic = []byte("GTA1")

// Seal encodes b as JSON and encrypts it under a key derived from password.
// The layout is magic | salt | nonce | secretbox.
func Seal(b Bundle, password string) ([]byte, error) {
	return sealWith(rand.Reader, b, password)
}

func sealWith(random io.Reader, b Bundle, password string) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}

	var salt [saltSize]byte
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(random, salt[:]); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	if _, err := io.ReadFull(random, nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	key, err := deriveKey(password, salt[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(magic)+saltSize+nonceSize+len(payload)+secretbox.Overhead)
	out = append(out, magic...)
	out = append(out, salt[:]...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, payload, &nonce, key), nil
}

// Open reverses Seal.
func Open(data []byte, password string) (Bundle, error) {
	if password == "" {
		return Bundle{}, ErrEmptyPassword
	}
	header := len(magic) + saltSize + nonceSize
	if len(data) < header+secretbox.Overhead || !bytes.Equal(data[:len(magic)], magic) {
		return Bundle{}, ErrMalformed
	}
	salt := data[len(magic) : len(magic)+saltSize]
	var nonce [nonceSize]byte
	copy(nonce[:], data[len(magic)+saltSize:header])

	key, err := deriveKey(password, salt)
	if err != nil {
		return Bundle{}, err
	}
	payload, ok := secretbox.Open(nil, data[header:], &nonce, key)
	if !ok {
		return Bundle{}, ErrBadPassword
	}

	var b Bundle
	if err := json.Unmarshal(payload, &b); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return b, nil
}

func deriveKey(password string, salt []byte) (*[keySize]byte, error) {
	raw, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}
