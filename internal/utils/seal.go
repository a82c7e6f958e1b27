package utils

import (
    "crypto/rand"
    "encoding/base64"
    "errors"
    "fmt"

    "golang.org/x/crypto/chacha20poly1305"
)

// ErrSealedData is returned when a ciphertext cannot be opened.
var ErrSealedData = errors.New("sealed data invalid")

// Sealer encrypts short strings (shipping addresses) with XChaCha20-Poly1305.
// The output is base64(nonce || ciphertext) so it fits a TEXT column.
type Sealer struct {
    key []byte
}

// NewSealer validates the key length.
func NewSealer(key []byte) (*Sealer, error) {
    if len(key) != chacha20poly1305.KeySize {
        return nil, fmt.Errorf("sealer key: want %d bytes, got %d", chacha20poly1305.KeySize, len(key))
    }
    k := make([]byte, len(key))
    copy(k, key)
    return &Sealer{key: k}, nil
}

// Seal encrypts plain.  additional binds the ciphertext to a row (the order
// id) so sealed values cannot be swapped between rows.
func (s *Sealer) Seal(plain, additional string) (string, error) {
    aead, err := chacha20poly1305.NewX(s.key)
    if err != nil {
        return "", err
    }
    nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
    if _, err := rand.Read(nonce); err != nil {
        return "", err
    }
    out := aead.Seal(nonce, nonce, []byte(plain), []byte(additional))
    return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed, additional string) (string, error) {
    raw, err := base64.StdEncoding.DecodeString(sealed)
    if err != nil {
        return "", fmt.Errorf("%w: %v", ErrSealedData, err)
    }
    aead, err := chacha20poly1305.NewX(s.key)
    if err != nil {
        return "", err
    }
    if len(raw) < aead.NonceSize() {
        return "", ErrSealedData
    }
    nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
    plain, err := aead.Open(nil, nonce, ct, []byte(additional))
    if err != nil {
        return "", fmt.Errorf("%w: %v", ErrSealedData, err)
    }
    return string(plain), nil
}
