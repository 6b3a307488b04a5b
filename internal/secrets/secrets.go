// Package secrets encrypts and decrypts session account passwords.
// AES-256-CBC with PKCS#7 padding; ciphertext, IV and key travel hex-encoded.
// The runtime only decrypts; encryption belongs to the enrollment utility.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

var errBadPadding = errors.New("secrets: invalid padding")

type Box struct {
	key []byte
}

// New builds a Box from a hex-encoded 32-byte key.
func New(keyHex string) (*Box, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return &Box{key: key}, nil
}

func (b *Box) Decrypt(cipherHex, ivHex string) (string, error) {
	ciphertext, err := hex.DecodeString(cipherHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}

	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (b *Box) Encrypt(plain string) (cipherHex, ivHex string, err error) {
	if plain == "" {
		return "", "", errors.New("nothing to encrypt")
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", "", fmt.Errorf("generate iv: %w", err)
	}

	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", "", fmt.Errorf("init cipher: %w", err)
	}

	padded := pkcs7Pad([]byte(plain), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(out), hex.EncodeToString(iv), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, errBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errBadPadding
		}
	}
	return data[:len(data)-n], nil
}
