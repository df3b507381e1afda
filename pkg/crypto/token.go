// Package crypto - секреты сервиса: bcrypt-хеш парольной фразы вебхука
// и токен моста брокера, запечатанный AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

// KeySize - длина ключа AES-256
const KeySize = 32

var (
	ErrInvalidKeyLength = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrInvalidSealed    = errors.New("sealed token is not valid base64")
	ErrSealedTooShort   = errors.New("sealed token too short")
	ErrOpenFailed       = errors.New("token decryption failed: authentication error")
)

func newGCM(key string) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// SealToken шифрует токен ключом key и возвращает base64(nonce|ciphertext|tag)
func SealToken(token, key string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(token), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenToken расшифровывает результат SealToken
func OpenToken(sealed, key string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrInvalidSealed
	}
	if len(raw) < gcm.NonceSize()+gcm.Overhead() {
		return "", ErrSealedTooShort
	}

	nonce, data := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}

// GenerateKey возвращает случайный ключ из печатных символов (для .env)
func GenerateKey() (string, error) {
	raw := make([]byte, KeySize*3/4)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
