package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptyPassphrase   = errors.New("passphrase cannot be empty")
	ErrPassphraseTooLong = errors.New("passphrase exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость bcrypt для хешей в конфиге
const DefaultCost = 12

// MaxPassphraseLength - ограничение bcrypt
const MaxPassphraseLength = 72

// HashPassphrase хеширует парольную фразу вебхука. cost вне диапазона
// bcrypt приводится к границе.
func HashPassphrase(passphrase string, cost int) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}
	if len(passphrase) > MaxPassphraseLength {
		return "", ErrPassphraseTooLong
	}

	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// PassphraseMatches сравнивает фразу с хешем. Пустая фраза или битый
// хеш = несовпадение.
func PassphraseMatches(passphrase, hash string) bool {
	if passphrase == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(passphrase)) == nil
}
