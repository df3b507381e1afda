package crypto

import (
	"strings"
	"testing"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestSealOpenToken(t *testing.T) {
	sealed, err := SealToken("bridge-token", testKey)
	if err != nil {
		t.Fatalf("SealToken: %v", err)
	}
	if strings.Contains(sealed, "bridge-token") {
		t.Fatal("sealed token must not contain plaintext")
	}

	plain, err := OpenToken(sealed, testKey)
	if err != nil {
		t.Fatalf("OpenToken: %v", err)
	}
	if plain != "bridge-token" {
		t.Errorf("OpenToken = %q", plain)
	}

	again, _ := SealToken("bridge-token", testKey)
	if again == sealed {
		t.Error("nonce must differ between seals")
	}
}

func TestOpenToken_Errors(t *testing.T) {
	sealed, _ := SealToken("bridge-token", testKey)
	otherKey := strings.Repeat("x", KeySize)

	tests := []struct {
		name   string
		sealed string
		key    string
		want   error
	}{
		{"short key", sealed, "short", ErrInvalidKeyLength},
		{"wrong key", sealed, otherKey, ErrOpenFailed},
		{"not base64", "%%%", testKey, ErrInvalidSealed},
		{"truncated", "AAAA", testKey, ErrSealedTooShort},
		{"tampered", sealed[:len(sealed)-4] + "AAAA", testKey, ErrOpenFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := OpenToken(tt.sealed, tt.key); err != tt.want {
				t.Errorf("OpenToken error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if len(key) != KeySize {
		t.Fatalf("len(key) = %d, want %d", len(key), KeySize)
	}
	if _, err := SealToken("x", key); err != nil {
		t.Errorf("generated key rejected: %v", err)
	}
}

func TestPassphrase(t *testing.T) {
	hash, err := HashPassphrase("s3cret", 4)
	if err != nil {
		t.Fatalf("HashPassphrase: %v", err)
	}

	tests := []struct {
		name       string
		passphrase string
		hash       string
		want       bool
	}{
		{"match", "s3cret", hash, true},
		{"mismatch", "guess", hash, false},
		{"empty passphrase", "", hash, false},
		{"empty hash", "s3cret", "", false},
		{"garbage hash", "s3cret", "not-a-bcrypt-hash", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PassphraseMatches(tt.passphrase, tt.hash); got != tt.want {
				t.Errorf("PassphraseMatches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHashPassphrase_Validation(t *testing.T) {
	if _, err := HashPassphrase("", 4); err != ErrEmptyPassphrase {
		t.Errorf("empty: err = %v", err)
	}
	if _, err := HashPassphrase(strings.Repeat("a", MaxPassphraseLength+1), 4); err != ErrPassphraseTooLong {
		t.Errorf("too long: err = %v", err)
	}
	// cost ниже минимума поднимается до bcrypt.MinCost
	if _, err := HashPassphrase("ok", 1); err != nil {
		t.Errorf("low cost: err = %v", err)
	}
}
