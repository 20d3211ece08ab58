package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := DeriveKey("salt-a", "salt-b")
	stored, err := Encrypt(key, "super-secret-api-key")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	plain, err := Decrypt(key, stored)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "super-secret-api-key" {
		t.Errorf("got %q, want original plaintext", plain)
	}
}

func TestEncryptGCMRoundTrip(t *testing.T) {
	key := DeriveKey("salt-a")
	stored, err := EncryptGCM(key, "gcm-secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	plain, err := Decrypt(key, stored)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "gcm-secret" {
		t.Errorf("got %q", plain)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key := DeriveKey("correct-salt")
	wrongKey := DeriveKey("wrong-salt")
	stored, _ := Encrypt(key, "value")

	if _, err := Decrypt(wrongKey, stored); err == nil {
		t.Fatal("expected authentication failure with wrong key")
	}
}

func TestDecryptMalformedInput(t *testing.T) {
	key := DeriveKey("salt")
	cases := []string{
		"",
		"no-separator-here",
		"sb1$not-base64!!!",
		"unknownscheme$" + base64.StdEncoding.EncodeToString([]byte("whatever")),
	}
	for _, c := range cases {
		if _, err := Decrypt(key, c); err == nil {
			t.Errorf("expected error decrypting %q", c)
		}
	}
}

// legacyEncryptCBC mimics the deprecated write path so the read-only
// decrypt branch has a realistic fixture to exercise.
func legacyEncryptCBC(t *testing.T, key [32]byte, plaintext string) string {
	t.Helper()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append([]byte(plaintext), make([]byte, padLen)...)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("iv: %v", err)
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	raw := append(append([]byte{}, iv...), ciphertext...)
	return schemeCBC + separator + base64.StdEncoding.EncodeToString(raw)
}

func TestDecryptLegacyCBC(t *testing.T) {
	key := DeriveKey("legacy-salt")
	stored := legacyEncryptCBC(t, key, "legacy-plaintext-value")

	if !IsLegacyScheme(stored) {
		t.Fatal("expected IsLegacyScheme to detect the cbc1 marker")
	}

	plain, err := Decrypt(key, stored)
	if err != nil {
		t.Fatalf("decrypt legacy: %v", err)
	}
	if plain != "legacy-plaintext-value" {
		t.Errorf("got %q", plain)
	}
}

func TestRotateMovesLegacyOntoPrimaryScheme(t *testing.T) {
	oldKey := DeriveKey("old-salt")
	newKey := DeriveKey("new-salt")
	legacy := legacyEncryptCBC(t, oldKey, "rotate-me")

	rotated, err := Rotate(oldKey, newKey, legacy)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if IsLegacyScheme(rotated) {
		t.Error("expected rotated value to use the primary scheme")
	}

	plain, err := Decrypt(newKey, rotated)
	if err != nil {
		t.Fatalf("decrypt rotated: %v", err)
	}
	if plain != "rotate-me" {
		t.Errorf("got %q", plain)
	}
}

func TestCacheGetPutInvalidate(t *testing.T) {
	c := NewCache()
	if _, ok := c.Get(1); ok {
		t.Fatal("expected empty cache miss")
	}
	c.Put(1, "decrypted-value")
	v, ok := c.Get(1)
	if !ok || v != "decrypted-value" {
		t.Fatalf("expected cache hit, got %q ok=%v", v, ok)
	}
	c.Invalidate(1)
	if _, ok := c.Get(1); ok {
		t.Fatal("expected cache miss after invalidate")
	}
}
