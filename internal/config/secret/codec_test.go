package secret

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	cases := []string{
		"",
		"test_password_123",
		"p@ssw0rd!#$%^&*()",
		"пароль-汉字-🔑",
		strings.Repeat("x", MaxLen),
	}

	for _, plaintext := range cases {
		encrypted, err := Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		decrypted, err := Decrypt(encrypted)
		if err != nil {
			t.Fatalf("Decrypt(Encrypt(%q)): %v", plaintext, err)
		}
		if decrypted != plaintext {
			t.Errorf("roundtrip mismatch: got %q, want %q", decrypted, plaintext)
		}
	}
}

func TestEncryptDeterministic(t *testing.T) {
	a, err := Encrypt("stable")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt("stable")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("Encrypt must be deterministic for file interchange with the legacy tool")
	}
}

func TestEncryptBufferSize(t *testing.T) {
	encrypted, err := Encrypt("test")
	if err != nil {
		t.Fatal(err)
	}
	raw, err := hex.DecodeString(encrypted)
	if err != nil {
		t.Fatalf("ciphertext is not hex: %v", err)
	}
	if len(raw) != 128 {
		t.Errorf("ciphertext is %d bytes, want 128", len(raw))
	}
}

func TestEncryptTooLong(t *testing.T) {
	_, err := Encrypt(strings.Repeat("x", MaxLen+1))
	if !errors.Is(err, ErrTooLong) {
		t.Errorf("expected ErrTooLong, got %v", err)
	}
}

// Flipping any single bit anywhere in the ciphertext must surface as a
// decode error, never as a silently wrong credential.
func TestDecryptDetectsBitFlips(t *testing.T) {
	encrypted, err := Encrypt("hunter2-but-longer")
	if err != nil {
		t.Fatal(err)
	}
	raw, err := hex.DecodeString(encrypted)
	if err != nil {
		t.Fatal(err)
	}

	for i := range raw {
		for bit := 0; bit < 8; bit++ {
			corrupted := append([]byte(nil), raw...)
			corrupted[i] ^= 1 << bit

			got, err := Decrypt(hex.EncodeToString(corrupted))
			if err == nil {
				t.Fatalf("byte %d bit %d: corruption accepted, decoded %q", i, bit, got)
			}
			if !errors.Is(err, ErrMalformedCiphertext) {
				t.Fatalf("byte %d bit %d: expected ErrMalformedCiphertext, got %v", i, bit, err)
			}
		}
	}
}

func TestDecryptMalformedInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not hex", "zz"},
		{"too short", "00ff"},
		{"too long", strings.Repeat("00", 129)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decrypt(tc.input); !errors.Is(err, ErrMalformedCiphertext) {
				t.Errorf("Decrypt(%q) = %v, want ErrMalformedCiphertext", tc.input, err)
			}
		})
	}
}
