// Package secret implements the password encoding scheme used by the legacy
// desktop tool so that connection files remain interchangeable with it.
//
// The layout is a fixed 128-byte buffer, hex-encoded:
//
//	byte 0            filler length F
//	bytes 1..F        filler (SHA-1 chain over key stream and payload)
//	bytes F+1..127    plaintext XORed with the key stream
//
// The key stream is derived deterministically from a fixed seed, so the same
// plaintext always encrypts to the same ciphertext. The filler doubles as an
// integrity check: Decrypt recomputes it and rejects any ciphertext whose
// filler does not match, so a corrupted value is reported instead of being
// silently decoded into a wrong credential.
package secret

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"unicode/utf8"
)

const bufferSize = 128

// MaxLen is the longest plaintext the buffer can carry while still leaving
// room for a full SHA-1 digest of filler. A shorter filler would weaken the
// integrity check to the point where single-bit corruption can slip through.
const MaxLen = bufferSize - sha1.Size - 1

var (
	// ErrMalformedCiphertext is returned by Decrypt for input that is not a
	// well-formed, uncorrupted ciphertext.
	ErrMalformedCiphertext = errors.New("secret: malformed ciphertext")

	// ErrTooLong is returned by Encrypt when the plaintext exceeds MaxLen bytes.
	ErrTooLong = errors.New("secret: plaintext too long")
)

// keySeed is the fixed 160-bit seed the legacy tool derives its key stream
// from. Changing it breaks compatibility with stored connection files.
var keySeed = [sha1.Size]byte{
	0xb5, 0x6a, 0xcd, 0x3f, 0x91, 0x5e, 0x28, 0xe4, 0x77, 0x0b,
	0xd2, 0x49, 0x8c, 0x16, 0xf3, 0xa1, 0x64, 0x9d, 0x3b, 0xc8,
}

// Encrypt encodes plaintext into the legacy hex ciphertext form.
func Encrypt(plaintext string) (string, error) {
	payload := []byte(plaintext)
	if len(payload) > MaxLen {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLong, len(payload), MaxLen)
	}

	key := keyStream(len(payload))
	encrypted := make([]byte, len(payload))
	for i, b := range payload {
		encrypted[i] = b ^ key[i]
	}

	fillerLen := bufferSize - len(encrypted) - 1
	filler := fillerStream(key, encrypted, fillerLen)

	out := make([]byte, bufferSize)
	out[0] = byte(fillerLen)
	copy(out[1:], filler)
	copy(out[1+fillerLen:], encrypted)

	return hex.EncodeToString(out), nil
}

// Decrypt decodes a ciphertext produced by Encrypt (or by the legacy tool).
// It returns ErrMalformedCiphertext for input of the wrong size, with a
// corrupted filler or payload, or whose decoded bytes are not valid UTF-8.
func Decrypt(ciphertext string) (string, error) {
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if len(raw) != bufferSize {
		return "", fmt.Errorf("%w: %d bytes (want %d)", ErrMalformedCiphertext, len(raw), bufferSize)
	}

	fillerLen := int(raw[0])
	if fillerLen < sha1.Size || fillerLen >= bufferSize {
		return "", fmt.Errorf("%w: filler length %d out of range", ErrMalformedCiphertext, fillerLen)
	}
	secretLen := bufferSize - fillerLen - 1

	key := keyStream(secretLen)
	encrypted := raw[1+fillerLen:]

	expected := fillerStream(key, encrypted, fillerLen)
	if subtle.ConstantTimeCompare(expected, raw[1:1+fillerLen]) != 1 {
		return "", fmt.Errorf("%w: integrity check failed", ErrMalformedCiphertext)
	}

	plain := make([]byte, secretLen)
	for i, b := range encrypted {
		plain[i] = b ^ key[i]
	}
	if !utf8.Valid(plain) {
		return "", fmt.Errorf("%w: decoded bytes are not valid UTF-8", ErrMalformedCiphertext)
	}

	return string(plain), nil
}

// keyStream derives n key bytes from the fixed seed by chaining SHA-1.
func keyStream(n int) []byte {
	out := make([]byte, 0, n)
	digest := sha1.Sum(keySeed[:])
	for len(out) < n {
		out = append(out, digest[:]...)
		digest = sha1.Sum(digest[:])
	}
	return out[:n]
}

// fillerStream derives n filler bytes by chaining SHA-1 over the key stream
// and the encrypted payload. Binding the payload into the chain is what lets
// Decrypt detect corruption anywhere in the buffer.
func fillerStream(key, encrypted []byte, n int) []byte {
	h := sha1.New()
	h.Write(key)
	h.Write(encrypted)
	var digest [sha1.Size]byte
	copy(digest[:], h.Sum(nil))

	out := make([]byte, 0, n)
	for len(out) < n {
		out = append(out, digest[:]...)
		digest = sha1.Sum(digest[:])
	}
	return out[:n]
}
