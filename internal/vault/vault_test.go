package vault

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := New("test-master-key-0123456789")
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt failed: %v", err)
	}

	blob, err := v.Encrypt("sk-super-secret-alpha", "user-1", salt)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if !strings.HasPrefix(blob, "v1:") {
		t.Errorf("blob missing version prefix: %s", blob)
	}
	if strings.Contains(blob, "alpha") {
		t.Error("blob leaks plaintext")
	}

	plain, err := v.Decrypt(blob, "user-1", salt)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if plain != "sk-super-secret-alpha" {
		t.Errorf("round trip mismatch: %s", plain)
	}
}

func TestDecryptWithWrongUserFails(t *testing.T) {
	v := New("test-master-key-0123456789")
	saltA, _ := NewSalt()
	saltB, _ := NewSalt()

	blob, err := v.Encrypt("sk-secret", "user-a", saltA)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err := v.Decrypt(blob, "user-b", saltB); !IsDecryptError(err) {
		t.Fatalf("expected ErrDecrypt for wrong user, got: %v", err)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	v := New("test-master-key-0123456789")
	salt, _ := NewSalt()

	cases := []string{
		"",
		"plaintext-key",
		"v1:!!!not-base64!!!",
		"v1:QQ==", // too short for a nonce
	}
	for _, blob := range cases {
		if _, err := v.Decrypt(blob, "user-1", salt); !IsDecryptError(err) {
			t.Errorf("blob %q: expected ErrDecrypt, got %v", blob, err)
		}
	}
}

func TestEncryptIsNondeterministic(t *testing.T) {
	v := New("test-master-key-0123456789")
	salt, _ := NewSalt()

	a, _ := v.Encrypt("same", "u", salt)
	b, _ := v.Encrypt("same", "u", salt)
	if a == b {
		t.Error("two encryptions of the same plaintext should differ (random nonce)")
	}
}

func TestRedact(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"sk-1234567890abcdef", "sk-****cdef"},
		{"short", "****"},
		{"", "****"},
	}
	for _, c := range cases {
		if got := Redact(c.in); got != c.want {
			t.Errorf("Redact(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
