package crypto

import (
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewVault_RequiresSecret(t *testing.T) {
	if _, err := NewVault("", testLogger()); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	vault, err := NewVault("0123456789abcdef0123456789abcdef", testLogger())
	if err != nil {
		t.Fatalf("NewVault returned error: %v", err)
	}

	inputs := []string{
		"a",
		"some-oauth-access-token",
		strings.Repeat("x", 4096),
		"unicode ✓ token",
	}

	for _, plaintext := range inputs {
		envelope, err := vault.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) returned error: %v", plaintext, err)
		}
		if envelope == plaintext {
			t.Errorf("envelope equals plaintext for %q", plaintext)
		}
		if got := vault.Decrypt(envelope); got != plaintext {
			t.Errorf("round trip mismatch: got %q, want %q", got, plaintext)
		}
	}
}

func TestEncrypt_EmptyYieldsEmpty(t *testing.T) {
	vault, err := NewVault("0123456789abcdef0123456789abcdef", testLogger())
	if err != nil {
		t.Fatalf("NewVault returned error: %v", err)
	}

	envelope, err := vault.Encrypt("")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if envelope != "" {
		t.Errorf("expected empty envelope, got %q", envelope)
	}
	if got := vault.Decrypt(""); got != "" {
		t.Errorf("expected empty plaintext, got %q", got)
	}
}

func TestEncrypt_NonceVariesPerCall(t *testing.T) {
	vault, err := NewVault("0123456789abcdef0123456789abcdef", testLogger())
	if err != nil {
		t.Fatalf("NewVault returned error: %v", err)
	}

	first, err := vault.Encrypt("token")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	second, err := vault.Encrypt("token")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if first == second {
		t.Error("expected distinct envelopes for repeated plaintext")
	}
}

func TestDecrypt_TamperedEnvelope(t *testing.T) {
	vault, err := NewVault("0123456789abcdef0123456789abcdef", testLogger())
	if err != nil {
		t.Fatalf("NewVault returned error: %v", err)
	}

	envelope, err := vault.Encrypt("refresh-token")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}

	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		t.Fatalf("unexpected envelope shape: %q", envelope)
	}

	// Flip a hex digit in the ciphertext field.
	body := []byte(parts[1])
	if body[0] == '0' {
		body[0] = '1'
	} else {
		body[0] = '0'
	}
	tampered := parts[0] + ":" + string(body) + ":" + parts[2]

	if got := vault.Decrypt(tampered); got != "" {
		t.Errorf("expected empty plaintext for tampered envelope, got %q", got)
	}
}

func TestDecrypt_MalformedEnvelope(t *testing.T) {
	vault, err := NewVault("0123456789abcdef0123456789abcdef", testLogger())
	if err != nil {
		t.Fatalf("NewVault returned error: %v", err)
	}

	cases := []string{
		"not-an-envelope",
		"aa:bb",
		"zz:zz:zz",
		"aabb:ccdd:eeff:0011",
	}

	for _, envelope := range cases {
		if got := vault.Decrypt(envelope); got != "" {
			t.Errorf("Decrypt(%q) = %q, want empty", envelope, got)
		}
	}
}

func TestNewVault_DerivesShortKey(t *testing.T) {
	vault, err := NewVault("short-secret", testLogger())
	if err != nil {
		t.Fatalf("NewVault returned error: %v", err)
	}

	envelope, err := vault.Encrypt("token")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if got := vault.Decrypt(envelope); got != "token" {
		t.Errorf("round trip with derived key failed: got %q", got)
	}

	// A vault derived from a different secret must not open the envelope.
	other, err := NewVault("another-secret", testLogger())
	if err != nil {
		t.Fatalf("NewVault returned error: %v", err)
	}
	if got := other.Decrypt(envelope); got != "" {
		t.Errorf("expected cross-key decrypt to fail, got %q", got)
	}
}
