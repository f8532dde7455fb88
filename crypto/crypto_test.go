package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate random key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		errorMsg  string
		wantError bool
	}{
		{
			name:      "invalid base64",
			key:       "not-valid-base64!@#$",
			wantError: true,
			errorMsg:  "decode encryption key",
		},
		{
			name:      "key too short",
			key:       base64.StdEncoding.EncodeToString(make([]byte, 16)),
			wantError: true,
			errorMsg:  "must be 32 bytes",
		},
		{
			name:      "key too long",
			key:       base64.StdEncoding.EncodeToString(make([]byte, 64)),
			wantError: true,
			errorMsg:  "must be 32 bytes",
		},
		{
			name: "valid 32-byte key",
			key:  base64.StdEncoding.EncodeToString(make([]byte, 32)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.key)
			if tt.wantError {
				if err == nil {
					t.Errorf("New() expected error but got nil")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("New() error = %v, want error containing %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("New() unexpected error = %v", err)
			}
			if c == nil {
				t.Errorf("New() returned nil cipher")
			}
		})
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, plaintext := range []string{"oauth:supersecret", "x", strings.Repeat("long ", 200)} {
		sealed, err := c.SealString(plaintext)
		if err != nil {
			t.Fatalf("SealString() error = %v", err)
		}
		if sealed == plaintext {
			t.Error("SealString() returned plaintext unchanged")
		}
		opened, err := c.OpenString(sealed)
		if err != nil {
			t.Fatalf("OpenString() error = %v", err)
		}
		if opened != plaintext {
			t.Errorf("round trip = %q, want %q", opened, plaintext)
		}
	}
}

func TestEmptyStringPassthrough(t *testing.T) {
	c, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sealed, err := c.SealString("")
	if err != nil || sealed != "" {
		t.Errorf("SealString(\"\") = %q, %v, want empty passthrough", sealed, err)
	}
	opened, err := c.OpenString("")
	if err != nil || opened != "" {
		t.Errorf("OpenString(\"\") = %q, %v, want empty passthrough", opened, err)
	}
}

func TestOpenWrongKeyFails(t *testing.T) {
	c1, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c2, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sealed, err := c1.SealString("secret")
	if err != nil {
		t.Fatalf("SealString() error = %v", err)
	}
	if _, err := c2.OpenString(sealed); err == nil {
		t.Error("OpenString() with a different key should fail")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	c, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.OpenString("!!not-base64"); err == nil {
		t.Error("OpenString() accepted invalid base64")
	}
	if _, err := c.OpenString(base64.StdEncoding.EncodeToString([]byte("abc"))); err == nil {
		t.Error("OpenString() accepted ciphertext shorter than the nonce")
	}
}

func TestNonceVariation(t *testing.T) {
	c, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a, _ := c.SealString("same input")
	b, _ := c.SealString("same input")
	if a == b {
		t.Error("two seals of the same plaintext produced identical ciphertext")
	}
}
