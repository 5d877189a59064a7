package cipherstream

import (
	"bytes"
	"os"
	"testing"

	bkerrors "EzBackup-NG/internal/errors"
)

func fixedRand(seed byte) func([]byte) error {
	return func(b []byte) error {
		for i := range b {
			b[i] = seed + byte(i)
		}
		return nil
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 5000)

	tmpEnc, err := os.CreateTemp(t.TempDir(), "enc-*")
	if err != nil {
		t.Fatalf("tempfile: %v", err)
	}
	defer tmpEnc.Close()

	enc := New()
	if err := enc.SetCipher("aes-256-cbc"); err != nil {
		t.Fatalf("set_cipher: %v", err)
	}
	if err := enc.GenerateSalt(fixedRand(7)); err != nil {
		t.Fatalf("generate_salt: %v", err)
	}
	if err := enc.DeriveKeys([]byte("hunter2"), "sha256", 1); err != nil {
		t.Fatalf("derive_keys: %v", err)
	}
	if err := enc.Encrypt(bytes.NewReader(plaintext), tmpEnc); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	tmpEnc.Seek(0, 0)

	header := make([]byte, 8)
	tmpEnc.Read(header)
	if string(header) != "Salted__" {
		t.Fatalf("expected Salted__ prefix, got %q", header)
	}
	tmpEnc.Seek(0, 0)

	tmpDec, err := os.CreateTemp(t.TempDir(), "dec-*")
	if err != nil {
		t.Fatalf("tempfile: %v", err)
	}
	defer tmpDec.Close()

	dec := New()
	if err := dec.SetCipher("aes-256-cbc"); err != nil {
		t.Fatalf("set_cipher: %v", err)
	}
	if err := dec.ExtractSalt(tmpEnc); err != nil {
		t.Fatalf("extract_salt: %v", err)
	}
	if err := dec.DeriveKeys([]byte("hunter2"), "sha256", 1); err != nil {
		t.Fatalf("derive_keys: %v", err)
	}
	if err := dec.Decrypt(tmpEnc, tmpDec); err != nil {
		t.Fatalf("decrypt: %v", err)
	}

	tmpDec.Seek(0, 0)
	got := make([]byte, len(plaintext)+1)
	n, _ := tmpDec.Read(got)
	if !bytes.Equal(got[:n], plaintext) {
		t.Fatalf("round-trip mismatch: got %d bytes, want %d", n, len(plaintext))
	}
}

func TestNoneCipherIsPassthrough(t *testing.T) {
	plaintext := []byte("no encryption applied here")

	tmpEnc, _ := os.CreateTemp(t.TempDir(), "enc-*")
	defer tmpEnc.Close()

	enc := New()
	if err := enc.SetCipher("none"); err != nil {
		t.Fatalf("set_cipher: %v", err)
	}
	if err := enc.GenerateSalt(fixedRand(1)); err != nil {
		t.Fatalf("generate_salt: %v", err)
	}
	if err := enc.DeriveKeys([]byte(""), "sha256", 1); err != nil {
		t.Fatalf("derive_keys: %v", err)
	}
	if err := enc.Encrypt(bytes.NewReader(plaintext), tmpEnc); err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tmpEnc.Seek(0, 0)
	all := make([]byte, 1024)
	n, _ := tmpEnc.Read(all)
	if !bytes.Equal(all[headerLen:n], plaintext) {
		t.Fatalf("expected passthrough plaintext after header, got %q", all[headerLen:n])
	}
}

func TestExtractSaltRejectsBadPrefix(t *testing.T) {
	bad := bytes.NewReader(append([]byte("NotSalted"), make([]byte, 7)...))
	cs := New()
	if err := cs.SetCipher("aes-256-cbc"); err != nil {
		t.Fatalf("set_cipher: %v", err)
	}
	err := cs.ExtractSalt(bad)
	if !bkerrors.Is(err, bkerrors.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestUsageOrderViolation(t *testing.T) {
	cs := New()
	err := cs.GenerateSalt(fixedRand(0))
	if !bkerrors.Is(err, bkerrors.ErrUsageOrder) {
		t.Fatalf("expected ErrUsageOrder calling generate_salt before set_cipher, got %v", err)
	}
}

func TestConsumedInstanceCannotBeReused(t *testing.T) {
	tmp, _ := os.CreateTemp(t.TempDir(), "enc-*")
	defer tmp.Close()

	cs := New()
	cs.SetCipher("none")
	cs.GenerateSalt(fixedRand(0))
	cs.DeriveKeys([]byte("pw"), "sha256", 1)
	if err := cs.Encrypt(bytes.NewReader([]byte("x")), tmp); err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	err := cs.Encrypt(bytes.NewReader([]byte("y")), tmp)
	if !bkerrors.Is(err, bkerrors.ErrUsageOrder) {
		t.Fatalf("expected ErrUsageOrder reusing a consumed stream, got %v", err)
	}
}

func TestUnknownCipherRejected(t *testing.T) {
	cs := New()
	err := cs.SetCipher("rot13")
	if !bkerrors.Is(err, bkerrors.ErrUnknownAlgorithm) {
		t.Fatalf("expected ErrUnknownAlgorithm, got %v", err)
	}
}

func TestEncryptRemovesPartialOutputOnError(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "partial-*")
	if err != nil {
		t.Fatalf("tempfile: %v", err)
	}
	name := tmp.Name()

	cs := New()
	cs.SetCipher("aes-256-cbc")
	cs.GenerateSalt(fixedRand(0))
	cs.DeriveKeys([]byte("pw"), "sha256", 1)

	tmp.Close() // force subsequent writes to fail
	_ = cs.Encrypt(bytes.NewReader([]byte("some plaintext")), tmp)

	if _, statErr := os.Stat(name); !os.IsNotExist(statErr) {
		t.Fatalf("expected partial output to be removed, stat err: %v", statErr)
	}
}
