package cipherstream

import (
	"bytes"
	"testing"
)

func TestBytesToKeyDeterministic(t *testing.T) {
	salt := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	pw := []byte("correct horse battery staple")

	k1, iv1 := bytesToKey(kdfDigests["sha256"], salt, pw, 1, 32, 16)
	k2, iv2 := bytesToKey(kdfDigests["sha256"], salt, pw, 1, 32, 16)

	if !bytes.Equal(k1, k2) || !bytes.Equal(iv1, iv2) {
		t.Fatal("bytesToKey is not deterministic for identical inputs")
	}
	if len(k1) != 32 || len(iv1) != 16 {
		t.Fatalf("unexpected lengths: key=%d iv=%d", len(k1), len(iv1))
	}
}

func TestBytesToKeyVariesWithSalt(t *testing.T) {
	pw := []byte("correct horse battery staple")

	k1, iv1 := bytesToKey(kdfDigests["sha256"], []byte{1, 2, 3, 4, 5, 6, 7, 8}, pw, 1, 32, 16)
	k2, iv2 := bytesToKey(kdfDigests["sha256"], []byte{8, 7, 6, 5, 4, 3, 2, 1}, pw, 1, 32, 16)

	if bytes.Equal(k1, k2) && bytes.Equal(iv1, iv2) {
		t.Fatal("expected different salts to produce different key material")
	}
}

func TestBytesToKeySpansMultipleDigestBlocks(t *testing.T) {
	// sha256 produces 32 bytes per round; a 32-byte key + 16-byte IV
	// requires bytesToKey to concatenate D_1 and part of D_2.
	salt := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	key, iv := bytesToKey(kdfDigests["sha256"], salt, []byte("pw"), 1, 32, 16)
	if len(key) != 32 || len(iv) != 16 {
		t.Fatalf("unexpected lengths: key=%d iv=%d", len(key), len(iv))
	}
}

func TestBytesToKeyIterationCountAffectsOutput(t *testing.T) {
	salt := []byte{1, 1, 1, 1, 1, 1, 1, 1}
	pw := []byte("pw")

	k1, _ := bytesToKey(kdfDigests["sha256"], salt, pw, 1, 16, 16)
	k2, _ := bytesToKey(kdfDigests["sha256"], salt, pw, 5, 16, 16)

	if bytes.Equal(k1, k2) {
		t.Fatal("expected iteration count to change derived key material")
	}
}
