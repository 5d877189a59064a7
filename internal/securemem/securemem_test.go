package securemem

import (
	"bytes"
	"testing"
)

func TestSecureZero(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	SecureZero(data)

	for i, b := range data {
		if b != 0 {
			t.Errorf("SecureZero: byte %d = %d; want 0", i, b)
		}
	}
}

func TestSecureZeroEmpty(t *testing.T) {
	SecureZero(nil)
	SecureZero([]byte{})
}

func TestSecureZeroLarge(t *testing.T) {
	data := make([]byte, 1<<20)
	for i := range data {
		data[i] = byte(i % 256)
	}
	SecureZero(data)
	if !bytes.Equal(data, make([]byte, len(data))) {
		t.Error("SecureZero did not zero all bytes in large buffer")
	}
}

func TestBufferScrubAndDrop(t *testing.T) {
	buf := New(16)
	slice := buf.AsMutSlice()
	for i := range slice {
		slice[i] = byte(i + 1)
	}

	buf.ScrubAndDrop(nil)

	if !buf.IsScrubbed() {
		t.Fatal("expected buffer to be scrubbed")
	}
	if buf.AsMutSlice() != nil {
		t.Error("AsMutSlice should return nil after scrub")
	}
	if buf.Len() != 0 {
		t.Error("Len should be 0 after scrub")
	}
	// Idempotent
	buf.ScrubAndDrop(nil)
}

func TestBufferFromBytes(t *testing.T) {
	b := []byte("secret-password")
	buf := FromBytes(b)
	if buf.Len() != len(b) {
		t.Fatalf("Len() = %d; want %d", buf.Len(), len(b))
	}
	buf.ScrubAndDrop(nil)
	for _, c := range b {
		if c != 0 {
			t.Error("backing array was not scrubbed")
			break
		}
	}
}

func TestNilBufferIsSafe(t *testing.T) {
	var buf *Buffer
	if !buf.IsScrubbed() {
		t.Error("nil buffer should report scrubbed")
	}
	if buf.AsMutSlice() != nil {
		t.Error("nil buffer AsMutSlice should be nil")
	}
	buf.ScrubAndDrop(nil)
}
