// Package csprng is the source of cryptographically secure random bytes
// used for salts, keys, and IVs. It falls back to the platform entropy
// device if the primary source fails, and to a low-grade source as a last
// resort, surfacing a warning in the latter case so callers can log it.
package csprng

import (
	"crypto/rand"
	"errors"
	"fmt"
	mrand "math/rand/v2"
	"os"
)

// ErrLowGradeFallback is returned (wrapped) alongside a successful fill
// when neither crypto/rand nor the platform entropy device were usable
// and bytes were drawn from a non-cryptographic source instead. Callers
// MUST surface this as a warning rather than silently proceeding.
var ErrLowGradeFallback = errors.New("csprng: fell back to low-grade random source")

// devRandomPath is the platform entropy device consulted when
// crypto/rand.Read fails. Overridable in tests.
var devRandomPath = "/dev/urandom"

// RandomBytes fills dst with cryptographically secure random bytes. On
// primary-source failure it retries against the platform entropy device;
// if that also fails it fills dst from a low-grade source and returns
// ErrLowGradeFallback (dst is still fully populated in that case).
func RandomBytes(dst []byte) error {
	if len(dst) == 0 {
		return nil
	}

	if _, err := rand.Read(dst); err == nil {
		return nil
	}

	if err := fillFromDevice(dst); err == nil {
		return nil
	}

	fillLowGrade(dst)
	return fmt.Errorf("%w: crypto/rand and %s both unavailable", ErrLowGradeFallback, devRandomPath)
}

// RandomByte is the one-byte convenience form of RandomBytes.
func RandomByte() (byte, error) {
	var b [1]byte
	if err := RandomBytes(b[:]); err != nil {
		return b[0], err
	}
	return b[0], nil
}

// GenerateSalt fills a salt buffer of the requested length using the CS
// source. On fallback the run continues, but the error is non-nil so the
// caller can log the warning as required by the spec.
func GenerateSalt(n int) ([]byte, error) {
	salt := make([]byte, n)
	err := RandomBytes(salt)
	return salt, err
}

func fillFromDevice(dst []byte) error {
	f, err := os.Open(devRandomPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	total := 0
	for total < len(dst) {
		n, err := f.Read(dst[total:])
		total += n
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("csprng: entropy device returned no data")
		}
	}
	return nil
}

func fillLowGrade(dst []byte) {
	for i := range dst {
		dst[i] = byte(mrand.IntN(256))
	}
}
