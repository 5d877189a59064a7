// Package digest streams a file through a named hash algorithm and
// produces a lowercase hex digest, without ever buffering the file whole.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"os"

	bkerrors "EzBackup-NG/internal/errors"
	"EzBackup-NG/internal/util"
)

// NoneDigest is the sentinel hex value returned when the "none" algorithm
// is selected: change detection is disabled and every file is reported as
// Added.
const NoneDigest = ""

func newHasher(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "md5":
		return md5.New(), nil
	case "none":
		return nil, nil
	default:
		return nil, bkerrors.NewCryptoError("digest", bkerrors.ErrUnknownAlgorithm)
	}
}

// Compute streams path through the named algorithm in StreamChunk blocks
// and returns the lowercase hex digest. algorithm == "none" returns
// NoneDigest without reading the file.
func Compute(path string, algorithm string) (string, error) {
	h, err := newHasher(algorithm)
	if err != nil {
		return "", err
	}
	if h == nil {
		return NoneDigest, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", bkerrors.NewFileError("open", path, bkerrors.ErrIOIn)
	}
	defer f.Close()

	buf := util.GetChunkBuffer()
	defer util.PutChunkBuffer(buf)

	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", bkerrors.NewFileError("read", path, bkerrors.ErrIOIn)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
