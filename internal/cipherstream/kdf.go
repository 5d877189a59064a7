package cipherstream

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
)

// digestFunc constructs a fresh hash.Hash for the key-derivation digest.
type digestFunc func() hash.Hash

var kdfDigests = map[string]digestFunc{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
	"md5":    md5.New,
}

// bytesToKey is a Go port of OpenSSL's EVP_BytesToKey with `count` digest
// rounds per block (`openssl enc` uses a count of 1).
//
// D_0 = ""
// D_i = MD(D_{i-1} || password || salt), repeated `count` times for each block
//
// D_1 || D_2 || ... is truncated to keyLen+ivLen bytes; the first keyLen
// bytes are the key, the remainder is the IV. Password precedes salt in
// every round, matching OpenSSL's byte order exactly.
func bytesToKey(md digestFunc, salt, password []byte, count, keyLen, ivLen int) (key, iv []byte) {
	needed := keyLen + ivLen
	out := make([]byte, 0, needed+md().Size())

	var prev []byte
	for len(out) < needed {
		h := md()
		h.Write(prev)
		h.Write(password)
		h.Write(salt)
		d := h.Sum(nil)

		for i := 1; i < count; i++ {
			h = md()
			h.Write(d)
			d = h.Sum(nil)
		}

		out = append(out, d...)
		prev = d
	}

	key = append([]byte(nil), out[:keyLen]...)
	iv = append([]byte(nil), out[keyLen:needed]...)
	return key, iv
}
