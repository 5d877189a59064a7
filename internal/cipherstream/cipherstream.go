// Package cipherstream implements an OpenSSL-compatible, salted streaming
// cipher. Output produced by (*CipherStream).Encrypt is byte-compatible with
// `openssl enc -<cipher> -salt -md sha256` (EVP_BytesToKey key derivation,
// not -pbkdf2), and can be decrypted by
// either OpenSSL or (*CipherStream).Decrypt.
//
// A CipherStream is a linear-typed state machine: each operation may only
// be called once, in the required order, and a consumed instance can never
// be reused.
package cipherstream

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"io"
	"os"

	bkerrors "EzBackup-NG/internal/errors"
	"EzBackup-NG/internal/log"
	"EzBackup-NG/internal/securemem"
	"EzBackup-NG/internal/util"
)

// saltPrefix is the literal 8-byte header OpenSSL's enc utility writes
// before the salt. It is ASCII, with no trailing NUL.
var saltPrefix = []byte("Salted__")

const saltLen = 8
var headerLen = len(saltPrefix) + saltLen

// state is the CipherStream's position in its one-way lifecycle.
type state int

const (
	stateFresh state = iota
	stateEncryptionSet
	stateSaltGenerated
	stateSaltExtracted
	stateKeysDerived
	stateConsumed
)

// cipherKind describes one named, OpenSSL-compatible cipher.
type cipherKind struct {
	keyLen int
	ivLen  int
	// newBlockCipher is nil for the "none" pass-through kind.
	newBlockCipher func(key []byte) (cipher.Block, error)
}

var cipherKinds = map[string]cipherKind{
	"aes-256-cbc": {keyLen: 32, ivLen: aes.BlockSize, newBlockCipher: aes.NewCipher},
	"aes-192-cbc": {keyLen: 24, ivLen: aes.BlockSize, newBlockCipher: aes.NewCipher},
	"aes-128-cbc": {keyLen: 16, ivLen: aes.BlockSize, newBlockCipher: aes.NewCipher},
	"none":        {keyLen: 0, ivLen: 0, newBlockCipher: nil},
}

// CipherStream derives a key/IV from a password and streams ciphertext or
// cleartext through a block cipher in CBC mode, with PKCS#7 padding applied
// the same way OpenSSL's enc command does.
type CipherStream struct {
	state state
	kind  string
	ck    cipherKind

	salt [saltLen]byte

	key *securemem.Buffer
	iv  *securemem.Buffer
}

// New returns a fresh CipherStream in the Fresh state.
func New() *CipherStream {
	return &CipherStream{state: stateFresh}
}

func (c *CipherStream) requireState(want state, op string) error {
	if c.state != want {
		return bkerrors.NewCryptoError(op, bkerrors.ErrUsageOrder)
	}
	return nil
}

// SetCipher selects the named cipher. Must be the first call made on a
// fresh instance. kind == "none" selects a pass-through cipher that still
// writes the salt header, for symmetry with the encrypted case.
func (c *CipherStream) SetCipher(kind string) error {
	if err := c.requireState(stateFresh, "set_cipher"); err != nil {
		return err
	}
	ck, ok := cipherKinds[kind]
	if !ok {
		return bkerrors.NewCryptoError("set_cipher", bkerrors.ErrUnknownAlgorithm)
	}
	c.kind = kind
	c.ck = ck
	c.state = stateEncryptionSet
	return nil
}

// GenerateSalt draws a fresh random salt via the CSPRNG. Used on the
// encrypt path; exactly one of GenerateSalt or ExtractSalt is called per
// instance.
func (c *CipherStream) GenerateSalt(rnd func([]byte) error) error {
	if err := c.requireState(stateEncryptionSet, "generate_salt"); err != nil {
		return err
	}
	if err := rnd(c.salt[:]); err != nil {
		return bkerrors.NewCryptoError("generate_salt", err)
	}
	c.state = stateSaltGenerated
	return nil
}

// ExtractSalt reads the 16-byte `Salted__<salt>` header from the start of
// r and verifies the literal prefix. Used on the decrypt path.
func (c *CipherStream) ExtractSalt(r io.Reader) error {
	if err := c.requireState(stateEncryptionSet, "extract_salt"); err != nil {
		return err
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return bkerrors.NewCryptoError("extract_salt", bkerrors.ErrIOIn)
	}
	if !bytes.Equal(header[:len(saltPrefix)], saltPrefix) {
		return bkerrors.NewCryptoError("extract_salt", bkerrors.ErrInvalidFormat)
	}
	copy(c.salt[:], header[len(saltPrefix):])
	c.state = stateSaltExtracted
	return nil
}

// DeriveKeys derives the key and IV from password using an
// EVP_BytesToKey-compatible KDF. password is scrubbed before this method
// returns, regardless of outcome.
func (c *CipherStream) DeriveKeys(password []byte, md string, iterations int) error {
	startState := c.state
	if startState != stateSaltGenerated && startState != stateSaltExtracted {
		securemem.SecureZero(password)
		return bkerrors.NewCryptoError("derive_keys", bkerrors.ErrUsageOrder)
	}
	defer securemem.SecureZero(password)

	if md == "" {
		md = "sha256"
	}
	if iterations <= 0 {
		iterations = 1
	}
	digest, ok := kdfDigests[md]
	if !ok {
		return bkerrors.NewCryptoError("derive_keys", bkerrors.ErrUnknownAlgorithm)
	}

	if c.ck.keyLen == 0 {
		// "none" cipher: nothing to derive, but we still consume the
		// state transition for symmetry with the real ciphers.
		c.key = securemem.New(0)
		c.iv = securemem.New(0)
		c.state = stateKeysDerived
		return nil
	}

	key, iv := bytesToKey(digest, c.salt[:], password, iterations, c.ck.keyLen, c.ck.ivLen)
	c.key = securemem.FromBytes(key)
	c.iv = securemem.FromBytes(iv)
	c.state = stateKeysDerived

	log.Debug("derived cipher keys", log.String("cipher", c.kind), log.String("md", md))
	return nil
}

// Encrypt writes the Salted__ header, then the salt, then streams input
// through the cipher in StreamChunk blocks, applying PKCS#7 padding at EOF.
// On any error the partially-written output file is removed.
func (c *CipherStream) Encrypt(input io.Reader, output *os.File) (err error) {
	if err := c.requireState(stateKeysDerived, "encrypt"); err != nil {
		return err
	}
	defer c.scrubAndConsume()

	if _, err := output.Write(saltPrefix); err != nil {
		c.removePartial(output)
		return bkerrors.NewFileError("write", output.Name(), bkerrors.ErrIOOut)
	}
	if _, err := output.Write(c.salt[:]); err != nil {
		c.removePartial(output)
		return bkerrors.NewFileError("write", output.Name(), bkerrors.ErrIOOut)
	}

	if c.ck.keyLen == 0 {
		if _, err := io.Copy(output, input); err != nil {
			c.removePartial(output)
			return bkerrors.NewFileError("write", output.Name(), bkerrors.ErrIOOut)
		}
		return nil
	}

	block, err := c.ck.newBlockCipher(c.key.AsMutSlice())
	if err != nil {
		c.removePartial(output)
		return bkerrors.NewCryptoError("encrypt", bkerrors.ErrCipherInit)
	}
	mode := cipher.NewCBCEncrypter(block, c.iv.AsMutSlice())

	buf := util.GetChunkBuffer()
	defer util.PutChunkBuffer(buf)

	bs := block.BlockSize()
	var carry []byte

	for {
		n, rerr := input.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			full := (len(chunk) / bs) * bs
			if full > 0 {
				out := make([]byte, full)
				mode.CryptBlocks(out, chunk[:full])
				if _, werr := output.Write(out); werr != nil {
					c.removePartial(output)
					return bkerrors.NewFileError("write", output.Name(), bkerrors.ErrIOOut)
				}
			}
			carry = append([]byte(nil), chunk[full:]...)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			c.removePartial(output)
			return bkerrors.NewFileError("read", "", bkerrors.ErrIOIn)
		}
	}

	padded := pkcs7Pad(carry, bs)
	out := make([]byte, len(padded))
	mode.CryptBlocks(out, padded)
	if _, err := output.Write(out); err != nil {
		c.removePartial(output)
		return bkerrors.NewFileError("write", output.Name(), bkerrors.ErrIOOut)
	}

	return nil
}

// Decrypt requires SaltExtracted/KeysDerived to already have consumed the
// 16-byte header from input; it streams cleartext to output, stripping the
// PKCS#7 padding from the final block.
func (c *CipherStream) Decrypt(input io.Reader, output *os.File) (err error) {
	if err := c.requireState(stateKeysDerived, "decrypt"); err != nil {
		return err
	}
	defer c.scrubAndConsume()

	if c.ck.keyLen == 0 {
		if _, err := io.Copy(output, input); err != nil {
			c.removePartial(output)
			return bkerrors.NewFileError("write", output.Name(), bkerrors.ErrIOOut)
		}
		return nil
	}

	block, err := c.ck.newBlockCipher(c.key.AsMutSlice())
	if err != nil {
		c.removePartial(output)
		return bkerrors.NewCryptoError("decrypt", bkerrors.ErrCipherInit)
	}
	mode := cipher.NewCBCDecrypter(block, c.iv.AsMutSlice())
	bs := block.BlockSize()

	buf := util.GetChunkBuffer()
	defer util.PutChunkBuffer(buf)

	var carry []byte
	var pendingPlain []byte

	for {
		n, rerr := input.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			full := (len(chunk) / bs) * bs
			if full > 0 {
				plain := make([]byte, full)
				mode.CryptBlocks(plain, chunk[:full])
				if len(pendingPlain) > 0 {
					if _, werr := output.Write(pendingPlain); werr != nil {
						c.removePartial(output)
						return bkerrors.NewFileError("write", output.Name(), bkerrors.ErrIOOut)
					}
				}
				pendingPlain = plain
			}
			carry = append([]byte(nil), chunk[full:]...)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			c.removePartial(output)
			return bkerrors.NewFileError("read", "", bkerrors.ErrIOIn)
		}
	}

	if len(carry) != 0 {
		c.removePartial(output)
		return bkerrors.NewCryptoError("decrypt", bkerrors.ErrCipherFinal)
	}

	unpadded, err := pkcs7Unpad(pendingPlain, bs)
	if err != nil {
		c.removePartial(output)
		return bkerrors.NewCryptoError("decrypt", bkerrors.ErrCipherFinal)
	}
	if _, err := output.Write(unpadded); err != nil {
		c.removePartial(output)
		return bkerrors.NewFileError("write", output.Name(), bkerrors.ErrIOOut)
	}

	return nil
}

func (c *CipherStream) removePartial(output *os.File) {
	name := output.Name()
	output.Close()
	os.Remove(name)
}

func (c *CipherStream) scrubAndConsume() {
	if c.key != nil {
		c.key.ScrubAndDrop(nil)
	}
	if c.iv != nil {
		c.iv.ScrubAndDrop(nil)
	}
	c.state = stateConsumed
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	padLen := blockSize - (len(b) % blockSize)
	padded := make([]byte, len(b)+padLen)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, bkerrors.ErrInvalidFormat
	}
	padLen := int(b[len(b)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(b) {
		return nil, bkerrors.ErrInvalidFormat
	}
	for _, p := range b[len(b)-padLen:] {
		if int(p) != padLen {
			return nil, bkerrors.ErrInvalidFormat
		}
	}
	return b[:len(b)-padLen], nil
}
