// Package updateserver holds the hashing and identifier helpers shared by the
// update server packages.
package updateserver

import (
	"crypto/md5" //nolint:gosec // md5 is part of the asset key format, not used for integrity
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
)

// HashSize is the size of a BLAKE3 hash in bytes (256 bits).
const HashSize = 32

// Hash represents a BLAKE3 256-bit digest.
// It fingerprints archives and asset bodies for logging and HTTP validators.
type Hash [HashSize]byte

// String returns the hex-encoded representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ShortString returns a shortened hex representation for display.
func (h Hash) ShortString() string {
	return hex.EncodeToString(h[:8])
}

// HashBytes computes the BLAKE3 hash of the given bytes.
func HashBytes(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// Algorithm identifies a digest algorithm usable with Digest.
type Algorithm string

const (
	AlgSHA256 Algorithm = "sha256"
	AlgMD5    Algorithm = "md5"
	AlgBLAKE3 Algorithm = "blake3"
)

// Encoding identifies the text encoding of a digest.
type Encoding string

const (
	EncodingHex    Encoding = "hex"
	EncodingBase64 Encoding = "base64"
)

// Digest hashes data with the given algorithm and returns it in the given encoding.
func Digest(data []byte, alg Algorithm, enc Encoding) (string, error) {
	var h hash.Hash
	switch alg {
	case AlgSHA256:
		h = sha256.New()
	case AlgMD5:
		h = md5.New() //nolint:gosec
	case AlgBLAKE3:
		h = blake3.New()
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q", alg)
	}
	_, _ = h.Write(data)
	sum := h.Sum(nil)

	switch enc {
	case EncodingHex:
		return hex.EncodeToString(sum), nil
	case EncodingBase64:
		return base64.StdEncoding.EncodeToString(sum), nil
	default:
		return "", fmt.Errorf("unsupported hash encoding %q", enc)
	}
}

// Base64URL converts standard base64 text to the URL-safe alphabet and strips padding.
func Base64URL(s string) string {
	s = strings.TrimRight(s, "=")
	return strings.NewReplacer("+", "-", "/", "_").Replace(s)
}

// AssetHash returns the public content hash of an asset: SHA-256, base64url without padding.
func AssetHash(data []byte) string {
	sum, _ := Digest(data, AlgSHA256, EncodingBase64) // supported pair, never fails
	return Base64URL(sum)
}

// AssetKey returns the internal asset key: hex MD5 of the content.
func AssetKey(data []byte) string {
	key, _ := Digest(data, AlgMD5, EncodingHex) // supported pair, never fails
	return key
}
