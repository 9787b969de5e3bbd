// Package signing produces detached RSA-SHA256 signatures for update responses.
package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dunglas/httpsfv"
)

// DefaultKeyID is the key id advertised with every signature.
const DefaultKeyID = "main"

// ErrNoKey is returned when a signature is requested but no key is configured.
var ErrNoKey = errors.New("code signing requested but no key supplied when starting server")

// Signer signs update responses with an RSA private key.
type Signer struct {
	key   *rsa.PrivateKey
	keyID string
}

// NewSigner creates a signer for key. An empty keyID selects DefaultKeyID.
func NewSigner(key *rsa.PrivateKey, keyID string) *Signer {
	if keyID == "" {
		keyID = DefaultKeyID
	}
	return &Signer{key: key, keyID: keyID}
}

// ParsePrivateKey parses a PEM encoded RSA private key in PKCS#1 or PKCS#8 form.
func ParsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("no PEM block found in private key")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS#1 private key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS#8 private key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, not RSA", parsed)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// LoadSigner builds a signer from a base64 encoded PEM key or, when that is
// empty, from a PEM file. It returns nil and no error when neither is set.
func LoadSigner(base64PEM, file string) (*Signer, error) {
	var pemData []byte
	switch {
	case strings.TrimSpace(base64PEM) != "":
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(base64PEM))
		if err != nil {
			return nil, fmt.Errorf("decoding base64 private key: %w", err)
		}
		pemData = data
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading private key: %w", err)
		}
		pemData = data
	default:
		return nil, nil
	}

	key, err := ParsePrivateKey(pemData)
	if err != nil {
		return nil, err
	}
	return NewSigner(key, DefaultKeyID), nil
}

// KeyID returns the key id sent alongside signatures.
func (s *Signer) KeyID() string {
	return s.keyID
}

// Sign returns the base64 encoded RSA PKCS#1 v1.5 signature of the SHA-256
// digest of data.
func (s *Signer) Sign(data []byte) (string, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// SignatureHeader signs data and renders the expo-signature structured
// field dictionary carrying sig and keyid.
func (s *Signer) SignatureHeader(data []byte) (string, error) {
	sig, err := s.Sign(data)
	if err != nil {
		return "", err
	}
	return FormatSignature(sig, s.keyID)
}

// FormatSignature renders a signature and key id as a structured field dictionary.
func FormatSignature(sig, keyID string) (string, error) {
	dict := httpsfv.NewDictionary()
	dict.Add("sig", httpsfv.NewItem(sig))
	dict.Add("keyid", httpsfv.NewItem(keyID))

	header, err := httpsfv.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("encoding signature header: %w", err)
	}
	return header, nil
}
