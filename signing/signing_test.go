package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunglas/httpsfv"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func pkcs1PEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func pkcs8PEM(t *testing.T, key *rsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestSign_Verifies(t *testing.T) {
	key := generateKey(t)
	s := NewSigner(key, "")
	require.Equal(t, DefaultKeyID, s.KeyID())

	data := []byte(`{"id":"abc"}`)
	sig, err := s.Sign(data)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)

	digest := sha256.Sum256(data)
	require.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], raw))
}

func TestParsePrivateKey(t *testing.T) {
	key := generateKey(t)

	k1, err := ParsePrivateKey(pkcs1PEM(key))
	require.NoError(t, err)
	require.True(t, key.Equal(k1))

	k8, err := ParsePrivateKey(pkcs8PEM(t, key))
	require.NoError(t, err)
	require.True(t, key.Equal(k8))

	_, err = ParsePrivateKey([]byte("not pem"))
	require.Error(t, err)

	_, err = ParsePrivateKey(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1}}))
	require.Error(t, err)
}

func TestLoadSigner(t *testing.T) {
	key := generateKey(t)
	pemData := pkcs1PEM(key)

	s, err := LoadSigner("", "")
	require.NoError(t, err)
	require.Nil(t, s)

	s, err = LoadSigner(base64.StdEncoding.EncodeToString(pemData), "")
	require.NoError(t, err)
	require.NotNil(t, s)

	path := filepath.Join(t.TempDir(), "private-key.pem")
	require.NoError(t, os.WriteFile(path, pkcs8PEM(t, key), 0o600))
	s, err = LoadSigner("", path)
	require.NoError(t, err)
	require.NotNil(t, s)

	_, err = LoadSigner("!!!", "")
	require.Error(t, err)

	_, err = LoadSigner("", filepath.Join(t.TempDir(), "missing.pem"))
	require.Error(t, err)
}

func TestFormatSignature(t *testing.T) {
	header, err := FormatSignature("abc+/=", "main")
	require.NoError(t, err)
	require.Equal(t, `sig="abc+/=", keyid="main"`, header)

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	require.NoError(t, err)
	sig, ok := dict.Get("sig")
	require.True(t, ok)
	require.Equal(t, "abc+/=", sig.(httpsfv.Item).Value)
}

func TestSignatureHeader(t *testing.T) {
	key := generateKey(t)
	s := NewSigner(key, "main")

	header, err := s.SignatureHeader([]byte("payload"))
	require.NoError(t, err)
	require.Contains(t, header, `sig="`)
	require.Contains(t, header, `keyid="main"`)
}
