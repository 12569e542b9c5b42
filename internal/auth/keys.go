// Package auth loads host RSA key material and signs device auth tokens.
//
// Android stores the host key as a PKCS#8 PEM file (conventionally
// ~/.android/adbkey) with the device-acceptable public key blob next to it
// in adbkey.pub.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// tokenSize is the length of the auth token adbd sends: a SHA-1 digest the
// device has already computed.
const tokenSize = 20

// KeyLoadError indicates the private key could not be loaded or is not an
// RSA key.
type KeyLoadError struct {
	Path string
	Err  error
}

func (e *KeyLoadError) Error() string {
	return fmt.Sprintf("load key %s: %v", e.Path, e.Err)
}

func (e *KeyLoadError) Unwrap() error {
	return e.Err
}

// KeySignError indicates signing of an auth token failed.
type KeySignError struct {
	Err error
}

func (e *KeySignError) Error() string {
	return fmt.Sprintf("sign auth token: %v", e.Err)
}

func (e *KeySignError) Unwrap() error {
	return e.Err
}

// Signer holds a loaded RSA private key and the path to its public half.
// It satisfies the flow protocol's KeyProvider.
type Signer struct {
	key           *rsa.PrivateKey
	publicKeyPath string
}

// LoadSigner loads an RSA private key from a PEM file. PKCS#8 ("PRIVATE
// KEY", RSA algorithm identifier 1.2.840.113549.1.1.1 required) and PKCS#1
// ("RSA PRIVATE KEY") encodings are accepted. The public key is expected at
// "<path>.pub" and is only read when requested, so a missing .pub still
// permits signature-only authentication.
func LoadSigner(path string) (*Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &KeyLoadError{Path: path, Err: err}
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, &KeyLoadError{Path: path, Err: errors.New("no PEM block found")}
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, &KeyLoadError{Path: path, Err: errors.Wrap(err, "parse PKCS#8")}
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, &KeyLoadError{Path: path, Err: errors.Errorf("PKCS#8 key is %T, not RSA", parsed)}
		}
		key = rsaKey
	case "RSA PRIVATE KEY":
		rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, &KeyLoadError{Path: path, Err: errors.Wrap(err, "parse PKCS#1")}
		}
		key = rsaKey
	default:
		return nil, &KeyLoadError{Path: path, Err: errors.Errorf("unsupported PEM block %q", block.Type)}
	}

	return &Signer{key: key, publicKeyPath: path + ".pub"}, nil
}

// NewSigner wraps an in-memory RSA key; for keys not loaded from disk the
// public key blob must be supplied via a .pub path or the signer is
// signature-only.
func NewSigner(key *rsa.PrivateKey, publicKeyPath string) *Signer {
	return &Signer{key: key, publicKeyPath: publicKeyPath}
}

// Sign emits a PKCS#1 v1.5 signature over the raw token bytes. The token is
// a digest the device already computed, so no hash runs here: passing it as
// the SHA-1 digest makes the RSA primitive wrap it in the SHA-1 DigestInfo
// and pad it without re-hashing. Re-hashing would make the device treat the
// host key as untrusted on every connect.
func (s *Signer) Sign(data []byte) ([]byte, error) {
	if len(data) != tokenSize {
		return nil, &KeySignError{Err: errors.Errorf("token is %d bytes, expected %d", len(data), tokenSize)}
	}
	signature, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA1, data)
	if err != nil {
		return nil, &KeySignError{Err: err}
	}
	return signature, nil
}

// PublicKeyBytes returns the device-acceptable public key blob from the
// .pub file next to the private key.
func (s *Signer) PublicKeyBytes() ([]byte, error) {
	raw, err := os.ReadFile(s.publicKeyPath)
	if err != nil {
		return nil, &KeyLoadError{Path: s.publicKeyPath, Err: err}
	}
	return raw, nil
}
