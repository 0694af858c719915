package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrKeyNotFound indicates no verification key is registered for a kid.
var ErrKeyNotFound = errors.New("key not found")

// KeyProvider supplies the RSA key material for access token signing and
// verification. A provider that cannot produce a signing key at startup is a
// fatal misconfiguration; it must never surface per-request.
type KeyProvider interface {
	GetSigningKey() (*rsa.PrivateKey, error)
	GetVerificationKey(kid string) (*rsa.PublicKey, error)
	SigningKID() string
}

// FileKeyProvider loads PEM-encoded RSA keys from a directory. Each file name
// (without extension) becomes the kid. The first private key found is used
// for signing; public keys are verification-only.
type FileKeyProvider struct {
	keys       map[string]*rsa.PublicKey
	signingKey *rsa.PrivateKey
	signingKID string
}

// NewFileKeyProvider reads every key file in dir and fails if no private key
// is present.
func NewFileKeyProvider(dir string) (*FileKeyProvider, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read key directory: %w", err)
	}

	provider := &FileKeyProvider{keys: make(map[string]*rsa.PublicKey)}

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		path := filepath.Join(dir, file.Name())
		keyData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key file %s: %w", path, err)
		}

		kid := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		if err := provider.addKey(kid, keyData); err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", path, err)
		}
	}

	if provider.signingKey == nil {
		return nil, errors.New("no private key found for signing")
	}

	return provider, nil
}

func (p *FileKeyProvider) addKey(kid string, keyData []byte) error {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		p.registerPrivate(kid, key)
		return nil
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			p.registerPrivate(kid, rsaKey)
			return nil
		}
		return errors.New("private key is not RSA")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		p.keys[kid] = key
		return nil
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			p.keys[kid] = rsaKey
			return nil
		}
		return errors.New("public key is not RSA")
	}

	return errors.New("unsupported key format")
}

func (p *FileKeyProvider) registerPrivate(kid string, key *rsa.PrivateKey) {
	if p.signingKey == nil {
		p.signingKey = key
		p.signingKID = kid
	}
	p.keys[kid] = &key.PublicKey
}

// GetSigningKey returns the private key for signing tokens.
func (p *FileKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) {
	return p.signingKey, nil
}

// GetVerificationKey returns the public key registered under kid.
func (p *FileKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

// SigningKID returns the kid embedded in issued token headers.
func (p *FileKeyProvider) SigningKID() string {
	return p.signingKID
}

// StaticKeyProvider wraps a single in-memory keypair. Used in tests and in
// deployments where key material is injected rather than read from disk.
type StaticKeyProvider struct {
	Key *rsa.PrivateKey
	KID string
}

// GetSigningKey returns the wrapped private key.
func (p *StaticKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) {
	if p.Key == nil {
		return nil, errors.New("no signing key configured")
	}
	return p.Key, nil
}

// GetVerificationKey returns the wrapped public key when the kid matches.
func (p *StaticKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	if p.Key == nil || kid != p.KID {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return &p.Key.PublicKey, nil
}

// SigningKID returns the configured kid.
func (p *StaticKeyProvider) SigningKID() string {
	return p.KID
}
