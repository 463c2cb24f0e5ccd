package utils

import (
    "crypto/ed25519" // Ed25519 key types
    "crypto/x509"    // PKCS8 / PKIX marshalling
    "encoding/pem"   // PEM framing for stored key material
    "errors"         // error values for malformed input
    "fmt"            // error wrapping
)

// ErrNotEd25519 is returned when PEM input parses but does not
// contain Ed25519 key material.  Only Ed25519 is supported; other
// key types are rejected rather than degraded.
var ErrNotEd25519 = errors.New("keys: not an Ed25519 key")

// ParsePublicKeyPEM decodes a PEM encoded Ed25519 public key as
// stored in channel_keys.public_key or the platform public key
// file.
func ParsePublicKeyPEM(data []byte) (ed25519.PublicKey, error) {
    block, _ := pem.Decode(data)
    if block == nil {
        return nil, errors.New("keys: no PEM block found")
    }
    pub, err := x509.ParsePKIXPublicKey(block.Bytes)
    if err != nil {
        return nil, fmt.Errorf("keys: parse public key: %w", err)
    }
    key, ok := pub.(ed25519.PublicKey)
    if !ok {
        return nil, ErrNotEd25519
    }
    return key, nil
}

// ParsePrivateKeyPEM decodes a PEM encoded PKCS8 Ed25519 private
// key, the on-disk form of the platform signing key.
func ParsePrivateKeyPEM(data []byte) (ed25519.PrivateKey, error) {
    block, _ := pem.Decode(data)
    if block == nil {
        return nil, errors.New("keys: no PEM block found")
    }
    priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
    if err != nil {
        return nil, fmt.Errorf("keys: parse private key: %w", err)
    }
    key, ok := priv.(ed25519.PrivateKey)
    if !ok {
        return nil, ErrNotEd25519
    }
    return key, nil
}

// MarshalPublicKeyPEM encodes an Ed25519 public key as a PKIX
// "PUBLIC KEY" PEM block.
func MarshalPublicKeyPEM(key ed25519.PublicKey) ([]byte, error) {
    der, err := x509.MarshalPKIXPublicKey(key)
    if err != nil {
        return nil, err
    }
    return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// MarshalPrivateKeyPEM encodes an Ed25519 private key as a PKCS8
// "PRIVATE KEY" PEM block.  The key is stored unencrypted; the key
// file's filesystem permissions are the protection boundary.
func MarshalPrivateKeyPEM(key ed25519.PrivateKey) ([]byte, error) {
    der, err := x509.MarshalPKCS8PrivateKey(key)
    if err != nil {
        return nil, err
    }
    return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}
