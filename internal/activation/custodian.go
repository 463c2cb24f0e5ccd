package activation

import (
    "crypto/ed25519" // platform signing keypair
    "crypto/rand"    // key generation entropy
    "fmt"            // error wrapping
    "os"             // key file persistence
    "path/filepath"  // key directory creation

    "github.com/yzsoft/activation-server/internal/utils"
)

// KeyCustodian owns the platform's long-lived Ed25519 signing
// keypair.  It is constructed once at composition time and handed
// to the issuer; nothing else in the process touches the private
// key.  Channel public keys are not the custodian's business; they
// are looked up through the store.
type KeyCustodian struct {
    priv   ed25519.PrivateKey
    pub    ed25519.PublicKey
    pubPEM []byte
}

// LoadCustodian loads the platform private key from privPath.  If
// the file is absent a fresh keypair is generated and both private
// and public PEM forms are persisted before any signing occurs, so
// restarts keep issuing under the same key.
func LoadCustodian(privPath, pubPath string) (*KeyCustodian, error) {
    data, err := os.ReadFile(privPath)
    switch {
    case err == nil:
        priv, perr := utils.ParsePrivateKeyPEM(data)
        if perr != nil {
            return nil, fmt.Errorf("custodian: %s: %w", privPath, perr)
        }
        return newCustodian(priv)
    case os.IsNotExist(err):
        pub, priv, gerr := ed25519.GenerateKey(rand.Reader)
        if gerr != nil {
            return nil, fmt.Errorf("custodian: generate: %w", gerr)
        }
        if werr := persistKeyPair(privPath, pubPath, priv, pub); werr != nil {
            return nil, werr
        }
        return newCustodian(priv)
    default:
        return nil, fmt.Errorf("custodian: read %s: %w", privPath, err)
    }
}

// NewEphemeralCustodian generates a keypair that lives only in
// memory.  Tests use it so they never touch the filesystem.
func NewEphemeralCustodian() (*KeyCustodian, error) {
    _, priv, err := ed25519.GenerateKey(rand.Reader)
    if err != nil {
        return nil, err
    }
    return newCustodian(priv)
}

func newCustodian(priv ed25519.PrivateKey) (*KeyCustodian, error) {
    pub := priv.Public().(ed25519.PublicKey)
    pem, err := utils.MarshalPublicKeyPEM(pub)
    if err != nil {
        return nil, err
    }
    return &KeyCustodian{priv: priv, pub: pub, pubPEM: pem}, nil
}

func persistKeyPair(privPath, pubPath string, priv ed25519.PrivateKey, pub ed25519.PublicKey) error {
    if dir := filepath.Dir(privPath); dir != "." {
        if err := os.MkdirAll(dir, 0o700); err != nil {
            return fmt.Errorf("custodian: mkdir %s: %w", dir, err)
        }
    }
    privPEM, err := utils.MarshalPrivateKeyPEM(priv)
    if err != nil {
        return err
    }
    pubPEM, err := utils.MarshalPublicKeyPEM(pub)
    if err != nil {
        return err
    }
    if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
        return fmt.Errorf("custodian: write %s: %w", privPath, err)
    }
    if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
        return fmt.Errorf("custodian: write %s: %w", pubPath, err)
    }
    return nil
}

// PrivateKey returns the platform signing key.
func (k *KeyCustodian) PrivateKey() ed25519.PrivateKey { return k.priv }

// PublicKey returns the platform verification key.
func (k *KeyCustodian) PublicKey() ed25519.PublicKey { return k.pub }

// PublicPEM returns the public key in PEM form for distribution to
// parties that verify licenses offline.
func (k *KeyCustodian) PublicPEM() []byte { return k.pubPEM }
