package activation

import (
    "crypto/rand" // license identifier randomness
    "encoding/json"
    "fmt"
    "math/big" // uniform random suffix
    "time"

    "github.com/golang-jwt/jwt/v5"

    "github.com/yzsoft/activation-server/internal/utils"
)

// PlatformKid is the key identifier stamped into license envelope
// headers.  It names the platform key generation so verifiers can
// survive a future rotation.
const PlatformKid = "platform-v1"

// licenseSchemaVersion is the fixed version field embedded in every
// license claim set.
const licenseSchemaVersion = 1

// Issuer builds license claim sets and signs them as compact
// envelopes with the platform key.  It persists nothing; the
// orchestrator stages the resulting record inside the shared
// commit transaction.
type Issuer struct {
    custodian *KeyCustodian
    kid       string
    now       func() time.Time
}

// NewIssuer returns an Issuer signing under the given custodian
// with the fixed platform kid.
func NewIssuer(custodian *KeyCustodian) *Issuer {
    return &Issuer{custodian: custodian, kid: PlatformKid, now: time.Now}
}

// IssueParams collects everything the license claim set carries.
type IssueParams struct {
    SN           string
    ChannelCode  string
    Subaccount   string
    DevicePubkey string
    Model        string
    FWHash       string
    CACJTI       string
    IssuedAt     time.Time
    ExpiresAt    time.Time
}

// IssuedLicense is the issuer's output: the generated identifier,
// the signed envelope and the serialized claim set for storage.
type IssuedLicense struct {
    LicenseID  string
    Envelope   string
    ClaimsJSON string
}

// Issue generates a fresh license identifier, builds the claim set
// and signs it as a compact envelope.
func (i *Issuer) Issue(p IssueParams) (*IssuedLicense, error) {
    licenseID, err := generateLicenseID(i.now().UTC())
    if err != nil {
        return nil, err
    }
    claims := jwt.MapClaims{
        "typ":           "license",
        "license_id":    licenseID,
        "sn":            p.SN,
        "channel":       p.ChannelCode,
        "subaccount":    p.Subaccount,
        "device_pubkey": p.DevicePubkey,
        "model":         p.Model,
        "fw_hash":       p.FWHash,
        "cac_jti":       p.CACJTI,
        "iat":           p.IssuedAt.Unix(),
        "exp":           p.ExpiresAt.Unix(),
        "version":       licenseSchemaVersion,
    }
    envelope, err := utils.SignCompact(claims, i.custodian.PrivateKey(), utils.TypLicense, i.kid)
    if err != nil {
        return nil, fmt.Errorf("issuer: sign license: %w", err)
    }
    claimsJSON, err := json.Marshal(claims)
    if err != nil {
        return nil, err
    }
    return &IssuedLicense{
        LicenseID:  licenseID,
        Envelope:   envelope,
        ClaimsJSON: string(claimsJSON),
    }, nil
}

// LicenseExpiry applies the expiry policy: the capsule's valid_to
// bound when present, otherwise one year from issuance.  A capsule
// expiring mid-request would yield an already-dead license, so a
// short one-hour fallback is substituted instead.
func LicenseExpiry(validTo *int64, now time.Time, defaultTTL, fallbackTTL time.Duration) time.Time {
    exp := now.Add(defaultTTL)
    if validTo != nil {
        exp = time.Unix(*validTo, 0).UTC()
    }
    if !exp.After(now) {
        exp = now.Add(fallbackTTL)
    }
    return exp
}

// generateLicenseID produces a human-traceable identifier of the
// form LIC-<yymmdd>-<6 random digits>.
func generateLicenseID(now time.Time) (string, error) {
    n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
    if err != nil {
        return "", err
    }
    return fmt.Sprintf("LIC-%s-%06d", now.Format("060102"), n.Int64()), nil
}
