package activation

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/yzsoft/activation-server/internal/utils"
)

func TestLicenseExpiryPolicy(t *testing.T) {
    now := time.Unix(1_700_000_000, 0).UTC()
    defaultTTL := 365 * 24 * time.Hour
    fallbackTTL := time.Hour

    t.Run("no bound uses default ttl", func(t *testing.T) {
        exp := LicenseExpiry(nil, now, defaultTTL, fallbackTTL)
        assert.Equal(t, now.Add(defaultTTL), exp)
    })

    t.Run("future bound wins", func(t *testing.T) {
        bound := now.Add(72 * time.Hour).Unix()
        exp := LicenseExpiry(&bound, now, defaultTTL, fallbackTTL)
        assert.Equal(t, bound, exp.Unix())
    })

    t.Run("past bound falls back", func(t *testing.T) {
        bound := now.Add(-time.Minute).Unix()
        exp := LicenseExpiry(&bound, now, defaultTTL, fallbackTTL)
        assert.Equal(t, now.Add(fallbackTTL), exp)
    })

    t.Run("bound equal to now falls back", func(t *testing.T) {
        bound := now.Unix()
        exp := LicenseExpiry(&bound, now, defaultTTL, fallbackTTL)
        assert.Equal(t, now.Add(fallbackTTL), exp)
    })
}

func TestIssuerClaims(t *testing.T) {
    custodian, err := NewEphemeralCustodian()
    require.NoError(t, err)
    issuer := NewIssuer(custodian)

    issuedAt := time.Unix(1_700_000_000, 0).UTC()
    expiresAt := issuedAt.Add(24 * time.Hour)

    lic, err := issuer.Issue(IssueParams{
        SN:           "SN-42",
        ChannelCode:  "CH-1",
        Subaccount:   "op-1",
        DevicePubkey: "dev-pub",
        Model:        "CAM-X200",
        FWHash:       "fw-123",
        CACJTI:       "cac-7",
        IssuedAt:     issuedAt,
        ExpiresAt:    expiresAt,
    })
    require.NoError(t, err)
    assert.Regexp(t, `^LIC-\d{6}-\d{6}$`, lic.LicenseID)
    assert.NotEmpty(t, lic.ClaimsJSON)

    claims, err := utils.VerifyCompact(lic.Envelope, custodian.PublicKey(), utils.TypLicense)
    require.NoError(t, err)
    assert.Equal(t, lic.LicenseID, claims["license_id"])
    assert.Equal(t, "SN-42", claims["sn"])
    assert.Equal(t, "CH-1", claims["channel"])
    assert.Equal(t, "op-1", claims["subaccount"])
    assert.Equal(t, "dev-pub", claims["device_pubkey"])
    assert.Equal(t, "CAM-X200", claims["model"])
    assert.Equal(t, "fw-123", claims["fw_hash"])
    assert.Equal(t, "cac-7", claims["cac_jti"])
    assert.EqualValues(t, issuedAt.Unix(), claims["iat"])
    assert.EqualValues(t, expiresAt.Unix(), claims["exp"])
}

func TestIssuerIDsAreUnique(t *testing.T) {
    custodian, err := NewEphemeralCustodian()
    require.NoError(t, err)
    issuer := NewIssuer(custodian)

    seen := map[string]bool{}
    for i := 0; i < 50; i++ {
        lic, err := issuer.Issue(IssueParams{
            SN: "SN", IssuedAt: time.Now().UTC(), ExpiresAt: time.Now().UTC().Add(time.Hour),
        })
        require.NoError(t, err)
        assert.False(t, seen[lic.LicenseID], "duplicate license id %s", lic.LicenseID)
        seen[lic.LicenseID] = true
    }
}
