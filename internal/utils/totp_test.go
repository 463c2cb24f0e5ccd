package utils

import (
    "testing"
    "time"

    "github.com/pquerna/otp"
    "github.com/pquerna/otp/totp"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

const testStep uint = 30

func newSecret(t *testing.T) string {
    t.Helper()
    key, err := totp.Generate(totp.GenerateOpts{
        Issuer:      "activation-server",
        AccountName: "test/op-1",
        Period:      testStep,
        SecretSize:  20,
    })
    require.NoError(t, err)
    return key.Secret()
}

func codeAt(t *testing.T, secret string, at time.Time) string {
    t.Helper()
    code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
        Period:    testStep,
        Skew:      0,
        Digits:    otp.DigitsSix,
        Algorithm: otp.AlgorithmSHA1,
    })
    require.NoError(t, err)
    return code
}

func TestVerifyTOTPCurrentSlot(t *testing.T) {
    secret := newSecret(t)
    now := time.Unix(1_700_000_000, 0).UTC()

    ok, delta := VerifyTOTP(secret, codeAt(t, secret, now), now, testStep, 1)
    assert.True(t, ok)
    assert.Equal(t, 0, delta)
}

func TestVerifyTOTPDriftSlots(t *testing.T) {
    secret := newSecret(t)
    now := time.Unix(1_700_000_000, 0).UTC()

    // Code minted one step earlier must match at delta -1, one step
    // later at delta +1.
    ok, delta := VerifyTOTP(secret, codeAt(t, secret, now.Add(-time.Duration(testStep)*time.Second)), now, testStep, 1)
    assert.True(t, ok)
    assert.Equal(t, -1, delta)

    ok, delta = VerifyTOTP(secret, codeAt(t, secret, now.Add(time.Duration(testStep)*time.Second)), now, testStep, 1)
    assert.True(t, ok)
    assert.Equal(t, 1, delta)
}

func TestVerifyTOTPOutsideDrift(t *testing.T) {
    secret := newSecret(t)
    now := time.Unix(1_700_000_000, 0).UTC()

    // Two steps away with drift 1: rejected.
    ok, _ := VerifyTOTP(secret, codeAt(t, secret, now.Add(-2*time.Duration(testStep)*time.Second)), now, testStep, 1)
    assert.False(t, ok)
}

func TestVerifyTOTPWrongCode(t *testing.T) {
    secret := newSecret(t)
    now := time.Unix(1_700_000_000, 0).UTC()

    ok, _ := VerifyTOTP(secret, "000000", now, testStep, 1)
    assert.False(t, ok)
}

func TestSlotUnix(t *testing.T) {
    // 1_700_000_000 is 20 seconds into its 30-second slot.
    at := time.Unix(1_700_000_000, 0).UTC()
    base := int64(1_699_999_980)

    assert.Equal(t, base, SlotUnix(at, 30, 0))
    assert.Equal(t, base-30, SlotUnix(at, 30, -1))
    assert.Equal(t, base+30, SlotUnix(at, 30, 1))
}

func TestTOTPRequestHashBinding(t *testing.T) {
    h := TOTPRequestHash("CH-1", "op-1", 1_699_999_980)
    assert.Len(t, h, 64)
    assert.Equal(t, h, TOTPRequestHash("CH-1", "op-1", 1_699_999_980))

    // Any component change produces a different hash.
    assert.NotEqual(t, h, TOTPRequestHash("CH-2", "op-1", 1_699_999_980))
    assert.NotEqual(t, h, TOTPRequestHash("CH-1", "op-2", 1_699_999_980))
    assert.NotEqual(t, h, TOTPRequestHash("CH-1", "op-1", 1_700_000_010))
}
