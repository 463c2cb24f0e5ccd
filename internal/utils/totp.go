package utils

import (
    "crypto/sha256" // request-hash derivation
    "encoding/hex"  // hex form of the request hash
    "fmt"           // hash input formatting
    "time"          // slot arithmetic

    "github.com/pquerna/otp"      // OTP primitives (digits, algorithm)
    "github.com/pquerna/otp/totp" // time-based code validation
)

// VerifyTOTP validates a submitted code against a base32 shared
// secret at the given reference time, accepting codes within
// ±drift time-steps.  On success it reports the offset (delta in
// steps) that matched, because replay suppression must be scoped
// to the exact accepted time-slot, not to the short code string.
// Failure is a single boolean outcome; no partial state is kept.
func VerifyTOTP(secret, code string, at time.Time, step uint, drift int) (bool, int) {
    opts := totp.ValidateOpts{
        Period:    step,
        Skew:      0,
        Digits:    otp.DigitsSix,
        Algorithm: otp.AlgorithmSHA1,
    }
    // Try each candidate slot with zero skew so the matching offset
    // is known, nearest slots first.
    for _, delta := range driftOrder(drift) {
        shifted := at.Add(time.Duration(delta) * time.Duration(step) * time.Second)
        ok, err := totp.ValidateCustom(code, secret, shifted, opts)
        if err != nil {
            return false, 0
        }
        if ok {
            return true, delta
        }
    }
    return false, 0
}

// driftOrder returns offsets 0, -1, +1, -2, +2, ... out to ±drift.
// Checking the current slot first makes the common case cheap.
func driftOrder(drift int) []int {
    order := []int{0}
    for d := 1; d <= drift; d++ {
        order = append(order, -d, d)
    }
    return order
}

// SlotUnix returns the unix time of the start of the time-slot the
// code matched in: the reference time truncated to the step length,
// shifted by the accepted delta.
func SlotUnix(at time.Time, step uint, delta int) int64 {
    period := int64(step)
    base := (at.Unix() / period) * period
    return base + int64(delta)*period
}

// TOTPRequestHash derives the replay-suppression hash for an
// accepted code.  Binding the hash to channel, sub-account and the
// exact accepted slot (rather than the raw six-digit code) keeps
// unrelated requests from colliding while still catching reuse of
// one code across different nonces.
func TOTPRequestHash(channelCode, subaccount string, slotUnix int64) string {
    sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", channelCode, subaccount, slotUnix)))
    return hex.EncodeToString(sum[:])
}

// SHA256Hex returns the hex SHA-256 digest of the input.  Used to
// store one-way hashes of device public keys in the audit trail.
func SHA256Hex(data string) string {
    sum := sha256.Sum256([]byte(data))
    return hex.EncodeToString(sum[:])
}
