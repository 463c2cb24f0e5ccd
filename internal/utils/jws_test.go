package utils

import (
    "crypto/ed25519"
    "crypto/rand"
    "encoding/base64"
    "strings"
    "testing"

    "github.com/golang-jwt/jwt/v5"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func newKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
    t.Helper()
    pub, priv, err := ed25519.GenerateKey(rand.Reader)
    require.NoError(t, err)
    return pub, priv
}

func TestCompactRoundTrip(t *testing.T) {
    pub, priv := newKeyPair(t)

    claims := jwt.MapClaims{"jti": "cac-001", "channel_id": "CH-1"}
    env, err := SignCompact(claims, priv, TypCAC, "chan-key-1")
    require.NoError(t, err)
    require.Len(t, strings.Split(env, "."), 3)

    got, err := VerifyCompact(env, pub, TypCAC)
    require.NoError(t, err)
    assert.Equal(t, "cac-001", got["jti"])
    assert.Equal(t, "CH-1", got["channel_id"])
}

func TestCompactTypMismatch(t *testing.T) {
    pub, priv := newKeyPair(t)

    env, err := SignCompact(jwt.MapClaims{"jti": "x"}, priv, TypLicense, "")
    require.NoError(t, err)

    _, err = VerifyCompact(env, pub, TypCAC)
    assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestCompactWrongKey(t *testing.T) {
    _, priv := newKeyPair(t)
    otherPub, _ := newKeyPair(t)

    env, err := SignCompact(jwt.MapClaims{"jti": "x"}, priv, TypCAC, "")
    require.NoError(t, err)

    _, err = VerifyCompact(env, otherPub, TypCAC)
    assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestCompactTamperedPayload(t *testing.T) {
    pub, priv := newKeyPair(t)

    env, err := SignCompact(jwt.MapClaims{"jti": "x"}, priv, TypCAC, "")
    require.NoError(t, err)

    parts := strings.Split(env, ".")
    parts[1] = base64.RawURLEncoding.EncodeToString([]byte(`{"jti":"forged"}`))
    _, err = VerifyCompact(strings.Join(parts, "."), pub, TypCAC)
    assert.Error(t, err)
}

func TestCompactRejectsNonEdDSA(t *testing.T) {
    pub, _ := newKeyPair(t)

    // An HS256 token must be refused regardless of its signature.
    tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"jti": "x"})
    tok.Header["typ"] = TypCAC
    signed, err := tok.SignedString([]byte("shared-secret"))
    require.NoError(t, err)

    _, err = VerifyCompact(signed, pub, TypCAC)
    assert.Error(t, err)
}

func TestCompactMalformed(t *testing.T) {
    pub, _ := newKeyPair(t)
    _, err := VerifyCompact("not-an-envelope", pub, TypCAC)
    assert.ErrorIs(t, err, ErrEnvelopeFormat)
}

func TestDetachedRoundTrip(t *testing.T) {
    pub, priv := newKeyPair(t)
    body := []byte(`{"channel_id":"CH-1","sn":"SN123"}`)

    env, err := SignDetached(body, priv, "chan-key-1", "activate")
    require.NoError(t, err)

    hdr, err := VerifyDetached(env, body, pub, "activate")
    require.NoError(t, err)
    assert.Equal(t, "EdDSA", hdr.Alg)
    assert.Equal(t, "activate", hdr.Use)
    assert.Equal(t, "chan-key-1", hdr.Kid)
}

func TestDetachedBodyMismatch(t *testing.T) {
    pub, priv := newKeyPair(t)
    body := []byte(`{"sn":"SN123"}`)

    env, err := SignDetached(body, priv, "k", "activate")
    require.NoError(t, err)

    // An envelope lifted from one request must not verify against a
    // different body even when both are valid JSON.
    _, err = VerifyDetached(env, []byte(`{"sn":"SN999"}`), pub, "activate")
    assert.ErrorIs(t, err, ErrBodyMismatch)
}

func TestDetachedUseMismatch(t *testing.T) {
    pub, priv := newKeyPair(t)
    body := []byte(`{}`)

    env, err := SignDetached(body, priv, "k", "refund")
    require.NoError(t, err)

    _, err = VerifyDetached(env, body, pub, "activate")
    assert.ErrorIs(t, err, ErrUseMismatch)
}

func TestDetachedWrongAlg(t *testing.T) {
    pub, priv := newKeyPair(t)
    body := []byte(`{}`)

    env, err := SignDetached(body, priv, "k", "activate")
    require.NoError(t, err)

    // Rewrite the header to claim HS256; the signature is untouched.
    parts := strings.Split(env, ".")
    parts[0] = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JOSE","use":"activate"}`))
    _, err = VerifyDetached(strings.Join(parts, "."), body, pub, "activate")
    assert.ErrorIs(t, err, ErrUnsupportedAlg)
}

func TestDetachedWrongSegmentCount(t *testing.T) {
    pub, _ := newKeyPair(t)
    _, err := VerifyDetached("a.b", []byte(`{}`), pub, "activate")
    assert.ErrorIs(t, err, ErrEnvelopeFormat)
}

func TestDetachedForgedSignature(t *testing.T) {
    pub, priv := newKeyPair(t)
    _, otherPriv := newKeyPair(t)
    body := []byte(`{"sn":"SN123"}`)

    env, err := SignDetached(body, otherPriv, "k", "activate")
    require.NoError(t, err)
    _, err = VerifyDetached(env, body, pub, "activate")
    assert.ErrorIs(t, err, ErrSignatureInvalid)

    env, err = SignDetached(body, priv, "k", "activate")
    require.NoError(t, err)
    _, err = VerifyDetached(env, body, pub, "activate")
    assert.NoError(t, err)
}
