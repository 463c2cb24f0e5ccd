package utils

import (
    "bytes"                // constant comparison of detached bodies
    "crypto/ed25519"       // the only signature algorithm supported end-to-end
    "encoding/base64"      // base64url segment encoding
    "encoding/json"        // envelope headers are compact JSON
    "errors"               // sentinel errors for verification failures
    "strings"              // splitting the three dot-joined segments

    "github.com/golang-jwt/jwt/v5" // JWT library; provides the EdDSA signing method for compact envelopes
)

// Envelope type tags carried in the `typ` header.  Verifiers must
// check the tag against the type they expect and fail closed when
// it is absent or different.
const (
    TypCAC     = "cac"     // capability capsule envelopes
    TypLicense = "license" // issued license envelopes
)

// Sentinel errors returned by envelope verification.  Callers match
// with errors.Is to translate failures into protocol codes.
var (
    ErrEnvelopeFormat   = errors.New("envelope: malformed compact serialization")
    ErrUnsupportedAlg   = errors.New("envelope: unsupported algorithm")
    ErrSignatureInvalid = errors.New("envelope: signature verification failed")
    ErrTypeMismatch     = errors.New("envelope: typ header mismatch")
    ErrUseMismatch      = errors.New("envelope: use header mismatch")
    ErrBodyMismatch     = errors.New("envelope: detached body mismatch")
)

// eddsaOnly restricts compact parsing to EdDSA.  Any other `alg`
// value fails verification; there is no graceful degradation.
var eddsaOnly = jwt.WithValidMethods([]string{"EdDSA"})

// SignCompact produces a compact three-segment envelope
// (header.payload.signature, all base64url) over the given claims
// using an Ed25519 private key.  The typ tag distinguishes capsules
// from licenses and kid names the signing key.
func SignCompact(claims jwt.MapClaims, key ed25519.PrivateKey, typ, kid string) (string, error) {
    t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
    t.Header["typ"] = typ
    if kid != "" {
        t.Header["kid"] = kid
    }
    return t.SignedString(key)
}

// VerifyCompact checks a compact envelope against the supplied
// public key and expected typ tag.  On success it returns the
// decoded payload claims.  Every failure path is terminal: wrong
// algorithm, bad signature, missing or mismatched typ.
func VerifyCompact(envelope string, key ed25519.PublicKey, expectedTyp string) (jwt.MapClaims, error) {
    claims := jwt.MapClaims{}
    tok, err := jwt.NewParser(eddsaOnly).ParseWithClaims(envelope, claims, func(t *jwt.Token) (interface{}, error) {
        return key, nil
    })
    if err != nil {
        if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
            return nil, ErrSignatureInvalid
        }
        if errors.Is(err, jwt.ErrTokenMalformed) {
            return nil, ErrEnvelopeFormat
        }
        if errors.Is(err, jwt.ErrTokenUnverifiable) {
            return nil, ErrUnsupportedAlg
        }
        return nil, ErrSignatureInvalid
    }
    typ, _ := tok.Header["typ"].(string)
    if typ != expectedTyp {
        return nil, ErrTypeMismatch
    }
    return claims, nil
}

// DetachedHeader is the JSON header of a detached envelope.  The
// `use` field scopes a signature to one purpose (e.g. "activate")
// so an envelope captured from one endpoint cannot authorize a
// different one.
type DetachedHeader struct {
    Alg string `json:"alg"`
    Typ string `json:"typ"`
    Use string `json:"use,omitempty"`
    Kid string `json:"kid,omitempty"`
}

// SignDetached signs arbitrary body bytes as a detached envelope.
// The body is carried base64url in the middle segment and the
// signature covers header.body, exactly as for compact envelopes.
// Used by clients (and tests) to sign raw request bodies.
func SignDetached(body []byte, key ed25519.PrivateKey, kid, use string) (string, error) {
    hdr := DetachedHeader{Alg: "EdDSA", Typ: "JOSE", Use: use, Kid: kid}
    hb, err := json.Marshal(hdr)
    if err != nil {
        return "", err
    }
    h64 := base64.RawURLEncoding.EncodeToString(hb)
    p64 := base64.RawURLEncoding.EncodeToString(body)
    signingInput := h64 + "." + p64
    sig := ed25519.Sign(key, []byte(signingInput))
    return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// VerifyDetached checks a detached envelope against the exact
// original body bytes.  The verifier re-derives the middle segment
// from the supplied body, so an envelope lifted from one request
// cannot be replayed against a different payload.  When expectedUse
// is non-empty, a present `use` header must match it.
func VerifyDetached(envelope string, body []byte, key ed25519.PublicKey, expectedUse string) (*DetachedHeader, error) {
    parts := strings.Split(envelope, ".")
    if len(parts) != 3 {
        return nil, ErrEnvelopeFormat
    }
    hb, err := base64.RawURLEncoding.DecodeString(parts[0])
    if err != nil {
        return nil, ErrEnvelopeFormat
    }
    var hdr DetachedHeader
    if err := json.Unmarshal(hb, &hdr); err != nil {
        return nil, ErrEnvelopeFormat
    }
    if hdr.Alg != "EdDSA" {
        return nil, ErrUnsupportedAlg
    }
    if expectedUse != "" && hdr.Use != "" && hdr.Use != expectedUse {
        return nil, ErrUseMismatch
    }
    sig, err := base64.RawURLEncoding.DecodeString(parts[2])
    if err != nil {
        return nil, ErrEnvelopeFormat
    }
    signingInput := parts[0] + "." + parts[1]
    if !ed25519.Verify(key, []byte(signingInput), sig) {
        return nil, ErrSignatureInvalid
    }
    attached, err := base64.RawURLEncoding.DecodeString(parts[1])
    if err != nil {
        return nil, ErrEnvelopeFormat
    }
    if !bytes.Equal(attached, body) {
        return nil, ErrBodyMismatch
    }
    return &hdr, nil
}
