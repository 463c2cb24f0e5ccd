package activation

import (
    "crypto/ed25519" // channel verification keys
    "encoding/json"  // verbatim payload persistence
    "errors"         // codec sentinel matching

    "github.com/yzsoft/activation-server/internal/utils"
)

// CapsuleScope carries the restrictions embedded in a capsule: an
// allow-list of device models and a per-serial license cap.  Both
// are optional; an absent cap means one license per serial.
type CapsuleScope struct {
    Models   []string
    MaxPerSN int
}

// CapsulePayload is the parsed, signature-verified payload of a
// Capability Capsule.  Raw keeps the full claim set so first-sight
// registration can persist the payload verbatim.  Policy is
// reserved and passed through unvalidated.
type CapsulePayload struct {
    JTI         string
    ChannelCode string
    QuotaMax    int64
    ValidFrom   *int64
    ValidTo     *int64
    Scope       CapsuleScope
    Policy      map[string]interface{}
    Raw         map[string]interface{}
}

// RawJSON serializes the verified payload for persistence in the
// ledger row.
func (p *CapsulePayload) RawJSON() (string, error) {
    b, err := json.Marshal(p.Raw)
    if err != nil {
        return "", err
    }
    return string(b), nil
}

// ParseCapsule verifies a compact capsule envelope under the
// issuing channel's key and extracts the payload.  A capsule is
// trust-rooted in the channel's key, not the platform key: it
// authorizes activation through that channel.  All failures are
// terminal denials; quota.max_activations must be a positive
// integer, zero or missing is a validation error rather than an
// empty-quota grant.
func ParseCapsule(envelope string, key ed25519.PublicKey) (*CapsulePayload, *Denial) {
    claims, err := utils.VerifyCompact(envelope, key, utils.TypCAC)
    if err != nil {
        switch {
        case errors.Is(err, utils.ErrTypeMismatch):
            return nil, Deny(CodeCACInvalid, "cac envelope typ mismatch")
        case errors.Is(err, utils.ErrUnsupportedAlg):
            return nil, Deny(CodeCACInvalid, "cac envelope algorithm not supported")
        default:
            return nil, Deny(CodeCACInvalid, "cac signature verification failed")
        }
    }

    jti, _ := claims["jti"].(string)
    channelCode, _ := claims["channel_id"].(string)
    if jti == "" || channelCode == "" {
        return nil, Deny(CodeCACInvalid, "cac payload missing required fields")
    }

    quota, _ := claims["quota"].(map[string]interface{})
    quotaMax := intClaim(quota, "max_activations")
    if quotaMax <= 0 {
        return nil, Deny(CodeCACInvalid, "cac quota max must be > 0")
    }

    p := &CapsulePayload{
        JTI:         jti,
        ChannelCode: channelCode,
        QuotaMax:    quotaMax,
        ValidFrom:   optIntClaim(quota, "valid_from"),
        ValidTo:     optIntClaim(quota, "valid_to"),
        Raw:         map[string]interface{}(claims),
    }
    if scope, ok := claims["scope"].(map[string]interface{}); ok {
        if models, ok := scope["models"].([]interface{}); ok {
            for _, m := range models {
                if s, ok := m.(string); ok {
                    p.Scope.Models = append(p.Scope.Models, s)
                }
            }
        }
        p.Scope.MaxPerSN = int(intClaim(scope, "max_per_sn"))
    }
    if policy, ok := claims["policy"].(map[string]interface{}); ok {
        p.Policy = policy
    }
    return p, nil
}

// EffectiveMaxPerSN returns the per-serial cap: scope.max_per_sn
// when present, otherwise one license per serial.
func (p *CapsulePayload) EffectiveMaxPerSN() int {
    if p.Scope.MaxPerSN > 0 {
        return p.Scope.MaxPerSN
    }
    return 1
}

// AllowsModel reports whether the requested device model passes the
// scope allow-list.  An empty list allows every model.
func (p *CapsulePayload) AllowsModel(model string) bool {
    if len(p.Scope.Models) == 0 {
        return true
    }
    for _, m := range p.Scope.Models {
        if m == model {
            return true
        }
    }
    return false
}

// intClaim reads a numeric claim that JSON decoding surfaced as
// float64 (or json.Number-free int).  Returns 0 when absent or not
// numeric.
func intClaim(m map[string]interface{}, key string) int64 {
    if m == nil {
        return 0
    }
    switch v := m[key].(type) {
    case float64:
        return int64(v)
    case int64:
        return v
    case int:
        return int64(v)
    default:
        return 0
    }
}

// optIntClaim is intClaim for optional bounds: absent keys come
// back as nil rather than zero so "no bound" and "bound at epoch"
// stay distinguishable.
func optIntClaim(m map[string]interface{}, key string) *int64 {
    if m == nil {
        return nil
    }
    if _, ok := m[key]; !ok {
        return nil
    }
    v := intClaim(m, key)
    if v == 0 && m[key] == nil {
        return nil
    }
    return &v
}
