package activation

import "encoding/json"

// Headers carries the three activation headers.  The handler
// extracts them verbatim; presence is checked here so transport
// and protocol stay separable.
type Headers struct {
    ChannelID string // X-Channel-Id
    Kid       string // X-Channel-Kid
    Signature string // X-Channel-Signature (detached envelope over the raw body)
}

// Request is the activation request body.  The raw bytes are what
// the detached signature covers; this struct is decoded from them
// after the channel is authenticated.
type Request struct {
    ChannelID    string                 `json:"channel_id"`
    Subaccount   string                 `json:"subaccount"`
    TOTPCode     string                 `json:"totp_code"`
    CACToken     string                 `json:"cac_token"`
    SN           string                 `json:"sn"`
    Model        string                 `json:"model"`
    FWHash       string                 `json:"fw_hash"`
    DevicePubkey string                 `json:"device_pubkey"`
    Nonce        string                 `json:"nonce"`
    IAT          int64                  `json:"iat"`
    ClientMeta   map[string]interface{} `json:"client_meta,omitempty"`
    Region       string                 `json:"region,omitempty"`
}

// Result is the success payload returned to the channel.
type Result struct {
    LicenseID      string `json:"license_id"`
    LicenseJWS     string `json:"license_jws"`
    ExpiresAt      int64  `json:"expires_at"`
    QuotaRemaining int64  `json:"quota_remaining"`
}

// checkHeaders rejects requests missing any of the three
// activation headers.
func checkHeaders(hdr Headers) *Denial {
    switch {
    case hdr.ChannelID == "":
        return Deny(CodeMissingHeader, "X-Channel-Id header required")
    case hdr.Kid == "":
        return Deny(CodeMissingHeader, "X-Channel-Kid header required")
    case hdr.Signature == "":
        return Deny(CodeMissingHeader, "X-Channel-Signature header required")
    }
    return nil
}

// decodeRequest parses and field-validates the request body.  Only
// structural checks live here; freshness and nonce-length rules
// depend on configuration and run in the pipeline.
func decodeRequest(body []byte) (*Request, *Denial) {
    if len(body) == 0 {
        return nil, Deny(CodeEmptyBody, "request body required")
    }
    var req Request
    if err := json.Unmarshal(body, &req); err != nil {
        return nil, Deny(CodeInvalidJSON, "request body is not valid JSON")
    }
    for field, value := range map[string]string{
        "channel_id":    req.ChannelID,
        "subaccount":    req.Subaccount,
        "totp_code":     req.TOTPCode,
        "cac_token":     req.CACToken,
        "sn":            req.SN,
        "model":         req.Model,
        "fw_hash":       req.FWHash,
        "device_pubkey": req.DevicePubkey,
        "nonce":         req.Nonce,
    } {
        if value == "" {
            return nil, Deny(CodeInvalidPayload, field+" is required")
        }
    }
    if req.IAT <= 0 {
        return nil, Deny(CodeInvalidPayload, "iat is required")
    }
    return &req, nil
}
