package model

import "time"

// ActivationRequest is a replay-suppression row keyed by
// (channel, nonce).  Rows are write-once; the existence of a row
// whose ExpiresAt is still in the future rejects the request.
// Expired rows are left for external housekeeping to sweep.
//
// Fields:
//  ID        – primary key identifier.
//  ChannelID – channel that presented the nonce.
//  Nonce     – caller-chosen once-only token (unique per channel).
//  IAT       – issue time claimed in the request body (unix time).
//  ExpiresAt – end of the suppression window.
//  CreatedAt – when the row was written.
type ActivationRequest struct {
    ID        uint64    // activation_requests.id
    ChannelID uint64    // activation_requests.channel_id
    Nonce     string    // activation_requests.nonce
    IAT       int64     // activation_requests.iat
    ExpiresAt time.Time // activation_requests.expires_at
    CreatedAt time.Time // activation_requests.created_at
}

// TOTPUse is the second replay-suppression axis, keyed by
// (channel, sub-account, request hash).  The hash is derived from
// the TOTP time-slot that was accepted, not from the raw code, so
// a stolen code cannot be replayed within the same step even under
// a different nonce.
//
// Fields:
//  ID           – primary key identifier.
//  ChannelID    – channel of the request.
//  SubaccountID – operator that presented the code.
//  RequestHash  – SHA-256 digest bound to the accepted time-slot.
//  ExpiresAt    – end of the suppression window.
//  CreatedAt    – when the row was written.
type TOTPUse struct {
    ID           uint64    // totp_uses.id
    ChannelID    uint64    // totp_uses.channel_id
    SubaccountID uint64    // totp_uses.subaccount_id
    RequestHash  string    // totp_uses.request_hash
    ExpiresAt    time.Time // totp_uses.expires_at
    CreatedAt    time.Time // totp_uses.created_at
}
