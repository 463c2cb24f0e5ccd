package model

import "time"

// License records a grant issued to a device.  The claim set is
// stored serialized alongside the full signed envelope so a license
// can be re-delivered or inspected without re-signing.  Revocation
// sets RevokedAt; per-serial caps only count rows where RevokedAt
// is null.
//
// Fields:
//  ID         – primary key identifier.
//  LicenseID  – human-traceable identifier (LIC-<date>-<random>).
//  SN         – device serial the license was issued for.
//  CACJTI     – capsule consumed when issuing (for correlation/revocation).
//  ChannelID  – channel the license was issued through.
//  Claims     – serialized license claim set (JSON).
//  Envelope   – full compact signed envelope returned to the caller.
//  IssuedAt   – issuance timestamp.
//  ExpiresAt  – expiry timestamp.
//  RevokedAt  – when the license was revoked (null if still valid).
type License struct {
    ID        uint64     // licenses.id
    LicenseID string     // licenses.license_id
    SN        string     // licenses.sn
    CACJTI    string     // licenses.cac_jti
    ChannelID uint64     // licenses.channel_id
    Claims    string     // licenses.claims
    Envelope  string     // licenses.envelope
    IssuedAt  time.Time  // licenses.issued_at
    ExpiresAt time.Time  // licenses.expires_at
    RevokedAt *time.Time // licenses.revoked_at (nullable)
}
