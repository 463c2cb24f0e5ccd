package model

import "time"

// CACToken is the persisted, mutable counterpart of a signed
// Capability Capsule.  The row is created on first sighting of a
// valid capsule and from then on is authoritative for quota state:
// a replayed capsule never resets QuotaUsed.  Revocation is a
// status flip performed by administrators; the activation flow
// never deletes rows.
//
// Fields:
//  ID        – primary key identifier.
//  JTI       – capsule identity from the signed payload (unique).
//  ChannelID – owning channel.
//  Payload   – verified capsule payload persisted verbatim (JSON).
//  QuotaMax  – maximum number of activations the capsule grants.
//  QuotaUsed – activations consumed so far; never exceeds QuotaMax.
//  ValidFrom – unix time lower validity bound (nullable).
//  ValidTo   – unix time upper validity bound (nullable).
//  Status    – "active" or "revoked".
//  CreatedAt – timestamp of first sighting.
//  UpdatedAt – timestamp of last quota consumption or status flip.
type CACToken struct {
    ID        uint64    // cac_tokens.id
    JTI       string    // cac_tokens.jti
    ChannelID uint64    // cac_tokens.channel_id
    Payload   string    // cac_tokens.payload
    QuotaMax  int64     // cac_tokens.quota_max
    QuotaUsed int64     // cac_tokens.quota_used
    ValidFrom *int64    // cac_tokens.valid_from (nullable)
    ValidTo   *int64    // cac_tokens.valid_to (nullable)
    Status    string    // cac_tokens.status
    CreatedAt time.Time // cac_tokens.created_at
    UpdatedAt time.Time // cac_tokens.updated_at
}
