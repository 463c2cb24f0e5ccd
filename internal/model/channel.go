package model

import "time"

// Channel represents a reseller channel as stored in the `channels`
// table.  Channels are provisioned by administrators and are
// read-only to the activation flow.  Activation only proceeds when
// the channel status is "active".
//
// Fields:
//  ID          – primary key identifier.
//  ChannelCode – stable external code presented by callers (unique).
//  Name        – display name for administrators.
//  Status      – "active" or "disabled".
//  CreatedAt   – timestamp of creation.
//  UpdatedAt   – timestamp of last update.
type Channel struct {
    ID          uint64    // channels.id
    ChannelCode string    // channels.channel_code
    Name        string    // channels.name
    Status      string    // channels.status
    CreatedAt   time.Time // channels.created_at
    UpdatedAt   time.Time // channels.updated_at
}

// ChannelKey is a named public key registered for a channel.  A
// channel may hold several keys at once to allow rotation; only
// keys with status "active" are usable for verification.  Key
// material is stored as PEM so it can be audited by hand.
//
// Fields:
//  ID        – primary key identifier.
//  ChannelID – owning channel.
//  Kid       – key identifier presented in envelope headers (unique per channel).
//  Algorithm – signature algorithm tag; only "EdDSA" is supported.
//  PublicKey – PEM encoded Ed25519 public key.
//  Status    – "active" or "disabled".
//  RotatedAt – when the key material was last replaced (nullable).
//  CreatedAt – timestamp of creation.
type ChannelKey struct {
    ID        uint64     // channel_keys.id
    ChannelID uint64     // channel_keys.channel_id
    Kid       string     // channel_keys.kid
    Algorithm string     // channel_keys.algorithm
    PublicKey string     // channel_keys.public_key
    Status    string     // channel_keys.status
    RotatedAt *time.Time // channel_keys.rotated_at (nullable)
    CreatedAt time.Time  // channel_keys.created_at
}

// ChannelSubAccount is a named operator identity under a channel.
// Each sub-account owns a TOTP shared secret; the activation flow
// reads the secret and touches LastUsedAt on success, nothing else.
//
// Fields:
//  ID         – primary key identifier.
//  ChannelID  – owning channel.
//  Subaccount – operator name (unique per channel).
//  TOTPSecret – base32 shared secret for one-time codes.
//  Status     – "active" or "disabled".
//  LastUsedAt – last successful activation through this operator (nullable).
//  CreatedAt  – timestamp of creation.
type ChannelSubAccount struct {
    ID         uint64     // channel_subaccounts.id
    ChannelID  uint64     // channel_subaccounts.channel_id
    Subaccount string     // channel_subaccounts.subaccount
    TOTPSecret string     // channel_subaccounts.totp_secret
    Status     string     // channel_subaccounts.status
    LastUsedAt *time.Time // channel_subaccounts.last_used_at (nullable)
    CreatedAt  time.Time  // channel_subaccounts.created_at
}
