package activation

import (
    "context"
    "errors"
    "time"

    "github.com/yzsoft/activation-server/internal/model"
)

// Store errors.  Implementations translate their backend's failure
// modes into these sentinels; anything else is treated as an
// infrastructure fault and surfaces as a server error, never as a
// protocol rejection.
var (
    // ErrNotFound reports a missing channel, key, sub-account or
    // ledger row.
    ErrNotFound = errors.New("activation: not found")
    // ErrQuotaExhausted reports that the guarded quota increment
    // found no headroom.  Raced requests hit this inside Commit.
    ErrQuotaExhausted = errors.New("activation: cac quota exhausted")
    // ErrNonceTaken reports a concurrent insert of the same
    // (channel, nonce) pair inside Commit.
    ErrNonceTaken = errors.New("activation: nonce already recorded")
    // ErrTOTPTaken reports a concurrent insert of the same
    // (channel, sub-account, request-hash) inside Commit.
    ErrTOTPTaken = errors.New("activation: totp slot already recorded")
)

// Store is everything the orchestrator needs from persistence.
// Reads happen during validation; the five success-path writes are
// bundled into Commit, which must apply them in one atomic unit or
// not at all.  Tests substitute an in-memory fake.
type Store interface {
    // ChannelByCode returns the channel with the given external
    // code, or ErrNotFound.
    ChannelByCode(ctx context.Context, code string) (*model.Channel, error)
    // ChannelKey returns the named key of a channel, or
    // ErrNotFound.  Callers enforce the status check.
    ChannelKey(ctx context.Context, channelID uint64, kid string) (*model.ChannelKey, error)
    // Subaccount returns the named operator of a channel, or
    // ErrNotFound.
    Subaccount(ctx context.Context, channelID uint64, name string) (*model.ChannelSubAccount, error)
    // CACByJTI returns the ledger row for a capsule identity, or
    // ErrNotFound on first sight.
    CACByJTI(ctx context.Context, jti string) (*model.CACToken, error)
    // NonceActive reports whether a still-unexpired (channel,
    // nonce) suppression row exists.
    NonceActive(ctx context.Context, channelID uint64, nonce string, now time.Time) (bool, error)
    // TOTPHashActive reports whether a still-unexpired (channel,
    // sub-account, request-hash) suppression row exists.
    TOTPHashActive(ctx context.Context, channelID, subaccountID uint64, hash string, now time.Time) (bool, error)
    // ActiveLicenseCount counts non-revoked licenses for a serial.
    ActiveLicenseCount(ctx context.Context, sn string) (int64, error)
    // Commit applies the success-path writes atomically: both
    // replay-suppression rows, the sub-account touch, the license
    // insert, the guarded quota increment and the audit insert.
    // It returns the capsule's remaining quota after consumption.
    // ErrQuotaExhausted, ErrNonceTaken and ErrTOTPTaken roll the
    // unit back and map to protocol denials; any other error is an
    // infrastructure fault.
    Commit(ctx context.Context, c *Commit) (quotaRemaining int64, err error)
    // RecordDenial appends an audit row for a rejected attempt.
    // Best-effort: failures are logged, never surfaced.
    RecordDenial(ctx context.Context, a *model.ActivationAudit) error
}

// Commit is the staged write set for one approved activation.
type Commit struct {
    Now time.Time

    // Replay-suppression rows.
    ChannelID     uint64
    Nonce         string
    IAT           int64
    SubaccountID  uint64
    TOTPHash      string
    ReplayExpires time.Time

    // First-sight capsule registration.  CapsuleJSON is the
    // verified payload serialized verbatim; the insert is a no-op
    // when the ledger row already exists (the existing row stays
    // authoritative for quota state).
    Capsule     *CapsulePayload
    CapsuleJSON string

    // Issued license and the approval audit row.
    License *model.License
    Audit   *model.ActivationAudit
}
