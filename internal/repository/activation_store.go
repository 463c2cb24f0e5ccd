package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "time"

    "github.com/yzsoft/activation-server/internal/activation"
    "github.com/yzsoft/activation-server/internal/model"
)

// ActivationStore adapts the SQL repositories to the orchestrator's
// store interface.  Reads are plain repository calls; Commit is the
// explicit unit of work that applies the five success-path writes
// in a single transaction so they land together or not at all.
type ActivationStore struct {
    DB       *sql.DB
    Channels *ChannelRepo
    CACs     *CACRepo
    Replays  *ReplayRepo
    Licenses *LicenseRepo
    Audits   *AuditRepo
}

// NewActivationStore wires an ActivationStore over one database handle.
func NewActivationStore(db *sql.DB) *ActivationStore {
    return &ActivationStore{
        DB:       db,
        Channels: NewChannelRepo(db),
        CACs:     NewCACRepo(db),
        Replays:  NewReplayRepo(db),
        Licenses: NewLicenseRepo(db),
        Audits:   NewAuditRepo(db),
    }
}

var _ activation.Store = (*ActivationStore)(nil)

// ChannelByCode implements activation.Store.
func (s *ActivationStore) ChannelByCode(ctx context.Context, code string) (*model.Channel, error) {
    c, err := s.Channels.GetByCode(ctx, code)
    if errors.Is(err, ErrNotFound) {
        return nil, activation.ErrNotFound
    }
    if err != nil {
        return nil, err
    }
    return &c, nil
}

// ChannelKey implements activation.Store.
func (s *ActivationStore) ChannelKey(ctx context.Context, channelID uint64, kid string) (*model.ChannelKey, error) {
    k, err := s.Channels.GetKey(ctx, channelID, kid)
    if errors.Is(err, ErrNotFound) {
        return nil, activation.ErrNotFound
    }
    if err != nil {
        return nil, err
    }
    return &k, nil
}

// Subaccount implements activation.Store.
func (s *ActivationStore) Subaccount(ctx context.Context, channelID uint64, name string) (*model.ChannelSubAccount, error) {
    sa, err := s.Channels.GetSubaccount(ctx, channelID, name)
    if errors.Is(err, ErrNotFound) {
        return nil, activation.ErrNotFound
    }
    if err != nil {
        return nil, err
    }
    return &sa, nil
}

// CACByJTI implements activation.Store.
func (s *ActivationStore) CACByJTI(ctx context.Context, jti string) (*model.CACToken, error) {
    c, err := s.CACs.GetByJTI(ctx, jti)
    if errors.Is(err, ErrNotFound) {
        return nil, activation.ErrNotFound
    }
    if err != nil {
        return nil, err
    }
    return &c, nil
}

// NonceActive implements activation.Store.
func (s *ActivationStore) NonceActive(ctx context.Context, channelID uint64, nonce string, now time.Time) (bool, error) {
    return s.Replays.NonceActive(ctx, channelID, nonce, now)
}

// TOTPHashActive implements activation.Store.
func (s *ActivationStore) TOTPHashActive(ctx context.Context, channelID, subaccountID uint64, hash string, now time.Time) (bool, error) {
    return s.Replays.TOTPHashActive(ctx, channelID, subaccountID, hash, now)
}

// ActiveLicenseCount implements activation.Store.
func (s *ActivationStore) ActiveLicenseCount(ctx context.Context, sn string) (int64, error) {
    return s.Licenses.CountActiveBySN(ctx, sn)
}

// Commit implements activation.Store.  All writes run in one
// transaction: first-sight capsule registration, both replay rows,
// the sub-account touch, the license insert, the guarded quota
// increment and the approval audit row.  Unique-key and quota
// conflicts surface as the orchestrator's sentinels so a lost race
// is still reported as a protocol denial, not a server error.
func (s *ActivationStore) Commit(ctx context.Context, c *activation.Commit) (int64, error) {
    tx, err := s.DB.BeginTx(ctx, nil)
    if err != nil {
        return 0, fmt.Errorf("begin activation commit: %w", err)
    }
    defer func() { _ = tx.Rollback() }()

    if err := s.CACs.EnsureTx(ctx, tx, c.ChannelID, c.Capsule.JTI, c.CapsuleJSON,
        c.Capsule.QuotaMax, c.Capsule.ValidFrom, c.Capsule.ValidTo); err != nil {
        return 0, err
    }
    if err := s.Replays.InsertNonceTx(ctx, tx, c.ChannelID, c.Nonce, c.IAT, c.ReplayExpires, c.Now); err != nil {
        if errors.Is(err, ErrDuplicate) {
            return 0, activation.ErrNonceTaken
        }
        return 0, err
    }
    if err := s.Replays.InsertTOTPTx(ctx, tx, c.ChannelID, c.SubaccountID, c.TOTPHash, c.ReplayExpires, c.Now); err != nil {
        if errors.Is(err, ErrDuplicate) {
            return 0, activation.ErrTOTPTaken
        }
        return 0, err
    }
    if err := s.Channels.TouchSubaccountTx(ctx, tx, c.SubaccountID, c.Now); err != nil {
        return 0, err
    }
    if err := s.Licenses.InsertTx(ctx, tx, c.License); err != nil {
        return 0, err
    }
    remaining, err := s.CACs.ConsumeTx(ctx, tx, c.Capsule.JTI)
    if err != nil {
        if errors.Is(err, ErrQuotaExhausted) {
            return 0, activation.ErrQuotaExhausted
        }
        return 0, err
    }
    if err := s.Audits.InsertTx(ctx, tx, c.Audit); err != nil {
        return 0, err
    }
    if err := tx.Commit(); err != nil {
        return 0, fmt.Errorf("activation commit: %w", err)
    }
    return remaining, nil
}

// RecordDenial implements activation.Store.
func (s *ActivationStore) RecordDenial(ctx context.Context, a *model.ActivationAudit) error {
    return s.Audits.Insert(ctx, a)
}
