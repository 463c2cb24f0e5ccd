package repository

import (
    "context"
    "database/sql"
    "errors"
    "strings"
    "time"

    "github.com/yzsoft/activation-server/internal/model"
)

// ChannelRepo is the read side of the channel registry plus the
// provisioning writes used by the admin API.  The activation flow
// only ever reads channels, keys and sub-accounts; mutation happens
// out of band.
type ChannelRepo struct{ DB *sql.DB }

// NewChannelRepo returns a ChannelRepo bound to the given database.
func NewChannelRepo(db *sql.DB) *ChannelRepo { return &ChannelRepo{DB: db} }

// GetByCode fetches a channel by its external code.
func (r *ChannelRepo) GetByCode(ctx context.Context, code string) (model.Channel, error) {
    var c model.Channel
    err := r.DB.QueryRowContext(ctx,
        "SELECT id, channel_code, name, status, created_at, updated_at FROM channels WHERE channel_code=? LIMIT 1",
        code).Scan(&c.ID, &c.ChannelCode, &c.Name, &c.Status, &c.CreatedAt, &c.UpdatedAt)
    if errors.Is(err, sql.ErrNoRows) {
        return c, ErrNotFound
    }
    return c, err
}

// GetKey fetches a channel's registered key by kid.
func (r *ChannelRepo) GetKey(ctx context.Context, channelID uint64, kid string) (model.ChannelKey, error) {
    var k model.ChannelKey
    var rotated sql.NullTime
    err := r.DB.QueryRowContext(ctx,
        `SELECT id, channel_id, kid, algorithm, public_key, status, rotated_at, created_at
           FROM channel_keys WHERE channel_id=? AND kid=? LIMIT 1`,
        channelID, kid).Scan(&k.ID, &k.ChannelID, &k.Kid, &k.Algorithm, &k.PublicKey, &k.Status, &rotated, &k.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) {
        return k, ErrNotFound
    }
    if err != nil {
        return k, err
    }
    if rotated.Valid {
        t := rotated.Time
        k.RotatedAt = &t
    }
    return k, nil
}

// GetSubaccount fetches a channel's named operator identity.
func (r *ChannelRepo) GetSubaccount(ctx context.Context, channelID uint64, name string) (model.ChannelSubAccount, error) {
    var s model.ChannelSubAccount
    var lastUsed sql.NullTime
    err := r.DB.QueryRowContext(ctx,
        `SELECT id, channel_id, subaccount, totp_secret, status, last_used_at, created_at
           FROM channel_subaccounts WHERE channel_id=? AND subaccount=? LIMIT 1`,
        channelID, name).Scan(&s.ID, &s.ChannelID, &s.Subaccount, &s.TOTPSecret, &s.Status, &lastUsed, &s.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) {
        return s, ErrNotFound
    }
    if err != nil {
        return s, err
    }
    if lastUsed.Valid {
        t := lastUsed.Time
        s.LastUsedAt = &t
    }
    return s, nil
}

// Create inserts a new channel with status "active" and returns its ID.
func (r *ChannelRepo) Create(ctx context.Context, code, name string) (uint64, error) {
    code = strings.TrimSpace(code)
    res, err := r.DB.ExecContext(ctx,
        "INSERT INTO channels (channel_code, name, status) VALUES (?,?,'active')",
        code, name)
    if err != nil {
        if isDuplicateErr(err) {
            return 0, ErrDuplicate
        }
        return 0, err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return 0, err
    }
    return uint64(id), nil
}

// List returns all channels ordered by creation time.
func (r *ChannelRepo) List(ctx context.Context) ([]model.Channel, error) {
    rows, err := r.DB.QueryContext(ctx,
        "SELECT id, channel_code, name, status, created_at, updated_at FROM channels ORDER BY created_at")
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.Channel
    for rows.Next() {
        var c model.Channel
        if err := rows.Scan(&c.ID, &c.ChannelCode, &c.Name, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
            return nil, err
        }
        out = append(out, c)
    }
    return out, rows.Err()
}

// UpdateStatus flips a channel between active and disabled.
func (r *ChannelRepo) UpdateStatus(ctx context.Context, id uint64, status string) error {
    res, err := r.DB.ExecContext(ctx,
        "UPDATE channels SET status=?, updated_at=UTC_TIMESTAMP() WHERE id=?", status, id)
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        return ErrNotFound
    }
    return nil
}

// UpsertKey registers or rotates a channel key.  Re-registering an
// existing kid replaces its material and stamps rotated_at.
func (r *ChannelRepo) UpsertKey(ctx context.Context, channelID uint64, kid, algorithm, publicKey, status string) error {
    _, err := r.DB.ExecContext(ctx,
        `INSERT INTO channel_keys (channel_id, kid, algorithm, public_key, status)
             VALUES (?,?,?,?,?)
             ON DUPLICATE KEY UPDATE algorithm=VALUES(algorithm), public_key=VALUES(public_key),
                                     status=VALUES(status), rotated_at=UTC_TIMESTAMP()`,
        channelID, kid, algorithm, publicKey, status)
    return err
}

// UpsertSubaccount registers an operator identity or replaces its
// TOTP secret and status.
func (r *ChannelRepo) UpsertSubaccount(ctx context.Context, channelID uint64, name, totpSecret, status string) error {
    _, err := r.DB.ExecContext(ctx,
        `INSERT INTO channel_subaccounts (channel_id, subaccount, totp_secret, status)
             VALUES (?,?,?,?)
             ON DUPLICATE KEY UPDATE totp_secret=VALUES(totp_secret), status=VALUES(status)`,
        channelID, name, totpSecret, status)
    return err
}

// TouchSubaccountTx stamps last_used_at within the activation
// commit transaction.
func (r *ChannelRepo) TouchSubaccountTx(ctx context.Context, tx *sql.Tx, subaccountID uint64, at time.Time) error {
    _, err := tx.ExecContext(ctx,
        "UPDATE channel_subaccounts SET last_used_at=? WHERE id=?", at, subaccountID)
    return err
}
