package repository

import (
    "context"
    "database/sql"
    "errors"

    "github.com/yzsoft/activation-server/internal/model"
)

// CACRepo is the persistence side of the capsule ledger.  Rows are
// registered on first sight of a valid signed capsule and from then
// on own the quota state; the activation flow never deletes or
// resets them.
type CACRepo struct{ DB *sql.DB }

// NewCACRepo returns a CACRepo bound to the given database.
func NewCACRepo(db *sql.DB) *CACRepo { return &CACRepo{DB: db} }

// scanCAC reads one ledger row with its nullable validity bounds.
func scanCAC(row *sql.Row) (model.CACToken, error) {
    var c model.CACToken
    var from, to sql.NullInt64
    err := row.Scan(&c.ID, &c.JTI, &c.ChannelID, &c.Payload, &c.QuotaMax, &c.QuotaUsed,
        &from, &to, &c.Status, &c.CreatedAt, &c.UpdatedAt)
    if err != nil {
        return c, err
    }
    if from.Valid {
        v := from.Int64
        c.ValidFrom = &v
    }
    if to.Valid {
        v := to.Int64
        c.ValidTo = &v
    }
    return c, nil
}

const cacColumns = "id, jti, channel_id, payload, quota_max, quota_used, valid_from, valid_to, status, created_at, updated_at"

// GetByJTI fetches the ledger row for a capsule identity.
func (r *CACRepo) GetByJTI(ctx context.Context, jti string) (model.CACToken, error) {
    c, err := scanCAC(r.DB.QueryRowContext(ctx,
        "SELECT "+cacColumns+" FROM cac_tokens WHERE jti=? LIMIT 1", jti))
    if errors.Is(err, sql.ErrNoRows) {
        return c, ErrNotFound
    }
    return c, err
}

// List returns ledger rows for a channel, newest first.  Used by
// the admin API only.
func (r *CACRepo) List(ctx context.Context, channelID uint64) ([]model.CACToken, error) {
    rows, err := r.DB.QueryContext(ctx,
        "SELECT "+cacColumns+" FROM cac_tokens WHERE channel_id=? ORDER BY created_at DESC", channelID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.CACToken
    for rows.Next() {
        var c model.CACToken
        var from, to sql.NullInt64
        if err := rows.Scan(&c.ID, &c.JTI, &c.ChannelID, &c.Payload, &c.QuotaMax, &c.QuotaUsed,
            &from, &to, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
            return nil, err
        }
        if from.Valid {
            v := from.Int64
            c.ValidFrom = &v
        }
        if to.Valid {
            v := to.Int64
            c.ValidTo = &v
        }
        out = append(out, c)
    }
    return out, rows.Err()
}

// UpdateStatus flips a capsule between active and revoked.  Admin
// operation; the activation flow only ever reads status.
func (r *CACRepo) UpdateStatus(ctx context.Context, jti, status string) error {
    res, err := r.DB.ExecContext(ctx,
        "UPDATE cac_tokens SET status=?, updated_at=UTC_TIMESTAMP() WHERE jti=?", status, jti)
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

// EnsureTx performs first-sight registration inside the commit
// transaction.  When the row already exists the insert is a no-op:
// the existing row stays authoritative and a replayed capsule can
// never reset quota_used.
func (r *CACRepo) EnsureTx(ctx context.Context, tx *sql.Tx, channelID uint64, jti, payload string, quotaMax int64, validFrom, validTo *int64) error {
    _, err := tx.ExecContext(ctx,
        `INSERT INTO cac_tokens (jti, channel_id, payload, quota_max, quota_used, valid_from, valid_to, status)
             VALUES (?,?,?,?,0,?,?,'active')
             ON DUPLICATE KEY UPDATE jti=jti`,
        jti, channelID, payload, quotaMax, validFrom, validTo)
    return err
}

// ConsumeTx performs the guarded quota increment inside the commit
// transaction.  The WHERE clause makes check and increment one
// serializable unit, so concurrent activations against the same
// capsule cannot push quota_used past quota_max.  Returns the
// remaining quota, or ErrQuotaExhausted when no headroom was left.
func (r *CACRepo) ConsumeTx(ctx context.Context, tx *sql.Tx, jti string) (int64, error) {
    res, err := tx.ExecContext(ctx,
        `UPDATE cac_tokens
            SET quota_used = quota_used + 1, updated_at = UTC_TIMESTAMP()
          WHERE jti=? AND status='active' AND quota_used < quota_max`, jti)
    if err != nil {
        return 0, err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return 0, err
    }
    if n == 0 {
        return 0, ErrQuotaExhausted
    }
    var remaining int64
    err = tx.QueryRowContext(ctx,
        "SELECT quota_max - quota_used FROM cac_tokens WHERE jti=?", jti).Scan(&remaining)
    if err != nil {
        return 0, err
    }
    return remaining, nil
}

// ErrQuotaExhausted reports that the guarded increment found no
// remaining quota for the capsule.
var ErrQuotaExhausted = errors.New("cac quota exhausted")
