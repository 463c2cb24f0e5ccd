package repository

import (
    "context"
    "database/sql"
    "time"
)

// ReplayRepo persists the two replay-suppression axes: nonce rows
// keyed (channel, nonce) and one-time-code rows keyed (channel,
// sub-account, request hash).  Rows are write-once with an expiry;
// sweeping expired rows is an external housekeeping concern, except
// that a legitimate reuse after expiry replaces the stale row in
// place.
type ReplayRepo struct{ DB *sql.DB }

// NewReplayRepo returns a ReplayRepo bound to the given database.
func NewReplayRepo(db *sql.DB) *ReplayRepo { return &ReplayRepo{DB: db} }

// NonceActive reports whether an unexpired suppression row exists
// for the (channel, nonce) pair.
func (r *ReplayRepo) NonceActive(ctx context.Context, channelID uint64, nonce string, now time.Time) (bool, error) {
    var n int
    err := r.DB.QueryRowContext(ctx,
        "SELECT COUNT(*) FROM activation_requests WHERE channel_id=? AND nonce=? AND expires_at > ?",
        channelID, nonce, now).Scan(&n)
    return n > 0, err
}

// TOTPHashActive reports whether an unexpired suppression row
// exists for the (channel, sub-account, request-hash) triple.
func (r *ReplayRepo) TOTPHashActive(ctx context.Context, channelID, subaccountID uint64, hash string, now time.Time) (bool, error) {
    var n int
    err := r.DB.QueryRowContext(ctx,
        "SELECT COUNT(*) FROM totp_uses WHERE channel_id=? AND subaccount_id=? AND request_hash=? AND expires_at > ?",
        channelID, subaccountID, hash, now).Scan(&n)
    return n > 0, err
}

// InsertNonceTx writes the (channel, nonce) suppression row inside
// the commit transaction.  A stale row from a previous window is
// replaced first so the unique key only trips for genuine replays;
// in that case ErrDuplicate is returned and the caller rolls the
// unit back.
func (r *ReplayRepo) InsertNonceTx(ctx context.Context, tx *sql.Tx, channelID uint64, nonce string, iat int64, expires, now time.Time) error {
    _, err := tx.ExecContext(ctx,
        "DELETE FROM activation_requests WHERE channel_id=? AND nonce=? AND expires_at <= ?",
        channelID, nonce, now)
    if err != nil {
        return err
    }
    _, err = tx.ExecContext(ctx,
        "INSERT INTO activation_requests (channel_id, nonce, iat, expires_at) VALUES (?,?,?,?)",
        channelID, nonce, iat, expires)
    if isDuplicateErr(err) {
        return ErrDuplicate
    }
    return err
}

// InsertTOTPTx writes the slot-bound one-time-code suppression row
// inside the commit transaction, with the same replace-then-insert
// treatment as InsertNonceTx.
func (r *ReplayRepo) InsertTOTPTx(ctx context.Context, tx *sql.Tx, channelID, subaccountID uint64, hash string, expires, now time.Time) error {
    _, err := tx.ExecContext(ctx,
        "DELETE FROM totp_uses WHERE channel_id=? AND subaccount_id=? AND request_hash=? AND expires_at <= ?",
        channelID, subaccountID, hash, now)
    if err != nil {
        return err
    }
    _, err = tx.ExecContext(ctx,
        "INSERT INTO totp_uses (channel_id, subaccount_id, request_hash, expires_at) VALUES (?,?,?,?)",
        channelID, subaccountID, hash, expires)
    if isDuplicateErr(err) {
        return ErrDuplicate
    }
    return err
}
