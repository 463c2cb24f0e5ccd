package repository

import (
    "context"
    "database/sql"
    "errors"

    "github.com/yzsoft/activation-server/internal/model"
)

// LicenseRepo persists issued licenses.  Inserts happen only inside
// the activation commit transaction; revocation is an admin-side
// status flip that sets revoked_at.
type LicenseRepo struct{ DB *sql.DB }

// NewLicenseRepo returns a LicenseRepo bound to the given database.
func NewLicenseRepo(db *sql.DB) *LicenseRepo { return &LicenseRepo{DB: db} }

// CountActiveBySN counts non-revoked licenses for a device serial.
// Per-serial caps are enforced at issuance against this count, not
// by a uniqueness constraint.
func (r *LicenseRepo) CountActiveBySN(ctx context.Context, sn string) (int64, error) {
    var n int64
    err := r.DB.QueryRowContext(ctx,
        "SELECT COUNT(*) FROM licenses WHERE sn=? AND revoked_at IS NULL", sn).Scan(&n)
    return n, err
}

// InsertTx writes a license row inside the commit transaction and
// populates the generated ID.
func (r *LicenseRepo) InsertTx(ctx context.Context, tx *sql.Tx, lic *model.License) error {
    res, err := tx.ExecContext(ctx,
        `INSERT INTO licenses (license_id, sn, cac_jti, channel_id, claims, envelope, issued_at, expires_at)
             VALUES (?,?,?,?,?,?,?,?)`,
        lic.LicenseID, lic.SN, lic.CACJTI, lic.ChannelID, lic.Claims, lic.Envelope, lic.IssuedAt, lic.ExpiresAt)
    if err != nil {
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    lic.ID = uint64(id)
    return nil
}

// GetByLicenseID fetches a license by its external identifier.
func (r *LicenseRepo) GetByLicenseID(ctx context.Context, licenseID string) (model.License, error) {
    var lic model.License
    var revoked sql.NullTime
    err := r.DB.QueryRowContext(ctx,
        `SELECT id, license_id, sn, cac_jti, channel_id, claims, envelope, issued_at, expires_at, revoked_at
           FROM licenses WHERE license_id=? LIMIT 1`,
        licenseID).Scan(&lic.ID, &lic.LicenseID, &lic.SN, &lic.CACJTI, &lic.ChannelID,
        &lic.Claims, &lic.Envelope, &lic.IssuedAt, &lic.ExpiresAt, &revoked)
    if errors.Is(err, sql.ErrNoRows) {
        return lic, ErrNotFound
    }
    if err != nil {
        return lic, err
    }
    if revoked.Valid {
        t := revoked.Time
        lic.RevokedAt = &t
    }
    return lic, nil
}

// ListBySN returns all licenses for a serial, newest first.
func (r *LicenseRepo) ListBySN(ctx context.Context, sn string) ([]model.License, error) {
    rows, err := r.DB.QueryContext(ctx,
        `SELECT id, license_id, sn, cac_jti, channel_id, claims, envelope, issued_at, expires_at, revoked_at
           FROM licenses WHERE sn=? ORDER BY issued_at DESC`, sn)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.License
    for rows.Next() {
        var lic model.License
        var revoked sql.NullTime
        if err := rows.Scan(&lic.ID, &lic.LicenseID, &lic.SN, &lic.CACJTI, &lic.ChannelID,
            &lic.Claims, &lic.Envelope, &lic.IssuedAt, &lic.ExpiresAt, &revoked); err != nil {
            return nil, err
        }
        if revoked.Valid {
            t := revoked.Time
            lic.RevokedAt = &t
        }
        out = append(out, lic)
    }
    return out, rows.Err()
}

// Revoke marks a license revoked.  Revoking an already revoked
// license is a no-op that still succeeds.
func (r *LicenseRepo) Revoke(ctx context.Context, licenseID string) error {
    res, err := r.DB.ExecContext(ctx,
        "UPDATE licenses SET revoked_at=UTC_TIMESTAMP() WHERE license_id=? AND revoked_at IS NULL", licenseID)
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        // Distinguish "missing" from "already revoked".
        if _, gerr := r.GetByLicenseID(ctx, licenseID); gerr != nil {
            return gerr
        }
    }
    return nil
}
