package repository

import (
    "context"
    "database/sql"

    "github.com/yzsoft/activation-server/internal/model"
)

// AuditRepo appends to the activation audit trail.  Rows are never
// updated or deleted; approvals are written inside the commit
// transaction and denials as standalone best-effort inserts.
type AuditRepo struct{ DB *sql.DB }

// NewAuditRepo returns an AuditRepo bound to the given database.
func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{DB: db} }

const auditInsert = `INSERT INTO activation_audit
    (channel_code, subaccount, sn, cac_jti, decision, reason, device_pk_hash, license_id)
    VALUES (?,?,?,?,?,?,?,?)`

// Insert appends one audit row outside any transaction.
func (r *AuditRepo) Insert(ctx context.Context, a *model.ActivationAudit) error {
    _, err := r.DB.ExecContext(ctx, auditInsert,
        a.ChannelCode, a.Subaccount, a.SN, a.CACJTI, a.Decision, a.Reason, a.DevicePKHash, a.LicenseID)
    return err
}

// InsertTx appends one audit row inside the commit transaction.
func (r *AuditRepo) InsertTx(ctx context.Context, tx *sql.Tx, a *model.ActivationAudit) error {
    _, err := tx.ExecContext(ctx, auditInsert,
        a.ChannelCode, a.Subaccount, a.SN, a.CACJTI, a.Decision, a.Reason, a.DevicePKHash, a.LicenseID)
    return err
}

// List returns recent audit rows, newest first, capped by limit.
func (r *AuditRepo) List(ctx context.Context, limit int) ([]model.ActivationAudit, error) {
    if limit <= 0 || limit > 500 {
        limit = 100
    }
    rows, err := r.DB.QueryContext(ctx,
        `SELECT id, channel_code, subaccount, sn, cac_jti, decision, reason, device_pk_hash, license_id, created_at
           FROM activation_audit ORDER BY id DESC LIMIT ?`, limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.ActivationAudit
    for rows.Next() {
        var a model.ActivationAudit
        if err := rows.Scan(&a.ID, &a.ChannelCode, &a.Subaccount, &a.SN, &a.CACJTI,
            &a.Decision, &a.Reason, &a.DevicePKHash, &a.LicenseID, &a.CreatedAt); err != nil {
            return nil, err
        }
        out = append(out, a)
    }
    return out, rows.Err()
}
