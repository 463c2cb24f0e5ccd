package model

import "time"

// ActivationAudit is an append-only record of the decision taken
// for every activation attempt, approved or denied.  The device
// public key is never stored raw; only a one-way hash is kept so
// attempts can be correlated forensically without disclosing key
// material.
//
// Fields:
//  ID            – primary key identifier.
//  ChannelCode   – channel code as presented by the caller.
//  Subaccount    – operator name as presented by the caller.
//  SN            – device serial from the request.
//  CACJTI        – capsule identity, when one was parsed.
//  Decision      – "approved" or "denied".
//  Reason        – symbolic error code for denials, empty on approval.
//  DevicePKHash  – SHA-256 hex digest of the device public key.
//  LicenseID     – issued license identifier, empty on denial.
//  CreatedAt     – when the attempt was recorded.
type ActivationAudit struct {
    ID           uint64    // activation_audit.id
    ChannelCode  string    // activation_audit.channel_code
    Subaccount   string    // activation_audit.subaccount
    SN           string    // activation_audit.sn
    CACJTI       string    // activation_audit.cac_jti
    Decision     string    // activation_audit.decision
    Reason       string    // activation_audit.reason
    DevicePKHash string    // activation_audit.device_pk_hash
    LicenseID    string    // activation_audit.license_id
    CreatedAt    time.Time // activation_audit.created_at
}
