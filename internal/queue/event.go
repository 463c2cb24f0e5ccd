// Package queue defines message payloads exchanged over the message broker.
package queue

// LicenseIssuedEvent is published when an activation is approved and
// its license committed.  It contains enough information for
// downstream consumers to log, bill, or trigger analytics without
// querying the primary database.  The license envelope itself is
// deliberately absent: consumers have no business holding signed
// licenses.
type LicenseIssuedEvent struct {
    LicenseID      string `json:"license_id"`
    ChannelCode    string `json:"channel_code"`
    Subaccount     string `json:"subaccount"`
    SN             string `json:"sn"`
    Model          string `json:"model"`
    ExpiresAt      int64  `json:"expires_at"`
    QuotaRemaining int64  `json:"quota_remaining"`
    IssuedAt       string `json:"issued_at"`
}
