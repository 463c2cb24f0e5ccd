package activation

import (
    "context"
    "crypto/ed25519"
    "errors"
    "log"
    "time"

    "github.com/yzsoft/activation-server/internal/model"
    "github.com/yzsoft/activation-server/internal/utils"
)

// Config carries the protocol constants the orchestrator enforces.
type Config struct {
    TOTPStep           uint          // TOTP time-step length in seconds
    TOTPDrift          int           // accepted drift in steps either side
    ClockSkew          time.Duration // tolerated |now - iat|
    ReplayWindow       time.Duration // suppression-row lifetime
    MinNonceLength     int           // minimum caller nonce length
    DefaultLicenseTTL  time.Duration // license lifetime when the capsule has no valid_to
    FallbackLicenseTTL time.Duration // substitute when the computed expiry is already past
}

// Orchestrator runs the activation protocol for a single request:
// authenticate the channel, authenticate the operator, validate the
// capsule, suppress replays, enforce scope, then issue and commit.
// Every check fails closed; the only state transition that writes
// is the final commit, applied as one atomic unit by the store.
type Orchestrator struct {
    store  Store
    issuer *Issuer
    cfg    Config
    now    func() time.Time
}

// NewOrchestrator wires the orchestrator from its injected
// collaborators.  The custodian is owned by the composition root;
// tests pass an ephemeral one.
func NewOrchestrator(store Store, custodian *KeyCustodian, cfg Config) *Orchestrator {
    return &Orchestrator{
        store:  store,
        issuer: NewIssuer(custodian),
        cfg:    cfg,
        now:    time.Now,
    }
}

// flow is the per-request pipeline state, filled in step by step.
type flow struct {
    hdr  Headers
    body []byte
    now  time.Time

    req      *Request
    channel  *model.Channel
    key      ed25519.PublicKey
    sub      *model.ChannelSubAccount
    totpHash string
    capsule  *CapsulePayload
    record   *model.CACToken // nil on first sight; otherwise authoritative for quota state
}

// Activate runs the full pipeline over one request.  It returns a
// *Denial (wrapped as error) for protocol rejections, which are
// safe to retry with fresh nonce and code, or a plain error for
// infrastructure faults, which are not.
func (o *Orchestrator) Activate(ctx context.Context, hdr Headers, body []byte) (*Result, error) {
    f := &flow{hdr: hdr, body: body, now: o.now().UTC()}

    steps := []func(context.Context, *flow) error{
        o.authenticateChannel,
        o.checkFreshness,
        o.authenticateOperator,
        o.validateCapsule,
        o.checkReplay,
        o.checkScope,
    }
    for _, step := range steps {
        if err := step(ctx, f); err != nil {
            var denial *Denial
            if errors.As(err, &denial) {
                o.auditDenial(ctx, f, denial)
            }
            return nil, err
        }
    }
    return o.issueAndCommit(ctx, f)
}

// authenticateChannel verifies the detached request signature under
// the channel's registered key and pins the body to the header
// channel.  The signed envelope must cover exactly the raw bytes
// received, so a signature lifted from another request is useless.
func (o *Orchestrator) authenticateChannel(ctx context.Context, f *flow) error {
    if d := checkHeaders(f.hdr); d != nil {
        return d
    }

    channel, err := o.store.ChannelByCode(ctx, f.hdr.ChannelID)
    if errors.Is(err, ErrNotFound) {
        return Deny(CodeChannelDisabled, "channel not found or disabled")
    }
    if err != nil {
        return err
    }
    if channel.Status != "active" {
        return Deny(CodeChannelDisabled, "channel is disabled")
    }
    f.channel = channel

    key, err := o.store.ChannelKey(ctx, channel.ID, f.hdr.Kid)
    if errors.Is(err, ErrNotFound) {
        return Deny(CodeChannelKeyMissing, "no key registered for kid "+f.hdr.Kid)
    }
    if err != nil {
        return err
    }
    if key.Status != "active" || key.Algorithm != "EdDSA" {
        return Deny(CodeChannelKeyMissing, "key is not usable")
    }
    pub, err := utils.ParsePublicKeyPEM([]byte(key.PublicKey))
    if err != nil {
        return Deny(CodeKeyLoadFailed, "channel key material could not be loaded")
    }
    f.key = pub

    if _, err := utils.VerifyDetached(f.hdr.Signature, f.body, pub, "activate"); err != nil {
        return Deny(CodeSignatureInvalid, "request signature verification failed")
    }

    req, d := decodeRequest(f.body)
    if d != nil {
        return d
    }
    if req.ChannelID != f.hdr.ChannelID {
        return Deny(CodeChannelMismatch, "body channel_id does not match X-Channel-Id")
    }
    f.req = req
    return nil
}

// checkFreshness enforces the clock-skew bound on the claimed issue
// time and the minimum nonce length.
func (o *Orchestrator) checkFreshness(_ context.Context, f *flow) error {
    iat := time.Unix(f.req.IAT, 0)
    skew := f.now.Sub(iat)
    if skew < 0 {
        skew = -skew
    }
    if skew > o.cfg.ClockSkew {
        return Deny(CodeTimestampOutOfRange, "iat outside accepted clock skew")
    }
    if len(f.req.Nonce) < o.cfg.MinNonceLength {
        return Deny(CodeNonceTooShort, "nonce too short")
    }
    return nil
}

// authenticateOperator validates the sub-account's one-time code
// and derives the slot-bound reuse hash.  The hash is specific to
// the time-slot that actually matched: hashing only the six-digit
// code would collide cheaply across unrelated requests.
func (o *Orchestrator) authenticateOperator(ctx context.Context, f *flow) error {
    sub, err := o.store.Subaccount(ctx, f.channel.ID, f.req.Subaccount)
    if errors.Is(err, ErrNotFound) {
        return Deny(CodeSubaccountInvalid, "subaccount not found")
    }
    if err != nil {
        return err
    }
    if sub.Status != "active" {
        return Deny(CodeSubaccountInvalid, "subaccount is disabled")
    }

    ok, delta := utils.VerifyTOTP(sub.TOTPSecret, f.req.TOTPCode, f.now, o.cfg.TOTPStep, o.cfg.TOTPDrift)
    if !ok {
        return Deny(CodeTOTPFailed, "one-time code rejected")
    }
    slot := utils.SlotUnix(f.now, o.cfg.TOTPStep, delta)
    f.sub = sub
    f.totpHash = utils.TOTPRequestHash(f.channel.ChannelCode, sub.Subaccount, slot)
    return nil
}

// validateCapsule verifies the CAC under the issuing channel's key
// and checks it against the ledger.  When a row exists it is
// authoritative over the freshly parsed payload for quota state; a
// replayed capsule never resets quota_used.
func (o *Orchestrator) validateCapsule(ctx context.Context, f *flow) error {
    capsule, d := ParseCapsule(f.req.CACToken, f.key)
    if d != nil {
        return d
    }
    if capsule.ChannelCode != f.channel.ChannelCode {
        return Deny(CodeCACChannelMismatch, "cac was issued for a different channel")
    }
    f.capsule = capsule

    record, err := o.store.CACByJTI(ctx, capsule.JTI)
    if err != nil && !errors.Is(err, ErrNotFound) {
        return err
    }

    quotaMax, quotaUsed := capsule.QuotaMax, int64(0)
    validFrom, validTo := capsule.ValidFrom, capsule.ValidTo
    if record != nil {
        if record.Status != "active" {
            return Deny(CodeCACInvalid, "cac has been revoked")
        }
        quotaMax, quotaUsed = record.QuotaMax, record.QuotaUsed
        validFrom, validTo = record.ValidFrom, record.ValidTo
        f.record = record
    }
    if quotaUsed >= quotaMax {
        return Deny(CodeCACInvalid, "cac quota exhausted")
    }
    nowUnix := f.now.Unix()
    if validFrom != nil && nowUnix < *validFrom {
        return Deny(CodeCACNotYetValid, "cac not yet valid")
    }
    if validTo != nil && nowUnix > *validTo {
        return Deny(CodeCACExpired, "cac validity window has passed")
    }
    return nil
}

// checkReplay requires both suppression axes to be clear: the
// caller-chosen nonce and the slot-bound one-time-code hash.  The
// same rows are inserted during commit, so a race between two
// requests passing this check is resolved by the unique keys there.
func (o *Orchestrator) checkReplay(ctx context.Context, f *flow) error {
    seen, err := o.store.NonceActive(ctx, f.channel.ID, f.req.Nonce, f.now)
    if err != nil {
        return err
    }
    if seen {
        return Deny(CodeNonceReplay, "nonce already used")
    }
    seen, err = o.store.TOTPHashActive(ctx, f.channel.ID, f.sub.ID, f.totpHash, f.now)
    if err != nil {
        return err
    }
    if seen {
        return Deny(CodeTOTPReused, "one-time code already used in this time-slot")
    }
    return nil
}

// checkScope enforces the capsule's model allow-list and the
// effective per-serial cap.
func (o *Orchestrator) checkScope(ctx context.Context, f *flow) error {
    if !f.capsule.AllowsModel(f.req.Model) {
        return Deny(CodeScopeViolation, "device model not permitted by cac scope")
    }
    count, err := o.store.ActiveLicenseCount(ctx, f.req.SN)
    if err != nil {
        return err
    }
    if count >= int64(f.capsule.EffectiveMaxPerSN()) {
        return Deny(CodeAlreadyActivated, "per-serial license cap reached")
    }
    return nil
}

// issueAndCommit signs the license and applies the five writes as
// one unit.  A commit-time quota or replay conflict (lost race)
// still maps to a protocol denial; any other failure is a server
// error, signalling that a retry with the same nonce and code is
// unsafe.
func (o *Orchestrator) issueAndCommit(ctx context.Context, f *flow) (*Result, error) {
    validTo := f.capsule.ValidTo
    if f.record != nil {
        validTo = f.record.ValidTo
    }
    expiresAt := LicenseExpiry(validTo, f.now, o.cfg.DefaultLicenseTTL, o.cfg.FallbackLicenseTTL)

    issued, err := o.issuer.Issue(IssueParams{
        SN:           f.req.SN,
        ChannelCode:  f.channel.ChannelCode,
        Subaccount:   f.sub.Subaccount,
        DevicePubkey: f.req.DevicePubkey,
        Model:        f.req.Model,
        FWHash:       f.req.FWHash,
        CACJTI:       f.capsule.JTI,
        IssuedAt:     f.now,
        ExpiresAt:    expiresAt,
    })
    if err != nil {
        return nil, err
    }

    capsuleJSON, err := f.capsule.RawJSON()
    if err != nil {
        return nil, err
    }
    commit := &Commit{
        Now:           f.now,
        ChannelID:     f.channel.ID,
        Nonce:         f.req.Nonce,
        IAT:           f.req.IAT,
        SubaccountID:  f.sub.ID,
        TOTPHash:      f.totpHash,
        ReplayExpires: f.now.Add(o.cfg.ReplayWindow),
        Capsule:       f.capsule,
        CapsuleJSON:   capsuleJSON,
        License: &model.License{
            LicenseID: issued.LicenseID,
            SN:        f.req.SN,
            CACJTI:    f.capsule.JTI,
            ChannelID: f.channel.ID,
            Claims:    issued.ClaimsJSON,
            Envelope:  issued.Envelope,
            IssuedAt:  f.now,
            ExpiresAt: expiresAt,
        },
        Audit: &model.ActivationAudit{
            ChannelCode:  f.channel.ChannelCode,
            Subaccount:   f.sub.Subaccount,
            SN:           f.req.SN,
            CACJTI:       f.capsule.JTI,
            Decision:     "approved",
            DevicePKHash: utils.SHA256Hex(f.req.DevicePubkey),
            LicenseID:    issued.LicenseID,
        },
    }

    remaining, err := o.store.Commit(ctx, commit)
    if err != nil {
        var denial *Denial
        switch {
        case errors.Is(err, ErrQuotaExhausted):
            denial = Deny(CodeCACInvalid, "cac quota exhausted")
        case errors.Is(err, ErrNonceTaken):
            denial = Deny(CodeNonceReplay, "nonce already used")
        case errors.Is(err, ErrTOTPTaken):
            denial = Deny(CodeTOTPReused, "one-time code already used in this time-slot")
        default:
            return nil, err
        }
        o.auditDenial(ctx, f, denial)
        return nil, denial
    }

    return &Result{
        LicenseID:      issued.LicenseID,
        LicenseJWS:     issued.Envelope,
        ExpiresAt:      expiresAt.Unix(),
        QuotaRemaining: remaining,
    }, nil
}

// auditDenial appends a denial audit row with whatever the pipeline
// had established by the time it failed.  Best-effort by design:
// an audit write failure must not mask the protocol outcome.
func (o *Orchestrator) auditDenial(ctx context.Context, f *flow, d *Denial) {
    audit := &model.ActivationAudit{
        ChannelCode: f.hdr.ChannelID,
        Decision:    "denied",
        Reason:      string(d.Code),
    }
    if f.req != nil {
        audit.Subaccount = f.req.Subaccount
        audit.SN = f.req.SN
        audit.DevicePKHash = utils.SHA256Hex(f.req.DevicePubkey)
    }
    if f.capsule != nil {
        audit.CACJTI = f.capsule.JTI
    }
    if err := o.store.RecordDenial(ctx, audit); err != nil {
        log.Printf("activation: audit write failed: %v", err)
    }
}
