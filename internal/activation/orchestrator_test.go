package activation

import (
    "context"
    "crypto/ed25519"
    "crypto/rand"
    "encoding/json"
    "errors"
    "fmt"
    "sync"
    "testing"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/pquerna/otp"
    "github.com/pquerna/otp/totp"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/yzsoft/activation-server/internal/model"
    "github.com/yzsoft/activation-server/internal/utils"
)

// fakeStore is an in-memory Store with the same conflict semantics
// as the SQL implementation: unique replay rows, first-sight capsule
// registration and a guarded quota increment, all under one lock so
// Commit stays atomic.
type fakeStore struct {
    mu sync.Mutex

    channels map[string]*model.Channel           // by code
    keys     map[string]*model.ChannelKey        // by "channelID/kid"
    subs     map[string]*model.ChannelSubAccount // by "channelID/name"
    cacs     map[string]*model.CACToken          // by jti

    nonces    map[string]time.Time // "channelID/nonce" -> expires
    totpUses  map[string]time.Time // "channelID/subID/hash" -> expires
    licenses  []*model.License
    audits    []*model.ActivationAudit
}

func newFakeStore() *fakeStore {
    return &fakeStore{
        channels: map[string]*model.Channel{},
        keys:     map[string]*model.ChannelKey{},
        subs:     map[string]*model.ChannelSubAccount{},
        cacs:     map[string]*model.CACToken{},
        nonces:   map[string]time.Time{},
        totpUses: map[string]time.Time{},
    }
}

func (s *fakeStore) ChannelByCode(_ context.Context, code string) (*model.Channel, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if c, ok := s.channels[code]; ok {
        cp := *c
        return &cp, nil
    }
    return nil, ErrNotFound
}

func (s *fakeStore) ChannelKey(_ context.Context, channelID uint64, kid string) (*model.ChannelKey, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if k, ok := s.keys[fmt.Sprintf("%d/%s", channelID, kid)]; ok {
        cp := *k
        return &cp, nil
    }
    return nil, ErrNotFound
}

func (s *fakeStore) Subaccount(_ context.Context, channelID uint64, name string) (*model.ChannelSubAccount, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if sa, ok := s.subs[fmt.Sprintf("%d/%s", channelID, name)]; ok {
        cp := *sa
        return &cp, nil
    }
    return nil, ErrNotFound
}

func (s *fakeStore) CACByJTI(_ context.Context, jti string) (*model.CACToken, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if c, ok := s.cacs[jti]; ok {
        cp := *c
        return &cp, nil
    }
    return nil, ErrNotFound
}

func (s *fakeStore) NonceActive(_ context.Context, channelID uint64, nonce string, now time.Time) (bool, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    exp, ok := s.nonces[fmt.Sprintf("%d/%s", channelID, nonce)]
    return ok && exp.After(now), nil
}

func (s *fakeStore) TOTPHashActive(_ context.Context, channelID, subaccountID uint64, hash string, now time.Time) (bool, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    exp, ok := s.totpUses[fmt.Sprintf("%d/%d/%s", channelID, subaccountID, hash)]
    return ok && exp.After(now), nil
}

func (s *fakeStore) ActiveLicenseCount(_ context.Context, sn string) (int64, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    var n int64
    for _, lic := range s.licenses {
        if lic.SN == sn && lic.RevokedAt == nil {
            n++
        }
    }
    return n, nil
}

func (s *fakeStore) Commit(_ context.Context, c *Commit) (int64, error) {
    s.mu.Lock()
    defer s.mu.Unlock()

    nonceKey := fmt.Sprintf("%d/%s", c.ChannelID, c.Nonce)
    if exp, ok := s.nonces[nonceKey]; ok && exp.After(c.Now) {
        return 0, ErrNonceTaken
    }
    totpKey := fmt.Sprintf("%d/%d/%s", c.ChannelID, c.SubaccountID, c.TOTPHash)
    if exp, ok := s.totpUses[totpKey]; ok && exp.After(c.Now) {
        return 0, ErrTOTPTaken
    }

    row, ok := s.cacs[c.Capsule.JTI]
    if !ok {
        row = &model.CACToken{
            JTI:       c.Capsule.JTI,
            ChannelID: c.ChannelID,
            Payload:   c.CapsuleJSON,
            QuotaMax:  c.Capsule.QuotaMax,
            ValidFrom: c.Capsule.ValidFrom,
            ValidTo:   c.Capsule.ValidTo,
            Status:    "active",
        }
        s.cacs[c.Capsule.JTI] = row
    }
    if row.Status != "active" || row.QuotaUsed >= row.QuotaMax {
        return 0, ErrQuotaExhausted
    }

    row.QuotaUsed++
    s.nonces[nonceKey] = c.ReplayExpires
    s.totpUses[totpKey] = c.ReplayExpires
    s.licenses = append(s.licenses, c.License)
    s.audits = append(s.audits, c.Audit)
    return row.QuotaMax - row.QuotaUsed, nil
}

func (s *fakeStore) RecordDenial(_ context.Context, a *model.ActivationAudit) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.audits = append(s.audits, a)
    return nil
}

// ---- fixture -----------------------------------------------------

const (
    fixChannelCode = "CH-ACME"
    fixKid         = "acme-key-1"
    fixSubaccount  = "op-east"
    fixModel       = "CAM-X200"
)

type fixture struct {
    t     *testing.T
    store *fakeStore
    orch  *Orchestrator
    now   time.Time

    chanPriv   ed25519.PrivateKey
    totpSecret string
}

func newFixture(t *testing.T) *fixture {
    t.Helper()

    pub, priv, err := ed25519.GenerateKey(rand.Reader)
    require.NoError(t, err)
    pubPEM, err := utils.MarshalPublicKeyPEM(pub)
    require.NoError(t, err)

    key, err := totp.Generate(totp.GenerateOpts{
        Issuer:      "activation-server",
        AccountName: fixChannelCode + "/" + fixSubaccount,
        Period:      30,
        SecretSize:  20,
    })
    require.NoError(t, err)

    store := newFakeStore()
    store.channels[fixChannelCode] = &model.Channel{ID: 1, ChannelCode: fixChannelCode, Name: "Acme Devices", Status: "active"}
    store.keys["1/"+fixKid] = &model.ChannelKey{ID: 1, ChannelID: 1, Kid: fixKid, Algorithm: "EdDSA", PublicKey: string(pubPEM), Status: "active"}
    store.subs["1/"+fixSubaccount] = &model.ChannelSubAccount{ID: 7, ChannelID: 1, Subaccount: fixSubaccount, TOTPSecret: key.Secret(), Status: "active"}

    custodian, err := NewEphemeralCustodian()
    require.NoError(t, err)

    now := time.Unix(1_700_000_000, 0).UTC()
    orch := NewOrchestrator(store, custodian, Config{
        TOTPStep:           30,
        TOTPDrift:          1,
        ClockSkew:          5 * time.Minute,
        ReplayWindow:       10 * time.Minute,
        MinNonceLength:     8,
        DefaultLicenseTTL:  365 * 24 * time.Hour,
        FallbackLicenseTTL: time.Hour,
    })
    orch.now = func() time.Time { return now }

    f := &fixture{t: t, store: store, orch: orch, now: now, chanPriv: priv, totpSecret: key.Secret()}
    return f
}

// advance shifts the fixture clock so a fresh TOTP slot opens up.
func (f *fixture) advance(d time.Duration) {
    f.now = f.now.Add(d)
    now := f.now
    f.orch.now = func() time.Time { return now }
}

func (f *fixture) capsule(claims jwt.MapClaims) string {
    f.t.Helper()
    env, err := utils.SignCompact(claims, f.chanPriv, utils.TypCAC, fixKid)
    require.NoError(f.t, err)
    return env
}

func (f *fixture) defaultCapsule(quotaMax int64) string {
    return f.capsule(jwt.MapClaims{
        "jti":        "cac-standard",
        "channel_id": fixChannelCode,
        "quota":      map[string]interface{}{"max_activations": quotaMax},
    })
}

func (f *fixture) code() string {
    f.t.Helper()
    code, err := totp.GenerateCodeCustom(f.totpSecret, f.now, totp.ValidateOpts{
        Period: 30, Skew: 0, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
    })
    require.NoError(f.t, err)
    return code
}

type reqOverride func(*Request)

func (f *fixture) request(cac string, overrides ...reqOverride) (Headers, []byte) {
    f.t.Helper()
    req := &Request{
        ChannelID:    fixChannelCode,
        Subaccount:   fixSubaccount,
        TOTPCode:     f.code(),
        CACToken:     cac,
        SN:           "SN-0001",
        Model:        fixModel,
        FWHash:       "fw-abcdef",
        DevicePubkey: "device-pub-base64",
        Nonce:        "nonce-12345678",
        IAT:          f.now.Unix(),
    }
    for _, o := range overrides {
        o(req)
    }
    body, err := json.Marshal(req)
    require.NoError(f.t, err)
    sig, err := utils.SignDetached(body, f.chanPriv, fixKid, "activate")
    require.NoError(f.t, err)
    return Headers{ChannelID: fixChannelCode, Kid: fixKid, Signature: sig}, body
}

func (f *fixture) activate(hdr Headers, body []byte) (*Result, error) {
    return f.orch.Activate(context.Background(), hdr, body)
}

func denialCode(t *testing.T, err error) Code {
    t.Helper()
    var d *Denial
    require.ErrorAs(t, err, &d)
    return d.Code
}

// ---- tests -------------------------------------------------------

func TestActivateSuccess(t *testing.T) {
    f := newFixture(t)
    hdr, body := f.request(f.defaultCapsule(5))

    res, err := f.activate(hdr, body)
    require.NoError(t, err)

    assert.Regexp(t, `^LIC-\d{6}-\d{6}$`, res.LicenseID)
    assert.NotEmpty(t, res.LicenseJWS)
    assert.Equal(t, int64(4), res.QuotaRemaining)
    assert.Equal(t, f.now.Add(365*24*time.Hour).Unix(), res.ExpiresAt)

    // One license, one approval audit, both replay rows written.
    require.Len(t, f.store.licenses, 1)
    assert.Equal(t, res.LicenseID, f.store.licenses[0].LicenseID)
    require.Len(t, f.store.audits, 1)
    assert.Equal(t, "approved", f.store.audits[0].Decision)
    assert.Len(t, f.store.nonces, 1)
    assert.Len(t, f.store.totpUses, 1)

    // Ledger row registered on first sight.
    row := f.store.cacs["cac-standard"]
    require.NotNil(t, row)
    assert.Equal(t, int64(1), row.QuotaUsed)
}

func TestActivateLicenseVerifiesUnderPlatformKey(t *testing.T) {
    f := newFixture(t)
    hdr, body := f.request(f.defaultCapsule(5))

    res, err := f.activate(hdr, body)
    require.NoError(t, err)

    claims, err := utils.VerifyCompact(res.LicenseJWS, f.orch.issuer.custodian.PublicKey(), utils.TypLicense)
    require.NoError(t, err)
    assert.Equal(t, "license", claims["typ"])
    assert.Equal(t, res.LicenseID, claims["license_id"])
    assert.Equal(t, "SN-0001", claims["sn"])
    assert.Equal(t, fixChannelCode, claims["channel"])
    assert.Equal(t, fixSubaccount, claims["subaccount"])
    assert.Equal(t, "cac-standard", claims["cac_jti"])
    assert.EqualValues(t, 1, claims["version"])
}

func TestActivateMissingHeaders(t *testing.T) {
    f := newFixture(t)
    hdr, body := f.request(f.defaultCapsule(5))

    for _, mutate := range []func(*Headers){
        func(h *Headers) { h.ChannelID = "" },
        func(h *Headers) { h.Kid = "" },
        func(h *Headers) { h.Signature = "" },
    } {
        h := hdr
        mutate(&h)
        _, err := f.activate(h, body)
        assert.Equal(t, CodeMissingHeader, denialCode(t, err))
    }
}

func TestActivateUnknownChannel(t *testing.T) {
    f := newFixture(t)
    hdr, body := f.request(f.defaultCapsule(5))
    hdr.ChannelID = "CH-GHOST"

    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeChannelDisabled, denialCode(t, err))
}

func TestActivateDisabledChannel(t *testing.T) {
    f := newFixture(t)
    f.store.channels[fixChannelCode].Status = "disabled"
    hdr, body := f.request(f.defaultCapsule(5))

    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeChannelDisabled, denialCode(t, err))
}

func TestActivateUnknownKid(t *testing.T) {
    f := newFixture(t)
    hdr, body := f.request(f.defaultCapsule(5))
    hdr.Kid = "rotated-away"

    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeChannelKeyMissing, denialCode(t, err))
}

func TestActivateCorruptKeyMaterial(t *testing.T) {
    f := newFixture(t)
    f.store.keys["1/"+fixKid].PublicKey = "not a pem block"
    hdr, body := f.request(f.defaultCapsule(5))

    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeKeyLoadFailed, denialCode(t, err))
}

func TestActivateTamperedBody(t *testing.T) {
    f := newFixture(t)
    hdr, body := f.request(f.defaultCapsule(5))

    tampered := append([]byte{}, body...)
    tampered[len(tampered)-2] ^= 0x01

    _, err := f.activate(hdr, tampered)
    assert.Equal(t, CodeSignatureInvalid, denialCode(t, err))
}

func TestActivateBodyChannelMismatch(t *testing.T) {
    f := newFixture(t)
    hdr, body := f.request(f.defaultCapsule(5), func(r *Request) { r.ChannelID = "CH-OTHER" })
    // Header stays CH-ACME; the signed body claims CH-OTHER.
    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeChannelMismatch, denialCode(t, err))
}

func TestActivateStaleTimestamp(t *testing.T) {
    f := newFixture(t)
    hdr, body := f.request(f.defaultCapsule(5), func(r *Request) { r.IAT = f.now.Add(-6 * time.Minute).Unix() })

    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeTimestampOutOfRange, denialCode(t, err))
}

func TestActivateFutureTimestamp(t *testing.T) {
    f := newFixture(t)
    hdr, body := f.request(f.defaultCapsule(5), func(r *Request) { r.IAT = f.now.Add(6 * time.Minute).Unix() })

    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeTimestampOutOfRange, denialCode(t, err))
}

func TestActivateShortNonce(t *testing.T) {
    f := newFixture(t)
    hdr, body := f.request(f.defaultCapsule(5), func(r *Request) { r.Nonce = "short" })

    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeNonceTooShort, denialCode(t, err))
}

func TestActivateUnknownSubaccount(t *testing.T) {
    f := newFixture(t)
    hdr, body := f.request(f.defaultCapsule(5), func(r *Request) { r.Subaccount = "op-ghost" })

    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeSubaccountInvalid, denialCode(t, err))
}

func TestActivateWrongTOTP(t *testing.T) {
    f := newFixture(t)
    hdr, body := f.request(f.defaultCapsule(5), func(r *Request) { r.TOTPCode = "000000" })

    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeTOTPFailed, denialCode(t, err))
}

func TestActivateNonceReplay(t *testing.T) {
    f := newFixture(t)
    cac := f.defaultCapsule(5)

    hdr, body := f.request(cac)
    _, err := f.activate(hdr, body)
    require.NoError(t, err)

    // New slot, fresh code, same nonce bytes.
    f.advance(time.Minute)
    hdr, body = f.request(cac, func(r *Request) { r.SN = "SN-0002" })
    _, err = f.activate(hdr, body)
    assert.Equal(t, CodeNonceReplay, denialCode(t, err))
}

func TestActivateTOTPSlotReuse(t *testing.T) {
    f := newFixture(t)
    cac := f.defaultCapsule(5)

    hdr, body := f.request(cac)
    _, err := f.activate(hdr, body)
    require.NoError(t, err)

    // Same slot, fresh nonce: the slot-bound hash must block it.
    hdr, body = f.request(cac, func(r *Request) {
        r.Nonce = "nonce-87654321"
        r.SN = "SN-0002"
    })
    _, err = f.activate(hdr, body)
    assert.Equal(t, CodeTOTPReused, denialCode(t, err))
}

func TestActivateCapsuleForgedSigner(t *testing.T) {
    f := newFixture(t)
    _, rogue, err := ed25519.GenerateKey(rand.Reader)
    require.NoError(t, err)
    forged, err := utils.SignCompact(jwt.MapClaims{
        "jti":        "cac-forged",
        "channel_id": fixChannelCode,
        "quota":      map[string]interface{}{"max_activations": 100},
    }, rogue, utils.TypCAC, fixKid)
    require.NoError(t, err)

    hdr, body := f.request(forged)
    _, err = f.activate(hdr, body)
    assert.Equal(t, CodeCACInvalid, denialCode(t, err))
}

func TestActivateCapsuleChannelMismatch(t *testing.T) {
    f := newFixture(t)
    cac := f.capsule(jwt.MapClaims{
        "jti":        "cac-other-channel",
        "channel_id": "CH-OTHER",
        "quota":      map[string]interface{}{"max_activations": 5},
    })

    hdr, body := f.request(cac)
    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeCACChannelMismatch, denialCode(t, err))
}

func TestActivateCapsuleNotYetValid(t *testing.T) {
    f := newFixture(t)
    cac := f.capsule(jwt.MapClaims{
        "jti":        "cac-future",
        "channel_id": fixChannelCode,
        "quota": map[string]interface{}{
            "max_activations": 5,
            "valid_from":      f.now.Add(time.Hour).Unix(),
        },
    })

    hdr, body := f.request(cac)
    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeCACNotYetValid, denialCode(t, err))
}

func TestActivateCapsuleExpired(t *testing.T) {
    f := newFixture(t)
    cac := f.capsule(jwt.MapClaims{
        "jti":        "cac-past",
        "channel_id": fixChannelCode,
        "quota": map[string]interface{}{
            "max_activations": 5,
            "valid_to":        f.now.Add(-time.Hour).Unix(),
        },
    })

    hdr, body := f.request(cac)
    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeCACExpired, denialCode(t, err))
}

func TestActivateCapsuleZeroQuota(t *testing.T) {
    f := newFixture(t)
    cac := f.capsule(jwt.MapClaims{
        "jti":        "cac-zero",
        "channel_id": fixChannelCode,
        "quota":      map[string]interface{}{"max_activations": 0},
    })

    hdr, body := f.request(cac)
    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeCACInvalid, denialCode(t, err))
}

func TestActivateScopeModelViolation(t *testing.T) {
    f := newFixture(t)
    cac := f.capsule(jwt.MapClaims{
        "jti":        "cac-scoped",
        "channel_id": fixChannelCode,
        "quota":      map[string]interface{}{"max_activations": 5},
        "scope":      map[string]interface{}{"models": []string{"CAM-Y100"}},
    })

    hdr, body := f.request(cac)
    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeScopeViolation, denialCode(t, err))
}

func TestActivatePerSerialCap(t *testing.T) {
    f := newFixture(t)
    cac := f.defaultCapsule(5)

    hdr, body := f.request(cac)
    _, err := f.activate(hdr, body)
    require.NoError(t, err)

    // Default cap is one license per serial.
    f.advance(time.Minute)
    hdr, body = f.request(cac, func(r *Request) { r.Nonce = "nonce-fresh-001" })
    _, err = f.activate(hdr, body)
    assert.Equal(t, CodeAlreadyActivated, denialCode(t, err))

    // A different serial is still fine.
    f.advance(time.Minute)
    hdr, body = f.request(cac, func(r *Request) {
        r.Nonce = "nonce-fresh-002"
        r.SN = "SN-0002"
    })
    _, err = f.activate(hdr, body)
    assert.NoError(t, err)
}

func TestActivatePerSerialCapRaisedByScope(t *testing.T) {
    f := newFixture(t)
    cac := f.capsule(jwt.MapClaims{
        "jti":        "cac-multi-sn",
        "channel_id": fixChannelCode,
        "quota":      map[string]interface{}{"max_activations": 5},
        "scope":      map[string]interface{}{"max_per_sn": 2},
    })

    hdr, body := f.request(cac)
    _, err := f.activate(hdr, body)
    require.NoError(t, err)

    f.advance(time.Minute)
    hdr, body = f.request(cac, func(r *Request) { r.Nonce = "nonce-fresh-001" })
    _, err = f.activate(hdr, body)
    assert.NoError(t, err)

    f.advance(time.Minute)
    hdr, body = f.request(cac, func(r *Request) { r.Nonce = "nonce-fresh-002" })
    _, err = f.activate(hdr, body)
    assert.Equal(t, CodeAlreadyActivated, denialCode(t, err))
}

func TestActivateQuotaExhaustion(t *testing.T) {
    f := newFixture(t)
    cac := f.defaultCapsule(2)

    for i := 0; i < 2; i++ {
        hdr, body := f.request(cac, func(r *Request) {
            r.Nonce = fmt.Sprintf("nonce-seq-%04d", i)
            r.SN = fmt.Sprintf("SN-%04d", i)
        })
        res, err := f.activate(hdr, body)
        require.NoError(t, err)
        assert.Equal(t, int64(1-i), res.QuotaRemaining)
        f.advance(time.Minute)
    }

    hdr, body := f.request(cac, func(r *Request) {
        r.Nonce = "nonce-seq-9999"
        r.SN = "SN-9999"
    })
    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeCACInvalid, denialCode(t, err))
}

func TestActivateRevokedLedgerRow(t *testing.T) {
    f := newFixture(t)
    f.store.cacs["cac-standard"] = &model.CACToken{
        JTI: "cac-standard", ChannelID: 1, QuotaMax: 5, Status: "revoked",
    }

    hdr, body := f.request(f.defaultCapsule(5))
    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeCACInvalid, denialCode(t, err))
}

func TestActivateLedgerRowAuthoritative(t *testing.T) {
    f := newFixture(t)
    // Payload claims quota 100, but the ledger row knows better.
    validTo := f.now.Add(48 * time.Hour).Unix()
    f.store.cacs["cac-standard"] = &model.CACToken{
        JTI: "cac-standard", ChannelID: 1, QuotaMax: 3, QuotaUsed: 3,
        ValidTo: &validTo, Status: "active",
    }

    hdr, body := f.request(f.defaultCapsule(100))
    _, err := f.activate(hdr, body)
    assert.Equal(t, CodeCACInvalid, denialCode(t, err))
}

func TestActivateExpiryFromLedgerValidTo(t *testing.T) {
    f := newFixture(t)
    validTo := f.now.Add(48 * time.Hour).Unix()
    f.store.cacs["cac-standard"] = &model.CACToken{
        JTI: "cac-standard", ChannelID: 1, QuotaMax: 5, QuotaUsed: 0,
        ValidTo: &validTo, Status: "active",
    }

    hdr, body := f.request(f.defaultCapsule(5))
    res, err := f.activate(hdr, body)
    require.NoError(t, err)
    assert.Equal(t, validTo, res.ExpiresAt)
}

func TestActivateDenialAudited(t *testing.T) {
    f := newFixture(t)
    hdr, body := f.request(f.defaultCapsule(5), func(r *Request) { r.TOTPCode = "000000" })

    _, err := f.activate(hdr, body)
    require.Error(t, err)

    require.Len(t, f.store.audits, 1)
    a := f.store.audits[0]
    assert.Equal(t, "denied", a.Decision)
    assert.Equal(t, string(CodeTOTPFailed), a.Reason)
    assert.Equal(t, fixChannelCode, a.ChannelCode)
    assert.Equal(t, "SN-0001", a.SN)
}

func TestActivateConcurrentQuotaRace(t *testing.T) {
    f := newFixture(t)
    cac := f.defaultCapsule(2)

    // Four operators race for two quota slots.  Each has its own
    // sub-account so the TOTP hashes never collide; only the guarded
    // increment decides who wins.
    type attempt struct {
        hdr  Headers
        body []byte
    }
    attempts := make([]attempt, 4)
    for i := range attempts {
        name := fmt.Sprintf("op-race-%d", i)
        key, err := totp.Generate(totp.GenerateOpts{
            Issuer: "activation-server", AccountName: name, Period: 30, SecretSize: 20,
        })
        require.NoError(t, err)
        f.store.subs[fmt.Sprintf("1/%s", name)] = &model.ChannelSubAccount{
            ID: uint64(100 + i), ChannelID: 1, Subaccount: name, TOTPSecret: key.Secret(), Status: "active",
        }
        code, err := totp.GenerateCodeCustom(key.Secret(), f.now, totp.ValidateOpts{
            Period: 30, Skew: 0, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
        })
        require.NoError(t, err)
        hdr, body := f.request(cac, func(r *Request) {
            r.Subaccount = name
            r.TOTPCode = code
            r.Nonce = fmt.Sprintf("nonce-race-%04d", i)
            r.SN = fmt.Sprintf("SN-RACE-%d", i)
        })
        attempts[i] = attempt{hdr: hdr, body: body}
    }

    var wg sync.WaitGroup
    results := make([]error, len(attempts))
    for i, a := range attempts {
        wg.Add(1)
        go func(i int, a attempt) {
            defer wg.Done()
            _, results[i] = f.activate(a.hdr, a.body)
        }(i, a)
    }
    wg.Wait()

    var wins, quotaDenials int
    for _, err := range results {
        if err == nil {
            wins++
            continue
        }
        var d *Denial
        require.ErrorAs(t, err, &d)
        require.Equal(t, CodeCACInvalid, d.Code)
        quotaDenials++
    }
    assert.Equal(t, 2, wins)
    assert.Equal(t, 2, quotaDenials)
    assert.Equal(t, int64(2), f.store.cacs["cac-standard"].QuotaUsed)
}

func TestActivateInfrastructureFaultIsNotDenial(t *testing.T) {
    f := newFixture(t)
    f.orch.store = failingStore{inner: f.store}

    hdr, body := f.request(f.defaultCapsule(5))
    _, err := f.activate(hdr, body)
    require.Error(t, err)
    var d *Denial
    assert.False(t, errors.As(err, &d))
}

// failingStore passes validation reads through and breaks Commit.
type failingStore struct{ inner *fakeStore }

func (s failingStore) ChannelByCode(ctx context.Context, code string) (*model.Channel, error) {
    return s.inner.ChannelByCode(ctx, code)
}
func (s failingStore) ChannelKey(ctx context.Context, id uint64, kid string) (*model.ChannelKey, error) {
    return s.inner.ChannelKey(ctx, id, kid)
}
func (s failingStore) Subaccount(ctx context.Context, id uint64, name string) (*model.ChannelSubAccount, error) {
    return s.inner.Subaccount(ctx, id, name)
}
func (s failingStore) CACByJTI(ctx context.Context, jti string) (*model.CACToken, error) {
    return s.inner.CACByJTI(ctx, jti)
}
func (s failingStore) NonceActive(ctx context.Context, id uint64, nonce string, now time.Time) (bool, error) {
    return s.inner.NonceActive(ctx, id, nonce, now)
}
func (s failingStore) TOTPHashActive(ctx context.Context, id, sub uint64, hash string, now time.Time) (bool, error) {
    return s.inner.TOTPHashActive(ctx, id, sub, hash, now)
}
func (s failingStore) ActiveLicenseCount(ctx context.Context, sn string) (int64, error) {
    return s.inner.ActiveLicenseCount(ctx, sn)
}
func (s failingStore) Commit(context.Context, *Commit) (int64, error) {
    return 0, errors.New("connection lost")
}
func (s failingStore) RecordDenial(ctx context.Context, a *model.ActivationAudit) error {
    return s.inner.RecordDenial(ctx, a)
}
