package handler

import (
    "context"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/yzsoft/activation-server/internal/activation"
    "github.com/yzsoft/activation-server/internal/model"
)

// emptyStore satisfies activation.Store with nothing registered, so
// every authenticated lookup misses.  Enough to exercise the
// handler's header plumbing and status mapping without a database.
type emptyStore struct{}

func (emptyStore) ChannelByCode(context.Context, string) (*model.Channel, error) {
    return nil, activation.ErrNotFound
}
func (emptyStore) ChannelKey(context.Context, uint64, string) (*model.ChannelKey, error) {
    return nil, activation.ErrNotFound
}
func (emptyStore) Subaccount(context.Context, uint64, string) (*model.ChannelSubAccount, error) {
    return nil, activation.ErrNotFound
}
func (emptyStore) CACByJTI(context.Context, string) (*model.CACToken, error) {
    return nil, activation.ErrNotFound
}
func (emptyStore) NonceActive(context.Context, uint64, string, time.Time) (bool, error) {
    return false, nil
}
func (emptyStore) TOTPHashActive(context.Context, uint64, uint64, string, time.Time) (bool, error) {
    return false, nil
}
func (emptyStore) ActiveLicenseCount(context.Context, string) (int64, error) { return 0, nil }
func (emptyStore) Commit(context.Context, *activation.Commit) (int64, error) {
    return 0, activation.ErrQuotaExhausted
}
func (emptyStore) RecordDenial(context.Context, *model.ActivationAudit) error { return nil }

func newTestHandler(t *testing.T) *ActivationHandler {
    t.Helper()
    custodian, err := activation.NewEphemeralCustodian()
    require.NoError(t, err)
    orch := activation.NewOrchestrator(emptyStore{}, custodian, activation.Config{
        TOTPStep:           30,
        TOTPDrift:          1,
        ClockSkew:          5 * time.Minute,
        ReplayWindow:       10 * time.Minute,
        MinNonceLength:     8,
        DefaultLicenseTTL:  365 * 24 * time.Hour,
        FallbackLicenseTTL: time.Hour,
    })
    return NewActivationHandler(orch)
}

func doActivate(t *testing.T, h *ActivationHandler, headers map[string]string, body string) *httptest.ResponseRecorder {
    t.Helper()
    e := echo.New()
    req := httptest.NewRequest(http.MethodPost, "/api/v1/activate", strings.NewReader(body))
    req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    for k, v := range headers {
        req.Header.Set(k, v)
    }
    rec := httptest.NewRecorder()
    require.NoError(t, h.Activate(e.NewContext(req, rec)))
    return rec
}

func TestActivateHandlerMissingHeaders(t *testing.T) {
    h := newTestHandler(t)

    rec := doActivate(t, h, nil, `{}`)
    assert.Equal(t, http.StatusBadRequest, rec.Code)
    assert.Contains(t, rec.Body.String(), `"MISSING_HEADER"`)
}

func TestActivateHandlerUnknownChannel(t *testing.T) {
    h := newTestHandler(t)

    rec := doActivate(t, h, map[string]string{
        "X-Channel-Id":        "CH-GHOST",
        "X-Channel-Kid":       "k1",
        "X-Channel-Signature": "a.b.c",
    }, `{"channel_id":"CH-GHOST"}`)
    assert.Equal(t, http.StatusForbidden, rec.Code)
    assert.Contains(t, rec.Body.String(), `"CHANNEL_DISABLED"`)
}

func TestActivateHandlerPartialHeaderSet(t *testing.T) {
    h := newTestHandler(t)

    rec := doActivate(t, h, map[string]string{
        "X-Channel-Id": "CH-1",
    }, `{}`)
    assert.Equal(t, http.StatusBadRequest, rec.Code)
    assert.Contains(t, rec.Body.String(), `"MISSING_HEADER"`)
}
