package handler // handler package contains admin provisioning handlers

import (
    "net/http" // http provides status code constants
    "strconv"  // strconv parses string identifiers to numeric types
    "strings"  // strings offers trimming utilities

    "github.com/labstack/echo/v4" // echo is the web framework used for handlers
    "github.com/pquerna/otp/totp" // totp generates operator shared secrets

    "github.com/yzsoft/activation-server/internal/activation"
    "github.com/yzsoft/activation-server/internal/repository"
    "github.com/yzsoft/activation-server/internal/utils"
)

// AdminHandler bundles the repositories behind the provisioning API:
// channel registry, capsule ledger, license store and audit trail.
// All routes are mounted behind JWT auth; writes additionally
// require the ADMIN role.
type AdminHandler struct {
    Channels  *repository.ChannelRepo
    CACs      *repository.CACRepo
    Licenses  *repository.LicenseRepo
    Audits    *repository.AuditRepo
    Custodian *activation.KeyCustodian
    TOTPStep  uint
}

// NewAdminHandler constructs an AdminHandler and panics if any
// dependency is nil.
func NewAdminHandler(ch *repository.ChannelRepo, cacs *repository.CACRepo, lic *repository.LicenseRepo, aud *repository.AuditRepo, cust *activation.KeyCustodian, totpStep uint) *AdminHandler {
    if ch == nil || cacs == nil || lic == nil || aud == nil || cust == nil {
        panic("nil dependency passed to NewAdminHandler")
    }
    return &AdminHandler{Channels: ch, CACs: cacs, Licenses: lic, Audits: aud, Custodian: cust, TOTPStep: totpStep}
}

// CreateChannel handles POST /v1/admin/channels.
func (h *AdminHandler) CreateChannel(c echo.Context) error {
    var body struct {
        ChannelCode string `json:"channel_code"`
        Name        string `json:"name"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
    }
    code := strings.TrimSpace(body.ChannelCode)
    name := strings.TrimSpace(body.Name)
    if code == "" || name == "" {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "channel_code and name are required"})
    }
    id, err := h.Channels.Create(c.Request().Context(), code, name)
    if err != nil {
        if err == repository.ErrDuplicate {
            return c.JSON(http.StatusConflict, map[string]string{"error": "channel code already exists"})
        }
        return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not create channel"})
    }
    return c.JSON(http.StatusCreated, map[string]any{"id": id, "channel_code": code, "name": name, "status": "active"})
}

// ListChannels handles GET /v1/admin/channels.
func (h *AdminHandler) ListChannels(c echo.Context) error {
    items, err := h.Channels.List(c.Request().Context())
    if err != nil {
        return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
    }
    return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// UpdateChannelStatus handles PATCH /v1/admin/channels/:id/status
// and flips a channel between active and disabled.  Disabling takes
// effect on the next activation request; nothing in flight is
// interrupted.
func (h *AdminHandler) UpdateChannelStatus(c echo.Context) error {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
    }
    var body struct {
        Status string `json:"status"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
    }
    status := strings.ToLower(strings.TrimSpace(body.Status))
    if status != "active" && status != "disabled" {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "status must be active or disabled"})
    }
    if err := h.Channels.UpdateStatus(c.Request().Context(), id, status); err != nil {
        if err == repository.ErrNotFound {
            return c.JSON(http.StatusNotFound, map[string]string{"error": "channel not found"})
        }
        return c.JSON(http.StatusInternalServerError, map[string]string{"error": "update failed"})
    }
    return c.JSON(http.StatusOK, map[string]string{"status": status})
}

// UpsertChannelKey handles PUT /v1/admin/channels/:id/keys/:kid.
// Registering an existing kid rotates its material.  The PEM is
// parsed before storage so a malformed key is rejected here rather
// than surfacing as KEY_LOAD_FAILED during activation.
func (h *AdminHandler) UpsertChannelKey(c echo.Context) error {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
    }
    kid := strings.TrimSpace(c.Param("kid"))
    if kid == "" {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "kid is required"})
    }
    var body struct {
        PublicKey string `json:"public_key"` // PEM encoded Ed25519 public key
        Status    string `json:"status"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
    }
    if _, err := utils.ParsePublicKeyPEM([]byte(body.PublicKey)); err != nil {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "public_key is not a valid Ed25519 PEM"})
    }
    status := strings.ToLower(strings.TrimSpace(body.Status))
    if status == "" {
        status = "active"
    }
    if status != "active" && status != "disabled" {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "status must be active or disabled"})
    }
    if err := h.Channels.UpsertKey(c.Request().Context(), id, kid, "EdDSA", body.PublicKey, status); err != nil {
        return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not store key"})
    }
    return c.JSON(http.StatusOK, map[string]string{"kid": kid, "algorithm": "EdDSA", "status": status})
}

// UpsertSubaccount handles PUT /v1/admin/channels/:id/subaccounts/:name.
// A fresh TOTP secret is generated server side and returned exactly
// once, along with its otpauth provisioning URL; re-registering an
// existing name replaces the secret.
func (h *AdminHandler) UpsertSubaccount(c echo.Context) error {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
    }
    name := strings.TrimSpace(c.Param("name"))
    if name == "" {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "subaccount name is required"})
    }
    var body struct {
        Status string `json:"status"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
    }
    status := strings.ToLower(strings.TrimSpace(body.Status))
    if status == "" {
        status = "active"
    }
    if status != "active" && status != "disabled" {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "status must be active or disabled"})
    }

    key, err := totp.Generate(totp.GenerateOpts{
        Issuer:      "activation-server",
        AccountName: strconv.FormatUint(id, 10) + "/" + name,
        Period:      h.TOTPStep,
        SecretSize:  20,
    })
    if err != nil {
        return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not generate totp secret"})
    }

    if err := h.Channels.UpsertSubaccount(c.Request().Context(), id, name, key.Secret(), status); err != nil {
        return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not store subaccount"})
    }
    return c.JSON(http.StatusOK, map[string]string{
        "subaccount":  name,
        "status":      status,
        "totp_secret": key.Secret(), // shown once; only the channel operator keeps it
        "otpauth_url": key.URL(),
    })
}

// ListCACs handles GET /v1/admin/channels/:id/cacs and returns the
// capsule ledger rows registered for a channel.
func (h *AdminHandler) ListCACs(c echo.Context) error {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
    }
    items, err := h.CACs.List(c.Request().Context(), id)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
    }
    return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// UpdateCACStatus handles PATCH /v1/admin/cacs/:jti/status.  A
// revoked capsule keeps its ledger row so quota history survives,
// but no further activations can consume it.
func (h *AdminHandler) UpdateCACStatus(c echo.Context) error {
    jti := strings.TrimSpace(c.Param("jti"))
    if jti == "" {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "jti is required"})
    }
    var body struct {
        Status string `json:"status"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
    }
    status := strings.ToLower(strings.TrimSpace(body.Status))
    if status != "active" && status != "revoked" {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "status must be active or revoked"})
    }
    if err := h.CACs.UpdateStatus(c.Request().Context(), jti, status); err != nil {
        if err == repository.ErrNotFound {
            return c.JSON(http.StatusNotFound, map[string]string{"error": "capsule not found"})
        }
        return c.JSON(http.StatusInternalServerError, map[string]string{"error": "update failed"})
    }
    return c.JSON(http.StatusOK, map[string]string{"jti": jti, "status": status})
}
