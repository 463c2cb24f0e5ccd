package handler // handler package contains admin license and audit handlers

import (
    "net/http" // http provides status code constants
    "strconv"  // strconv parses query parameters
    "strings"  // strings offers trimming utilities

    "github.com/labstack/echo/v4" // echo is the web framework used for handlers

    "github.com/yzsoft/activation-server/internal/repository"
)

// GetLicense handles GET /v1/admin/licenses/:license_id.
func (h *AdminHandler) GetLicense(c echo.Context) error {
    licenseID := strings.TrimSpace(c.Param("license_id"))
    if licenseID == "" {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "license_id is required"})
    }
    lic, err := h.Licenses.GetByLicenseID(c.Request().Context(), licenseID)
    if err != nil {
        if err == repository.ErrNotFound {
            return c.JSON(http.StatusNotFound, map[string]string{"error": "license not found"})
        }
        return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
    }
    return c.JSON(http.StatusOK, lic)
}

// ListLicensesBySN handles GET /v1/admin/licenses?sn=...  The serial
// is required: the license table is unbounded and browsing it whole
// is an analytics job, not an API call.
func (h *AdminHandler) ListLicensesBySN(c echo.Context) error {
    sn := strings.TrimSpace(c.QueryParam("sn"))
    if sn == "" {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "sn query parameter is required"})
    }
    items, err := h.Licenses.ListBySN(c.Request().Context(), sn)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
    }
    return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// RevokeLicense handles POST /v1/admin/licenses/:license_id/revoke.
// Revocation frees the serial's slot under the per-serial cap but
// never returns quota to the capsule.
func (h *AdminHandler) RevokeLicense(c echo.Context) error {
    licenseID := strings.TrimSpace(c.Param("license_id"))
    if licenseID == "" {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "license_id is required"})
    }
    if err := h.Licenses.Revoke(c.Request().Context(), licenseID); err != nil {
        if err == repository.ErrNotFound {
            return c.JSON(http.StatusNotFound, map[string]string{"error": "license not found"})
        }
        return c.JSON(http.StatusInternalServerError, map[string]string{"error": "revoke failed"})
    }
    return c.JSON(http.StatusOK, map[string]string{"license_id": licenseID, "status": "revoked"})
}

// ListAudits handles GET /v1/admin/audits?limit=N and returns recent
// decisions, newest first.
func (h *AdminHandler) ListAudits(c echo.Context) error {
    limit := 0
    if v := c.QueryParam("limit"); v != "" {
        n, err := strconv.Atoi(v)
        if err != nil {
            return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
        }
        limit = n
    }
    items, err := h.Audits.List(c.Request().Context(), limit)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
    }
    return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// PlatformKey handles GET /v1/platform-key.  The platform public
// key is not a secret: devices embed it to verify license
// envelopes, and this endpoint is how provisioning tooling fetches
// the current material.
func (h *AdminHandler) PlatformKey(c echo.Context) error {
    return c.Blob(http.StatusOK, "application/x-pem-file", h.Custodian.PublicPEM())
}
