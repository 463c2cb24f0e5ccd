package handler

import (
    "context"       // bounds the activation pipeline's database work
    "encoding/json" // decodes event fields out of the raw body after approval
    "errors"        // errors.As unwraps protocol denials
    "io"            // reads the raw request body the signature covers
    "net/http"      // HTTP status codes
    "time"          // per-request timeout

    "github.com/labstack/echo/v4" // Echo framework for HTTP routing

    "github.com/yzsoft/activation-server/internal/activation"
    "github.com/yzsoft/activation-server/internal/queue"
    queue_publisher "github.com/yzsoft/activation-server/internal/service"
)

// ActivationHandler exposes the device activation endpoint.  The
// body is read raw and passed through untouched: the detached
// channel signature covers the exact bytes on the wire, so any
// re-serialization here would break verification.
type ActivationHandler struct {
    Orch *activation.Orchestrator
}

func NewActivationHandler(o *activation.Orchestrator) *ActivationHandler {
    return &ActivationHandler{Orch: o}
}

// maxActivationBody caps how much of the request body is read.
// Activation payloads are small; anything larger is abuse.
const maxActivationBody = 1 << 20

// Activate handles POST /api/v1/activate.  Protocol rejections come
// back with their symbolic code and mapped status; infrastructure
// faults are a plain 500 with no code from the protocol set.
func (h *ActivationHandler) Activate(c echo.Context) error {
    body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxActivationBody))
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"code": activation.CodeEmptyBody, "message": "could not read request body"})
    }

    hdr := activation.Headers{
        ChannelID: c.Request().Header.Get("X-Channel-Id"),
        Kid:       c.Request().Header.Get("X-Channel-Kid"),
        Signature: c.Request().Header.Get("X-Channel-Signature"),
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    res, err := h.Orch.Activate(ctx, hdr, body)
    if err != nil {
        var denial *activation.Denial
        if errors.As(err, &denial) {
            return c.JSON(denial.HTTPStatus(), echo.Map{"code": denial.Code, "message": denial.Message})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"code": "SERVER_ERROR", "message": "activation failed"})
    }

    go publishIssued(body, hdr.ChannelID, res)

    return c.JSON(http.StatusOK, echo.Map{
        "code":    0,
        "message": "approved",
        "data":    res,
    })
}

// publishIssued emits a license.issued event after a successful
// activation.  Failures are logged by the publisher and otherwise
// ignored; the license is already committed and returned.
func publishIssued(body []byte, channelCode string, res *activation.Result) {
    var req struct {
        Subaccount string `json:"subaccount"`
        SN         string `json:"sn"`
        Model      string `json:"model"`
    }
    _ = json.Unmarshal(body, &req) // body already validated by the pipeline

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    _ = queue_publisher.PublishLicenseIssued(ctx, queue.LicenseIssuedEvent{
        LicenseID:      res.LicenseID,
        ChannelCode:    channelCode,
        Subaccount:     req.Subaccount,
        SN:             req.SN,
        Model:          req.Model,
        ExpiresAt:      res.ExpiresAt,
        QuotaRemaining: res.QuotaRemaining,
        IssuedAt:       time.Now().UTC().Format(time.RFC3339),
    })
}
