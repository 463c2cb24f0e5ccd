package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql" // database handle for the readiness probe

	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/yzsoft/activation-server/internal/handler"    // import the handlers that implement business logic
	"github.com/yzsoft/activation-server/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication
// on the provided Echo instance: the health probes and the platform
// public key.  The cache middleware, when non-nil, wraps the key
// endpoint since its payload changes only on key rotation.
func RegisterRoutes(e *echo.Echo, db *sql.DB, admin *handler.AdminHandler, cache echo.MiddlewareFunc) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
	if cache != nil {
		e.GET("/v1/platform-key", admin.PlatformKey, cache)
	} else {
		e.GET("/v1/platform-key", admin.PlatformKey)
	}
}

// RegisterActivation mounts the device activation endpoint.  The
// rate limiter (when non-nil) keys on the channel header so each
// reseller drains its own bucket.  No session middleware applies:
// the request authenticates itself through its detached signature.
func RegisterActivation(e *echo.Echo, a *handler.ActivationHandler, limiter echo.MiddlewareFunc) {
	if limiter != nil {
		e.POST("/api/v1/activate", a.Activate, limiter)
	} else {
		e.POST("/api/v1/activate", a.Activate)
	}
}

// RegisterAuth registers the operator session routes and applies the
// necessary middleware.  Unauthenticated operations live under
// /v1/auth, while protected endpoints live under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	// Session establishment and exchange do not require an existing
	// session.  Register is the exception: it is mounted on the admin
	// group below so only administrators can add operators.
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login)
	// Rotating refresh: validates, revokes the old token, returns a new pair.
	g.POST("/refresh", a.Refresh)
	// Non-rotating variant: issues a fresh access token only.
	g.POST("/refresh-access", a.RefreshAccess)
	// Logout accepts either a bearer token (revoke all sessions) or a
	// refresh_token in the body (revoke one session).
	g.POST("/logout", a.Logout)

	// Protected group: any authenticated operator role.
	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole("ADMIN", "VIEWER"))
	auth.GET("/me", a.Me)
}

// RegisterAdmin registers the provisioning API under /v1/admin.
// Reads are open to both roles; writes require ADMIN.
func RegisterAdmin(e *echo.Echo, a *handler.AuthHandler, h *handler.AdminHandler, jwtSecret string) {
	ro := e.Group("/v1/admin")
	ro.Use(middleware.JWTAuth(jwtSecret))
	ro.Use(middleware.RequireRole("ADMIN", "VIEWER"))
	ro.GET("/channels", h.ListChannels)
	ro.GET("/channels/:id/cacs", h.ListCACs)
	ro.GET("/licenses", h.ListLicensesBySN)
	ro.GET("/licenses/:license_id", h.GetLicense)
	ro.GET("/audits", h.ListAudits)

	rw := e.Group("/v1/admin")
	rw.Use(middleware.JWTAuth(jwtSecret))
	rw.Use(middleware.RequireRole("ADMIN"))
	rw.POST("/users", a.Register)
	rw.POST("/channels", h.CreateChannel)
	rw.PATCH("/channels/:id/status", h.UpdateChannelStatus)
	rw.PUT("/channels/:id/keys/:kid", h.UpsertChannelKey)
	rw.PUT("/channels/:id/subaccounts/:name", h.UpsertSubaccount)
	rw.PATCH("/cacs/:jti/status", h.UpdateCACStatus)
	rw.POST("/licenses/:license_id/revoke", h.RevokeLicense)
}
