package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// CORS allows browsers on origins to read status and toggle lights. The API
// carries no session, so credentials are never allowed.
func CORS(origins []string) echo.MiddlewareFunc {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	})
}

// SecureHeaders sets the response headers that apply to a plain HTTP
// service on a local network. HSTS is left out since nothing serves TLS.
func SecureHeaders() echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
	})
}

// BodyLimit rejects request bodies larger than limit, e.g. "64K".
func BodyLimit(limit string) echo.MiddlewareFunc {
	return middleware.BodyLimit(limit)
}
