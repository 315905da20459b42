package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const AdminSubjectKey contextKey = "admin_subject"

// Middleware admits requests carrying X-Admin-Secret or an admin bearer token.
func (a *AdminAuth) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if secret := c.Request().Header.Get("X-Admin-Secret"); secret != "" {
			if err := a.CheckSecret(secret); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid admin secret")
			}
			c.Set(string(AdminSubjectKey), "shared-secret")
			return next(c)
		}

		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing admin credentials")
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
		}

		sub, err := a.ParseToken(parts[1])
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}
		c.Set(string(AdminSubjectKey), sub)
		return next(c)
	}
}

// SubjectFromContext returns who was admitted, for run logs.
func SubjectFromContext(c echo.Context) string {
	sub, _ := c.Get(string(AdminSubjectKey)).(string)
	return sub
}
