package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// RequireAdmin returns the single authorization policy for privileged
// operations.  A request passes when the JWT role claim is ADMIN and,
// if an allow-list is configured, the subject appears in it.  Every
// admin route goes through this one check; there are deliberately no
// per-handler admin checks anywhere else.
func RequireAdmin(allowedIDs []uint64) echo.MiddlewareFunc {
	allowed := make(map[uint64]bool, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get("role").(string)
			if role != "ADMIN" {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "admin only"})
			}
			if len(allowed) > 0 {
				uid, ok := claimUserID(c)
				if !ok || !allowed[uid] {
					return c.JSON(http.StatusForbidden, echo.Map{"error": "admin only"})
				}
			}
			return next(c)
		}
	}
}

// claimUserID extracts the numeric subject JWTAuth stored in the
// context.  JWT numeric claims decode as float64; string subjects are
// parsed for robustness.
func claimUserID(c echo.Context) (uint64, bool) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, true
	case float64:
		return uint64(t), true
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
