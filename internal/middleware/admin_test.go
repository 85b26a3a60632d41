package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminCtx(role string, userID interface{}) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/users", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if role != "" {
		c.Set("role", role)
	}
	if userID != nil {
		c.Set("user_id", userID)
	}
	return c, rec
}

func passThrough(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func TestRequireAdminRejectsNonAdminRole(t *testing.T) {
	c, rec := adminCtx("CLIENT", uint64(1))
	mw := RequireAdmin(nil)
	require.NoError(t, mw(passThrough)(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAdminRejectsMissingRole(t *testing.T) {
	c, rec := adminCtx("", uint64(1))
	mw := RequireAdmin(nil)
	require.NoError(t, mw(passThrough)(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAdminPassesWithoutAllowList(t *testing.T) {
	c, rec := adminCtx("ADMIN", uint64(9))
	mw := RequireAdmin(nil)
	require.NoError(t, mw(passThrough)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAdminEnforcesAllowList(t *testing.T) {
	mw := RequireAdmin([]uint64{1, 2})

	c, rec := adminCtx("ADMIN", uint64(2))
	require.NoError(t, mw(passThrough)(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	c, rec = adminCtx("ADMIN", uint64(9))
	require.NoError(t, mw(passThrough)(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAdminAcceptsFloatClaim(t *testing.T) {
	// JWT numeric claims decode as float64
	c, rec := adminCtx("ADMIN", float64(2))
	mw := RequireAdmin([]uint64{2})
	require.NoError(t, mw(passThrough)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}
