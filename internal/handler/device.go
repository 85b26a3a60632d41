package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fridaylabs/token-market/internal/repository"
)

// DeviceHandler maintains the per-user push destination registry.
type DeviceHandler struct {
	Devices *repository.DeviceRepo
}

func NewDeviceHandler(devices *repository.DeviceRepo) *DeviceHandler {
	if devices == nil {
		panic("nil repository passed to NewDeviceHandler")
	}
	return &DeviceHandler{Devices: devices}
}

// Register handles POST /v1/devices.  It upserts the caller's device
// row; omitted token fields keep their stored values so a VoIP-only
// update does not wipe the alert token.
func (h *DeviceHandler) Register(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		VoIPToken *string `json:"voip_token"`
		APNsToken *string `json:"apns_token"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.VoIPToken == nil && body.APNsToken == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "voip_token or apns_token required"})
	}
	created, err := h.Devices.Upsert(c.Request().Context(), userID, body.VoIPToken, body.APNsToken)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to save device"})
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, echo.Map{"registered": true})
}
