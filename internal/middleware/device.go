package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v3"
)

const (
	// HeaderDeviceID identifies the calling app installation
	HeaderDeviceID = "X-Device-Id"
	// ContextKeyDeviceID is the key for the device ID in context
	ContextKeyDeviceID = "device_id"

	maxDeviceIDLength = 100
)

// DeviceMiddleware scopes the request to the device named in X-Device-Id.
func DeviceMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		deviceID := strings.TrimSpace(c.Get(HeaderDeviceID))
		if deviceID == "" || len(deviceID) > maxDeviceIDLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "X-Device-Id header is required (1-100 characters)",
			})
		}

		c.Locals(ContextKeyDeviceID, deviceID)
		return c.Next()
	}
}

func GetDeviceID(c fiber.Ctx) string {
	if id, ok := c.Locals(ContextKeyDeviceID).(string); ok {
		return id
	}
	return ""
}
