package handlers

import (
	"context"
	"strconv"

	"github.com/boscod/parkmate/internal/middleware"
	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/services"
	"github.com/gofiber/fiber/v3"
)

type NotificationHandler struct {
	notificationService *services.NotificationService
}

func NewNotificationHandler(notificationService *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
	}
}

// List returns paginated notifications for the current device
func (h *NotificationHandler) List(c fiber.Ctx) error {
	deviceID := middleware.GetDeviceID(c)
	page, limit, offset := pagination(c, 20, 50)

	ctx := context.Background()
	notifications, total, err := h.notificationService.GetDeviceNotifications(ctx, deviceID, limit, offset)
	if err != nil {
		return respondError(c, err)
	}

	// Convert to response
	responses := make([]*models.NotificationResponse, len(notifications))
	for i := range notifications {
		responses[i] = notifications[i].ToResponse()
	}

	return c.JSON(fiber.Map{
		"notifications": responses,
		"pagination":    paginationMap(page, limit, total),
	})
}

// UnreadCount returns the count of unread notifications
func (h *NotificationHandler) UnreadCount(c fiber.Ctx) error {
	ctx := context.Background()
	count, err := h.notificationService.GetUnreadCount(ctx, middleware.GetDeviceID(c))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"count": count,
	})
}

// MarkAsRead marks a single notification as read
func (h *NotificationHandler) MarkAsRead(c fiber.Ctx) error {
	notificationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return badRequest(c, "Invalid notification ID")
	}

	ctx := context.Background()
	if err := h.notificationService.MarkAsRead(ctx, middleware.GetDeviceID(c), notificationID); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
	})
}

// MarkAllAsRead marks all notifications as read for the current device
func (h *NotificationHandler) MarkAllAsRead(c fiber.Ctx) error {
	ctx := context.Background()
	if err := h.notificationService.MarkAllAsRead(ctx, middleware.GetDeviceID(c)); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
	})
}
