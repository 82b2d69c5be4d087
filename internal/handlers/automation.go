package handlers

import (
	"context"

	"github.com/boscod/parkmate/internal/middleware"
	"github.com/boscod/parkmate/internal/services"
	"github.com/gofiber/fiber/v3"
)

type AutomationHandler struct {
	scheduleService *services.ScheduleService
}

func NewAutomationHandler(scheduleService *services.ScheduleService) *AutomationHandler {
	return &AutomationHandler{scheduleService: scheduleService}
}

func (h *AutomationHandler) Get(c fiber.Ctx) error {
	schedule, err := h.scheduleService.Get(context.Background(), middleware.GetDeviceID(c), c.Params("villaId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"schedule": schedule.ToResponse(),
	})
}

// Save creates or replaces the villa's schedule
func (h *AutomationHandler) Save(c fiber.Ctx) error {
	var req services.ScheduleInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	schedule, err := h.scheduleService.Save(context.Background(), middleware.GetDeviceID(c), c.Params("villaId"), req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"schedule": schedule.ToResponse(),
	})
}

func (h *AutomationHandler) Delete(c fiber.Ctx) error {
	if err := h.scheduleService.Delete(context.Background(), middleware.GetDeviceID(c), c.Params("villaId")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
	})
}
