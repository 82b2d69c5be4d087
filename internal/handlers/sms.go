package handlers

import (
	"context"

	"github.com/boscod/parkmate/internal/middleware"
	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/services"
	"github.com/gofiber/fiber/v3"
)

type SMSHandler struct {
	dispatchService *services.DispatchService
}

func NewSMSHandler(dispatchService *services.DispatchService) *SMSHandler {
	return &SMSHandler{dispatchService: dispatchService}
}

// SendRequest selects vehicles; empty means the whole villa.
type SendRequest struct {
	VehicleIDs []string `json:"vehicleIds"`
}

// Send dispatches the villa's vehicle messages now
func (h *SMSHandler) Send(c fiber.Ctx) error {
	var req SendRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}

	results, err := h.dispatchService.SendBatch(c.Context(), middleware.GetDeviceID(c), c.Params("villaId"), req.VehicleIDs, models.SMSTriggerManual)
	if err != nil {
		return respondError(c, err)
	}

	sent := 0
	for _, r := range results {
		if r.Success {
			sent++
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"results": results,
		"sent":    sent,
		"failed":  len(results) - sent,
	})
}

// History returns daily SMS counts for the last ?days= days
func (h *SMSHandler) History(c fiber.Ctx) error {
	days, err := services.ParseHistoryDays(c.Query("days"))
	if err != nil {
		return respondError(c, err)
	}

	history, err := h.dispatchService.History(context.Background(), middleware.GetDeviceID(c), days)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"history": history,
	})
}
