package handlers

import (
	"context"
	"time"

	"github.com/boscod/parkmate/internal/middleware"
	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/services"
	"github.com/gofiber/fiber/v3"
)

// FunctionsHandler serves the /api/functions endpoints the mobile app calls.
type FunctionsHandler struct {
	codeService         *services.CodeService
	subscriptionService *services.SubscriptionService
	trialService        *services.TrialService
}

func NewFunctionsHandler(
	codeService *services.CodeService,
	subscriptionService *services.SubscriptionService,
	trialService *services.TrialService,
) *FunctionsHandler {
	return &FunctionsHandler{
		codeService:         codeService,
		subscriptionService: subscriptionService,
		trialService:        trialService,
	}
}

type GenerateCodesRequest struct {
	Duration   int `json:"duration"`
	Count      int `json:"count"`
	VillaCount int `json:"villaCount"`
}

type CodeRequest struct {
	Code     string `json:"code"`
	DeviceID string `json:"deviceId"`
	VillaID  string `json:"villaId"`
}

type DeviceRequest struct {
	DeviceID      string `json:"deviceId"`
	IPFingerprint string `json:"ipFingerprint"`
}

// GenerateActivationCode creates a batch of codes. Admin only.
func (h *FunctionsHandler) GenerateActivationCode(c fiber.Ctx) error {
	var req GenerateCodesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.VillaCount == 0 {
		req.VillaCount = models.DefaultCodeVillaSize
	}

	adminID := middleware.GetUserID(c)
	ctx := context.Background()
	codes, err := h.codeService.Generate(ctx, &adminID, req.Count, req.Duration, req.VillaCount)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"codes":      codes,
		"duration":   req.Duration,
		"count":      len(codes),
		"villaCount": req.VillaCount,
	})
}

// ValidateActivationCode checks a code without redeeming it.
func (h *FunctionsHandler) ValidateActivationCode(c fiber.Ctx) error {
	var req CodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	ctx := context.Background()
	ac, err := h.codeService.Validate(ctx, req.Code)
	if err != nil {
		return respondError(c, err)
	}

	used, err := h.codeService.VillasUsed(ctx, ac.Code)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"code":    ac.ToResponse(used),
	})
}

// ActivateVillaSubscription redeems a code for one villa.
func (h *FunctionsHandler) ActivateVillaSubscription(c fiber.Ctx) error {
	var req CodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	ctx := context.Background()
	sub, err := h.subscriptionService.Redeem(ctx, req.Code, req.DeviceID, req.VillaID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"subscription": sub.ToResponse(time.Now()),
		"message":      services.ActivationMessage(sub),
		"expiresAt":    sub.ExpiresAt.Format(time.RFC3339),
	})
}

// GetSubscriptionStatus never fails: unknown devices get the inactive status.
func (h *FunctionsHandler) GetSubscriptionStatus(c fiber.Ctx) error {
	var req DeviceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.JSON(fiber.Map{
			"subscription": models.InactiveStatus(),
		})
	}

	status := h.subscriptionService.Status(context.Background(), req.DeviceID)
	return c.JSON(fiber.Map{
		"subscription": status,
	})
}

func (h *FunctionsHandler) CheckTrialEligibility(c fiber.Ctx) error {
	var req DeviceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	eligibility, err := h.trialService.CheckEligibility(context.Background(), req.DeviceID, req.IPFingerprint)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(eligibility)
}

func (h *FunctionsHandler) StartFreeTrial(c fiber.Ctx) error {
	var req DeviceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	sub, err := h.trialService.StartTrial(context.Background(), req.DeviceID, req.IPFingerprint)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"subscription": sub.ToResponse(time.Now()),
	})
}

// ListVillaSubscriptions returns the per-villa subscriptions of the calling
// device.
func (h *FunctionsHandler) ListVillaSubscriptions(c fiber.Ctx) error {
	deviceID := middleware.GetDeviceID(c)

	subs, err := h.subscriptionService.ListVillaSubscriptions(context.Background(), deviceID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"subscriptions": subs,
	})
}
