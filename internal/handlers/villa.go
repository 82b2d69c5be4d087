package handlers

import (
	"context"

	"github.com/boscod/parkmate/internal/middleware"
	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/services"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type VillaHandler struct {
	villaService   *services.VillaService
	vehicleService *services.VehicleService
}

func NewVillaHandler(villaService *services.VillaService, vehicleService *services.VehicleService) *VillaHandler {
	return &VillaHandler{
		villaService:   villaService,
		vehicleService: vehicleService,
	}
}

// List returns the device's villas
func (h *VillaHandler) List(c fiber.Ctx) error {
	villas, err := h.villaService.List(context.Background(), middleware.GetDeviceID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"villas": villas,
	})
}

func (h *VillaHandler) Get(c fiber.Ctx) error {
	deviceID := middleware.GetDeviceID(c)
	ctx := context.Background()

	villa, err := h.villaService.Get(ctx, deviceID, c.Params("villaId"))
	if err != nil {
		return respondError(c, err)
	}
	vehicles, err := h.vehicleService.List(ctx, deviceID, villa.VillaID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"villa": villa.ToResponse(len(vehicles)),
	})
}

func (h *VillaHandler) Create(c fiber.Ctx) error {
	var req services.VillaInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	villa, err := h.villaService.Create(context.Background(), middleware.GetDeviceID(c), req)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"villa":   villa.ToResponse(0),
	})
}

func (h *VillaHandler) Update(c fiber.Ctx) error {
	var req services.VillaInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	deviceID := middleware.GetDeviceID(c)
	ctx := context.Background()
	villa, err := h.villaService.Update(ctx, deviceID, c.Params("villaId"), req)
	if err != nil {
		return respondError(c, err)
	}
	vehicles, err := h.vehicleService.List(ctx, deviceID, villa.VillaID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"villa":   villa.ToResponse(len(vehicles)),
	})
}

// Delete removes the villa with its vehicles and schedule
func (h *VillaHandler) Delete(c fiber.Ctx) error {
	if err := h.villaService.Delete(context.Background(), middleware.GetDeviceID(c), c.Params("villaId")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
	})
}

// ListVehicles returns the villa's vehicles in serial order
func (h *VillaHandler) ListVehicles(c fiber.Ctx) error {
	vehicles, err := h.vehicleService.List(context.Background(), middleware.GetDeviceID(c), c.Params("villaId"))
	if err != nil {
		return respondError(c, err)
	}

	responses := make([]*models.VehicleResponse, len(vehicles))
	for i := range vehicles {
		responses[i] = vehicles[i].ToResponse()
	}
	return c.JSON(fiber.Map{
		"vehicles": responses,
	})
}

func (h *VillaHandler) CreateVehicle(c fiber.Ctx) error {
	var req services.VehicleInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	vehicle, err := h.vehicleService.Create(context.Background(), middleware.GetDeviceID(c), c.Params("villaId"), req)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"vehicle": vehicle.ToResponse(),
	})
}

func (h *VillaHandler) UpdateVehicle(c fiber.Ctx) error {
	id, ok := h.vehicleID(c)
	if !ok {
		return badRequest(c, "Invalid vehicle ID")
	}

	var req services.VehicleInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	deviceID := middleware.GetDeviceID(c)
	ctx := context.Background()
	if err := h.checkVehicleVilla(ctx, c, deviceID, id); err != nil {
		return respondError(c, err)
	}

	vehicle, err := h.vehicleService.Update(ctx, deviceID, id, req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"vehicle": vehicle.ToResponse(),
	})
}

func (h *VillaHandler) DeleteVehicle(c fiber.Ctx) error {
	id, ok := h.vehicleID(c)
	if !ok {
		return badRequest(c, "Invalid vehicle ID")
	}

	deviceID := middleware.GetDeviceID(c)
	ctx := context.Background()
	if err := h.checkVehicleVilla(ctx, c, deviceID, id); err != nil {
		return respondError(c, err)
	}

	if err := h.vehicleService.Delete(ctx, deviceID, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
	})
}

func (h *VillaHandler) vehicleID(c fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("vehicleId"))
	return id, err == nil
}

// checkVehicleVilla rejects a vehicle addressed through another villa's path.
func (h *VillaHandler) checkVehicleVilla(ctx context.Context, c fiber.Ctx, deviceID string, id uuid.UUID) error {
	vehicle, err := h.vehicleService.Get(ctx, deviceID, id)
	if err != nil {
		return err
	}
	if vehicle.VillaID != c.Params("villaId") {
		return services.ErrVehicleNotFound
	}
	return nil
}
