package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boscod/parkmate/internal/apperrors"
	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/store"
	"github.com/google/uuid"
)

var (
	ErrVehicleNotFound      = apperrors.NotFound("Vehicle not found")
	ErrVehicleLimit         = apperrors.New(apperrors.KindQuotaExceeded, fmt.Sprintf("A villa can hold at most %d vehicles", models.MaxVehiclesPerVilla))
	ErrPlateRequired        = apperrors.Validation("Plate number is required")
	ErrInvalidVehicleStatus = apperrors.Validation("Status must be one of pending, sent, failed, verified")
)

type VehicleService struct {
	store  store.VehicleStore
	villas *VillaService
}

func NewVehicleService(st store.VehicleStore, villas *VillaService) *VehicleService {
	return &VehicleService{store: st, villas: villas}
}

type VehicleInput struct {
	PlateNumber *string `json:"plateNumber"`
	RoomName    *string `json:"roomName"`
	SMSMessage  *string `json:"smsMessage"`
	Status      *string `json:"status"`
}

func normalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}

func (s *VehicleService) List(ctx context.Context, deviceID, villaID string) ([]*models.Vehicle, error) {
	if _, err := s.villas.Get(ctx, deviceID, villaID); err != nil {
		return nil, err
	}
	vehicles, err := s.store.ListVehicles(ctx, deviceID, villaID)
	if err != nil {
		return nil, apperrors.Persistence("Failed to list vehicles", err)
	}
	return vehicles, nil
}

func (s *VehicleService) Get(ctx context.Context, deviceID string, id uuid.UUID) (*models.Vehicle, error) {
	vehicle, err := s.store.GetVehicle(ctx, deviceID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrVehicleNotFound
		}
		return nil, apperrors.Persistence("Failed to load vehicle", err)
	}
	return vehicle, nil
}

// Create adds a vehicle at the end of the villa's list. The SMS message
// defaults to the plate number.
func (s *VehicleService) Create(ctx context.Context, deviceID, villaID string, input VehicleInput) (*models.Vehicle, error) {
	if input.PlateNumber == nil || normalizePlate(*input.PlateNumber) == "" {
		return nil, ErrPlateRequired
	}
	if _, err := s.villas.Get(ctx, deviceID, villaID); err != nil {
		return nil, err
	}

	count, err := s.store.CountVehicles(ctx, deviceID, villaID)
	if err != nil {
		return nil, apperrors.Persistence("Failed to count vehicles", err)
	}
	if count >= models.MaxVehiclesPerVilla {
		return nil, ErrVehicleLimit
	}

	serial, err := s.store.MaxVehicleSerial(ctx, deviceID, villaID)
	if err != nil {
		return nil, apperrors.Persistence("Failed to number vehicle", err)
	}

	plate := normalizePlate(*input.PlateNumber)
	vehicle := &models.Vehicle{
		DeviceID:     deviceID,
		VillaID:      villaID,
		PlateNumber:  plate,
		SMSMessage:   plate,
		Status:       models.VehicleStatusPending,
		SerialNumber: serial + 1,
	}
	if input.RoomName != nil {
		vehicle.RoomName = strings.TrimSpace(*input.RoomName)
	}
	if input.SMSMessage != nil && strings.TrimSpace(*input.SMSMessage) != "" {
		vehicle.SMSMessage = strings.TrimSpace(*input.SMSMessage)
	}

	if err := s.store.CreateVehicle(ctx, vehicle); err != nil {
		return nil, apperrors.Persistence("Failed to create vehicle", err)
	}
	return vehicle, nil
}

func (s *VehicleService) Update(ctx context.Context, deviceID string, id uuid.UUID, input VehicleInput) (*models.Vehicle, error) {
	vehicle, err := s.Get(ctx, deviceID, id)
	if err != nil {
		return nil, err
	}

	if input.PlateNumber != nil {
		plate := normalizePlate(*input.PlateNumber)
		if plate == "" {
			return nil, ErrPlateRequired
		}
		vehicle.PlateNumber = plate
	}
	if input.RoomName != nil {
		vehicle.RoomName = strings.TrimSpace(*input.RoomName)
	}
	if input.SMSMessage != nil {
		msg := strings.TrimSpace(*input.SMSMessage)
		if msg == "" {
			msg = vehicle.PlateNumber
		}
		vehicle.SMSMessage = msg
	}
	if input.Status != nil {
		if !models.IsValidVehicleStatus(*input.Status) {
			return nil, ErrInvalidVehicleStatus
		}
		vehicle.Status = *input.Status
	}

	if err := s.store.UpdateVehicle(ctx, vehicle); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrVehicleNotFound
		}
		return nil, apperrors.Persistence("Failed to update vehicle", err)
	}
	return vehicle, nil
}

func (s *VehicleService) Delete(ctx context.Context, deviceID string, id uuid.UUID) error {
	if err := s.store.DeleteVehicle(ctx, deviceID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrVehicleNotFound
		}
		return apperrors.Persistence("Failed to delete vehicle", err)
	}
	return nil
}
