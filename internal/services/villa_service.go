package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/boscod/parkmate/internal/apperrors"
	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/store"
	"github.com/google/uuid"
)

var (
	ErrVillaNotFound    = apperrors.NotFound("Villa not found")
	ErrVillaExists      = apperrors.New(apperrors.KindConflict, "A villa with this id already exists")
	ErrInvalidSMSNumber = apperrors.Validation("SMS number must contain 3 to 15 digits with an optional leading +")
)

var smsNumberPattern = regexp.MustCompile(`^\+?\d{3,15}$`)

type VillaStoreDeps interface {
	store.VillaStore
	store.VehicleStore
}

type VillaService struct {
	store  VillaStoreDeps
	crypto *CryptoService
}

func NewVillaService(st VillaStoreDeps, crypto *CryptoService) *VillaService {
	return &VillaService{store: st, crypto: crypto}
}

type VillaInput struct {
	VillaID   string `json:"villaId"`
	Name      string `json:"name"`
	SMSNumber string `json:"smsNumber"`
	IsActive  *bool  `json:"isActive"`
}

// NormalizeSMSNumber strips formatting characters and validates the result.
func NormalizeSMSNumber(number string) (string, error) {
	r := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	n := r.Replace(strings.TrimSpace(number))
	if !smsNumberPattern.MatchString(n) {
		return "", ErrInvalidSMSNumber
	}
	return n, nil
}

func (s *VillaService) List(ctx context.Context, deviceID string) ([]*models.VillaResponse, error) {
	villas, err := s.store.ListVillas(ctx, deviceID)
	if err != nil {
		return nil, apperrors.Persistence("Failed to list villas", err)
	}

	out := make([]*models.VillaResponse, 0, len(villas))
	for _, v := range villas {
		if err := s.decrypt(v); err != nil {
			return nil, err
		}
		count, err := s.store.CountVehicles(ctx, deviceID, v.VillaID)
		if err != nil {
			return nil, apperrors.Persistence("Failed to count vehicles", err)
		}
		out = append(out, v.ToResponse(count))
	}
	return out, nil
}

// Get returns the villa with its SMS number decrypted.
func (s *VillaService) Get(ctx context.Context, deviceID, villaID string) (*models.Villa, error) {
	villa, err := s.store.GetVilla(ctx, deviceID, villaID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrVillaNotFound
		}
		return nil, apperrors.Persistence("Failed to load villa", err)
	}
	if err := s.decrypt(villa); err != nil {
		return nil, err
	}
	return villa, nil
}

func (s *VillaService) Create(ctx context.Context, deviceID string, input VillaInput) (*models.Villa, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.Validation("Villa name is required")
	}
	number, err := NormalizeSMSNumber(input.SMSNumber)
	if err != nil {
		return nil, err
	}

	villaID := strings.TrimSpace(input.VillaID)
	if villaID == "" {
		villaID = uuid.NewString()
	}

	encrypted, err := s.crypto.Encrypt(number)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "Failed to encrypt SMS number", err)
	}

	villa := &models.Villa{
		DeviceID:           deviceID,
		VillaID:            villaID,
		Name:               name,
		SMSNumberEncrypted: encrypted,
		IsActive:           true,
	}
	if input.IsActive != nil {
		villa.IsActive = *input.IsActive
	}

	if err := s.store.CreateVilla(ctx, villa); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrVillaExists
		}
		return nil, apperrors.Persistence("Failed to create villa", err)
	}
	villa.SMSNumber = number
	return villa, nil
}

// Update changes the fields that are set in input.
func (s *VillaService) Update(ctx context.Context, deviceID, villaID string, input VillaInput) (*models.Villa, error) {
	villa, err := s.Get(ctx, deviceID, villaID)
	if err != nil {
		return nil, err
	}

	if input.Name != "" {
		name := strings.TrimSpace(input.Name)
		if name == "" {
			return nil, apperrors.Validation("Villa name is required")
		}
		villa.Name = name
	}
	if input.SMSNumber != "" {
		number, err := NormalizeSMSNumber(input.SMSNumber)
		if err != nil {
			return nil, err
		}
		encrypted, err := s.crypto.Encrypt(number)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "Failed to encrypt SMS number", err)
		}
		villa.SMSNumber = number
		villa.SMSNumberEncrypted = encrypted
	}
	if input.IsActive != nil {
		villa.IsActive = *input.IsActive
	}

	if err := s.store.UpdateVilla(ctx, villa); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrVillaNotFound
		}
		return nil, apperrors.Persistence("Failed to update villa", err)
	}
	return villa, nil
}

func (s *VillaService) Delete(ctx context.Context, deviceID, villaID string) error {
	if err := s.store.DeleteVilla(ctx, deviceID, villaID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrVillaNotFound
		}
		return apperrors.Persistence("Failed to delete villa", err)
	}
	return nil
}

func (s *VillaService) decrypt(v *models.Villa) error {
	number, err := s.crypto.Decrypt(v.SMSNumberEncrypted)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "Failed to decrypt SMS number", err)
	}
	v.SMSNumber = number
	return nil
}
