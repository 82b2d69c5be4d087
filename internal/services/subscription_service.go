package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boscod/parkmate/internal/apperrors"
	"github.com/boscod/parkmate/internal/metrics"
	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/store"
	"github.com/rs/zerolog/log"
)

var (
	ErrCodeAlreadyUsed      = apperrors.New(apperrors.KindAlreadyUsed, "Activation code has already been used by another device")
	ErrVillaQuotaExceeded   = apperrors.New(apperrors.KindQuotaExceeded, "Activation code has reached its villa limit")
	ErrSubscriptionRequired = apperrors.New(apperrors.KindSubscriptionRequired, "An active subscription is required for this villa")
)

// A redeem whose conditional write lost re-reads at most this many times.
const maxRedeemAttempts = 3

type SubscriptionStoreDeps interface {
	store.CodeStore
	store.SubscriptionStore
}

type SubscriptionService struct {
	store        SubscriptionStoreDeps
	codes        *CodeService
	bindToDevice bool
	now          func() time.Time
}

func NewSubscriptionService(st SubscriptionStoreDeps, codes *CodeService, bindToDevice bool) *SubscriptionService {
	return &SubscriptionService{
		store:        st,
		codes:        codes,
		bindToDevice: bindToDevice,
		now:          time.Now,
	}
}

// Redeem applies an activation code to a villa of a device. An existing
// subscription is extended from max(expiry, now); otherwise a new one starts
// now. Each code activates at most VillaCount distinct villas.
func (s *SubscriptionService) Redeem(ctx context.Context, code, deviceID, villaID string) (*models.VillaSubscription, error) {
	sub, err := s.redeem(ctx, code, deviceID, villaID)
	metrics.Redemptions.WithLabelValues(outcome(err)).Inc()
	return sub, err
}

func (s *SubscriptionService) redeem(ctx context.Context, code, deviceID, villaID string) (*models.VillaSubscription, error) {
	deviceID = strings.TrimSpace(deviceID)
	villaID = strings.TrimSpace(villaID)
	if deviceID == "" {
		return nil, apperrors.Validation("deviceId is required")
	}
	if villaID == "" {
		return nil, apperrors.Validation("villaId is required")
	}

	ac, err := s.codes.Validate(ctx, code)
	if err != nil {
		return nil, err
	}

	if s.bindToDevice && ac.UsedByDeviceID != nil && *ac.UsedByDeviceID != deviceID {
		return nil, ErrCodeAlreadyUsed
	}

	// Take the villa slot before granting any time.
	now := s.now()
	if err := s.store.ReserveCodeVilla(ctx, ac.Code, deviceID, villaID, ac.VillaCount, now); err != nil {
		if errors.Is(err, store.ErrQuotaExceeded) {
			return nil, ErrVillaQuotaExceeded
		}
		return nil, apperrors.Persistence("Failed to reserve activation code", err)
	}

	var sub *models.VillaSubscription
	for attempt := 1; attempt <= maxRedeemAttempts; attempt++ {
		sub, err = s.apply(ctx, ac, deviceID, villaID, now)
		if !errors.Is(err, store.ErrConflict) {
			break
		}
		log.Debug().Str("device_id", deviceID).Str("villa_id", villaID).Int("attempt", attempt).Msg("Concurrent redemption, re-reading subscription")
	}
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperrors.Wrap(apperrors.KindConflict, "Subscription was updated concurrently, please try again", err)
		}
		return nil, apperrors.Persistence("Failed to save subscription", err)
	}

	log.Info().
		Str("code", ac.Code).
		Str("device_id", deviceID).
		Str("villa_id", villaID).
		Time("expires_at", sub.ExpiresAt).
		Msg("Activation code redeemed")
	return sub, nil
}

func (s *SubscriptionService) apply(ctx context.Context, ac *models.ActivationCode, deviceID, villaID string, now time.Time) (*models.VillaSubscription, error) {
	existing, err := s.store.FindVillaSubscription(ctx, deviceID, villaID)
	switch {
	case err == nil:
		base := existing.ExpiresAt
		if now.After(base) {
			base = now
		}
		newExpiry := base.Add(days(ac.DurationDays))
		if err := s.store.ExtendSubscription(ctx, existing.ID, existing.ExpiresAt, newExpiry, ac.Code, now); err != nil {
			return nil, err
		}
		existing.ExpiresAt = newExpiry
		existing.ActivationCode = ac.Code
		existing.IsActive = true
		existing.UpdatedAt = now
		return existing, nil

	case errors.Is(err, store.ErrNotFound):
		sub := &models.VillaSubscription{
			VillaID:        villaID,
			DeviceID:       deviceID,
			Type:           models.SubscriptionTypeActivationCode,
			ActivationCode: ac.Code,
			IsActive:       true,
			ActivatedAt:    now,
			ExpiresAt:      now.Add(days(ac.DurationDays)),
			CreatedAt:      now,
		}
		if err := s.store.CreateSubscription(ctx, sub); err != nil {
			return nil, err
		}
		return sub, nil

	default:
		return nil, err
	}
}

// Status reports the device's most recent subscription. It never fails: any
// lookup problem yields the inactive default.
func (s *SubscriptionService) Status(ctx context.Context, deviceID string) models.SubscriptionStatus {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return models.InactiveStatus()
	}

	sub, err := s.store.LatestSubscription(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Str("device_id", deviceID).Msg("Subscription status lookup failed")
		}
		return models.InactiveStatus()
	}

	status := models.SubscriptionStatus{
		SchemaVersion:  models.SubscriptionStatusVersion,
		IsActive:       sub.ActiveAt(s.now()),
		Type:           sub.Type,
		ActivationCode: sub.ActivationCode,
		VillaLimit:     models.TrialVillaLimit,
	}
	expiresAt := sub.ExpiresAt
	status.ExpiresAt = &expiresAt

	if sub.Type == models.SubscriptionTypeActivationCode && sub.ActivationCode != "" {
		ac, err := s.store.GetCode(ctx, sub.ActivationCode)
		if err != nil {
			log.Warn().Err(err).Str("code", sub.ActivationCode).Msg("Failed to load code for villa limit")
			return models.InactiveStatus()
		}
		status.VillaLimit = ac.VillaCount
	}
	return status
}

// ListVillaSubscriptions returns every subscription row of the device.
func (s *SubscriptionService) ListVillaSubscriptions(ctx context.Context, deviceID string) ([]*models.VillaSubscriptionResponse, error) {
	subs, err := s.store.ListSubscriptions(ctx, deviceID)
	if err != nil {
		return nil, apperrors.Persistence("Failed to list subscriptions", err)
	}
	now := s.now()
	out := make([]*models.VillaSubscriptionResponse, len(subs))
	for i, sub := range subs {
		out[i] = sub.ToResponse(now)
	}
	return out, nil
}

// Entitled reports whether the device may send for the villa: either the
// villa has an active subscription or the device has an active trial.
func (s *SubscriptionService) Entitled(ctx context.Context, deviceID, villaID string) (bool, error) {
	now := s.now()

	sub, err := s.store.FindVillaSubscription(ctx, deviceID, villaID)
	switch {
	case err == nil:
		if sub.ActiveAt(now) {
			return true, nil
		}
	case !errors.Is(err, store.ErrNotFound):
		return false, apperrors.Persistence("Failed to check subscription", err)
	}

	trial, err := s.store.FindTrialSubscription(ctx, deviceID)
	switch {
	case err == nil:
		return trial.ActiveAt(now), nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, apperrors.Persistence("Failed to check trial", err)
	}
}

// RequireEntitlement is Entitled as an error.
func (s *SubscriptionService) RequireEntitlement(ctx context.Context, deviceID, villaID string) error {
	ok, err := s.Entitled(ctx, deviceID, villaID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSubscriptionRequired
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return apperrors.KindOf(err).String()
}

// ActivationMessage is the user-facing summary of a redemption.
func ActivationMessage(sub *models.VillaSubscription) string {
	return fmt.Sprintf("Villa %s activated until %s", sub.VillaID, sub.ExpiresAt.Format("2006-01-02"))
}
