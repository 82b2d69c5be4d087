package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/boscod/parkmate/internal/apperrors"
	"github.com/boscod/parkmate/internal/metrics"
	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/store"
	"github.com/rs/zerolog/log"
)

const DefaultTrialDays = 3

type TrialDenialReason string

const (
	TrialAllowed             TrialDenialReason = ""
	TrialDeniedDeviceUsed    TrialDenialReason = "device_already_used_trial"
	TrialDeniedIPFingerprint TrialDenialReason = "ip_already_used_trial"
)

// TrialEligibility is the answer to "may this device start a trial".
type TrialEligibility struct {
	Eligible bool              `json:"eligible"`
	Reason   TrialDenialReason `json:"reason,omitempty"`
}

var ErrTrialAlreadyUsed = apperrors.New(apperrors.KindAlreadyUsed, "Free trial has already been used on this device or network")

type TrialService struct {
	store     store.TrialStore
	trialDays int
	now       func() time.Time
}

func NewTrialService(st store.TrialStore, trialDays int) *TrialService {
	if trialDays <= 0 {
		trialDays = DefaultTrialDays
	}
	return &TrialService{
		store:     st,
		trialDays: trialDays,
		now:       time.Now,
	}
}

// CheckEligibility denies a device that ever claimed a trial, or whose IP
// fingerprint was used by any trial.
func (s *TrialService) CheckEligibility(ctx context.Context, deviceID, ipFingerprint string) (TrialEligibility, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return TrialEligibility{}, apperrors.Validation("deviceId is required")
	}

	_, err := s.store.GetTrialDevice(ctx, deviceID)
	switch {
	case err == nil:
		return TrialEligibility{Eligible: false, Reason: TrialDeniedDeviceUsed}, nil
	case !errors.Is(err, store.ErrNotFound):
		return TrialEligibility{}, apperrors.Persistence("Failed to check trial eligibility", err)
	}

	if fp := HashFingerprint(ipFingerprint); fp != "" {
		used, err := s.store.TrialFingerprintUsed(ctx, fp)
		if err != nil {
			return TrialEligibility{}, apperrors.Persistence("Failed to check trial eligibility", err)
		}
		if used {
			return TrialEligibility{Eligible: false, Reason: TrialDeniedIPFingerprint}, nil
		}
	}

	return TrialEligibility{Eligible: true, Reason: TrialAllowed}, nil
}

// StartTrial claims the one-time trial and creates a device-wide trial
// subscription. The claim is insert-or-fail, so concurrent requests from the
// same device or network grant at most one trial.
func (s *TrialService) StartTrial(ctx context.Context, deviceID, ipFingerprint string) (*models.VillaSubscription, error) {
	sub, err := s.startTrial(ctx, deviceID, ipFingerprint)
	metrics.TrialsStarted.WithLabelValues(outcome(err)).Inc()
	return sub, err
}

func (s *TrialService) startTrial(ctx context.Context, deviceID, ipFingerprint string) (*models.VillaSubscription, error) {
	eligibility, err := s.CheckEligibility(ctx, deviceID, ipFingerprint)
	if err != nil {
		return nil, err
	}
	if !eligibility.Eligible {
		return nil, ErrTrialAlreadyUsed
	}

	deviceID = strings.TrimSpace(deviceID)
	now := s.now()
	grant := &models.TrialDevice{
		DeviceID:       deviceID,
		IPFingerprint:  HashFingerprint(ipFingerprint),
		HasUsedTrial:   true,
		TrialStartedAt: now,
	}
	sub := &models.VillaSubscription{
		DeviceID:    deviceID,
		Type:        models.SubscriptionTypeTrial,
		IsActive:    true,
		ActivatedAt: now,
		ExpiresAt:   now.Add(days(s.trialDays)),
		CreatedAt:   now,
	}

	if err := s.store.ClaimTrial(ctx, grant, sub); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrTrialAlreadyUsed
		}
		return nil, apperrors.Persistence("Failed to start trial", err)
	}

	log.Info().Str("device_id", deviceID).Time("expires_at", sub.ExpiresAt).Msg("Free trial started")
	return sub, nil
}
