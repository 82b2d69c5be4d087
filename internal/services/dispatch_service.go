package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/boscod/parkmate/internal/apperrors"
	"github.com/boscod/parkmate/internal/metrics"
	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const historyDateLayout = "2006-01-02"

type DispatchConfig struct {
	RatePerSecond float64       // gateway pacing, <= 0 disables it
	MaxAttempts   int           // per message, including the first
	RetryBackoff  time.Duration // doubled after every failed attempt
}

type DispatchStoreDeps interface {
	store.VehicleStore
	store.SMSLogStore
}

// DispatchService sends a villa's vehicle messages through the SMS gateway.
type DispatchService struct {
	store         DispatchStoreDeps
	villas        *VillaService
	subscriptions *SubscriptionService
	notifications *NotificationService
	sender        SMSSender
	limiter       *rate.Limiter
	cfg           DispatchConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatchService(
	st DispatchStoreDeps,
	villas *VillaService,
	subscriptions *SubscriptionService,
	notifications *NotificationService,
	sender SMSSender,
	cfg DispatchConfig,
) *DispatchService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &DispatchService{
		store:         st,
		villas:        villas,
		subscriptions: subscriptions,
		notifications: notifications,
		sender:        sender,
		limiter:       rate.NewLimiter(limit, 1),
		cfg:           cfg,
		now:           time.Now,
		sleep:         sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SendBatch sends the message of each selected vehicle (all vehicles of the
// villa when vehicleIDs is empty) to the villa's SMS number, one at a time.
func (s *DispatchService) SendBatch(ctx context.Context, deviceID, villaID string, vehicleIDs []string, trigger string) ([]models.SMSResult, error) {
	if trigger == "" {
		trigger = models.SMSTriggerManual
	}

	if err := s.subscriptions.RequireEntitlement(ctx, deviceID, villaID); err != nil {
		return nil, err
	}

	villa, err := s.villas.Get(ctx, deviceID, villaID)
	if err != nil {
		return nil, err
	}

	vehicles, err := s.selectVehicles(ctx, deviceID, villaID, vehicleIDs)
	if err != nil {
		return nil, err
	}
	if len(vehicles) == 0 {
		return nil, apperrors.Validation("No vehicles to send")
	}

	results := make([]models.SMSResult, 0, len(vehicles))
	for _, vehicle := range vehicles {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		attempts, sendErr := s.deliver(ctx, villa.SMSNumber, vehicle.SMSMessage)
		result := models.SMSResult{
			VehicleID:   vehicle.ID.String(),
			PlateNumber: vehicle.PlateNumber,
			Success:     sendErr == nil,
			Attempts:    attempts,
		}
		if sendErr != nil {
			result.Error = sendErr.Error()
		}
		results = append(results, result)
		s.record(ctx, villa, vehicle, result, trigger)

		if errors.Is(sendErr, context.Canceled) || errors.Is(sendErr, context.DeadlineExceeded) {
			return results, sendErr
		}
	}

	log.Info().
		Str("device_id", deviceID).
		Str("villa_id", villaID).
		Str("trigger", trigger).
		Int("messages", len(results)).
		Msg("SMS batch dispatched")

	s.notifications.NotifyBatchComplete(ctx, villa, trigger, results)
	return results, nil
}

func (s *DispatchService) selectVehicles(ctx context.Context, deviceID, villaID string, vehicleIDs []string) ([]*models.Vehicle, error) {
	all, err := s.store.ListVehicles(ctx, deviceID, villaID)
	if err != nil {
		return nil, apperrors.Persistence("Failed to load vehicles", err)
	}
	if len(vehicleIDs) == 0 {
		return all, nil
	}

	byID := make(map[uuid.UUID]*models.Vehicle, len(all))
	for _, v := range all {
		byID[v.ID] = v
	}

	selected := make([]*models.Vehicle, 0, len(vehicleIDs))
	for _, raw := range vehicleIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, apperrors.Validation(fmt.Sprintf("Invalid vehicle id %q", raw))
		}
		v, ok := byID[id]
		if !ok {
			return nil, apperrors.NotFound(fmt.Sprintf("Vehicle %s not found in villa", raw))
		}
		selected = append(selected, v)
	}
	return selected, nil
}

// deliver sends one message with retry and exponential backoff. It returns
// the number of gateway calls made.
func (s *DispatchService) deliver(ctx context.Context, phone, message string) (int, error) {
	backoff := s.cfg.RetryBackoff
	attempts := 0
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return attempts, err
		}

		attempts++
		err := s.sender.Deliver(ctx, phone, message)
		if err == nil {
			return attempts, nil
		}
		if attempts >= s.cfg.MaxAttempts || !IsRetryable(err) {
			return attempts, err
		}

		log.Debug().Err(err).Int("attempt", attempts).Dur("backoff", backoff).Msg("SMS delivery failed, retrying")
		if err := s.sleep(ctx, backoff); err != nil {
			return attempts, err
		}
		backoff *= 2
	}
}

func (s *DispatchService) record(ctx context.Context, villa *models.Villa, vehicle *models.Vehicle, result models.SMSResult, trigger string) {
	now := s.now()
	status := models.SMSStatusSent
	if !result.Success {
		status = models.SMSStatusFailed
	}

	metrics.SMSSent.WithLabelValues(trigger, status).Inc()
	metrics.SMSAttempts.Observe(float64(result.Attempts))

	entry := &models.SMSLog{
		DeviceID:    villa.DeviceID,
		VillaID:     villa.VillaID,
		VehicleID:   vehicle.ID.String(),
		PhoneNumber: villa.SMSNumber,
		Status:      status,
		Error:       result.Error,
		Attempts:    result.Attempts,
		Trigger:     trigger,
		CreatedAt:   now,
	}
	if err := s.store.InsertSMSLog(ctx, entry); err != nil {
		log.Error().Err(err).Str("vehicle_id", entry.VehicleID).Msg("Failed to write SMS log")
	}

	if result.Success {
		vehicle.Status = models.VehicleStatusSent
		vehicle.LastSentAt = &now
	} else {
		vehicle.Status = models.VehicleStatusFailed
	}
	if err := s.store.UpdateVehicle(ctx, vehicle); err != nil {
		log.Error().Err(err).Str("vehicle_id", entry.VehicleID).Msg("Failed to update vehicle status")
	}
}

// ParseHistoryDays reads the optional days query value.
func ParseHistoryDays(raw string) (int, error) {
	if raw == "" {
		return models.DefaultHistoryDays, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Validation("days must be a number")
	}
	return n, nil
}

// History returns one entry per day for the last n days (UTC), oldest first,
// with days that had no traffic reported as zeros.
func (s *DispatchService) History(ctx context.Context, deviceID string, n int) ([]models.SMSHistoryDay, error) {
	if n == 0 {
		n = models.DefaultHistoryDays
	}
	if n < 0 || n > models.MaxHistoryDays {
		return nil, apperrors.Validation(fmt.Sprintf("days must be between 1 and %d", models.MaxHistoryDays))
	}

	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(n - 1))

	logs, err := s.store.ListSMSLogsSince(ctx, deviceID, since)
	if err != nil {
		return nil, apperrors.Persistence("Failed to load SMS history", err)
	}

	days := make([]models.SMSHistoryDay, n)
	index := make(map[string]int, n)
	for i := 0; i < n; i++ {
		date := since.AddDate(0, 0, i).Format(historyDateLayout)
		days[i] = models.SMSHistoryDay{Date: date}
		index[date] = i
	}

	for _, l := range logs {
		i, ok := index[l.CreatedAt.UTC().Format(historyDateLayout)]
		if !ok {
			continue
		}
		if l.Status == models.SMSStatusSent {
			days[i].Successful++
		} else {
			days[i].Errors++
		}
	}
	return days, nil
}
