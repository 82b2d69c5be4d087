package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boscod/parkmate/internal/apperrors"
	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/store"
	"github.com/rs/zerolog/log"
)

var ErrNotificationNotFound = apperrors.NotFound("Notification not found")

type NotificationService struct {
	store store.NotificationStore
	now   func() time.Time
}

func NewNotificationService(st store.NotificationStore) *NotificationService {
	return &NotificationService{store: st, now: time.Now}
}

// CreateNotification creates a new in-app notification
func (s *NotificationService) CreateNotification(
	ctx context.Context,
	deviceID string,
	villaID string,
	notifType string,
	title string,
	message string,
	metadata *models.NotificationMetadata,
) (*models.Notification, error) {
	metadataJSON := []byte("{}")
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal notification metadata: %w", err)
		}
		metadataJSON = b
	}

	notification := &models.Notification{
		DeviceID:  deviceID,
		VillaID:   villaID,
		Type:      notifType,
		Title:     title,
		Message:   message,
		Metadata:  metadataJSON,
		CreatedAt: s.now(),
	}

	if err := s.store.CreateNotification(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	return notification, nil
}

// NotifyBatchComplete tells the device how a dispatch went.
func (s *NotificationService) NotifyBatchComplete(ctx context.Context, villa *models.Villa, trigger string, results []models.SMSResult) {
	sent, failed := 0, 0
	for _, r := range results {
		if r.Success {
			sent++
		} else {
			failed++
		}
	}

	notifType := models.NotificationTypeBatchComplete
	title := fmt.Sprintf("SMS sent for %s", villa.Name)
	if trigger == models.SMSTriggerAutomation {
		notifType = models.NotificationTypeAutomationRan
		title = fmt.Sprintf("Scheduled SMS sent for %s", villa.Name)
	}

	var message string
	switch {
	case failed == 0:
		message = fmt.Sprintf("All %d messages were delivered.", sent)
	case sent == 0:
		message = fmt.Sprintf("None of the %d messages could be delivered.", failed)
	default:
		message = fmt.Sprintf("%d delivered, %d failed.", sent, failed)
	}

	metadata := &models.NotificationMetadata{
		VillaName:  villa.Name,
		Trigger:    trigger,
		Successful: sent,
		Failed:     failed,
	}

	if _, err := s.CreateNotification(ctx, villa.DeviceID, villa.VillaID, notifType, title, message, metadata); err != nil {
		log.Error().Err(err).Str("device_id", villa.DeviceID).Msg("Failed to create batch notification")
	}
}

// NotifyAutomationSkipped records that a scheduled run did not send.
func (s *NotificationService) NotifyAutomationSkipped(ctx context.Context, schedule *models.AutomationSchedule, reason string) {
	metadata := &models.NotificationMetadata{
		ScheduleID: schedule.ID.String(),
		Reason:     reason,
		Trigger:    models.SMSTriggerAutomation,
	}
	title := "Scheduled SMS skipped"
	message := fmt.Sprintf("The scheduled run for villa %s did not send: %s.", schedule.VillaID, reason)

	if _, err := s.CreateNotification(ctx, schedule.DeviceID, schedule.VillaID, models.NotificationTypeAutomationSkipped, title, message, metadata); err != nil {
		log.Error().Err(err).Str("device_id", schedule.DeviceID).Msg("Failed to create skipped notification")
	}
}

// GetDeviceNotifications returns notifications for a device
func (s *NotificationService) GetDeviceNotifications(ctx context.Context, deviceID string, limit, offset int) ([]*models.Notification, int, error) {
	notifications, total, err := s.store.ListNotifications(ctx, deviceID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Persistence("Failed to list notifications", err)
	}
	return notifications, total, nil
}

// GetUnreadCount returns the count of unread notifications
func (s *NotificationService) GetUnreadCount(ctx context.Context, deviceID string) (int, error) {
	count, err := s.store.CountUnreadNotifications(ctx, deviceID)
	if err != nil {
		return 0, apperrors.Persistence("Failed to count notifications", err)
	}
	return count, nil
}

// MarkAsRead marks a notification as read
func (s *NotificationService) MarkAsRead(ctx context.Context, deviceID string, notificationID int64) error {
	if err := s.store.MarkNotificationRead(ctx, deviceID, notificationID, s.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotificationNotFound
		}
		return apperrors.Persistence("Failed to update notification", err)
	}
	return nil
}

// MarkAllAsRead marks all notifications as read for a device
func (s *NotificationService) MarkAllAsRead(ctx context.Context, deviceID string) error {
	if err := s.store.MarkAllNotificationsRead(ctx, deviceID, s.now()); err != nil {
		return apperrors.Persistence("Failed to update notifications", err)
	}
	return nil
}
