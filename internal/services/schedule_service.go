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
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const scheduleTimeLayout = "15:04"

var ErrScheduleNotFound = apperrors.NotFound("Automation schedule not found")

// RunPublisher hands a run to the delayed queue.
type RunPublisher interface {
	PublishScheduledRun(run models.ScheduledRun, delay time.Duration) error
}

// Outcomes of a fired trigger.
const (
	RunResultSent     = "sent"
	RunResultSkipped  = "skipped"
	RunResultFailed   = "failed"
	RunResultStale    = "stale"
	RunResultDisabled = "disabled"
	RunResultDeleted  = "deleted"
)

type ScheduleInput struct {
	IsEnabled  bool   `json:"isEnabled"`
	Time       string `json:"time"`
	DaysOfWeek []bool `json:"daysOfWeek"`
	Timezone   string `json:"timezone"`
}

type ScheduleService struct {
	store         store.ScheduleStore
	villas        *VillaService
	dispatch      *DispatchService
	notifications *NotificationService
	publisher     RunPublisher // nil when no broker is configured
	now           func() time.Time
}

func NewScheduleService(
	st store.ScheduleStore,
	villas *VillaService,
	dispatch *DispatchService,
	notifications *NotificationService,
	publisher RunPublisher,
) *ScheduleService {
	return &ScheduleService{
		store:         st,
		villas:        villas,
		dispatch:      dispatch,
		notifications: notifications,
		publisher:     publisher,
		now:           time.Now,
	}
}

// NextRun returns the first selected weekday at timeOfDay (in loc) strictly
// after the given instant. ok is false when no weekday is selected.
func NextRun(timeOfDay string, daysOfWeek []bool, loc *time.Location, after time.Time) (time.Time, bool) {
	tod, err := time.Parse(scheduleTimeLayout, timeOfDay)
	if err != nil || len(daysOfWeek) != 7 {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}

	local := after.In(loc)
	for i := 0; i <= 7; i++ {
		day := local.AddDate(0, 0, i)
		candidate := time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), 0, 0, loc)
		if daysOfWeek[candidate.Weekday()] && candidate.After(after) {
			return candidate, true
		}
	}
	return time.Time{}, false
}

func validateSchedule(input *ScheduleInput) (*time.Location, error) {
	input.Time = strings.TrimSpace(input.Time)
	if _, err := time.Parse(scheduleTimeLayout, input.Time); err != nil {
		return nil, apperrors.Validation("time must be in HH:mm format")
	}
	if len(input.DaysOfWeek) != 7 {
		return nil, apperrors.Validation("daysOfWeek must have 7 entries, Sunday first")
	}
	if input.Timezone == "" {
		input.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(input.Timezone)
	if err != nil {
		return nil, apperrors.Validation("Unknown timezone")
	}
	return loc, nil
}

func (s *ScheduleService) Get(ctx context.Context, deviceID, villaID string) (*models.AutomationSchedule, error) {
	schedule, err := s.store.GetSchedule(ctx, deviceID, villaID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, apperrors.Persistence("Failed to load schedule", err)
	}
	return schedule, nil
}

// Save stores the villa's schedule and queues its next run.
func (s *ScheduleService) Save(ctx context.Context, deviceID, villaID string, input ScheduleInput) (*models.AutomationSchedule, error) {
	loc, err := validateSchedule(&input)
	if err != nil {
		return nil, err
	}
	if _, err := s.villas.Get(ctx, deviceID, villaID); err != nil {
		return nil, err
	}

	schedule := &models.AutomationSchedule{
		DeviceID:   deviceID,
		VillaID:    villaID,
		IsEnabled:  input.IsEnabled,
		Time:       input.Time,
		DaysOfWeek: input.DaysOfWeek,
		Timezone:   input.Timezone,
	}
	if existing, err := s.store.GetSchedule(ctx, deviceID, villaID); err == nil {
		schedule.LastRunAt = existing.LastRunAt
	}

	if input.IsEnabled {
		if next, ok := NextRun(input.Time, input.DaysOfWeek, loc, s.now()); ok {
			schedule.NextRunAt = &next
		}
	}

	if err := s.store.SaveSchedule(ctx, schedule); err != nil {
		return nil, apperrors.Persistence("Failed to save schedule", err)
	}

	s.publish(schedule)
	return schedule, nil
}

func (s *ScheduleService) Delete(ctx context.Context, deviceID, villaID string) error {
	if err := s.store.DeleteSchedule(ctx, deviceID, villaID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrScheduleNotFound
		}
		return apperrors.Persistence("Failed to delete schedule", err)
	}
	return nil
}

// publish queues the schedule's next run. Without a broker the next run is
// only stored.
func (s *ScheduleService) publish(schedule *models.AutomationSchedule) {
	if s.publisher == nil || !schedule.IsEnabled || schedule.NextRunAt == nil {
		return
	}

	delay := schedule.NextRunAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	run := models.ScheduledRun{ScheduleID: schedule.ID.String(), DueAt: *schedule.NextRunAt}
	if err := s.publisher.PublishScheduledRun(run, delay); err != nil {
		log.Warn().Err(err).Str("schedule_id", run.ScheduleID).Msg("Schedule saved but failed to queue next run")
	}
}

// Resync re-queues every enabled schedule, moving missed runs forward. Runs
// queued twice are harmless: the second trigger no longer matches next_run_at.
func (s *ScheduleService) Resync(ctx context.Context) error {
	schedules, err := s.store.ListEnabledSchedules(ctx)
	if err != nil {
		return apperrors.Persistence("Failed to list schedules", err)
	}

	now := s.now()
	for _, schedule := range schedules {
		if schedule.NextRunAt == nil || !schedule.NextRunAt.After(now) {
			loc, err := time.LoadLocation(schedule.Timezone)
			if err != nil {
				loc = time.UTC
			}
			next, ok := NextRun(schedule.Time, schedule.DaysOfWeek, loc, now)
			if !ok {
				continue
			}
			schedule.NextRunAt = &next
			if err := s.store.SaveSchedule(ctx, schedule); err != nil {
				log.Error().Err(err).Str("schedule_id", schedule.ID.String()).Msg("Failed to move missed run forward")
				continue
			}
		}
		s.publish(schedule)
	}

	log.Info().Int("schedules", len(schedules)).Msg("Automation schedules re-queued")
	return nil
}

// RunDue executes a fired trigger against the schedule's current state and
// queues the following run.
func (s *ScheduleService) RunDue(ctx context.Context, run models.ScheduledRun) (string, error) {
	result, err := s.runDue(ctx, run)
	metrics.AutomationRuns.WithLabelValues(result).Inc()
	return result, err
}

func (s *ScheduleService) runDue(ctx context.Context, run models.ScheduledRun) (string, error) {
	id, err := uuid.Parse(run.ScheduleID)
	if err != nil {
		return RunResultDeleted, apperrors.Validation("Invalid schedule id")
	}

	schedule, err := s.store.GetScheduleByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return RunResultDeleted, nil
		}
		return RunResultFailed, apperrors.Persistence("Failed to load schedule", err)
	}
	if !schedule.IsEnabled {
		return RunResultDisabled, nil
	}
	if schedule.NextRunAt == nil || schedule.NextRunAt.Unix() != run.DueAt.Unix() {
		return RunResultStale, nil
	}

	// Advance the schedule before sending so a redelivered trigger is stale.
	now := s.now()
	schedule.LastRunAt = &now
	schedule.NextRunAt = nil

	after := now
	if run.DueAt.After(after) {
		after = run.DueAt
	}
	loc, err := time.LoadLocation(schedule.Timezone)
	if err != nil {
		loc = time.UTC
	}
	if next, ok := NextRun(schedule.Time, schedule.DaysOfWeek, loc, after); ok {
		schedule.NextRunAt = &next
	}

	if err := s.store.SaveSchedule(ctx, schedule); err != nil {
		return RunResultFailed, apperrors.Persistence("Failed to update schedule before run", err)
	}

	result := RunResultSent
	_, sendErr := s.dispatch.SendBatch(ctx, schedule.DeviceID, schedule.VillaID, nil, models.SMSTriggerAutomation)
	if sendErr != nil {
		switch apperrors.KindOf(sendErr) {
		case apperrors.KindSubscriptionRequired, apperrors.KindValidation, apperrors.KindNotFound:
			result = RunResultSkipped
			s.notifications.NotifyAutomationSkipped(ctx, schedule, apperrors.PublicMessage(sendErr))
		default:
			result = RunResultFailed
			log.Error().Err(sendErr).Str("schedule_id", run.ScheduleID).Msg("Scheduled dispatch failed")
		}
	}

	s.publish(schedule)

	log.Info().Str("schedule_id", run.ScheduleID).Str("result", result).Msg("Automation run handled")
	return result, nil
}
