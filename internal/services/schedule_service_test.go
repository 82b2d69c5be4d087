package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boscod/parkmate/internal/apperrors"
	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var everyDay = []bool{true, true, true, true, true, true, true}

func TestNextRun(t *testing.T) {
	dubai := time.FixedZone("GST", 4*60*60)
	sundays := []bool{true, false, false, false, false, false, false}
	mondays := []bool{false, true, false, false, false, false, false}

	tests := []struct {
		name   string
		time   string
		days   []bool
		loc    *time.Location
		want   time.Time
		wantOK bool
	}{
		{"later today", "11:00", everyDay, time.UTC, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), true},
		{"already passed today", "09:00", everyDay, time.UTC, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), true},
		{"exactly now is not next", "10:00", everyDay, time.UTC, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC), true},
		{"next sunday", "08:00", sundays, time.UTC, time.Date(2026, 3, 8, 8, 0, 0, 0, time.UTC), true},
		{"same weekday next week", "10:00", mondays, time.UTC, time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC), true},
		{"local timezone", "15:00", everyDay, dubai, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), true},
		{"no days selected", "10:00", make([]bool, 7), time.UTC, time.Time{}, false},
		{"bad time", "25:61", everyDay, time.UTC, time.Time{}, false},
		{"wrong day count", "10:00", []bool{true}, time.UTC, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextRun(tt.time, tt.days, tt.loc, testNow)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
			}
		})
	}
}

func TestSaveScheduleQueuesNextRun(t *testing.T) {
	env := newTestEnv(t)
	env.createVilla(t, "dev-1", "v1")

	schedule, err := env.schedules.Save(env.ctx, "dev-1", "v1", ScheduleInput{IsEnabled: true, Time: " 11:00 ", DaysOfWeek: everyDay})
	require.NoError(t, err)
	assert.Equal(t, "11:00", schedule.Time)
	assert.Equal(t, "UTC", schedule.Timezone)
	require.NotNil(t, schedule.NextRunAt)
	assert.True(t, schedule.NextRunAt.Equal(testNow.Add(time.Hour)))

	runs := env.publisher.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, schedule.ID.String(), runs[0].run.ScheduleID)
	assert.Equal(t, time.Hour, runs[0].delay)

	// saving again updates the same schedule
	again, err := env.schedules.Save(env.ctx, "dev-1", "v1", ScheduleInput{IsEnabled: false, Time: "12:00", DaysOfWeek: everyDay})
	require.NoError(t, err)
	assert.Equal(t, schedule.ID, again.ID)
	assert.Nil(t, again.NextRunAt)
	assert.Len(t, env.publisher.Runs(), 1)
}

func TestSaveScheduleValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.schedules.Save(env.ctx, "dev-1", "v1", ScheduleInput{Time: "11:00", DaysOfWeek: everyDay})
	assert.ErrorIs(t, err, ErrVillaNotFound)

	env.createVilla(t, "dev-1", "v1")
	for _, input := range []ScheduleInput{
		{Time: "7pm", DaysOfWeek: everyDay},
		{Time: "19:00", DaysOfWeek: everyDay[:6]},
		{Time: "19:00", DaysOfWeek: everyDay, Timezone: "Mars/Olympus_Mons"},
	} {
		_, err := env.schedules.Save(env.ctx, "dev-1", "v1", input)
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err), "%+v", input)
	}
}

func TestDeleteSchedule(t *testing.T) {
	env := newTestEnv(t)
	env.createVilla(t, "dev-1", "v1")

	_, err := env.schedules.Save(env.ctx, "dev-1", "v1", ScheduleInput{Time: "11:00", DaysOfWeek: everyDay})
	require.NoError(t, err)

	require.NoError(t, env.schedules.Delete(env.ctx, "dev-1", "v1"))
	_, err = env.schedules.Get(env.ctx, "dev-1", "v1")
	assert.ErrorIs(t, err, ErrScheduleNotFound)
	assert.ErrorIs(t, env.schedules.Delete(env.ctx, "dev-1", "v1"), ErrScheduleNotFound)
}

func TestRunDueIgnoresOutdatedTriggers(t *testing.T) {
	env := newTestEnv(t)
	env.createVilla(t, "dev-1", "v1")

	result, err := env.schedules.RunDue(env.ctx, models.ScheduledRun{ScheduleID: uuid.NewString(), DueAt: testNow})
	require.NoError(t, err)
	assert.Equal(t, RunResultDeleted, result)

	result, err = env.schedules.RunDue(env.ctx, models.ScheduledRun{ScheduleID: "garbage", DueAt: testNow})
	assert.Error(t, err)
	assert.Equal(t, RunResultDeleted, result)

	schedule, err := env.schedules.Save(env.ctx, "dev-1", "v1", ScheduleInput{IsEnabled: true, Time: "11:00", DaysOfWeek: everyDay})
	require.NoError(t, err)

	result, err = env.schedules.RunDue(env.ctx, models.ScheduledRun{ScheduleID: schedule.ID.String(), DueAt: testNow.Add(-24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, RunResultStale, result)

	_, err = env.schedules.Save(env.ctx, "dev-1", "v1", ScheduleInput{IsEnabled: false, Time: "11:00", DaysOfWeek: everyDay})
	require.NoError(t, err)
	result, err = env.schedules.RunDue(env.ctx, models.ScheduledRun{ScheduleID: schedule.ID.String(), DueAt: *schedule.NextRunAt})
	require.NoError(t, err)
	assert.Equal(t, RunResultDisabled, result)

	assert.Empty(t, env.sender.Calls())
}

func TestRunDueSendsAndRequeues(t *testing.T) {
	env := newTestEnv(t)
	entitledVilla(t, env, "A 1")

	schedule, err := env.schedules.Save(env.ctx, "dev-1", "v1", ScheduleInput{IsEnabled: true, Time: "11:00", DaysOfWeek: everyDay})
	require.NoError(t, err)
	due := *schedule.NextRunAt

	env.clock.Advance(time.Hour)
	result, err := env.schedules.RunDue(env.ctx, models.ScheduledRun{ScheduleID: schedule.ID.String(), DueAt: due})
	require.NoError(t, err)
	assert.Equal(t, RunResultSent, result)
	assert.Len(t, env.sender.Calls(), 1)

	stored, err := env.schedules.Get(env.ctx, "dev-1", "v1")
	require.NoError(t, err)
	require.NotNil(t, stored.LastRunAt)
	assert.True(t, stored.LastRunAt.Equal(due))
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.Equal(due.Add(24*time.Hour)))

	runs := env.publisher.Runs()
	require.Len(t, runs, 2)
	assert.True(t, runs[1].run.DueAt.Equal(due.Add(24*time.Hour)))
	assert.Equal(t, 24*time.Hour, runs[1].delay)

	logs, err := env.store.ListSMSLogsSince(env.ctx, "dev-1", testNow)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.SMSTriggerAutomation, logs[0].Trigger)

	// the same trigger delivered twice does nothing the second time
	result, err = env.schedules.RunDue(env.ctx, models.ScheduledRun{ScheduleID: schedule.ID.String(), DueAt: due})
	require.NoError(t, err)
	assert.Equal(t, RunResultStale, result)
	assert.Len(t, env.sender.Calls(), 1)
}

// flakyScheduleStore fails the next SaveSchedule once armed.
type flakyScheduleStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failNext bool
}

func (f *flakyScheduleStore) SaveSchedule(ctx context.Context, schedule *models.AutomationSchedule) error {
	f.mu.Lock()
	fail := f.failNext
	f.failNext = false
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return f.MemoryStore.SaveSchedule(ctx, schedule)
}

func TestRunDueSendsOnceWhenScheduleWriteFails(t *testing.T) {
	env := newTestEnv(t)
	entitledVilla(t, env, "A 1")

	schedule, err := env.schedules.Save(env.ctx, "dev-1", "v1", ScheduleInput{IsEnabled: true, Time: "11:00", DaysOfWeek: everyDay})
	require.NoError(t, err)
	due := *schedule.NextRunAt
	run := models.ScheduledRun{ScheduleID: schedule.ID.String(), DueAt: due}

	flaky := &flakyScheduleStore{MemoryStore: env.store, failNext: true}
	svc := NewScheduleService(flaky, env.villas, env.dispatch, env.notifications, env.publisher)
	svc.now = env.clock.Now
	env.clock.Advance(time.Hour)

	// the failed write happens before anything is sent, so a retry is safe
	result, err := svc.RunDue(env.ctx, run)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindPersistence, apperrors.KindOf(err))
	assert.Equal(t, RunResultFailed, result)
	assert.Empty(t, env.sender.Calls())

	result, err = svc.RunDue(env.ctx, run)
	require.NoError(t, err)
	assert.Equal(t, RunResultSent, result)
	assert.Len(t, env.sender.Calls(), 1)

	result, err = svc.RunDue(env.ctx, run)
	require.NoError(t, err)
	assert.Equal(t, RunResultStale, result)
	assert.Len(t, env.sender.Calls(), 1)
}

func TestRunDueSkipsWithoutSubscription(t *testing.T) {
	env := newTestEnv(t)
	env.createVilla(t, "dev-1", "v1")
	env.addVehicle(t, "dev-1", "v1", "A 1")

	schedule, err := env.schedules.Save(env.ctx, "dev-1", "v1", ScheduleInput{IsEnabled: true, Time: "11:00", DaysOfWeek: everyDay})
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	result, err := env.schedules.RunDue(env.ctx, models.ScheduledRun{ScheduleID: schedule.ID.String(), DueAt: *schedule.NextRunAt})
	require.NoError(t, err)
	assert.Equal(t, RunResultSkipped, result)
	assert.Empty(t, env.sender.Calls())

	notifications, _, err := env.notifications.GetDeviceNotifications(env.ctx, "dev-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, models.NotificationTypeAutomationSkipped, notifications[0].Type)

	// still re-queued for tomorrow
	assert.Len(t, env.publisher.Runs(), 2)
}

func TestResyncMovesMissedRunsForward(t *testing.T) {
	env := newTestEnv(t)
	env.createVilla(t, "dev-1", "v1")
	env.createVilla(t, "dev-1", "v2")

	missed, err := env.schedules.Save(env.ctx, "dev-1", "v1", ScheduleInput{IsEnabled: true, Time: "11:00", DaysOfWeek: everyDay})
	require.NoError(t, err)
	_, err = env.schedules.Save(env.ctx, "dev-1", "v2", ScheduleInput{IsEnabled: false, Time: "11:00", DaysOfWeek: everyDay})
	require.NoError(t, err)

	env.clock.Advance(3 * time.Hour)
	require.NoError(t, env.schedules.Resync(env.ctx))

	stored, err := env.schedules.Get(env.ctx, "dev-1", "v1")
	require.NoError(t, err)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.Equal(missed.NextRunAt.Add(24*time.Hour)))

	runs := env.publisher.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, missed.ID.String(), runs[1].run.ScheduleID)
}
