package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/store"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeSender answers each Deliver with the next queued error, then nil.
type fakeSender struct {
	mu     sync.Mutex
	errs   []error
	always error
	calls  []string
}

func (f *fakeSender) Deliver(ctx context.Context, phone, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, phone+"|"+message)
	if f.always != nil {
		return f.always
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *fakeSender) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type publishedRun struct {
	run   models.ScheduledRun
	delay time.Duration
}

type fakePublisher struct {
	mu   sync.Mutex
	runs []publishedRun
}

func (f *fakePublisher) PublishScheduledRun(run models.ScheduledRun, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, publishedRun{run: run, delay: delay})
	return nil
}

func (f *fakePublisher) Runs() []publishedRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedRun(nil), f.runs...)
}

type envOptions struct {
	codeCfg      CodeConfig
	bindToDevice bool
	dispatchCfg  DispatchConfig
}

type testEnv struct {
	ctx           context.Context
	store         *store.MemoryStore
	clock         *testClock
	codes         *CodeService
	subs          *SubscriptionService
	trials        *TrialService
	villas        *VillaService
	vehicles      *VehicleService
	notifications *NotificationService
	dispatch      *DispatchService
	schedules     *ScheduleService
	sender        *fakeSender
	publisher     *fakePublisher
}

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // a Monday

func newTestEnv(t *testing.T, opts ...func(*envOptions)) *testEnv {
	t.Helper()

	o := envOptions{
		codeCfg:     CodeConfig{ReuseWindowDays: 30},
		dispatchCfg: DispatchConfig{MaxAttempts: 3, RetryBackoff: time.Millisecond},
	}
	for _, opt := range opts {
		opt(&o)
	}

	st := store.NewMemoryStore()
	clock := &testClock{t: testNow}
	crypto := NewCryptoService("test-secret")

	env := &testEnv{
		ctx:       context.Background(),
		store:     st,
		clock:     clock,
		sender:    &fakeSender{},
		publisher: &fakePublisher{},
	}

	env.codes = NewCodeService(st, o.codeCfg)
	env.codes.now = clock.Now
	env.subs = NewSubscriptionService(st, env.codes, o.bindToDevice)
	env.subs.now = clock.Now
	env.trials = NewTrialService(st, DefaultTrialDays)
	env.trials.now = clock.Now
	env.villas = NewVillaService(st, crypto)
	env.vehicles = NewVehicleService(st, env.villas)
	env.notifications = NewNotificationService(st)
	env.notifications.now = clock.Now
	env.dispatch = NewDispatchService(st, env.villas, env.subs, env.notifications, env.sender, o.dispatchCfg)
	env.dispatch.now = clock.Now
	env.dispatch.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	env.schedules = NewScheduleService(st, env.villas, env.dispatch, env.notifications, env.publisher)
	env.schedules.now = clock.Now

	return env
}

// generateCode creates one code and returns it.
func (e *testEnv) generateCode(t *testing.T, durationDays, villaCount int) string {
	t.Helper()
	codes, err := e.codes.Generate(e.ctx, nil, 1, durationDays, villaCount)
	require.NoError(t, err)
	require.Len(t, codes, 1)
	return codes[0]
}

func (e *testEnv) createVilla(t *testing.T, deviceID, villaID string) *models.Villa {
	t.Helper()
	villa, err := e.villas.Create(e.ctx, deviceID, VillaInput{VillaID: villaID, Name: "Villa " + villaID, SMSNumber: "+971 50 123 4567"})
	require.NoError(t, err)
	return villa
}

func (e *testEnv) addVehicle(t *testing.T, deviceID, villaID, plate string) *models.Vehicle {
	t.Helper()
	vehicle, err := e.vehicles.Create(e.ctx, deviceID, villaID, VehicleInput{PlateNumber: &plate})
	require.NoError(t, err)
	return vehicle
}

func strPtr(s string) *string { return &s }
