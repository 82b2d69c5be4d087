package services

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/boscod/parkmate/internal/apperrors"
	"github.com/boscod/parkmate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrialEligibilityFreshDevice(t *testing.T) {
	env := newTestEnv(t)

	got, err := env.trials.CheckEligibility(env.ctx, "dev-1", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, got.Eligible)
	assert.Equal(t, TrialAllowed, got.Reason)
}

func TestTrialEligibilityRequiresDevice(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.trials.CheckEligibility(env.ctx, "  ", "")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestStartTrial(t *testing.T) {
	env := newTestEnv(t)

	sub, err := env.trials.StartTrial(env.ctx, "dev-1", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionTypeTrial, sub.Type)
	assert.Empty(t, sub.VillaID)
	assert.True(t, sub.ExpiresAt.Equal(testNow.Add(days(DefaultTrialDays))))

	grant, err := env.store.GetTrialDevice(env.ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, grant.HasUsedTrial)
	assert.Equal(t, HashFingerprint("10.0.0.1"), grant.IPFingerprint)
	assert.NotEqual(t, "10.0.0.1", grant.IPFingerprint)
}

func TestTrialNeverEligibleAgain(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.trials.StartTrial(env.ctx, "dev-1", "")
	require.NoError(t, err)

	got, err := env.trials.CheckEligibility(env.ctx, "dev-1", "")
	require.NoError(t, err)
	assert.False(t, got.Eligible)
	assert.Equal(t, TrialDeniedDeviceUsed, got.Reason)

	// still denied once the trial has lapsed
	env.clock.Advance(days(365))
	got, err = env.trials.CheckEligibility(env.ctx, "dev-1", "")
	require.NoError(t, err)
	assert.False(t, got.Eligible)

	_, err = env.trials.StartTrial(env.ctx, "dev-1", "")
	assert.ErrorIs(t, err, ErrTrialAlreadyUsed)
}

func TestTrialDeniedForSameNetwork(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.trials.StartTrial(env.ctx, "dev-1", "192.168.1.20")
	require.NoError(t, err)

	got, err := env.trials.CheckEligibility(env.ctx, "dev-2", "192.168.1.20")
	require.NoError(t, err)
	assert.False(t, got.Eligible)
	assert.Equal(t, TrialDeniedIPFingerprint, got.Reason)

	got, err = env.trials.CheckEligibility(env.ctx, "dev-2", "192.168.1.21")
	require.NoError(t, err)
	assert.True(t, got.Eligible)

	_, err = env.trials.StartTrial(env.ctx, "dev-2", "192.168.1.20")
	assert.ErrorIs(t, err, ErrTrialAlreadyUsed)
}

func TestConcurrentTrialStartsGrantOne(t *testing.T) {
	env := newTestEnv(t)

	var granted int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.trials.StartTrial(env.ctx, "dev-1", "10.0.0.1"); err == nil {
				atomic.AddInt32(&granted, 1)
			} else {
				assert.ErrorIs(t, err, ErrTrialAlreadyUsed)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), granted)
	subs, err := env.store.ListSubscriptions(env.ctx, "dev-1")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}
