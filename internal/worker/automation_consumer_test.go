package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boscod/parkmate/internal/apperrors"
	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/rabbitmq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	runs []models.ScheduledRun
	err  error
}

func (f *fakeRunner) RunDue(ctx context.Context, run models.ScheduledRun) (string, error) {
	f.runs = append(f.runs, run)
	if f.err != nil {
		return "failed", f.err
	}
	return "sent", nil
}

func TestHandleDispatchesRun(t *testing.T) {
	runner := &fakeRunner{}
	w := NewAutomationWorker(nil, runner)
	due := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	body, err := rabbitmq.EncodeRun(models.ScheduledRun{ScheduleID: "abc", DueAt: due})
	require.NoError(t, err)

	assert.Equal(t, actionAck, w.handle(context.Background(), body, false))
	require.Len(t, runner.runs, 1)
	assert.Equal(t, "abc", runner.runs[0].ScheduleID)
	assert.True(t, runner.runs[0].DueAt.Equal(due))
}

func TestHandleRejectsMalformedBody(t *testing.T) {
	runner := &fakeRunner{}
	w := NewAutomationWorker(nil, runner)

	assert.Equal(t, actionReject, w.handle(context.Background(), []byte("not json"), false))
	assert.Equal(t, actionReject, w.handle(context.Background(), []byte(`{"due_at":"2026-03-02T08:00:00Z"}`), false))
	assert.Empty(t, runner.runs)
}

func TestHandleRequeuesPersistenceFailureOnce(t *testing.T) {
	runner := &fakeRunner{err: apperrors.Persistence("db down", errors.New("dial tcp"))}
	w := NewAutomationWorker(nil, runner)
	body, _ := rabbitmq.EncodeRun(models.ScheduledRun{ScheduleID: "abc"})

	assert.Equal(t, actionRequeue, w.handle(context.Background(), body, false))
	assert.Equal(t, actionAck, w.handle(context.Background(), body, true))
}

func TestHandleAcksOtherFailures(t *testing.T) {
	runner := &fakeRunner{err: apperrors.Validation("Invalid schedule id")}
	w := NewAutomationWorker(nil, runner)
	body, _ := rabbitmq.EncodeRun(models.ScheduledRun{ScheduleID: "abc"})

	assert.Equal(t, actionAck, w.handle(context.Background(), body, false))
}

func TestStartWorkerWithoutClient(t *testing.T) {
	w := NewAutomationWorker(nil, &fakeRunner{})
	assert.Error(t, w.StartWorker(context.Background()))
}
