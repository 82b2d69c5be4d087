package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/boscod/parkmate/internal/apperrors"
	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const consumerTag = "automation-worker-1"

// RunHandler executes a fired schedule.
type RunHandler interface {
	RunDue(ctx context.Context, run models.ScheduledRun) (string, error)
}

type action int

const (
	actionAck action = iota
	actionRequeue
	actionReject
)

type AutomationWorker struct {
	client *rabbitmq.Client
	runner RunHandler
}

func NewAutomationWorker(client *rabbitmq.Client, runner RunHandler) *AutomationWorker {
	return &AutomationWorker{client: client, runner: runner}
}

// StartWorker consumes fired runs until ctx is cancelled. It re-subscribes
// after the broker connection is re-established.
func (w *AutomationWorker) StartWorker(ctx context.Context) error {
	if w.client == nil {
		return fmt.Errorf("RabbitMQ client not initialized")
	}

	for {
		ch := w.client.Channel()
		if ch == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(rabbitmq.ReconnectDelay):
				continue
			}
		}

		// One unacked message at a time keeps dispatches sequential
		if err := ch.Qos(1, 0, false); err != nil {
			return fmt.Errorf("failed to set QoS: %w", err)
		}

		msgs, err := ch.Consume(
			rabbitmq.ProcessingQueueName, // queue
			consumerTag,                  // consumer tag
			false,                        // auto-ack (manual ack after processing)
			false,                        // exclusive
			false,                        // no-local
			false,                        // no-wait
			nil,                          // args
		)
		if err != nil {
			return fmt.Errorf("failed to register consumer: %w", err)
		}

		log.Info().Str("queue", rabbitmq.ProcessingQueueName).Msg("Automation worker started")

		if done := w.consume(ctx, ch, msgs); done {
			log.Info().Msg("Automation worker exiting")
			return nil
		}
		log.Warn().Msg("Delivery channel closed, waiting for broker")
	}
}

// consume returns true when ctx was cancelled and false when the delivery
// channel closed underneath us.
func (w *AutomationWorker) consume(ctx context.Context, ch *amqp.Channel, msgs <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			if err := ch.Cancel(consumerTag, false); err != nil {
				log.Warn().Err(err).Msg("Error canceling consumer")
			}
			return true
		case d, ok := <-msgs:
			if !ok {
				return false
			}
			w.processMessage(ctx, d)
		}
	}
}

func (w *AutomationWorker) processMessage(ctx context.Context, d amqp.Delivery) {
	var err error
	switch w.handle(ctx, d.Body, d.Redelivered) {
	case actionAck:
		err = d.Ack(false)
	case actionRequeue:
		err = d.Nack(false, true)
	case actionReject:
		err = d.Reject(false)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to settle delivery")
	}
}

// handle decides what to do with one message. Persistence failures are
// retried once through redelivery; everything else is settled.
func (w *AutomationWorker) handle(ctx context.Context, body []byte, redelivered bool) action {
	run, err := rabbitmq.DecodeRun(body)
	if err != nil {
		log.Warn().Err(err).Msg("Rejecting malformed automation message")
		return actionReject
	}

	result, err := w.runner.RunDue(ctx, run)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindPersistence && !redelivered {
			log.Warn().Err(err).Str("schedule_id", run.ScheduleID).Msg("Automation run failed, requeueing")
			return actionRequeue
		}
		log.Error().Err(err).Str("schedule_id", run.ScheduleID).Msg("Automation run failed, dropping")
		return actionAck
	}

	log.Debug().Str("schedule_id", run.ScheduleID).Str("result", result).Msg("Automation message processed")
	return actionAck
}
