package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/memorymesh/integrations/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// RetryPolicy bounds redelivery of failed jobs so a poisoned payload cannot
// loop through the queue forever.
type RetryPolicy struct {
	MaxAttempts     int
	RetryDelay      time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NackOptionsFor builds the nack for one failed attempt. Attempts are
// 1-based; once MaxAttempts is reached the message stops requeueing.
func (p RetryPolicy) NackOptionsFor(reason string, attempt int) queue.NackOptions {
	out := queue.NackOptions{
		Delay:   p.RetryDelay,
		Requeue: true,
		Reason:  strings.TrimSpace(reason),
	}
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		out.Delay = 0
		out.DeadLetter = p.DeadLetterOnMax
	}
	return out
}

// ToExecutionMessage maps an engine queue message to go-job.
func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
	}
}

// FromExecutionMessage maps a go-job message back into the engine contract.
func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
	}
}

// EnqueuerAdapter lets the engine hand work to a go-job queue backend.
type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
}

// JobHandler executes one queued payload.
type JobHandler func(ctx context.Context, params map[string]any) error

// Dispatcher routes dequeued deliveries to the handler registered for the
// message's job id. The sync runner and the memory ingestor register here.
type Dispatcher struct {
	handlers map[string]JobHandler
	policy   RetryPolicy
	logger   core.Logger
}

func NewDispatcher(policy RetryPolicy, logger core.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: map[string]JobHandler{},
		policy:   policy,
		logger:   logger,
	}
}

func (d *Dispatcher) Register(jobID string, handler JobHandler) error {
	if d == nil {
		return fmt.Errorf("gojob: dispatcher is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("gojob: job id is required")
	}
	if handler == nil {
		return fmt.Errorf("gojob: handler is required for job %s", jobID)
	}
	if _, exists := d.handlers[jobID]; exists {
		return fmt.Errorf("gojob: handler already registered for job %s", jobID)
	}
	d.handlers[jobID] = handler
	return nil
}

// Dispatch runs the handler for one message.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *core.JobExecutionMessage) error {
	if d == nil {
		return fmt.Errorf("gojob: dispatcher is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	handler, ok := d.handlers[strings.TrimSpace(msg.JobID)]
	if !ok {
		return fmt.Errorf("gojob: no handler registered for job %s", msg.JobID)
	}
	return handler(ctx, msg.Parameters)
}

// HandleDelivery dispatches one queue delivery and settles it: ack on
// success, policy-bounded nack on failure. Attempts are 1-based.
func (d *Dispatcher) HandleDelivery(ctx context.Context, delivery queue.Delivery, attempt int) error {
	if d == nil {
		return fmt.Errorf("gojob: dispatcher is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := FromExecutionMessage(delivery.Message())
	if msg == nil {
		// nothing to run; drop the empty delivery
		return delivery.Ack(ctx)
	}

	if err := d.Dispatch(ctx, msg); err != nil {
		core.LogWarn(ctx, d.logger, "queued job failed", map[string]any{
			"job_id":  msg.JobID,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if nackErr := delivery.Nack(ctx, d.policy.NackOptionsFor(err.Error(), attempt)); nackErr != nil {
			return fmt.Errorf("gojob: nack after failure: %w", nackErr)
		}
		return err
	}
	return delivery.Ack(ctx)
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ core.JobEnqueuer = (*EnqueuerAdapter)(nil)
