package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/kaban-gov/kaban/internal/voucher"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeVoucherDecided is the task type for stage decision notifications.
	TaskTypeVoucherDecided = "voucher:decided"
)

// VoucherDecidedPayload describes a stage decision to notify about.
type VoucherDecidedPayload struct {
	VoucherID int64  `json:"voucher_id"`
	Number    string `json:"number"`
	Stage     string `json:"stage"`
	Action    string `json:"action"`
	Status    string `json:"status"`
	ActorID   int64  `json:"actor_id"`
}

// NewVoucherDecidedTask constructs an Asynq task for a stage decision.
func NewVoucherDecidedTask(payload VoucherDecidedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeVoucherDecided, data), nil
}

// NewVoucherDecidedHandler returns the processor for TaskTypeVoucherDecided
// tasks. Delivery to reviewers (mail, dashboard feed) hangs off this handler.
func NewVoucherDecidedHandler(logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload VoucherDecidedPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		logger.Info("voucher decision notification",
			slog.String("number", payload.Number),
			slog.String("stage", payload.Stage),
			slog.String("action", payload.Action),
			slog.String("status", payload.Status),
			slog.Int64("actor_id", payload.ActorID))
		return nil
	}
}

// Enqueuer publishes decision notices onto the job queue. It implements
// voucher.Notifier.
type Enqueuer struct {
	client *asynq.Client
	logger *slog.Logger
}

var _ voucher.Notifier = (*Enqueuer)(nil)

// NewEnqueuer constructs an Enqueuer over an Asynq client.
func NewEnqueuer(client *asynq.Client, logger *slog.Logger) *Enqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enqueuer{client: client, logger: logger}
}

// NotifyDecision enqueues a notification task for a stage decision.
func (e *Enqueuer) NotifyDecision(ctx context.Context, notice voucher.DecisionNotice) error {
	task, err := NewVoucherDecidedTask(VoucherDecidedPayload{
		VoucherID: notice.VoucherID,
		Number:    notice.Number,
		Stage:     string(notice.Stage),
		Action:    notice.Action,
		Status:    string(notice.Status),
		ActorID:   notice.ActorID,
	})
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.TaskID(uuid.NewString()),
	); err != nil {
		e.logger.Error("enqueue voucher notification",
			slog.String("number", notice.Number),
			slog.Any("error", err))
		return err
	}
	return nil
}
