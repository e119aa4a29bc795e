package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/kaban-gov/kaban/internal/voucher"
)

func TestVoucherDecidedHandlerLogsThroughConfiguredLogger(t *testing.T) {
	task, err := NewVoucherDecidedTask(VoucherDecidedPayload{
		VoucherID: 7,
		Number:    "DV-2026-09-0007",
		Stage:     "accounting",
		Action:    "APPROVE",
		Status:    "pending_director",
		ActorID:   20,
	})
	require.NoError(t, err)
	require.Equal(t, TaskTypeVoucherDecided, task.Type())

	var decoded VoucherDecidedPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, "DV-2026-09-0007", decoded.Number)

	var buf bytes.Buffer
	handler := NewVoucherDecidedHandler(slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, handler(context.Background(), task))
	require.Contains(t, buf.String(), "DV-2026-09-0007")
}

func TestVoucherDecidedHandlerBadPayload(t *testing.T) {
	task := asynq.NewTask(TaskTypeVoucherDecided, []byte("{not json"))
	err := NewVoucherDecidedHandler(nil)(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestEnqueuerNotifyDecision(t *testing.T) {
	srv := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: srv.Addr()})
	defer client.Close()

	enqueuer := NewEnqueuer(client, nil)
	err := enqueuer.NotifyDecision(context.Background(), voucher.DecisionNotice{
		VoucherID: 3,
		Number:    "DV-2026-09-0003",
		Stage:     voucher.StageBudget,
		Action:    "REJECT",
		Status:    voucher.StatusRejected,
		ActorID:   10,
	})
	require.NoError(t, err)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: srv.Addr()})
	defer inspector.Close()
	tasks, err := inspector.ListPendingTasks(QueueDefault)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, TaskTypeVoucherDecided, tasks[0].Type)
}
