package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/makkenzo/entitlement-service-api/internal/domain/keyrequest"
	"go.uber.org/zap"
)

const (
	TypeKeyRequestNotify = "keyrequest:notify"

	QueueNotifications = "notifications"
)

type KeyRequestNotifyPayload struct {
	RequestID string    `json:"request_id"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
}

func NewKeyRequestNotifyTask(req *keyrequest.KeyRequest, opts ...asynq.Option) (*asynq.Task, error) {
	payload := KeyRequestNotifyPayload{
		RequestID: req.ID.String(),
		DeviceID:  req.DeviceID,
		CreatedAt: req.CreatedAt,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	allOpts := append([]asynq.Option{
		asynq.TaskID(TypeKeyRequestNotify + ":" + payload.RequestID),
		asynq.Queue(QueueNotifications),
		asynq.MaxRetry(8),
	}, opts...)

	return asynq.NewTask(TypeKeyRequestNotify, payloadBytes, allOpts...), nil
}

// Enqueuer is the subset of *asynq.Client used to publish tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// KeyRequestNotifier hands raised key requests to the asynq worker for operator follow-up.
type KeyRequestNotifier struct {
	client Enqueuer
	logger *zap.Logger
}

func NewKeyRequestNotifier(client Enqueuer, logger *zap.Logger) *KeyRequestNotifier {
	return &KeyRequestNotifier{
		client: client,
		logger: logger.Named("KeyRequestNotifier"),
	}
}

func (n *KeyRequestNotifier) NotifyKeyRequest(ctx context.Context, req *keyrequest.KeyRequest) error {
	task, err := NewKeyRequestNotifyTask(req)
	if err != nil {
		return fmt.Errorf("failed to build key request task: %w", err)
	}

	info, err := n.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue key request task: %w", err)
	}

	n.logger.Debug("Key request notification enqueued",
		zap.String("task_id", info.ID),
		zap.String("request_id", req.ID.String()),
	)
	return nil
}
