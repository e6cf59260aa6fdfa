package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// KeyRequestNotifyHandler forwards raised key requests to an operator webhook.
// Without a webhook the request is only logged.
type KeyRequestNotifyHandler struct {
	webhookURL string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewKeyRequestNotifyHandler(webhookURL string, httpClient *http.Client, logger *zap.Logger) *KeyRequestNotifyHandler {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &KeyRequestNotifyHandler{
		webhookURL: webhookURL,
		httpClient: httpClient,
		logger:     logger.Named("KeyRequestNotifyHandler"),
	}
}

func (h *KeyRequestNotifyHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TypeKeyRequestNotify {
		return fmt.Errorf("unexpected task type: %s", t.Type())
	}

	var p KeyRequestNotifyPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.logger.Error("Failed to unmarshal key request payload", zap.Error(err), zap.ByteString("payload", t.Payload()))
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	if h.webhookURL == "" {
		h.logger.Info("Extension requested by device",
			zap.String("request_id", p.RequestID),
			zap.String("device_id", p.DeviceID),
			zap.Time("created_at", p.CreatedAt),
		)
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"event":   TypeKeyRequestNotify,
		"request": p,
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %v: %w", err, asynq.SkipRetry)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.logger.Warn("Key request webhook call failed", zap.String("request_id", p.RequestID), zap.Error(err))
		return fmt.Errorf("webhook call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.logger.Warn("Key request webhook rejected notification",
			zap.String("request_id", p.RequestID),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	h.logger.Info("Key request forwarded to webhook", zap.String("request_id", p.RequestID))
	return nil
}
