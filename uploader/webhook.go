package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recorder-agent/config"
	"recorder-agent/dto"
	"recorder-agent/entities"
	"recorder-agent/repository"
)

// Notifier posts recording metadata to the operator backend and keeps a
// persisted delivery record per recording. The backend upserts on the
// recording id, so re-sending a payload is always safe.
type Notifier struct {
	cfg    config.Webhook
	repo   repository.Repository
	client *http.Client
}

func NewNotifier(cfg config.Webhook, repo repository.Repository) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Notifier{
		cfg:    cfg,
		repo:   repo,
		client: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a webhook endpoint is configured.
func (n *Notifier) Enabled() bool {
	return n.cfg.URL != ""
}

// Deliver posts the payload and records the outcome. A failed delivery stays
// queued with delivered_at unset and is picked up by the resend loop.
func (n *Notifier) Deliver(ctx context.Context, recordingId uuid.UUID, payload []byte) error {
	if !n.Enabled() {
		return nil
	}

	delivery, err := n.repo.FindWebhookDelivery(ctx, recordingId)
	if err != nil {
		delivery = &entities.WebhookDelivery{
			ID:          uuid.New(),
			RecordingID: recordingId,
		}
	}
	delivery.Payload = string(payload)
	delivery.Attempts++

	sendErr := n.post(ctx, payload)
	if sendErr != nil {
		delivery.LastError = sendErr.Error()
		delivery.DeliveredAt = nil
	} else {
		now := time.Now()
		delivery.LastError = ""
		delivery.DeliveredAt = &now
	}

	if err := n.repo.UpsertWebhookDelivery(ctx, delivery); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to persist webhook delivery record")
	}
	return sendErr
}

// ResendLoop periodically retries queued deliveries until each one succeeds.
func (n *Notifier) ResendLoop(ctx context.Context) {
	if !n.Enabled() {
		return
	}

	interval := n.cfg.ResendInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.resendPending(ctx)
		}
	}
}

func (n *Notifier) resendPending(ctx context.Context) {
	pending, err := n.repo.PendingWebhookDeliveries(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to load pending webhook deliveries")
		return
	}

	for _, delivery := range pending {
		delivery.Attempts++
		if err := n.post(ctx, []byte(delivery.Payload)); err != nil {
			delivery.LastError = err.Error()
			if saveErr := n.repo.UpsertWebhookDelivery(ctx, delivery); saveErr != nil {
				zerolog.Ctx(ctx).Error().Err(saveErr).Msg("failed to persist webhook delivery record")
			}
			zerolog.Ctx(ctx).Warn().
				Err(err).
				Str("recording_id", delivery.RecordingID.String()).
				Int("attempts", delivery.Attempts).
				Msg("webhook re-send failed")
			continue
		}

		now := time.Now()
		delivery.LastError = ""
		delivery.DeliveredAt = &now
		if saveErr := n.repo.UpsertWebhookDelivery(ctx, delivery); saveErr != nil {
			zerolog.Ctx(ctx).Error().Err(saveErr).Msg("failed to persist webhook delivery record")
		}
		zerolog.Ctx(ctx).Info().
			Str("recording_id", delivery.RecordingID.String()).
			Msg("queued webhook delivered")
	}
}

func (n *Notifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.cfg.Token != "" {
		req.Header.Set("X-Webhook-Token", n.cfg.Token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	ack := dto.WebhookResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err == nil && ack.Action != "" {
		zerolog.Ctx(ctx).Debug().
			Str("action", ack.Action).
			Str("recording_id", ack.RecordingID).
			Msg("webhook acknowledged")
	}
	return nil
}
