package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/config"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// maxResponseBytes bounds how much of a receiver's response is kept
const maxResponseBytes = 4096

// Service delivers job completion callbacks with retry
type Service struct {
	client      *http.Client
	secret      string
	retryDelays []time.Duration
	logger      *logging.Logger

	// OnDelivery, if set, is called with the final outcome of every delivery
	OnDelivery func(models.WebhookDelivery)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a new webhook service
func NewService(cfg config.WebhookConfig, logger *logging.Logger) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		client: &http.Client{
			Timeout: timeout,
		},
		secret:      cfg.Secret,
		retryDelays: cfg.RetryDelays,
		logger:      logger.WithComponent("webhook"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Notify sends the terminal state of job to its callback URL in the background.
// Jobs without a callback URL are ignored.
func (s *Service) Notify(job *models.Job) {
	if job.CallbackURL == "" {
		return
	}

	event := models.WebhookEvent{
		Event:     models.WebhookEventForStatus(job.Status),
		Timestamp: time.Now().UTC(),
		Data:      job,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WithJobID(job.ID).ErrorWithErr("failed to marshal webhook payload", err)
		return
	}

	delivery := &models.WebhookDelivery{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		Event:     event.Event,
		URL:       job.CallbackURL,
		CreatedAt: time.Now().UTC(),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliverWithRetry(delivery, payload)
	}()
}

// Close abandons pending retries and waits for in-progress deliveries to return
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) deliverWithRetry(delivery *models.WebhookDelivery, payload []byte) {
	log := s.logger.WithJobID(delivery.JobID).WithField("delivery_id", delivery.ID)

	for {
		delivery.Attempts++
		err := s.deliver(s.ctx, delivery, payload)
		if err == nil {
			delivery.Status = models.WebhookDeliveryStatusDelivered
			metrics.RecordWebhookDelivery(models.WebhookDeliveryStatusDelivered)
			break
		}

		if delivery.Attempts > len(s.retryDelays) {
			delivery.Status = models.WebhookDeliveryStatusFailed
			metrics.RecordWebhookDelivery(models.WebhookDeliveryStatusFailed)
			log.ErrorWithErr("webhook delivery failed, giving up", err)
			break
		}

		delay := s.retryDelays[delivery.Attempts-1]
		metrics.RecordWebhookDelivery(models.WebhookDeliveryStatusRetrying)
		log.WithField("retry_in", delay.String()).WarnWithErr("webhook delivery failed", err)

		select {
		case <-s.ctx.Done():
			delivery.Status = models.WebhookDeliveryStatusFailed
			metrics.RecordWebhookDelivery(models.WebhookDeliveryStatusFailed)
			log.Warn("webhook delivery abandoned on shutdown")
			s.finish(delivery)
			return
		case <-time.After(delay):
		}
	}

	s.finish(delivery)
}

func (s *Service) finish(delivery *models.WebhookDelivery) {
	now := time.Now().UTC()
	delivery.CompletedAt = &now
	if s.OnDelivery != nil {
		s.OnDelivery(*delivery)
	}
}

// deliver makes a single delivery attempt. Any non-2xx response is an error.
func (s *Service) deliver(ctx context.Context, delivery *models.WebhookDelivery, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Poseflow-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", delivery.Event)
	req.Header.Set("X-Webhook-Delivery", delivery.ID)

	// Add HMAC signature if secret is configured
	if s.secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	delivery.StatusCode = resp.StatusCode
	delivery.ResponseBody = string(body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("receiver responded with status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
