package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/foxseedlab/sanctuary/internal/notify"
)

const requestTimeout = 10 * time.Second

// EmergencyWebhook posts emergency notices as JSON. The alert ID travels in
// the Idempotency-Key header so receivers can drop retried deliveries.
type EmergencyWebhook struct {
	webhookURL string
	client     *http.Client
}

func NewEmergencyWebhook(webhookURL string) *EmergencyWebhook {
	return &EmergencyWebhook{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: requestTimeout},
	}
}

func (s *EmergencyWebhook) Notify(ctx context.Context, notice notify.EmergencyNotice) error {
	if s.webhookURL == "" {
		return nil
	}

	b, err := json.Marshal(notice)
	if err != nil {
		return backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(b))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", notice.AlertID)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		err := fmt.Errorf("webhook returned status %d", resp.StatusCode)
		if isRetryableStatus(resp.StatusCode) {
			return err
		}
		return backoff.Permanent(err)
	}
	return nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}
