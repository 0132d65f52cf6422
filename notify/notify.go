/*
Package notify provides Notifier implementations for settlement outcomes.

Announcements are best-effort by contract: every implementation here is
safe to call from the settlement path and bounds how long it can block.
The webhook notifier is the production transport; the log notifier is the
fallback when no webhook is configured.
*/
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/countermeasure/economy-engine/economy"
)

// Logger announces by writing to the structured log.
type Logger struct {
	Log zerolog.Logger
}

func (l *Logger) Announce(_ context.Context, msg string) error {
	l.Log.Info().Str("announcement", msg).Msg("settlement announcement")
	return nil
}

// Webhook posts announcements as JSON to a configured URL (a chat-platform
// webhook in the original deployment). Requests carry a short timeout so a
// slow endpoint can never stall the scheduler.
type Webhook struct {
	URL    string
	Client *http.Client
}

// NewWebhook creates a webhook notifier with a 10 second request timeout.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Announce(ctx context.Context, msg string) error {
	payload, err := json.Marshal(map[string]string{"content": msg})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

var _ economy.Notifier = (*Logger)(nil)
var _ economy.Notifier = (*Webhook)(nil)
