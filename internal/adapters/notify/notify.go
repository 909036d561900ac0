// Package notify alerts offline devices about incoming sessions through
// the notification service. Delivery is fire-and-forget: a push that
// fails only means the ring relies on the live event stream.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/app"
	"github.com/quckchat/call-service/internal/domain"
)

type pushPayload struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	CallerID  string `json:"callerId"`
	MediaType string `json:"mediaType"`
}

// Service posts incoming-call pushes to the notification service.
type Service struct {
	url    string
	client *http.Client
}

var _ app.Notifier = (*Service)(nil)

func New(url string) *Service {
	return &Service{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *Service) NotifyIncoming(ctx context.Context, target domain.UserID, sid domain.SessionID, caller domain.UserID, media domain.MediaType) {
	payload := pushPayload{
		Type:      "incoming_call",
		UserID:    string(target),
		SessionID: string(sid),
		CallerID:  string(caller),
		MediaType: string(media),
	}
	// Detached from the request context: the transition must not wait
	// on push delivery.
	go func() {
		body, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.notify").Msg("push marshal failed")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/internal/push", bytes.NewReader(body))
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.notify").Msg("push request build failed")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.client.Do(req)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.notify").
				Str("user", string(target)).Msg("push delivery failed")
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Warn().Int("status", resp.StatusCode).Str("module", "adapters.notify").
				Str("user", string(target)).Msg("push rejected")
		}
	}()
}

// Nop drops every push. Used in tests and when no notification service
// is configured.
type Nop struct{}

var _ app.Notifier = Nop{}

func (Nop) NotifyIncoming(context.Context, domain.UserID, domain.SessionID, domain.UserID, domain.MediaType) {
}
