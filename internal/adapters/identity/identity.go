// Package identity asks the user service whether two users may call
// each other (contact relationship, blocks).
package identity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/app"
	"github.com/quckchat/call-service/internal/domain"
)

// Service checks contact permissions against the user service.
type Service struct {
	url    string
	client *http.Client
}

var _ app.IdentityProvider = (*Service)(nil)

func New(url string) *Service {
	return &Service{
		url:    url,
		client: &http.Client{Timeout: 3 * time.Second},
	}
}

// CanContact maps a 403 to domain.ErrForbidden; any other failure is a
// transport error and surfaces as such so callers do not silently ring
// people the check never cleared.
func (s *Service) CanContact(ctx context.Context, inviter, target domain.UserID) error {
	url := fmt.Sprintf("%s/internal/contacts/%s/can-contact/%s", s.url, inviter, target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
		return domain.ErrForbidden
	default:
		log.Warn().Int("status", resp.StatusCode).Str("module", "adapters.identity").
			Str("inviter", string(inviter)).Str("target", string(target)).Msg("contact check failed")
		return fmt.Errorf("identity service returned %d", resp.StatusCode)
	}
}

// AllowAll clears every pair. Used in dev mode and tests.
type AllowAll struct{}

var _ app.IdentityProvider = AllowAll{}

func (AllowAll) CanContact(context.Context, domain.UserID, domain.UserID) error { return nil }
