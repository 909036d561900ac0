// Package ws pushes session events to connected devices over websocket.
// The hub is a pure fan-out: it implements the app.EventPublisher port
// and never calls back into the orchestration core.
package ws

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/app"
	"github.com/quckchat/call-service/internal/domain"
)

// Hub tracks every connected device per user. A user may hold several
// live connections (phone plus desktop); events go to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[domain.UserID]map[domain.DeviceID]*Client
}

var _ app.EventPublisher = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{clients: make(map[domain.UserID]map[domain.DeviceID]*Client)}
}

// Register binds a client to its user/device slot, displacing a prior
// connection from the same device.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	devices, ok := h.clients[c.user]
	if !ok {
		devices = make(map[domain.DeviceID]*Client)
		h.clients[c.user] = devices
	}
	old := devices[c.device]
	devices[c.device] = c
	h.mu.Unlock()

	if old != nil {
		old.Close()
	}
	log.Debug().Str("module", "adapters.ws").Str("user", string(c.user)).
		Str("device", string(c.device)).Msg("client registered")
}

// Unregister drops the client, but only if it still owns its slot.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if devices, ok := h.clients[c.user]; ok {
		if devices[c.device] == c {
			delete(devices, c.device)
			if len(devices) == 0 {
				delete(h.clients, c.user)
			}
		}
	}
	h.mu.Unlock()
	log.Debug().Str("module", "adapters.ws").Str("user", string(c.user)).
		Str("device", string(c.device)).Msg("client unregistered")
}

func (h *Hub) PublishSessionState(snap *domain.Snapshot) {
	if snap == nil {
		return
	}
	h.broadcast(snap, &domain.Event{Type: domain.EventSessionStateChanged, Snapshot: snap})
}

func (h *Hub) PublishParticipant(snap *domain.Snapshot, p *domain.Participant) {
	if snap == nil {
		return
	}
	h.broadcast(snap, &domain.Event{Type: domain.EventParticipantChanged, Participant: p, Snapshot: snap})
}

func (h *Hub) PublishInvite(target domain.UserID, inv *domain.Invite, snap *domain.Snapshot) {
	h.sendTo(target, &domain.Event{Type: domain.EventInviteReceived, Invite: inv, Snapshot: snap})
}

// broadcast delivers an event to every participant of the snapshot,
// settled rows included: a device that just declined still wants the
// final state for its call log.
func (h *Hub) broadcast(snap *domain.Snapshot, ev *domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("event marshal failed")
		return
	}
	for _, p := range snap.Participants {
		h.sendRaw(p.UserID, data)
	}
}

func (h *Hub) sendTo(user domain.UserID, ev *domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("event marshal failed")
		return
	}
	h.sendRaw(user, data)
}

func (h *Hub) sendRaw(user domain.UserID, data []byte) {
	h.mu.RLock()
	devices := h.clients[user]
	targets := make([]*Client, 0, len(devices))
	for _, c := range devices {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		switch err := c.TrySend(data); {
		case err == nil:
		case errors.Is(err, ErrClosed):
			// Disconnecting client; its readPump unregisters it.
		default:
			log.Warn().Str("module", "adapters.ws").Str("user", string(user)).
				Str("device", string(c.device)).Msg("slow consumer dropped")
			c.Close()
		}
	}
}
