package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/app"
	"github.com/quckchat/call-service/internal/domain"
)

// Handlers exposes the signaling operations over HTTP. State changes
// answer with the resulting snapshot so the caller can render without
// waiting for its own event stream.
type Handlers struct {
	Coord *app.Coordinator
}

type startRequest struct {
	Kind      string   `json:"kind" binding:"required"`
	MediaType string   `json:"mediaType" binding:"required"`
	Targets   []string `json:"targets" binding:"required,min=1"`
}

type targetsRequest struct {
	Targets []string `json:"targets" binding:"required,min=1"`
}

type mediaRequest struct {
	Audio *bool `json:"audio"`
	Video *bool `json:"video"`
}

type peerRequest struct {
	UserID string `json:"userId" binding:"required"`
}

func (h *Handlers) actor(c *gin.Context) (domain.UserID, domain.DeviceID) {
	return domain.UserID(c.GetString(ContextKeyUserID)), domain.DeviceID(c.GetString("device_token"))
}

func (h *Handlers) StartSession(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, device := h.actor(c)
	targets := make([]domain.UserID, 0, len(req.Targets))
	for _, t := range req.Targets {
		targets = append(targets, domain.UserID(t))
	}
	snap, err := h.Coord.Invite(c.Request.Context(), user, device,
		domain.SessionKind(req.Kind), domain.MediaType(req.MediaType), targets)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *Handlers) GetSession(c *gin.Context) {
	user, _ := h.actor(c)
	sid := domain.SessionID(c.Param("id"))
	snap, err := h.Coord.Snapshot(c.Request.Context(), sid)
	if err != nil {
		respondError(c, err)
		return
	}
	// Only people who were part of the session may read it.
	member := false
	for _, p := range snap.Participants {
		if p.UserID == user {
			member = true
			break
		}
	}
	if !member {
		respondError(c, domain.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handlers) Answer(c *gin.Context) {
	user, device := h.actor(c)
	snap, err := h.Coord.Answer(c.Request.Context(), user, device, domain.SessionID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handlers) Decline(c *gin.Context) {
	user, device := h.actor(c)
	snap, err := h.Coord.Decline(c.Request.Context(), user, device, domain.SessionID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handlers) Leave(c *gin.Context) {
	user, device := h.actor(c)
	snap, err := h.Coord.Leave(c.Request.Context(), user, device, domain.SessionID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handlers) AddParticipants(c *gin.Context) {
	var req targetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, _ := h.actor(c)
	targets := make([]domain.UserID, 0, len(req.Targets))
	for _, t := range req.Targets {
		targets = append(targets, domain.UserID(t))
	}
	snap, err := h.Coord.AddParticipants(c.Request.Context(), user, domain.SessionID(c.Param("id")), targets)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handlers) ToggleMedia(c *gin.Context) {
	var req mediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, device := h.actor(c)
	snap, err := h.Coord.ToggleMedia(c.Request.Context(), user, device, domain.SessionID(c.Param("id")), req.Audio, req.Video)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// PeerConnected is the media transport's callback that a participant's
// media path came up.
func (h *Handlers) PeerConnected(c *gin.Context) {
	var req peerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, err := h.Coord.PeerConnected(c.Request.Context(), domain.SessionID(c.Param("id")), domain.UserID(req.UserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// PeerDisconnected is the media transport's callback that a
// participant's media path dropped.
func (h *Handlers) PeerDisconnected(c *gin.Context) {
	var req peerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, err := h.Coord.PeerDisconnected(c.Request.Context(), domain.SessionID(c.Param("id")), domain.UserID(req.UserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// respondError maps domain sentinels to HTTP statuses. Stale operations
// get 409 with a hint to resync from the snapshot; clients treat them
// as benign.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
	case errors.Is(err, domain.ErrStaleSession):
		c.JSON(http.StatusConflict, gin.H{"error": "session state changed", "code": "stale"})
	case errors.Is(err, domain.ErrAlreadyMember):
		c.JSON(http.StatusConflict, gin.H{"error": "already a participant", "code": "already_member"})
	case errors.Is(err, domain.ErrDuplicateInvite):
		c.JSON(http.StatusConflict, gin.H{"error": "invite already pending", "code": "duplicate_invite"})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "operation not valid in current state"})
	case errors.Is(err, domain.ErrSessionFull):
		c.JSON(http.StatusConflict, gin.H{"error": "session is full", "code": "session_full"})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update, retry", "code": "conflict"})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).Msg("internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
