// Package handlers exposes the coordination services over gin: the call websocket,
// the party-facing REST API and the collaborator-facing internal API.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mossy-p/sessionlink/config"
	"github.com/mossy-p/sessionlink/internal/apperr"
	"github.com/mossy-p/sessionlink/internal/hub"
	"github.com/mossy-p/sessionlink/internal/ice"
	"github.com/mossy-p/sessionlink/internal/middleware"
	"github.com/mossy-p/sessionlink/internal/models"
	"github.com/mossy-p/sessionlink/internal/notify"
	"github.com/mossy-p/sessionlink/internal/ratelimit"
	"github.com/mossy-p/sessionlink/internal/readiness"
	"github.com/mossy-p/sessionlink/internal/rooms"
	"github.com/mossy-p/sessionlink/internal/store"
)

// Deps are the services the handlers call into.
type Deps struct {
	Config    *config.Config
	Store     store.Store
	Hub       *hub.Hub
	Rooms     *rooms.Resolver
	Readiness *readiness.Service
	Notify    *notify.Service
	ICE       *ice.Provider
}

type Handler struct {
	cfg       *config.Config
	store     store.Store
	hub       *hub.Hub
	rooms     *rooms.Resolver
	readiness *readiness.Service
	notify    *notify.Service
	ice       *ice.Provider

	upgrader websocket.Upgrader
	conns    *ratelimit.ConnectionLimiter
	frames   *ratelimit.FrameLimiter
}

func New(d Deps) *Handler {
	h := &Handler{
		cfg:       d.Config,
		store:     d.Store,
		hub:       d.Hub,
		rooms:     d.Rooms,
		readiness: d.Readiness,
		notify:    d.Notify,
		ice:       d.ICE,
		conns:     ratelimit.NewConnectionLimiter(d.Config.Relay.MaxConnsPerParty),
		frames:    ratelimit.NewFrameLimiter(d.Config.Relay.FrameRate, d.Config.Relay.FrameWindow),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(d.Config.AllowedOrigins, origin)
		},
	}
	return h
}

// party returns the authenticated party, filling role and name from the store
// when the token did not carry them.
func (h *Handler) party(c *gin.Context) (models.Party, bool) {
	party, ok := middleware.PartyFrom(c)
	if !ok {
		apperr.Respond(c, apperr.ErrUnauthorized)
		return models.Party{}, false
	}
	if party.Role != "" && party.Name != "" {
		return party, true
	}

	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	stored, err := h.store.GetParty(ctx, party.ID)
	switch {
	case err == nil:
		if party.Role == "" {
			party.Role = stored.Role
		}
		if party.Name == "" {
			party.Name = stored.Name
		}
	case !errors.Is(err, store.ErrNotFound):
		log.Warn().Err(err).Str("module", "handlers").Str("party", party.ID).Msg("party lookup failed")
	}
	return party, true
}

func (h *Handler) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := h.cfg.Store.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// bind decodes the JSON body into v and reports a validation error on failure.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		apperr.Respond(c, apperr.BadRequest("Invalid request body"))
		return false
	}
	return true
}
