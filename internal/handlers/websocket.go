package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mossy-p/sessionlink/internal/apperr"
	"github.com/mossy-p/sessionlink/internal/hub"
	"github.com/mossy-p/sessionlink/internal/metrics"
	"github.com/mossy-p/sessionlink/internal/models"
)

// HandleCall upgrades an authenticated request to the call websocket. The
// connection lives until the peer goes away, and cleanup runs before returning.
func (h *Handler) HandleCall(c *gin.Context) {
	party, ok := h.party(c)
	if !ok {
		return
	}

	if !h.conns.Acquire(party.ID) {
		apperr.Respond(c, apperr.ErrTooManyConnections)
		return
	}
	defer h.conns.Release(party.ID)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("party", party.ID).Msg("failed to upgrade connection")
		return
	}
	defer conn.Close()

	ctx := context.WithoutCancel(c.Request.Context())
	client := hub.NewClient(party, h.cfg.Relay.SendBuffer)
	if err := h.hub.Register(ctx, client); err != nil {
		log.Error().Err(err).Str("module", "ws").Str("party", party.ID).Msg("failed to register connection")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "relay unavailable"),
			time.Now().Add(h.cfg.Relay.WriteWait))
		return
	}
	log.Info().Str("module", "ws").Str("conn", client.ID).Str("party", party.ID).Msg("connection opened")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, client)
	}()

	h.readPump(ctx, conn, client)

	h.hub.Unregister(ctx, client)
	h.frames.Forget(client.ID)
	<-done
	log.Info().Str("module", "ws").Str("conn", client.ID).Str("party", party.ID).Msg("connection closed")
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	relay := h.cfg.Relay
	conn.SetReadLimit(relay.ReadLimit)
	conn.SetReadDeadline(time.Now().Add(relay.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(relay.PongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("module", "ws").Str("conn", client.ID).Msg("websocket read error")
			}
			return
		}

		if !h.frames.Allow(client.ID) {
			metrics.FramesDropped.WithLabelValues("rate_limited").Inc()
			h.hub.SendError(client, apperr.ErrRateLimited)
			continue
		}

		var frame models.Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			h.hub.SendError(client, apperr.BadRequest("Malformed frame"))
			continue
		}
		if err := h.dispatch(ctx, client, frame); err != nil {
			h.hub.SendError(client, err)
		}
	}
}

// dispatch routes one inbound frame. A panic is contained to the frame.
func (h *Handler) dispatch(ctx context.Context, client *hub.Client, frame models.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "ws").Str("conn", client.ID).Str("type", string(frame.Type)).
				Interface("panic", r).Msg("frame handler panicked")
			err = fmt.Errorf("frame handler panicked: %v", r)
		}
	}()

	switch frame.Type {
	case models.FrameJoin:
		// The relay context never expires, so the admission lookup gets the store timeout.
		jctx, cancel := h.storeContext(ctx)
		defer cancel()
		return h.hub.Join(jctx, client, frame.RoomID)
	case models.FrameLeave:
		return h.hub.Leave(ctx, client, frame.RoomID)
	case models.FrameSignal:
		return h.hub.Signal(ctx, client, frame.RoomID, frame.To, frame.Data)
	case models.FrameChat, models.FramePresence:
		return h.hub.Broadcast(ctx, client, frame.Type, frame.RoomID, frame.Data)
	default:
		log.Debug().Str("module", "ws").Str("conn", client.ID).Str("type", string(frame.Type)).Msg("unknown frame type")
		return apperr.BadRequest("Unknown frame type")
	}
}

func (h *Handler) writePump(conn *websocket.Conn, client *hub.Client) {
	relay := h.cfg.Relay
	ticker := time.NewTicker(relay.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send():
			conn.SetWriteDeadline(time.Now().Add(relay.WriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("module", "ws").Str("conn", client.ID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(relay.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
