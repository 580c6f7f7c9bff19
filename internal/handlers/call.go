package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/sessionlink/internal/apperr"
	"github.com/mossy-p/sessionlink/internal/models"
)

// EnsureRoom returns the caller's room with a partner, creating it and ringing
// the partner on first contact.
func (h *Handler) EnsureRoom(c *gin.Context) {
	party, ok := h.party(c)
	if !ok {
		return
	}
	var req models.EnsureRoomRequest
	if !bind(c, &req) {
		return
	}

	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	resp, err := h.rooms.EnsureRoom(ctx, party.ID, req.PartnerID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Ring re-sends incoming-call for the pair's room.
func (h *Handler) Ring(c *gin.Context) {
	party, ok := h.party(c)
	if !ok {
		return
	}
	var req models.EnsureRoomRequest
	if !bind(c, &req) {
		return
	}

	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	resp, err := h.rooms.Ring(ctx, party.ID, req.PartnerID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetRoom describes a room to one of its participants.
func (h *Handler) GetRoom(c *gin.Context) {
	party, ok := h.party(c)
	if !ok {
		return
	}

	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	info, err := h.rooms.Info(ctx, party.ID, c.Param("roomId"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
