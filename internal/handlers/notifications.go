package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/sessionlink/internal/apperr"
	"github.com/mossy-p/sessionlink/internal/models"
)

// ListNotifications returns the caller's newest notifications.
func (h *Handler) ListNotifications(c *gin.Context) {
	party, ok := h.party(c)
	if !ok {
		return
	}
	// A non-numeric limit falls back to the default, as does zero.
	limit, _ := strconv.Atoi(c.Query("limit"))

	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	items, err := h.notify.List(ctx, party.ID, limit)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if items == nil {
		items = []models.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) UnreadCount(c *gin.Context) {
	party, ok := h.party(c)
	if !ok {
		return
	}

	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	count, err := h.notify.UnreadCount(ctx, party.ID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkRead marks the listed notifications read, or all of them when ids is empty.
func (h *Handler) MarkRead(c *gin.Context) {
	party, ok := h.party(c)
	if !ok {
		return
	}
	var req models.MarkReadRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}

	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	updated, err := h.notify.MarkRead(ctx, party.ID, req.IDs)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "updated": updated})
}
