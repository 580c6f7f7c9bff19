package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/sessionlink/internal/apperr"
)

// ToggleReady flips the caller's readiness flag on a session.
func (h *Handler) ToggleReady(c *gin.Context) {
	party, ok := h.party(c)
	if !ok {
		return
	}

	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	res, err := h.readiness.Toggle(ctx, c.Param("id"), party)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ReadyState reports the session's readiness without changing it.
func (h *Handler) ReadyState(c *gin.Context) {
	party, ok := h.party(c)
	if !ok {
		return
	}

	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	sessionID := c.Param("id")
	state, err := h.readiness.State(ctx, sessionID, party.ID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":   sessionID,
		"userReady":   state.UserReady,
		"doctorReady": state.DoctorReady,
		"connected":   state.Connected(),
		"connectedAt": state.ConnectedAt,
	})
}

type instructionsRequest struct {
	HasInstructions bool `json:"hasInstructions"`
	HasMarmaPlan    bool `json:"hasMarmaPlan"`
}

// InstructionsSent lets the session's clinician announce new instructions.
func (h *Handler) InstructionsSent(c *gin.Context) {
	party, ok := h.party(c)
	if !ok {
		return
	}
	var req instructionsRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}

	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	if err := h.readiness.InstructionsSent(ctx, c.Param("id"), party, req.HasInstructions, req.HasMarmaPlan); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
