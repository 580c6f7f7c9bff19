package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/sessionlink/internal/apperr"
	"github.com/mossy-p/sessionlink/internal/middleware"
	"github.com/mossy-p/sessionlink/internal/models"
	"github.com/mossy-p/sessionlink/internal/store"
)

const devTokenTTL = 24 * time.Hour

// TokenRequest is the body of POST /api/auth/token
type TokenRequest struct {
	PartyID string `json:"partyId" binding:"required"`
}

// TokenResponse carries a bearer token for local testing.
type TokenResponse struct {
	Token string       `json:"token"`
	Party models.Party `json:"party"`
}

// IssueDevToken mints a token for an existing party. Only routed outside production.
func (h *Handler) IssueDevToken(c *gin.Context) {
	var req TokenRequest
	if !bind(c, &req) {
		return
	}

	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	party, err := h.store.GetParty(ctx, req.PartyID)
	if errors.Is(err, store.ErrNotFound) {
		apperr.Respond(c, apperr.ErrPartyNotFound)
		return
	}
	if err != nil {
		apperr.Respond(c, apperr.Unavailable(err))
		return
	}

	token, err := middleware.IssueToken(party, h.cfg.JWTSecret, devTokenTTL)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, TokenResponse{Token: token, Party: party})
}
