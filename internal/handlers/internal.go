package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/sessionlink/internal/apperr"
	"github.com/mossy-p/sessionlink/internal/models"
	"github.com/mossy-p/sessionlink/internal/store"
)

// The internal API is how the CRUD layer keeps the collaborator store current and
// triggers pushes. It is guarded by middleware.InternalKey.

type partyRequest struct {
	Role string `json:"role" binding:"required"`
	Name string `json:"name"`
}

func (h *Handler) PutParty(c *gin.Context) {
	var req partyRequest
	if !bind(c, &req) {
		return
	}
	role, ok := models.ParseRole(req.Role)
	if !ok {
		apperr.Respond(c, apperr.BadRequest("role must be patient or clinician"))
		return
	}

	party := models.Party{ID: c.Param("id"), Role: role, Name: req.Name}
	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	if err := h.store.UpsertParty(ctx, party); err != nil {
		apperr.Respond(c, apperr.Unavailable(err))
		return
	}
	c.JSON(http.StatusOK, party)
}

type relationshipRequest struct {
	PatientID   string                    `json:"patientId" binding:"required"`
	ClinicianID string                    `json:"clinicianId" binding:"required"`
	Status      models.RelationshipStatus `json:"status" binding:"required"`
}

func (h *Handler) PutRelationship(c *gin.Context) {
	var req relationshipRequest
	if !bind(c, &req) {
		return
	}
	switch req.Status {
	case models.RelationshipPending, models.RelationshipAccepted, models.RelationshipApproved, models.RelationshipRejected:
	default:
		apperr.Respond(c, apperr.BadRequest("unknown relationship status"))
		return
	}

	rel := models.Relationship{
		PatientID:   req.PatientID,
		ClinicianID: req.ClinicianID,
		Status:      req.Status,
		UpdatedAt:   time.Now().UTC(),
	}
	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	if err := h.store.UpsertRelationship(ctx, rel); err != nil {
		apperr.Respond(c, apperr.Unavailable(err))
		return
	}
	c.JSON(http.StatusOK, rel)
}

type sessionRequest struct {
	UserID   string               `json:"userId" binding:"required"`
	DoctorID string               `json:"doctorId" binding:"required"`
	Status   models.SessionStatus `json:"status" binding:"required"`
}

// PutSession records session participants and status. Readiness is never overwritten.
func (h *Handler) PutSession(c *gin.Context) {
	var req sessionRequest
	if !bind(c, &req) {
		return
	}

	sess := models.TherapySession{
		ID:       c.Param("id"),
		UserID:   req.UserID,
		DoctorID: req.DoctorID,
		Status:   req.Status,
	}
	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	if err := h.store.UpsertSession(ctx, sess); err != nil {
		apperr.Respond(c, apperr.Unavailable(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Notify stores a notification and pushes it to the recipient's live connections.
func (h *Handler) Notify(c *gin.Context) {
	var req models.NotifyRequest
	if !bind(c, &req) {
		return
	}

	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	n, err := h.notify.Notify(ctx, req)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

type readyRequest struct {
	PartyID string `json:"partyId" binding:"required"`
}

// ToggleReadyFor toggles readiness on behalf of a party.
func (h *Handler) ToggleReadyFor(c *gin.Context) {
	var req readyRequest
	if !bind(c, &req) {
		return
	}

	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()
	party, err := h.store.GetParty(ctx, req.PartyID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		party = models.Party{ID: req.PartyID}
	case err != nil:
		apperr.Respond(c, apperr.Unavailable(err))
		return
	}

	res, err := h.readiness.Toggle(ctx, c.Param("id"), party)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
