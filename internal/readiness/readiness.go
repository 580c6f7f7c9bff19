// Package readiness runs the two-party "ready to connect" toggle of a therapy
// session and fans out each transition.
package readiness

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mossy-p/sessionlink/internal/apperr"
	"github.com/mossy-p/sessionlink/internal/metrics"
	"github.com/mossy-p/sessionlink/internal/models"
	"github.com/mossy-p/sessionlink/internal/notify"
	"github.com/mossy-p/sessionlink/internal/store"
)

type Service struct {
	sessions store.Sessions
	pusher   notify.Pusher
	notifier *notify.Service

	now func() time.Time
}

func NewService(sessions store.Sessions, pusher notify.Pusher, notifier *notify.Service) *Service {
	return &Service{sessions: sessions, pusher: pusher, notifier: notifier, now: time.Now}
}

// Toggle flips actor's own flag. Both parties get one session:connect push with
// the combined state; the other party also gets a stored notification.
func (s *Service) Toggle(ctx context.Context, sessionID string, actor models.Party) (models.ToggleResult, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return models.ToggleResult{}, err
	}
	side, ok := sess.SideOf(actor.ID)
	if !ok {
		return models.ToggleResult{}, apperr.ErrForbidden
	}
	if !sess.Status.AllowsReadiness() {
		return models.ToggleResult{}, apperr.ErrSessionNotAccepted
	}

	state, err := s.sessions.ToggleReady(ctx, sessionID, side, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return models.ToggleResult{}, apperr.ErrSessionNotFound
	}
	if err != nil {
		return models.ToggleResult{}, apperr.Unavailable(err)
	}
	metrics.ReadyToggles.WithLabelValues(stateLabel(state)).Inc()

	actorName := actor.Name
	if actorName == "" {
		actorName = defaultName(side)
	}
	event := models.SessionConnect{
		SessionID:   sessionID,
		ActorID:     actor.ID,
		ActorName:   actorName,
		UserReady:   state.UserReady,
		DoctorReady: state.DoctorReady,
		Connected:   state.Connected(),
	}
	for _, party := range []string{sess.UserID, sess.DoctorID} {
		if err := s.pusher.PushToUser(ctx, party, models.FrameSessionConnect, event); err != nil {
			log.Warn().Err(err).Str("module", "readiness").Str("session", sessionID).Msg("session:connect push failed")
		}
	}

	s.notifyOther(ctx, sess, actor.ID, side, state)

	log.Info().Str("module", "readiness").Str("session", sessionID).Str("side", string(side)).
		Bool("userReady", state.UserReady).Bool("doctorReady", state.DoctorReady).Msg("readiness toggled")

	return models.ToggleResult{
		SessionID:   sessionID,
		UserReady:   state.UserReady,
		DoctorReady: state.DoctorReady,
		Connected:   state.Connected(),
		ConnectedAt: state.ConnectedAt,
		Message:     resultMessage(side, state),
	}, nil
}

// State returns the current readiness without changing it.
func (s *Service) State(ctx context.Context, sessionID string, party string) (models.Readiness, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return models.Readiness{}, err
	}
	if _, ok := sess.SideOf(party); !ok {
		return models.Readiness{}, apperr.ErrForbidden
	}
	return sess.Readiness, nil
}

// InstructionsSent tells the patient that the clinician sent instructions.
func (s *Service) InstructionsSent(ctx context.Context, sessionID string, actor models.Party, hasInstructions, hasMarmaPlan bool) error {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return err
	}
	if actor.ID != sess.DoctorID {
		return apperr.ErrForbidden
	}

	name := actor.Name
	if name == "" {
		name = defaultName(models.SideDoctor)
	}
	event := models.SessionInstructions{
		SessionID:       sessionID,
		DoctorID:        sess.DoctorID,
		DoctorName:      name,
		HasInstructions: hasInstructions,
		HasMarmaPlan:    hasMarmaPlan,
	}
	if err := s.pusher.PushToUser(ctx, sess.UserID, models.FrameSessionInstructions, event); err != nil {
		log.Warn().Err(err).Str("module", "readiness").Str("session", sessionID).Msg("session:instructions push failed")
	}

	_, err = s.notifier.Notify(ctx, models.NotifyRequest{
		Recipient: sess.UserID,
		Actor:     sess.DoctorID,
		Type:      models.NotifyInstructionsSent,
		Message:   "Your doctor has sent you therapy instructions",
		Meta: map[string]any{
			"sessionId":       sessionID,
			"doctorId":        sess.DoctorID,
			"hasInstructions": hasInstructions,
			"hasMarmaPlan":    hasMarmaPlan,
		},
	})
	return err
}

func (s *Service) session(ctx context.Context, id string) (models.TherapySession, error) {
	sess, err := s.sessions.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.TherapySession{}, apperr.ErrSessionNotFound
	}
	if err != nil {
		return models.TherapySession{}, apperr.Unavailable(err)
	}
	return sess, nil
}

// notifyOther records the transition for the counterpart. A failure here does not
// undo the toggle.
func (s *Service) notifyOther(ctx context.Context, sess models.TherapySession, actorID string, side models.Side, state models.Readiness) {
	typ, msg := models.NotifyUserConnect, "Patient is ready to connect"
	if side == models.SideDoctor {
		typ, msg = models.NotifyDoctorConnect, "Doctor is ready to connect"
	}
	if !ownFlag(side, state) {
		msg = "Patient cancelled the connection"
		if side == models.SideDoctor {
			msg = "Doctor cancelled the connection"
		}
	}

	_, err := s.notifier.Notify(ctx, models.NotifyRequest{
		Recipient: sess.Other(actorID),
		Actor:     actorID,
		Type:      typ,
		Message:   msg,
		Meta: map[string]any{
			"sessionId":   sess.ID,
			"userReady":   state.UserReady,
			"doctorReady": state.DoctorReady,
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "readiness").Str("session", sess.ID).Msg("readiness notification failed")
	}
}

func ownFlag(side models.Side, state models.Readiness) bool {
	if side == models.SideDoctor {
		return state.DoctorReady
	}
	return state.UserReady
}

func resultMessage(side models.Side, state models.Readiness) string {
	switch {
	case state.Connected():
		return "Both parties are ready. Connecting..."
	case !ownFlag(side, state):
		return "Connection cancelled"
	case side == models.SideDoctor:
		return "You are ready. Waiting for patient..."
	default:
		return "You are ready. Waiting for doctor..."
	}
}

func defaultName(side models.Side) string {
	if side == models.SideDoctor {
		return "Doctor"
	}
	return "Patient"
}

func stateLabel(r models.Readiness) string {
	switch {
	case r.Connected():
		return "connected"
	case r.UserReady || r.DoctorReady:
		return "one_ready"
	}
	return "none_ready"
}
