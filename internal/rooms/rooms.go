// Package rooms maps an authorized pair of parties to its stable room id and rings
// the callee.
package rooms

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mossy-p/sessionlink/internal/apperr"
	"github.com/mossy-p/sessionlink/internal/gate"
	"github.com/mossy-p/sessionlink/internal/metrics"
	"github.com/mossy-p/sessionlink/internal/models"
	"github.com/mossy-p/sessionlink/internal/store"
)

// Presence is the slice of the hub the resolver needs.
type Presence interface {
	PushToUser(ctx context.Context, party string, kind models.FrameType, data any) error
	PeerCount(ctx context.Context, roomID string) int
}

type Resolver struct {
	gate     *gate.Gate
	rooms    store.Rooms
	presence Presence

	now   func() time.Time
	newID func() string
}

func NewResolver(g *gate.Gate, rooms store.Rooms, presence Presence) *Resolver {
	return &Resolver{
		gate:     g,
		rooms:    rooms,
		presence: presence,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// EnsureRoom returns the pair's room id, creating the mapping on first contact.
// Only the call that creates the mapping rings the partner.
func (r *Resolver) EnsureRoom(ctx context.Context, callerID, partnerID string) (models.EnsureRoomResponse, error) {
	pair, err := r.gate.AuthorizePair(ctx, callerID, partnerID)
	if err != nil {
		return models.EnsureRoomResponse{}, err
	}

	room, created, err := r.resolve(ctx, pair)
	if err != nil {
		return models.EnsureRoomResponse{}, err
	}
	if created {
		r.ring(ctx, pair, room.ID)
	}
	return models.EnsureRoomResponse{RoomID: room.ID, Created: created}, nil
}

// Ring resolves the pair's room and rings the partner whether or not the room is new.
func (r *Resolver) Ring(ctx context.Context, callerID, partnerID string) (models.EnsureRoomResponse, error) {
	pair, err := r.gate.AuthorizePair(ctx, callerID, partnerID)
	if err != nil {
		return models.EnsureRoomResponse{}, err
	}

	room, created, err := r.resolve(ctx, pair)
	if err != nil {
		return models.EnsureRoomResponse{}, err
	}
	r.ring(ctx, pair, room.ID)
	return models.EnsureRoomResponse{RoomID: room.ID, Created: created}, nil
}

// Info describes a room to one of its participants.
func (r *Resolver) Info(ctx context.Context, party, roomID string) (models.RoomInfo, error) {
	room, err := r.rooms.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return models.RoomInfo{}, apperr.ErrRoomNotFound
	}
	if err != nil {
		return models.RoomInfo{}, apperr.Unavailable(err)
	}
	if !room.HasParticipant(party) {
		return models.RoomInfo{}, apperr.ErrForbidden
	}

	return models.RoomInfo{
		RoomID:       room.ID,
		Participants: room.Participants,
		PeerCount:    r.presence.PeerCount(ctx, room.ID),
		CreatedAt:    room.CreatedAt,
	}, nil
}

func (r *Resolver) resolve(ctx context.Context, pair gate.Pair) (models.Room, bool, error) {
	room, created, err := r.rooms.EnsureRoom(ctx, pair.Caller.ID, pair.Partner.ID, r.newID(), r.now())
	if err != nil {
		return models.Room{}, false, apperr.Unavailable(err)
	}
	metrics.RoomsResolved.WithLabelValues(strconv.FormatBool(created)).Inc()
	if created {
		log.Info().Str("module", "rooms").Str("room", room.ID).
			Str("caller", pair.Caller.ID).Str("partner", pair.Partner.ID).Msg("room created")
	}
	return room, created, nil
}

// ring is fire-and-forget; an offline callee just misses it.
func (r *Resolver) ring(ctx context.Context, pair gate.Pair, roomID string) {
	call := models.IncomingCall{
		RoomID: roomID,
		From:   models.Caller{ID: pair.Caller.ID, Name: pair.Caller.Name, Role: pair.Caller.Role},
		At:     r.now().UnixMilli(),
	}
	if err := r.presence.PushToUser(ctx, pair.Partner.ID, models.FrameIncomingCall, call); err != nil {
		log.Warn().Err(err).Str("module", "rooms").Str("room", roomID).Msg("ring failed")
		return
	}
	metrics.Rings.Inc()
}
