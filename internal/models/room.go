package models

import (
	"sort"
	"strings"
	"time"
)

// Room is the durable pair -> roomId mapping. Live membership is never stored here.
type Room struct {
	ID           string    `json:"roomId" bson:"_id"`
	PairKey      string    `json:"-" bson:"pairKey"`
	Participants []string  `json:"participants" bson:"participants"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
}

// HasParticipant reports whether party is one of the pair.
func (r Room) HasParticipant(party string) bool {
	for _, p := range r.Participants {
		if p == party {
			return true
		}
	}
	return false
}

// PairKey is the order-independent key of two parties.
func PairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// SortedPair returns a and b in key order.
func SortedPair(a, b string) []string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair
}

// EnsureRoomRequest is the body of POST /api/call/room
type EnsureRoomRequest struct {
	PartnerID string `json:"partnerId" binding:"required"`
}

// EnsureRoomResponse is returned by POST /api/call/room
type EnsureRoomResponse struct {
	RoomID  string `json:"roomId"`
	Created bool   `json:"created"`
}

// RoomInfo is returned by GET /api/rooms/:roomId
type RoomInfo struct {
	RoomID       string    `json:"roomId"`
	Participants []string  `json:"participants"`
	PeerCount    int       `json:"peerCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Caller identifies the ringing party.
type Caller struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role,omitempty"`
}

// IncomingCall is pushed to the callee's personal channel.
type IncomingCall struct {
	RoomID string `json:"roomId"`
	From   Caller `json:"from"`
	At     int64  `json:"at"`
}
