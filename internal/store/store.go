// Package store declares the collaborator-store contracts the coordination layer
// depends on. Backends live in sub-packages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mossy-p/sessionlink/internal/models"
)

// ErrNotFound is returned when a record does not exist. Any other error means the
// store could not answer.
var ErrNotFound = errors.New("record not found")

// Parties resolves party identifiers.
type Parties interface {
	GetParty(ctx context.Context, id string) (models.Party, error)
	UpsertParty(ctx context.Context, p models.Party) error
}

// Relationships reads and records patient/clinician pairings.
type Relationships interface {
	// FindRelationship matches the pair in either direction.
	FindRelationship(ctx context.Context, a, b string) (models.Relationship, error)
	UpsertRelationship(ctx context.Context, r models.Relationship) error
}

// Rooms keeps the stable pair -> roomId mapping.
type Rooms interface {
	// EnsureRoom atomically inserts a mapping with newID unless the pair already has
	// one, and returns the stored mapping. created is true when newID was used.
	EnsureRoom(ctx context.Context, a, b, newID string, now time.Time) (room models.Room, created bool, err error)
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
}

// Sessions holds therapy-session readiness.
type Sessions interface {
	GetSession(ctx context.Context, id string) (models.TherapySession, error)
	// UpsertSession writes participants and status; readiness is left untouched.
	UpsertSession(ctx context.Context, s models.TherapySession) error
	// ToggleReady flips one side's flag in a single atomic update and maintains
	// connectedAt: stamped with now when both flags become true, kept while both
	// stay true, cleared otherwise.
	ToggleReady(ctx context.Context, sessionID string, side models.Side, now time.Time) (models.Readiness, error)
}

// Notifications persists notification events.
type Notifications interface {
	InsertNotification(ctx context.Context, n models.Notification) error
	// ListNotifications returns the newest notifications first.
	ListNotifications(ctx context.Context, recipient string, limit int) ([]models.Notification, error)
	CountUnread(ctx context.Context, recipient string) (int64, error)
	// MarkRead marks the given ids (or every unread one when ids is empty) as read
	// and returns how many changed.
	MarkRead(ctx context.Context, recipient string, ids []string) (int64, error)
}

// Store is a full backend.
type Store interface {
	Parties
	Relationships
	Rooms
	Sessions
	Notifications

	// Migrate creates tables or indexes.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
