// Package notify records notifications and pushes them to connected recipients.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mossy-p/sessionlink/internal/apperr"
	"github.com/mossy-p/sessionlink/internal/metrics"
	"github.com/mossy-p/sessionlink/internal/models"
	"github.com/mossy-p/sessionlink/internal/store"
)

const (
	DefaultLimit = 20
	MaxLimit     = 50
)

// Pusher delivers a frame to a party's personal channel.
type Pusher interface {
	PushToUser(ctx context.Context, party string, kind models.FrameType, data any) error
}

type Service struct {
	store  store.Notifications
	pusher Pusher

	now   func() time.Time
	newID func() string
}

func NewService(s store.Notifications, pusher Pusher) *Service {
	return &Service{store: s, pusher: pusher, now: time.Now, newID: uuid.NewString}
}

// Notify stores the event, then pushes it. The push is best effort; the stored
// record is what polling clients read.
func (s *Service) Notify(ctx context.Context, req models.NotifyRequest) (models.Notification, error) {
	req.Recipient = strings.TrimSpace(req.Recipient)
	req.Message = strings.TrimSpace(req.Message)
	switch {
	case req.Recipient == "":
		return models.Notification{}, apperr.BadRequest("recipient is required")
	case !req.Type.Valid():
		return models.Notification{}, apperr.BadRequest("unknown notification type")
	case req.Message == "":
		return models.Notification{}, apperr.BadRequest("message is required")
	}

	n := models.Notification{
		ID:        s.newID(),
		Recipient: req.Recipient,
		Actor:     req.Actor,
		Type:      req.Type,
		Message:   req.Message,
		Meta:      req.Meta,
		CreatedAt: s.now().UTC(),
	}
	if n.Meta == nil {
		n.Meta = map[string]any{}
	}

	if err := s.store.InsertNotification(ctx, n); err != nil {
		return models.Notification{}, apperr.Unavailable(err)
	}
	metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()

	if err := s.pusher.PushToUser(ctx, n.Recipient, models.FrameNotification, n); err != nil {
		log.Warn().Err(err).Str("module", "notify").Str("recipient", n.Recipient).Msg("notification push failed")
	}
	return n, nil
}

// ClampLimit maps a requested page size into [1, MaxLimit]; zero means the default.
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultLimit
	case limit < 1:
		return 1
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// List returns the recipient's newest notifications.
func (s *Service) List(ctx context.Context, recipient string, limit int) ([]models.Notification, error) {
	items, err := s.store.ListNotifications(ctx, recipient, ClampLimit(limit))
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return items, nil
}

func (s *Service) UnreadCount(ctx context.Context, recipient string) (int64, error) {
	n, err := s.store.CountUnread(ctx, recipient)
	if err != nil {
		return 0, apperr.Unavailable(err)
	}
	return n, nil
}

// MarkRead marks ids, or everything unread when ids is empty. Already-read ids are
// skipped, so repeating a call is harmless.
func (s *Service) MarkRead(ctx context.Context, recipient string, ids []string) (int64, error) {
	n, err := s.store.MarkRead(ctx, recipient, ids)
	if err != nil {
		return 0, apperr.Unavailable(err)
	}
	return n, nil
}
