package notify

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/sessionlink/internal/apperr"
	"github.com/mossy-p/sessionlink/internal/models"
	"github.com/mossy-p/sessionlink/internal/store/sqlitestore"
)

type recorder struct {
	pushed []models.Notification
	err    error
}

func (r *recorder) PushToUser(_ context.Context, party string, kind models.FrameType, data any) error {
	if r.err != nil {
		return r.err
	}
	if kind == models.FrameNotification {
		r.pushed = append(r.pushed, data.(models.Notification))
	}
	return nil
}

func newService(t *testing.T) (*Service, *recorder) {
	t.Helper()
	db, err := sqlitestore.Open(filepath.Join(t.TempDir(), "notify.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	rec := &recorder{}
	s := NewService(db, rec)
	tick := time.Unix(1700000000, 0)
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return s, rec
}

func TestNotify_StoresThenPushes(t *testing.T) {
	s, rec := newService(t)
	ctx := context.Background()

	n, err := s.Notify(ctx, models.NotifyRequest{
		Recipient: "d1",
		Actor:     "u1",
		Type:      models.NotifyConnectRequest,
		Message:   "Asha wants to connect",
		Meta:      map[string]any{"requestId": "rq1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.False(t, n.Read)

	require.Len(t, rec.pushed, 1)
	assert.Equal(t, n.ID, rec.pushed[0].ID)

	items, err := s.List(ctx, "d1", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Asha wants to connect", items[0].Message)
	assert.Equal(t, "rq1", items[0].Meta["requestId"])
}

func TestNotify_PushFailureStillStores(t *testing.T) {
	s, rec := newService(t)
	rec.err = errors.New("broker down")
	ctx := context.Background()

	_, err := s.Notify(ctx, models.NotifyRequest{Recipient: "d1", Type: models.NotifyUserConnect, Message: "ready"})
	require.NoError(t, err)

	count, err := s.UnreadCount(ctx, "d1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestNotify_Validation(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	tests := []models.NotifyRequest{
		{Type: models.NotifyUserConnect, Message: "x"},
		{Recipient: "d1", Type: "party_invite", Message: "x"},
		{Recipient: "d1", Type: models.NotifyUserConnect, Message: "   "},
	}
	for _, req := range tests {
		_, err := s.Notify(ctx, req)
		assert.ErrorIs(t, err, apperr.ErrBadRequest)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 20}, {-3, 1}, {1, 1}, {20, 20}, {50, 50}, {51, 50}, {1000, 50},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampLimit(tt.in), "limit %d", tt.in)
	}
}

func TestMarkRead_Idempotent(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		n, err := s.Notify(ctx, models.NotifyRequest{Recipient: "u1", Type: models.NotifyDoctorConnect, Message: "ready"})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}

	updated, err := s.MarkRead(ctx, "u1", ids[:1])
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated)

	updated, err = s.MarkRead(ctx, "u1", ids[:1])
	require.NoError(t, err)
	assert.Zero(t, updated)

	updated, err = s.MarkRead(ctx, "u1", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated)

	// Another party cannot mark someone else's notifications.
	updated, err = s.MarkRead(ctx, "d1", ids)
	require.NoError(t, err)
	assert.Zero(t, updated)

	items, err := s.List(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, ids[2], items[0].ID)
	for _, n := range items {
		assert.True(t, n.Read)
	}
}
