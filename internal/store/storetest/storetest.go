// Package storetest is a conformance suite run against every store backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/sessionlink/internal/models"
	"github.com/mossy-p/sessionlink/internal/store"
)

// Factory returns a fresh, migrated store.
type Factory func(t *testing.T) store.Store

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("Parties", func(t *testing.T) { testParties(t, newStore(t)) })
	t.Run("Relationships", func(t *testing.T) { testRelationships(t, newStore(t)) })
	t.Run("EnsureRoom", func(t *testing.T) { testEnsureRoom(t, newStore(t)) })
	t.Run("EnsureRoomConcurrent", func(t *testing.T) { testEnsureRoomConcurrent(t, newStore(t)) })
	t.Run("ToggleReady", func(t *testing.T) { testToggleReady(t, newStore(t)) })
	t.Run("ToggleReadyConcurrent", func(t *testing.T) { testToggleReadyConcurrent(t, newStore(t)) })
	t.Run("ToggleReadyParity", func(t *testing.T) { testToggleReadyParity(t, newStore(t)) })
	t.Run("UpsertSessionKeepsReadiness", func(t *testing.T) { testUpsertSessionKeepsReadiness(t, newStore(t)) })
	t.Run("Notifications", func(t *testing.T) { testNotifications(t, newStore(t)) })
}

func testParties(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetParty(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.UpsertParty(ctx, models.Party{ID: "p1", Role: models.RolePatient, Name: "Asha"}))
	require.NoError(t, s.UpsertParty(ctx, models.Party{ID: "p1", Role: models.RolePatient, Name: "Asha K"}))

	p, err := s.GetParty(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.RolePatient, p.Role)
	assert.Equal(t, "Asha K", p.Name)
}

func testRelationships(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.FindRelationship(ctx, "p1", "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.UpsertRelationship(ctx, models.Relationship{
		PatientID: "p1", ClinicianID: "c1", Status: models.RelationshipPending,
	}))
	require.NoError(t, s.UpsertRelationship(ctx, models.Relationship{
		PatientID: "p1", ClinicianID: "c1", Status: models.RelationshipAccepted,
	}))

	for _, pair := range [][2]string{{"p1", "c1"}, {"c1", "p1"}} {
		r, err := s.FindRelationship(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.Equal(t, "p1", r.PatientID)
		assert.Equal(t, "c1", r.ClinicianID)
		assert.True(t, r.Status.IsApproved())
	}
}

func testEnsureRoom(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now()

	first, created, err := s.EnsureRoom(ctx, "p1", "c1", "room-a", now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "room-a", first.ID)
	assert.ElementsMatch(t, []string{"p1", "c1"}, first.Participants)

	again, created, err := s.EnsureRoom(ctx, "c1", "p1", "room-b", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "room-a", again.ID)

	got, err := s.GetRoom(ctx, "room-a")
	require.NoError(t, err)
	assert.True(t, got.HasParticipant("p1"))
	assert.True(t, got.HasParticipant("c1"))

	_, err = s.GetRoom(ctx, "room-b")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testEnsureRoomConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 16

	ids := make([]string, n)
	created := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "p9", "c9"
			if i%2 == 1 {
				a, b = b, a
			}
			room, ok, err := s.EnsureRoom(ctx, a, b, uuid.NewString(), time.Now())
			assert.NoError(t, err)
			ids[i], created[i] = room.ID, ok
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := range ids {
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func seedSession(t *testing.T, s store.Store, id string) {
	t.Helper()
	require.NoError(t, s.UpsertSession(context.Background(), models.TherapySession{
		ID: id, UserID: "p1", DoctorID: "c1", Status: models.SessionAccepted,
	}))
}

func testToggleReady(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedSession(t, s, "s1")

	_, err := s.ToggleReady(ctx, "missing", models.SideUser, time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)

	t0 := time.Unix(1700000000, 0).UTC()

	r, err := s.ToggleReady(ctx, "s1", models.SideUser, t0)
	require.NoError(t, err)
	assert.True(t, r.UserReady)
	assert.False(t, r.DoctorReady)
	assert.Nil(t, r.ConnectedAt)

	r, err = s.ToggleReady(ctx, "s1", models.SideDoctor, t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, r.Connected())
	require.NotNil(t, r.ConnectedAt)
	assert.True(t, r.ConnectedAt.Equal(t0.Add(time.Second)))

	r, err = s.ToggleReady(ctx, "s1", models.SideUser, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, r.UserReady)
	assert.True(t, r.DoctorReady)
	assert.Nil(t, r.ConnectedAt)

	// Reconnecting stamps a fresh time.
	r, err = s.ToggleReady(ctx, "s1", models.SideUser, t0.Add(3*time.Second))
	require.NoError(t, err)
	require.NotNil(t, r.ConnectedAt)
	assert.True(t, r.ConnectedAt.Equal(t0.Add(3*time.Second)))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, r.UserReady, got.Readiness.UserReady)
	assert.Equal(t, r.DoctorReady, got.Readiness.DoctorReady)
	require.NotNil(t, got.Readiness.ConnectedAt)
	assert.True(t, got.Readiness.ConnectedAt.Equal(*r.ConnectedAt))
}

func testToggleReadyConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedSession(t, s, "s2")

	const userToggles, doctorToggles = 7, 10
	var wg sync.WaitGroup
	for i := 0; i < userToggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ToggleReady(ctx, "s2", models.SideUser, time.Now())
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < doctorToggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ToggleReady(ctx, "s2", models.SideDoctor, time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetSession(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, userToggles%2 == 1, got.Readiness.UserReady)
	assert.Equal(t, doctorToggles%2 == 1, got.Readiness.DoctorReady)
	assert.Nil(t, got.Readiness.ConnectedAt)
}

func testToggleReadyParity(t *testing.T, s store.Store) {
	ctx := context.Background()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	run := 0
	properties.Property("flags equal toggle parity and connectedAt tracks both-ready", prop.ForAll(
		func(sides []bool) bool {
			run++
			id := fmt.Sprintf("parity-%d", run)
			seedSession(t, s, id)

			var users, doctors int
			base := time.Unix(1700000000, 0).UTC()
			for i, doctor := range sides {
				side := models.SideUser
				if doctor {
					side = models.SideDoctor
					doctors++
				} else {
					users++
				}
				now := base.Add(time.Duration(i) * time.Second)
				r, err := s.ToggleReady(ctx, id, side, now)
				if err != nil {
					return false
				}
				if r.UserReady != (users%2 == 1) || r.DoctorReady != (doctors%2 == 1) {
					return false
				}
				if r.Connected() != (r.ConnectedAt != nil) {
					return false
				}
				// Both-ready can only be reached by the toggle that just happened.
				if r.Connected() && !r.ConnectedAt.Equal(now) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(12, gen.Bool()),
	))

	properties.TestingRun(t)
}

func testUpsertSessionKeepsReadiness(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedSession(t, s, "s3")

	_, err := s.ToggleReady(ctx, "s3", models.SideDoctor, time.Now())
	require.NoError(t, err)

	require.NoError(t, s.UpsertSession(ctx, models.TherapySession{
		ID: "s3", UserID: "p1", DoctorID: "c1", Status: models.SessionResponded,
	}))

	got, err := s.GetSession(ctx, "s3")
	require.NoError(t, err)
	assert.Equal(t, models.SessionResponded, got.Status)
	assert.True(t, got.Readiness.DoctorReady)
}

func testNotifications(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.InsertNotification(ctx, models.Notification{
			ID:        fmt.Sprintf("n%d", i),
			Recipient: "c1",
			Actor:     "p1",
			Type:      models.NotifyUserConnect,
			Message:   fmt.Sprintf("message %d", i),
			Meta:      map[string]any{"sessionId": "s1"},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.InsertNotification(ctx, models.Notification{
		ID: "other", Recipient: "p1", Type: models.NotifyDoctorConnect, Message: "x", CreatedAt: base,
	}))

	list, err := s.ListNotifications(ctx, "c1", 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "n4", list[0].ID)
	assert.Equal(t, "n2", list[2].ID)
	assert.Equal(t, "s1", list[0].Meta["sessionId"])

	count, err := s.CountUnread(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)

	updated, err := s.MarkRead(ctx, "c1", []string{"n0", "n1", "other"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated)

	updated, err = s.MarkRead(ctx, "c1", []string{"n0"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, updated)

	updated, err = s.MarkRead(ctx, "c1", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, updated)

	count, err = s.CountUnread(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = s.CountUnread(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
