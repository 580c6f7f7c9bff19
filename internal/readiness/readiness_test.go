package readiness

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/sessionlink/internal/apperr"
	"github.com/mossy-p/sessionlink/internal/models"
	"github.com/mossy-p/sessionlink/internal/notify"
	"github.com/mossy-p/sessionlink/internal/store/sqlitestore"
)

type pushed struct {
	party string
	kind  models.FrameType
	data  any
}

type recorder struct {
	mu     sync.Mutex
	pushes []pushed
}

func (r *recorder) PushToUser(_ context.Context, party string, kind models.FrameType, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, pushed{party, kind, data})
	return nil
}

func (r *recorder) take() []pushed {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pushes
	r.pushes = nil
	return out
}

func count(ps []pushed, party string, kind models.FrameType) int {
	n := 0
	for _, p := range ps {
		if p.party == party && p.kind == kind {
			n++
		}
	}
	return n
}

var (
	patient   = models.Party{ID: "u1", Role: models.RolePatient, Name: "Asha"}
	clinician = models.Party{ID: "d1", Role: models.RoleClinician, Name: "Dr. Rao"}
)

func setup(t *testing.T) (*Service, *recorder, *sqlitestore.DB) {
	t.Helper()
	db, err := sqlitestore.Open(filepath.Join(t.TempDir(), "ready.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.UpsertSession(ctx, models.TherapySession{
		ID: "s1", UserID: patient.ID, DoctorID: clinician.ID, Status: models.SessionAccepted,
	}))

	rec := &recorder{}
	svc := NewService(db, rec, notify.NewService(db, rec))
	var clock sync.Mutex
	tick := time.Unix(1700000000, 0)
	svc.now = func() time.Time {
		clock.Lock()
		defer clock.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	return svc, rec, db
}

func TestToggle_Scenario(t *testing.T) {
	svc, rec, _ := setup(t)
	ctx := context.Background()

	res, err := svc.Toggle(ctx, "s1", patient)
	require.NoError(t, err)
	assert.True(t, res.UserReady)
	assert.False(t, res.DoctorReady)
	assert.False(t, res.Connected)
	assert.Nil(t, res.ConnectedAt)
	assert.Equal(t, "You are ready. Waiting for doctor...", res.Message)

	res, err = svc.Toggle(ctx, "s1", clinician)
	require.NoError(t, err)
	assert.True(t, res.UserReady)
	assert.True(t, res.DoctorReady)
	assert.True(t, res.Connected)
	require.NotNil(t, res.ConnectedAt)

	// Reading the state back does not toggle anything.
	state, err := svc.State(ctx, "s1", clinician.ID)
	require.NoError(t, err)
	assert.True(t, state.Connected())
	require.NotNil(t, state.ConnectedAt)
	assert.True(t, state.ConnectedAt.Equal(*res.ConnectedAt))

	rec.take()
}

func TestToggle_PushesOncePerParty(t *testing.T) {
	svc, rec, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Toggle(ctx, "s1", patient)
	require.NoError(t, err)

	ps := rec.take()
	assert.Equal(t, 1, count(ps, "u1", models.FrameSessionConnect))
	assert.Equal(t, 1, count(ps, "d1", models.FrameSessionConnect))
	assert.Equal(t, 1, count(ps, "d1", models.FrameNotification))
	assert.Zero(t, count(ps, "u1", models.FrameNotification))

	for _, p := range ps {
		if p.kind == models.FrameSessionConnect {
			ev := p.data.(models.SessionConnect)
			assert.Equal(t, "s1", ev.SessionID)
			assert.Equal(t, "u1", ev.ActorID)
			assert.Equal(t, "Asha", ev.ActorName)
			assert.True(t, ev.UserReady)
			assert.False(t, ev.Connected)
		}
		if p.kind == models.FrameNotification {
			n := p.data.(models.Notification)
			assert.Equal(t, models.NotifyUserConnect, n.Type)
			assert.Equal(t, "Patient is ready to connect", n.Message)
			assert.Equal(t, "s1", n.Meta["sessionId"])
		}
	}
}

func TestToggle_TwiceRestoresState(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Toggle(ctx, "s1", clinician)
	require.NoError(t, err)
	res, err := svc.Toggle(ctx, "s1", clinician)
	require.NoError(t, err)
	assert.False(t, res.DoctorReady)
	assert.False(t, res.UserReady)
	assert.Equal(t, "Connection cancelled", res.Message)
}

func TestToggle_ConnectedAtRoundTrip(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	var stamps []time.Time
	steps := []models.Party{patient, clinician, patient, patient}
	for _, p := range steps {
		res, err := svc.Toggle(ctx, "s1", p)
		require.NoError(t, err)
		if res.ConnectedAt != nil {
			stamps = append(stamps, *res.ConnectedAt)
		}
	}

	require.Len(t, stamps, 2)
	assert.True(t, stamps[1].After(stamps[0]))
}

func TestToggle_Errors(t *testing.T) {
	svc, _, db := setup(t)
	ctx := context.Background()

	_, err := svc.Toggle(ctx, "missing", patient)
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)

	_, err = svc.Toggle(ctx, "s1", models.Party{ID: "stranger"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	require.NoError(t, db.UpsertSession(ctx, models.TherapySession{
		ID: "s2", UserID: patient.ID, DoctorID: clinician.ID, Status: models.SessionPending,
	}))
	_, err = svc.Toggle(ctx, "s2", patient)
	assert.ErrorIs(t, err, apperr.ErrSessionNotAccepted)

	_, err = svc.State(ctx, "s1", "stranger")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestProperty_InterleavedTogglesNeverLoseUpdates(t *testing.T) {
	svc, _, db := setup(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	run := 0
	properties.Property("final flags match toggle parity and connected is their AND", prop.ForAll(
		func(userToggles, doctorToggles int) bool {
			run++
			id := fmt.Sprintf("prop-%d", run)
			if err := db.UpsertSession(ctx, models.TherapySession{
				ID: id, UserID: patient.ID, DoctorID: clinician.ID, Status: models.SessionResponded,
			}); err != nil {
				return false
			}

			var wg sync.WaitGroup
			toggle := func(p models.Party, n int) {
				defer wg.Done()
				for i := 0; i < n; i++ {
					svc.Toggle(ctx, id, p)
				}
			}
			wg.Add(2)
			go toggle(patient, userToggles)
			go toggle(clinician, doctorToggles)
			wg.Wait()

			state, err := svc.State(ctx, id, patient.ID)
			if err != nil {
				return false
			}
			return state.UserReady == (userToggles%2 == 1) &&
				state.DoctorReady == (doctorToggles%2 == 1) &&
				state.Connected() == (state.ConnectedAt != nil)
		},
		gen.IntRange(0, 6),
		gen.IntRange(0, 6),
	))

	properties.TestingRun(t)
}

func TestInstructionsSent(t *testing.T) {
	svc, rec, db := setup(t)
	ctx := context.Background()

	err := svc.InstructionsSent(ctx, "s1", patient, true, false)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	require.NoError(t, svc.InstructionsSent(ctx, "s1", clinician, true, true))
	ps := rec.take()
	require.Equal(t, 1, count(ps, "u1", models.FrameSessionInstructions))
	assert.Equal(t, 1, count(ps, "u1", models.FrameNotification))

	for _, p := range ps {
		if p.kind == models.FrameSessionInstructions {
			ev := p.data.(models.SessionInstructions)
			assert.Equal(t, "Dr. Rao", ev.DoctorName)
			assert.True(t, ev.HasMarmaPlan)
		}
	}

	unread, err := db.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread)
}
