package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/sessionlink/internal/hub"
	"github.com/mossy-p/sessionlink/internal/models"
)

type wsPeer struct {
	conn *websocket.Conn
	id   string
}

func dial(t *testing.T, srv *httptest.Server, p models.Party) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/call?token=" + tokenFor(t, p)
	return websocket.DefaultDialer.Dial(url, nil)
}

func connectPeer(t *testing.T, srv *httptest.Server, p models.Party) *wsPeer {
	t.Helper()
	conn, _, err := dial(t, srv, p)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	hello := readFrame(t, conn)
	require.Equal(t, models.FrameHello, hello.Type)
	var payload models.HelloPayload
	require.NoError(t, json.Unmarshal(hello.Data, &payload))
	assert.Equal(t, p.ID, payload.Party)
	return &wsPeer{conn: conn, id: payload.ID}
}

func readFrame(t *testing.T, conn *websocket.Conn) models.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f models.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// expect skips frames until one of type kind arrives.
func expect(t *testing.T, conn *websocket.Conn, kind models.FrameType) models.Frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		if f := readFrame(t, conn); f.Type == kind {
			return f
		}
	}
	t.Fatalf("no %s frame received", kind)
	return models.Frame{}
}

func send(t *testing.T, conn *websocket.Conn, f models.Frame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(f))
}

func TestCall_EndToEnd(t *testing.T) {
	e := newEnv(t, testConfig())
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	u := connectPeer(t, srv, patient)
	d := connectPeer(t, srv, clinician)

	// Creating the room rings the clinician's personal channel.
	w := e.do(t, http.MethodPost, "/api/call/room", patient, models.EnsureRoomRequest{PartnerID: clinician.ID})
	require.Equal(t, http.StatusOK, w.Code)
	roomID := decodeBody[models.EnsureRoomResponse](t, w).RoomID

	ring := expect(t, d.conn, models.FrameIncomingCall)
	var call models.IncomingCall
	require.NoError(t, json.Unmarshal(ring.Data, &call))
	assert.Equal(t, roomID, call.RoomID)
	assert.Equal(t, patient.ID, call.From.ID)
	assert.Equal(t, "Asha", call.From.Name)

	send(t, u.conn, models.Frame{Type: models.FrameJoin, RoomID: roomID})
	peers := expect(t, u.conn, models.FramePeers)
	assert.JSONEq(t, `{"peers":[]}`, string(peers.Data))

	send(t, d.conn, models.Frame{Type: models.FrameJoin, RoomID: roomID})
	peers = expect(t, d.conn, models.FramePeers)
	assert.JSONEq(t, `{"peers":["`+u.id+`"]}`, string(peers.Data))

	joined := expect(t, u.conn, models.FramePeerJoined)
	assert.JSONEq(t, `{"id":"`+d.id+`"}`, string(joined.Data))

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	send(t, d.conn, models.Frame{Type: models.FrameSignal, RoomID: roomID, To: u.id, Data: offer})
	sig := expect(t, u.conn, models.FrameSignal)
	assert.Equal(t, d.id, sig.From)
	assert.Equal(t, roomID, sig.RoomID)
	assert.JSONEq(t, string(offer), string(sig.Data))

	send(t, u.conn, models.Frame{Type: models.FrameChat, RoomID: roomID, Data: json.RawMessage(`{"text":"  hello  "}`)})
	chat := expect(t, d.conn, models.FrameChat)
	var msg models.ChatPayload
	require.NoError(t, json.Unmarshal(chat.Data, &msg))
	assert.Equal(t, "hello", msg.Text)
	assert.NotZero(t, msg.At)

	// Readiness pushes reach the live connection.
	w = e.do(t, http.MethodPost, "/api/sessions/s1/connect", patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	ev := expect(t, d.conn, models.FrameSessionConnect)
	var connect models.SessionConnect
	require.NoError(t, json.Unmarshal(ev.Data, &connect))
	assert.True(t, connect.UserReady)
	expect(t, d.conn, models.FrameNotification)

	// Dropping the clinician's transport tells the patient exactly once.
	d.conn.Close()
	left := expect(t, u.conn, models.FramePeerLeft)
	assert.JSONEq(t, `{"id":"`+d.id+`"}`, string(left.Data))
}

func TestCall_RejectsBadFrames(t *testing.T) {
	e := newEnv(t, testConfig())
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	u := connectPeer(t, srv, patient)

	require.NoError(t, u.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := expect(t, u.conn, models.FrameError)
	assert.Contains(t, string(f.Data), "bad_request")

	send(t, u.conn, models.Frame{Type: "dance"})
	f = expect(t, u.conn, models.FrameError)
	assert.Contains(t, string(f.Data), "bad_request")

	send(t, u.conn, models.Frame{Type: models.FrameJoin, RoomID: "no-such-room"})
	f = expect(t, u.conn, models.FrameError)
	assert.Contains(t, string(f.Data), "room_not_found")

	send(t, u.conn, models.Frame{Type: models.FrameSignal, RoomID: "r1", To: "someone", Data: json.RawMessage(`{}`)})
	f = expect(t, u.conn, models.FrameError)
	assert.Contains(t, string(f.Data), "not_in_room")
}

func TestCall_RequiresToken(t *testing.T) {
	e := newEnv(t, testConfig())
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/call"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCall_RejectsForeignOrigin(t *testing.T) {
	e := newEnv(t, testConfig())
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/call?token=" + tokenFor(t, patient)
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.test"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCall_ConnectionLimit(t *testing.T) {
	e := newEnv(t, testConfig())
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	connectPeer(t, srv, stranger)
	connectPeer(t, srv, stranger)

	_, resp, err := dial(t, srv, stranger)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestCall_FrameRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Relay.FrameRate = 2
	cfg.Relay.FrameWindow = time.Minute
	e := newEnv(t, cfg)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	u := connectPeer(t, srv, patient)
	for i := 0; i < 3; i++ {
		send(t, u.conn, models.Frame{Type: models.FrameLeave, RoomID: "r1"})
	}

	assert.Equal(t, models.FrameLeft, readFrame(t, u.conn).Type)
	assert.Equal(t, models.FrameLeft, readFrame(t, u.conn).Type)
	f := readFrame(t, u.conn)
	require.Equal(t, models.FrameError, f.Type)
	assert.Contains(t, string(f.Data), "rate_limited")
}

// stallingRooms answers room lookups only once the caller's context ends.
type stallingRooms struct {
	deadline chan bool
}

func (s *stallingRooms) EnsureRoom(context.Context, string, string, string, time.Time) (models.Room, bool, error) {
	return models.Room{}, false, nil
}

func (s *stallingRooms) GetRoom(ctx context.Context, _ string) (models.Room, error) {
	_, ok := ctx.Deadline()
	s.deadline <- ok
	<-ctx.Done()
	return models.Room{}, ctx.Err()
}

func TestDispatch_JoinLookupIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Timeout = 50 * time.Millisecond
	rooms := &stallingRooms{deadline: make(chan bool, 1)}
	h := New(Deps{Config: cfg, Hub: hub.New(hub.NewMemoryBroker(), hub.NewMemoryRoster(), rooms)})

	client := hub.NewClient(patient, 8)
	ctx := context.WithoutCancel(context.Background())
	require.NoError(t, h.hub.Register(ctx, client))

	done := make(chan error, 1)
	go func() {
		done <- h.dispatch(ctx, client, models.Frame{Type: models.FrameJoin, RoomID: "r1"})
	}()
	select {
	case err := <-done:
		// A timed-out lookup degrades to local admission.
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("join lookup ran without a deadline")
	}
	assert.True(t, <-rooms.deadline)
	assert.True(t, client.InRoom("r1"))
}

func TestCall_ReadinessSurvivesReconnect(t *testing.T) {
	e := newEnv(t, testConfig())
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/sessions/s1/connect", patient, nil).Code)
	w := e.do(t, http.MethodPost, "/api/sessions/s1/connect", clinician, nil)
	require.Equal(t, http.StatusOK, w.Code)
	before := decodeBody[models.ToggleResult](t, w)
	require.True(t, before.Connected)
	require.NotNil(t, before.ConnectedAt)

	// The clinician's transport drops and comes back.
	d, _, err := dial(t, srv, clinician)
	require.NoError(t, err)
	require.Equal(t, models.FrameHello, readFrame(t, d).Type)
	require.NoError(t, d.Close())
	connectPeer(t, srv, clinician)

	w = e.do(t, http.MethodGet, "/api/sessions/s1/connect", patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	after := decodeBody[models.ToggleResult](t, w)
	assert.True(t, after.UserReady)
	assert.True(t, after.DoctorReady)
	assert.True(t, after.Connected)
	require.NotNil(t, after.ConnectedAt)
	assert.True(t, before.ConnectedAt.Equal(*after.ConnectedAt))
}
