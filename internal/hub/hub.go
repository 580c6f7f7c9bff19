// Package hub is the presence registry and signaling relay. Every connection owns a
// personal channel for its party and may join any number of rooms. Room entities
// live only in memory and disappear with their last member.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mossy-p/sessionlink/internal/apperr"
	"github.com/mossy-p/sessionlink/internal/metrics"
	"github.com/mossy-p/sessionlink/internal/models"
	"github.com/mossy-p/sessionlink/internal/store"
)

// Room is the process-local membership of one roomId.
type Room struct {
	ID      string
	members map[string]*Client
}

// envelope is what travels over the broker.
type envelope struct {
	Frame   models.Frame `json:"frame"`
	Exclude string       `json:"exclude,omitempty"`
}

type Hub struct {
	broker Broker
	roster Roster
	rooms  store.Rooms

	// mu guards the maps only and is never held across broker calls.
	mu       sync.RWMutex
	channels channelLocks
	clients  map[string]*Client
	parties  map[string]map[string]*Client
	live     map[string]*Room
}

// New creates a hub. rooms gates joins against the stored pair mapping; nil admits
// every join.
func New(broker Broker, roster Roster, rooms store.Rooms) *Hub {
	return &Hub{
		broker:   broker,
		roster:   roster,
		rooms:    rooms,
		clients:  make(map[string]*Client),
		parties:  make(map[string]map[string]*Client),
		live:     make(map[string]*Room),
		channels: channelLocks{locks: make(map[string]*channelLock)},
	}
}

// Register subscribes c to its connection channel and its party's personal channel,
// then greets it with a hello frame.
func (h *Hub) Register(ctx context.Context, c *Client) error {
	if err := h.broker.Subscribe(ctx, ConnChannel(c.ID), h.handler(ConnChannel(c.ID))); err != nil {
		return apperr.Unavailable(err)
	}

	// Broker calls run outside mu so routing never waits on broker I/O. The
	// channel lock keeps subscribe and unsubscribe of one party in order.
	unlock := h.channels.lock(UserChannel(c.Party))
	h.mu.RLock()
	_, subscribed := h.parties[c.Party]
	h.mu.RUnlock()
	if !subscribed {
		if err := h.broker.Subscribe(ctx, UserChannel(c.Party), h.handler(UserChannel(c.Party))); err != nil {
			unlock()
			h.unsubscribe(ctx, ConnChannel(c.ID))
			return apperr.Unavailable(err)
		}
	}

	h.mu.Lock()
	conns, ok := h.parties[c.Party]
	if !ok {
		conns = make(map[string]*Client)
		h.parties[c.Party] = conns
	}
	conns[c.ID] = c
	h.clients[c.ID] = c
	h.mu.Unlock()
	unlock()

	metrics.Connections.Inc()
	log.Debug().Str("module", "hub").Str("conn", c.ID).Str("party", c.Party).Msg("connection registered")

	h.send(c, models.FrameHello, "", models.HelloPayload{ID: c.ID, Party: c.Party, Role: c.Role})
	return nil
}

// Unregister tears c down: Send is closed, every joined room gets one peer-left,
// and the connection disappears from the registry before Unregister returns.
func (h *Hub) Unregister(ctx context.Context, c *Client) {
	if !c.close() {
		return
	}

	for _, roomID := range c.Rooms() {
		h.leave(ctx, c, roomID)
	}

	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()
	h.unsubscribe(ctx, ConnChannel(c.ID))

	unlock := h.channels.lock(UserChannel(c.Party))
	h.mu.Lock()
	last := false
	if conns, ok := h.parties[c.Party]; ok {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.parties, c.Party)
			last = true
		}
	}
	h.mu.Unlock()
	if last {
		h.unsubscribe(ctx, UserChannel(c.Party))
	}
	unlock()

	metrics.Connections.Dec()
	log.Debug().Str("module", "hub").Str("conn", c.ID).Str("party", c.Party).Msg("connection unregistered")
}

// Join adds c to roomID, sends it the current peers and tells existing members.
// Joining a room already joined only resends the peers list.
func (h *Hub) Join(ctx context.Context, c *Client, roomID string) error {
	if roomID == "" {
		return apperr.BadRequest("roomId is required")
	}
	if err := h.admit(ctx, c, roomID); err != nil {
		return err
	}

	if !c.InRoom(roomID) {
		unlock := h.channels.lock(RoomChannel(roomID))
		h.mu.RLock()
		_, open := h.live[roomID]
		h.mu.RUnlock()
		if !open {
			if err := h.broker.Subscribe(ctx, RoomChannel(roomID), h.handler(RoomChannel(roomID))); err != nil {
				log.Warn().Err(err).Str("module", "hub").Str("room", roomID).Msg("room subscribe failed, relaying locally")
			}
		}

		h.mu.Lock()
		room, ok := h.live[roomID]
		if !ok {
			room = &Room{ID: roomID, members: make(map[string]*Client)}
			h.live[roomID] = room
			metrics.Rooms.Inc()
			log.Info().Str("module", "hub").Str("room", roomID).Msg("room opened")
		}
		room.members[c.ID] = c
		c.addRoom(roomID)
		h.mu.Unlock()
		unlock()

		if err := h.roster.Add(ctx, roomID, c.ID); err != nil {
			log.Warn().Err(err).Str("module", "hub").Str("room", roomID).Msg("roster add failed")
		}
		h.publish(ctx, RoomChannel(roomID), models.Frame{
			Type:   models.FramePeerJoined,
			RoomID: roomID,
			Data:   mustJSON(models.PeerPayload{ID: c.ID}),
		}, c.ID)
	}

	h.send(c, models.FramePeers, roomID, models.PeersPayload{Peers: h.peers(ctx, roomID, c.ID)})
	return nil
}

// Leave removes c from roomID and confirms with a left frame.
func (h *Hub) Leave(ctx context.Context, c *Client, roomID string) error {
	if roomID == "" {
		return apperr.BadRequest("roomId is required")
	}
	if c.InRoom(roomID) {
		h.leave(ctx, c, roomID)
	}
	h.send(c, models.FrameLeft, roomID, nil)
	return nil
}

// Signal forwards payload verbatim to one connection of the room. A target that
// is gone or not in the room is a silent no-op.
func (h *Hub) Signal(ctx context.Context, c *Client, roomID, to string, payload json.RawMessage) error {
	if roomID == "" || to == "" {
		return apperr.BadRequest("roomId and to are required")
	}
	if !c.InRoom(roomID) {
		return apperr.ErrNotInRoom
	}
	h.publish(ctx, ConnChannel(to), models.Frame{
		Type:   models.FrameSignal,
		RoomID: roomID,
		From:   c.ID,
		Data:   payload,
	}, "")
	return nil
}

// Broadcast forwards a chat or presence frame to every other member of the room.
// Chat text is trimmed and empty messages are dropped.
func (h *Hub) Broadcast(ctx context.Context, c *Client, kind models.FrameType, roomID string, payload json.RawMessage) error {
	if roomID == "" {
		return apperr.BadRequest("roomId is required")
	}
	if kind != models.FrameChat && kind != models.FramePresence {
		return apperr.BadRequest("unsupported broadcast type")
	}
	if !c.InRoom(roomID) {
		return apperr.ErrNotInRoom
	}

	if kind == models.FrameChat {
		var chat models.ChatPayload
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &chat); err != nil {
				return apperr.BadRequest("chat data must be an object with text")
			}
		}
		chat.Text = strings.TrimSpace(chat.Text)
		if chat.Text == "" {
			metrics.FramesDropped.WithLabelValues("empty_chat").Inc()
			return nil
		}
		chat.At = time.Now().UnixMilli()
		payload = mustJSON(chat)
	}

	h.publish(ctx, RoomChannel(roomID), models.Frame{
		Type:   kind,
		RoomID: roomID,
		From:   c.ID,
		Data:   payload,
	}, c.ID)
	return nil
}

// PushToUser delivers a frame to every connection of party on any node. An
// offline party simply receives nothing.
func (h *Hub) PushToUser(ctx context.Context, party string, kind models.FrameType, data any) error {
	frame, err := models.NewFrame(kind, "", data)
	if err != nil {
		return err
	}
	h.publish(ctx, UserChannel(party), frame, "")
	return nil
}

// PeerCount is the cluster-wide member count of roomID.
func (h *Hub) PeerCount(ctx context.Context, roomID string) int {
	return len(h.peers(ctx, roomID, ""))
}

// Stats reports local connections and rooms.
func (h *Hub) Stats() (conns, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.live)
}

// Close releases the broker.
func (h *Hub) Close() error {
	return h.broker.Close()
}

func (h *Hub) admit(ctx context.Context, c *Client, roomID string) error {
	if h.rooms == nil {
		return nil
	}
	room, err := h.rooms.GetRoom(ctx, roomID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.ErrRoomNotFound
	case err != nil:
		// Store outage degrades to local admission rather than cutting live calls.
		log.Warn().Err(err).Str("module", "hub").Str("room", roomID).Msg("room lookup failed, admitting join")
		return nil
	case !room.HasParticipant(c.Party):
		return apperr.ErrForbidden
	}
	return nil
}

func (h *Hub) leave(ctx context.Context, c *Client, roomID string) {
	unlock := h.channels.lock(RoomChannel(roomID))
	h.mu.Lock()
	closed := false
	if room, ok := h.live[roomID]; ok {
		delete(room.members, c.ID)
		if len(room.members) == 0 {
			delete(h.live, roomID)
			closed = true
		}
	}
	c.removeRoom(roomID)
	h.mu.Unlock()
	if closed {
		h.unsubscribe(ctx, RoomChannel(roomID))
		metrics.Rooms.Dec()
		log.Info().Str("module", "hub").Str("room", roomID).Msg("room closed")
	}
	unlock()

	if err := h.roster.Remove(ctx, roomID, c.ID); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("room", roomID).Msg("roster remove failed")
	}
	h.publish(ctx, RoomChannel(roomID), models.Frame{
		Type:   models.FramePeerLeft,
		RoomID: roomID,
		Data:   mustJSON(models.PeerPayload{ID: c.ID}),
	}, c.ID)
}

// peers lists the room's members except self, falling back to local membership
// when the roster cannot answer.
func (h *Hub) peers(ctx context.Context, roomID, self string) []string {
	members, err := h.roster.Members(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("room", roomID).Msg("roster unavailable, using local members")
		h.mu.RLock()
		if room, ok := h.live[roomID]; ok {
			for id := range room.members {
				members = append(members, id)
			}
		}
		h.mu.RUnlock()
		sort.Strings(members)
	}

	out := make([]string, 0, len(members))
	for _, id := range members {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

// publish sends frame through the broker, or straight to local connections when
// the broker fails.
func (h *Hub) publish(ctx context.Context, channel string, frame models.Frame, exclude string) {
	payload, err := json.Marshal(envelope{Frame: frame, Exclude: exclude})
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("failed to marshal frame")
		return
	}
	if err := h.broker.Publish(ctx, channel, payload); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("channel", channel).Msg("publish failed, delivering locally")
		h.route(channel, payload)
	}
}

func (h *Hub) unsubscribe(ctx context.Context, channel string) {
	if err := h.broker.Unsubscribe(ctx, channel); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("channel", channel).Msg("unsubscribe failed")
	}
}

func (h *Hub) handler(channel string) func([]byte) {
	return func(payload []byte) { h.route(channel, payload) }
}

// route delivers a broker payload to the local connections behind channel.
func (h *Hub) route(channel string, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("channel", channel).Msg("dropping malformed envelope")
		return
	}

	var targets []*Client
	h.mu.RLock()
	switch {
	case strings.HasPrefix(channel, "conn:"):
		if c, ok := h.clients[strings.TrimPrefix(channel, "conn:")]; ok {
			targets = append(targets, c)
		}
	case strings.HasPrefix(channel, "user:"):
		for _, c := range h.parties[strings.TrimPrefix(channel, "user:")] {
			targets = append(targets, c)
		}
	case strings.HasPrefix(channel, "room:"):
		if room, ok := h.live[strings.TrimPrefix(channel, "room:")]; ok {
			for id, c := range room.members {
				if id != env.Exclude {
					targets = append(targets, c)
				}
			}
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(env.Frame)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("failed to marshal frame")
		return
	}
	for _, c := range targets {
		// Signals reach a connection only while it is still in the room.
		if env.Frame.Type == models.FrameSignal && !c.InRoom(env.Frame.RoomID) {
			metrics.FramesDropped.WithLabelValues("not_in_room").Inc()
			continue
		}
		h.deliver(c, env.Frame.Type, data)
	}
}

func (h *Hub) send(c *Client, kind models.FrameType, roomID string, data any) {
	frame, err := models.NewFrame(kind, roomID, data)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("failed to build frame")
		return
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("failed to marshal frame")
		return
	}
	h.deliver(c, kind, raw)
}

// SendError reports a refused frame to c.
func (h *Hub) SendError(c *Client, err error) {
	payload := models.ErrorPayload{Code: "internal_error", Message: "Something went wrong"}
	if e, ok := apperr.As(err); ok {
		payload = models.ErrorPayload{Code: e.Code, Message: e.Message}
	}
	h.send(c, models.FrameError, "", payload)
}

func (h *Hub) deliver(c *Client, kind models.FrameType, data []byte) {
	switch err := c.TrySend(data); {
	case err == nil:
		metrics.FramesRelayed.WithLabelValues(string(kind)).Inc()
		return
	case errors.Is(err, ErrClosed):
		return
	}
	metrics.FramesDropped.WithLabelValues("buffer_full").Inc()
	log.Warn().Str("module", "hub").Str("conn", c.ID).Str("type", string(kind)).Msg("failed to send frame, buffer full")
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// channelLocks serializes subscription changes per broker channel.
type channelLocks struct {
	mu    sync.Mutex
	locks map[string]*channelLock
}

type channelLock struct {
	sync.Mutex
	refs int
}

// lock acquires the lock for channel and returns its release.
func (l *channelLocks) lock(channel string) func() {
	l.mu.Lock()
	cl, ok := l.locks[channel]
	if !ok {
		cl = &channelLock{}
		l.locks[channel] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.Lock()
	return func() {
		cl.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, channel)
		}
		l.mu.Unlock()
	}
}
