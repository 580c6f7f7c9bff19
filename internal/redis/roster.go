package redis

import (
	"context"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/sessionlink/internal/hub"
)

// peerTTL bounds how long a crashed node's members can linger in a room set.
const peerTTL = 24 * time.Hour

// Roster keeps room membership in one Redis set per room.
type Roster struct {
	client *redis.Client
	prefix string
}

var _ hub.Roster = (*Roster)(nil)

func NewRoster(client *redis.Client, prefix string) *Roster {
	return &Roster{client: client, prefix: prefix}
}

func (r *Roster) key(roomID string) string {
	return r.prefix + "room:" + roomID + ":peers"
}

func (r *Roster) Add(ctx context.Context, roomID, connID string) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.key(roomID), connID)
	pipe.Expire(ctx, r.key(roomID), peerTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Roster) Remove(ctx context.Context, roomID, connID string) error {
	return r.client.SRem(ctx, r.key(roomID), connID).Err()
}

func (r *Roster) Members(ctx context.Context, roomID string) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key(roomID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}
