// Package mongostore backs the collaborator stores with MongoDB. The service owns
// its collections; the CRUD layer feeds them through the internal API.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mossy-p/sessionlink/internal/models"
	"github.com/mossy-p/sessionlink/internal/store"
)

const (
	collParties       = "signaling_parties"
	collRelationships = "signaling_relationships"
	collRooms         = "signaling_rooms"
	collSessions      = "signaling_sessions"
	collNotifications = "signaling_notifications"
)

// DB wraps a Mongo database handle.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ store.Store = (*DB)(nil)

// Open connects to uri and selects database.
func Open(ctx context.Context, uri, database string) (*DB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &DB{client: client, db: client.Database(database)}, nil
}

// Migrate creates the indexes the atomic operations rely on.
func (d *DB) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collRooms: {{
			Keys:    bson.D{{Key: "pairKey", Value: 1}},
			Options: options.Index().SetName("pairKey_unique").SetUnique(true),
		}},
		collRelationships: {{
			Keys:    bson.D{{Key: "patientId", Value: 1}, {Key: "clinicianId", Value: 1}},
			Options: options.Index().SetName("pair_unique").SetUnique(true),
		}},
		collNotifications: {{
			Keys: bson.D{
				{Key: "recipientId", Value: 1},
				{Key: "read", Value: 1},
				{Key: "createdAt", Value: -1},
			},
			Options: options.Index().SetName("recipient_read_createdAt"),
		}},
	}
	for coll, idx := range indexes {
		if _, err := d.db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create %s indexes: %w", coll, err)
		}
	}
	return nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, nil)
}

func (d *DB) Close() error {
	return d.client.Disconnect(context.Background())
}

func notFound(err error, what string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return fmt.Errorf("%s: %w", what, err)
}

// --- parties ---

type partyDoc struct {
	ID   string `bson:"_id"`
	Role string `bson:"role"`
	Name string `bson:"name,omitempty"`
}

// party maps a stored document, folding legacy role spellings.
func (p partyDoc) party() models.Party {
	role, _ := models.ParseRole(p.Role)
	return models.Party{ID: p.ID, Role: role, Name: p.Name}
}

func (d *DB) GetParty(ctx context.Context, id string) (models.Party, error) {
	var doc partyDoc
	err := d.db.Collection(collParties).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		return models.Party{}, notFound(err, "get party")
	}
	return doc.party(), nil
}

func (d *DB) UpsertParty(ctx context.Context, p models.Party) error {
	_, err := d.db.Collection(collParties).UpdateOne(ctx,
		bson.M{"_id": p.ID},
		bson.M{"$set": bson.M{"role": p.Role, "name": p.Name}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert party: %w", err)
	}
	return nil
}

// --- relationships ---

func (d *DB) FindRelationship(ctx context.Context, a, b string) (models.Relationship, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"patientId": a, "clinicianId": b},
		bson.M{"patientId": b, "clinicianId": a},
	}}
	opts := options.FindOne().SetSort(bson.D{{Key: "updatedAt", Value: -1}})

	var r models.Relationship
	if err := d.db.Collection(collRelationships).FindOne(ctx, filter, opts).Decode(&r); err != nil {
		return models.Relationship{}, notFound(err, "find relationship")
	}
	return r, nil
}

func (d *DB) UpsertRelationship(ctx context.Context, r models.Relationship) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	_, err := d.db.Collection(collRelationships).UpdateOne(ctx,
		bson.M{"patientId": r.PatientID, "clinicianId": r.ClinicianID},
		bson.M{"$set": bson.M{"status": r.Status, "updatedAt": r.UpdatedAt}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert relationship: %w", err)
	}
	return nil
}

// --- rooms ---

func (d *DB) EnsureRoom(ctx context.Context, a, b, newID string, now time.Time) (models.Room, bool, error) {
	key := models.PairKey(a, b)
	coll := d.db.Collection(collRooms)

	upsert := func() error {
		_, err := coll.UpdateOne(ctx,
			bson.M{"pairKey": key},
			bson.M{"$setOnInsert": bson.M{
				"_id":          newID,
				"participants": models.SortedPair(a, b),
				"createdAt":    now,
			}},
			options.Update().SetUpsert(true),
		)
		return err
	}

	// Two racing upserts can both miss the filter; the unique index rejects the
	// loser, whose retry then matches the winner's document.
	err := upsert()
	if mongo.IsDuplicateKeyError(err) {
		err = upsert()
	}
	if err != nil {
		return models.Room{}, false, fmt.Errorf("upsert room: %w", err)
	}

	var room models.Room
	if err := coll.FindOne(ctx, bson.M{"pairKey": key}).Decode(&room); err != nil {
		return models.Room{}, false, notFound(err, "read room")
	}
	return room, room.ID == newID, nil
}

func (d *DB) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	if err := d.db.Collection(collRooms).FindOne(ctx, bson.M{"_id": roomID}).Decode(&room); err != nil {
		return models.Room{}, notFound(err, "get room")
	}
	return room, nil
}

// --- sessions ---

func (d *DB) GetSession(ctx context.Context, id string) (models.TherapySession, error) {
	var s models.TherapySession
	if err := d.db.Collection(collSessions).FindOne(ctx, bson.M{"_id": id}).Decode(&s); err != nil {
		return models.TherapySession{}, notFound(err, "get session")
	}
	return s, nil
}

func (d *DB) UpsertSession(ctx context.Context, s models.TherapySession) error {
	_, err := d.db.Collection(collSessions).UpdateOne(ctx,
		bson.M{"_id": s.ID},
		bson.M{
			"$set": bson.M{"userId": s.UserID, "doctorId": s.DoctorID, "status": s.Status},
			"$setOnInsert": bson.M{"connectionState": bson.M{
				"userReady": false, "doctorReady": false, "connectedAt": nil,
			}},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// toggleReadyPipeline flips one flag, then derives connectedAt from the flipped
// document. Both stages run inside a single FindOneAndUpdate.
func toggleReadyPipeline(side models.Side, now time.Time) mongo.Pipeline {
	field := "connectionState.userReady"
	if side == models.SideDoctor {
		field = "connectionState.doctorReady"
	}

	flip := bson.D{{Key: "$set", Value: bson.D{
		{Key: field, Value: bson.D{{Key: "$not", Value: bson.A{
			bson.D{{Key: "$ifNull", Value: bson.A{"$" + field, false}}},
		}}}},
	}}}

	stamp := bson.D{{Key: "$set", Value: bson.D{
		{Key: "connectionState.connectedAt", Value: bson.D{{Key: "$cond", Value: bson.D{
			{Key: "if", Value: bson.D{{Key: "$and", Value: bson.A{
				"$connectionState.userReady", "$connectionState.doctorReady",
			}}}},
			{Key: "then", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$connectionState.connectedAt", now}}}},
			{Key: "else", Value: nil},
		}}}},
	}}}

	return mongo.Pipeline{flip, stamp}
}

func (d *DB) ToggleReady(ctx context.Context, sessionID string, side models.Side, now time.Time) (models.Readiness, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"connectionState": 1})

	var doc struct {
		Readiness models.Readiness `bson:"connectionState"`
	}
	err := d.db.Collection(collSessions).
		FindOneAndUpdate(ctx, bson.M{"_id": sessionID}, toggleReadyPipeline(side, now), opts).
		Decode(&doc)
	if err != nil {
		return models.Readiness{}, notFound(err, "toggle ready")
	}
	return doc.Readiness, nil
}

// --- notifications ---

func (d *DB) InsertNotification(ctx context.Context, n models.Notification) error {
	if _, err := d.db.Collection(collNotifications).InsertOne(ctx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (d *DB) ListNotifications(ctx context.Context, recipient string, limit int) ([]models.Notification, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := d.db.Collection(collNotifications).Find(ctx, bson.M{"recipientId": recipient}, opts)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	out := make([]models.Notification, 0, limit)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return out, nil
}

func (d *DB) CountUnread(ctx context.Context, recipient string) (int64, error) {
	n, err := d.db.Collection(collNotifications).CountDocuments(ctx,
		bson.M{"recipientId": recipient, "read": false})
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (d *DB) MarkRead(ctx context.Context, recipient string, ids []string) (int64, error) {
	filter := bson.M{"recipientId": recipient, "read": false}
	if len(ids) > 0 {
		filter["_id"] = bson.M{"$in": ids}
	}
	res, err := d.db.Collection(collNotifications).UpdateMany(ctx, filter,
		bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.ModifiedCount, nil
}
