// Package sqlitestore is the embedded collaborator store, used for single-node
// deployments, local development and tests.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mossy-p/sessionlink/internal/models"
	"github.com/mossy-p/sessionlink/internal/store"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS parties (
	id   TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS relationships (
	patient_id   TEXT NOT NULL,
	clinician_id TEXT NOT NULL,
	status       TEXT NOT NULL,
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (patient_id, clinician_id)
);

CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	pair_key   TEXT NOT NULL UNIQUE,
	party_a    TEXT NOT NULL,
	party_b    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	doctor_id    TEXT NOT NULL,
	status       TEXT NOT NULL,
	user_ready   INTEGER NOT NULL DEFAULT 0,
	doctor_ready INTEGER NOT NULL DEFAULT 0,
	connected_at INTEGER
);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	recipient  TEXT NOT NULL,
	actor      TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	message    TEXT NOT NULL,
	is_read    INTEGER NOT NULL DEFAULT 0,
	meta       TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient
	ON notifications (recipient, is_read, created_at DESC);
`

// DB wraps a SQLite database.
type DB struct {
	db   *sql.DB
	path string
}

var _ store.Store = (*DB)(nil)

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time keeps every read-modify-write statement serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	return &DB{db: db, path: path}, nil
}

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.db.Close()
}

// --- parties ---

func (d *DB) GetParty(ctx context.Context, id string) (models.Party, error) {
	var p models.Party
	var role string
	err := d.db.QueryRowContext(ctx,
		`SELECT id, role, name FROM parties WHERE id = ?`, id,
	).Scan(&p.ID, &role, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Party{}, store.ErrNotFound
	}
	if err != nil {
		return models.Party{}, fmt.Errorf("get party: %w", err)
	}
	p.Role = models.Role(role)
	return p, nil
}

func (d *DB) UpsertParty(ctx context.Context, p models.Party) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO parties (id, role, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET role = excluded.role, name = excluded.name`,
		p.ID, string(p.Role), p.Name)
	if err != nil {
		return fmt.Errorf("upsert party: %w", err)
	}
	return nil
}

// --- relationships ---

func (d *DB) FindRelationship(ctx context.Context, a, b string) (models.Relationship, error) {
	var r models.Relationship
	var status string
	var updated int64
	err := d.db.QueryRowContext(ctx, `
		SELECT patient_id, clinician_id, status, updated_at FROM relationships
		WHERE (patient_id = ? AND clinician_id = ?) OR (patient_id = ? AND clinician_id = ?)
		ORDER BY updated_at DESC LIMIT 1`,
		a, b, b, a,
	).Scan(&r.PatientID, &r.ClinicianID, &status, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Relationship{}, store.ErrNotFound
	}
	if err != nil {
		return models.Relationship{}, fmt.Errorf("find relationship: %w", err)
	}
	r.Status = models.RelationshipStatus(status)
	r.UpdatedAt = time.Unix(0, updated).UTC()
	return r, nil
}

func (d *DB) UpsertRelationship(ctx context.Context, r models.Relationship) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO relationships (patient_id, clinician_id, status, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(patient_id, clinician_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		r.PatientID, r.ClinicianID, string(r.Status), r.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert relationship: %w", err)
	}
	return nil
}

// --- rooms ---

func (d *DB) EnsureRoom(ctx context.Context, a, b, newID string, now time.Time) (models.Room, bool, error) {
	pair := models.SortedPair(a, b)
	key := models.PairKey(a, b)

	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO rooms (id, pair_key, party_a, party_b, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pair_key) DO NOTHING`,
		newID, key, pair[0], pair[1], now.UnixNano()); err != nil {
		return models.Room{}, false, fmt.Errorf("insert room: %w", err)
	}

	room, err := d.scanRoom(d.db.QueryRowContext(ctx,
		`SELECT id, pair_key, party_a, party_b, created_at FROM rooms WHERE pair_key = ?`, key))
	if err != nil {
		return models.Room{}, false, err
	}
	return room, room.ID == newID, nil
}

func (d *DB) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	return d.scanRoom(d.db.QueryRowContext(ctx,
		`SELECT id, pair_key, party_a, party_b, created_at FROM rooms WHERE id = ?`, roomID))
}

func (d *DB) scanRoom(row *sql.Row) (models.Room, error) {
	var r models.Room
	var a, b string
	var created int64
	err := row.Scan(&r.ID, &r.PairKey, &a, &b, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, store.ErrNotFound
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("scan room: %w", err)
	}
	r.Participants = []string{a, b}
	r.CreatedAt = time.Unix(0, created).UTC()
	return r, nil
}

// --- sessions ---

func (d *DB) GetSession(ctx context.Context, id string) (models.TherapySession, error) {
	var s models.TherapySession
	var status string
	var userReady, doctorReady int
	var connectedAt sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, doctor_id, status, user_ready, doctor_ready, connected_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.UserID, &s.DoctorID, &status, &userReady, &doctorReady, &connectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TherapySession{}, store.ErrNotFound
	}
	if err != nil {
		return models.TherapySession{}, fmt.Errorf("get session: %w", err)
	}
	s.Status = models.SessionStatus(status)
	s.Readiness = readiness(userReady, doctorReady, connectedAt)
	return s, nil
}

func (d *DB) UpsertSession(ctx context.Context, s models.TherapySession) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, doctor_id, status) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			doctor_id = excluded.doctor_id,
			status = excluded.status`,
		s.ID, s.UserID, s.DoctorID, string(s.Status))
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Column references on the right-hand side of SET see the pre-update row, so the
// flip and the connected_at decision happen in one statement.
const toggleUserReady = `
	UPDATE sessions SET
		user_ready = 1 - user_ready,
		connected_at = CASE WHEN user_ready = 0 AND doctor_ready = 1
			THEN COALESCE(connected_at, ?) ELSE NULL END
	WHERE id = ?
	RETURNING user_ready, doctor_ready, connected_at`

const toggleDoctorReady = `
	UPDATE sessions SET
		doctor_ready = 1 - doctor_ready,
		connected_at = CASE WHEN doctor_ready = 0 AND user_ready = 1
			THEN COALESCE(connected_at, ?) ELSE NULL END
	WHERE id = ?
	RETURNING user_ready, doctor_ready, connected_at`

func (d *DB) ToggleReady(ctx context.Context, sessionID string, side models.Side, now time.Time) (models.Readiness, error) {
	query := toggleUserReady
	if side == models.SideDoctor {
		query = toggleDoctorReady
	}

	var userReady, doctorReady int
	var connectedAt sql.NullInt64
	err := d.db.QueryRowContext(ctx, query, now.UnixNano(), sessionID).
		Scan(&userReady, &doctorReady, &connectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Readiness{}, store.ErrNotFound
	}
	if err != nil {
		return models.Readiness{}, fmt.Errorf("toggle ready: %w", err)
	}
	return readiness(userReady, doctorReady, connectedAt), nil
}

func readiness(userReady, doctorReady int, connectedAt sql.NullInt64) models.Readiness {
	r := models.Readiness{UserReady: userReady == 1, DoctorReady: doctorReady == 1}
	if connectedAt.Valid {
		t := time.Unix(0, connectedAt.Int64).UTC()
		r.ConnectedAt = &t
	}
	return r
}

// --- notifications ---

func (d *DB) InsertNotification(ctx context.Context, n models.Notification) error {
	meta, err := json.Marshal(n.Meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if n.Meta == nil {
		meta = []byte("{}")
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient, actor, type, message, is_read, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Recipient, n.Actor, string(n.Type), n.Message, boolInt(n.Read), string(meta), n.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (d *DB) ListNotifications(ctx context.Context, recipient string, limit int) ([]models.Notification, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, recipient, actor, type, message, is_read, meta, created_at
		FROM notifications WHERE recipient = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, recipient, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]models.Notification, 0, limit)
	for rows.Next() {
		var n models.Notification
		var typ, meta string
		var read int
		var created int64
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Actor, &typ, &n.Message, &read, &meta, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = models.NotificationType(typ)
		n.Read = read == 1
		n.CreatedAt = time.Unix(0, created).UTC()
		n.Meta = map[string]any{}
		if err := json.Unmarshal([]byte(meta), &n.Meta); err != nil {
			return nil, fmt.Errorf("decode meta: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (d *DB) CountUnread(ctx context.Context, recipient string) (int64, error) {
	var n int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient = ? AND is_read = 0`, recipient,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (d *DB) MarkRead(ctx context.Context, recipient string, ids []string) (int64, error) {
	query := `UPDATE notifications SET is_read = 1 WHERE recipient = ? AND is_read = 0`
	args := []any{recipient}
	if len(ids) > 0 {
		query += ` AND id IN (?` + strings.Repeat(`, ?`, len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
