// Package store is the durable local state: the paired-device identifier,
// the optimistic incident log, and the encrypted auth session.
package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kavach/kavach/internal/state"
)

// Fixed key-value keys.
const (
	keyPairedDevice = "paired_device_id"
	keyAuthSession  = "auth_session"
)

// AuthSession is the persisted auth slice, encrypted at rest.
type AuthSession struct {
	Token string         `json:"token"`
	User  map[string]any `json:"user,omitempty"`
}

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db  *sql.DB
	box *SecretBox
}

// Open initializes the database connection, creating directories as
// needed. The box seals the auth session; it may be nil when no auth data
// will be stored.
func Open(path string, box *SecretBox) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db, box: box}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			triggered_at INTEGER NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			mode TEXT NOT NULL,
			device_id TEXT NOT NULL,
			device_info TEXT NOT NULL,
			ip TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			contacts_alerted INTEGER NOT NULL DEFAULT 0,
			submitted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_triggered_at
			ON incidents(triggered_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// --- key-value ---

func (s *Store) getKV(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) setKV(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) deleteKV(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// PairedDeviceID returns the persisted identifier, "" when none is stored.
func (s *Store) PairedDeviceID(ctx context.Context) (string, error) {
	return s.getKV(ctx, keyPairedDevice)
}

// SetPairedDeviceID persists the identifier of the paired wearable.
func (s *Store) SetPairedDeviceID(ctx context.Context, id string) error {
	return s.setKV(ctx, keyPairedDevice, id)
}

// ClearPairedDeviceID removes the persisted identifier.
func (s *Store) ClearPairedDeviceID(ctx context.Context) error {
	return s.deleteKV(ctx, keyPairedDevice)
}

// --- auth session ---

// SaveAuth seals and persists the auth session.
func (s *Store) SaveAuth(ctx context.Context, sess *AuthSession) error {
	if s.box == nil {
		return fmt.Errorf("save auth: no encryption key configured")
	}
	plain, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("save auth: %w", err)
	}
	sealed, err := s.box.Seal(plain)
	if err != nil {
		return fmt.Errorf("save auth: %w", err)
	}
	return s.setKV(ctx, keyAuthSession, base64.StdEncoding.EncodeToString(sealed))
}

// LoadAuth returns the persisted auth session, or nil when none is stored.
func (s *Store) LoadAuth(ctx context.Context) (*AuthSession, error) {
	raw, err := s.getKV(ctx, keyAuthSession)
	if err != nil || raw == "" {
		return nil, err
	}
	if s.box == nil {
		return nil, fmt.Errorf("load auth: no encryption key configured")
	}
	sealed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("load auth: %w", err)
	}
	plain, err := s.box.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("load auth: %w", err)
	}
	var sess AuthSession
	if err := json.Unmarshal(plain, &sess); err != nil {
		return nil, fmt.Errorf("load auth: %w", err)
	}
	return &sess, nil
}

// ClearAuth removes the persisted auth session.
func (s *Store) ClearAuth(ctx context.Context) error {
	return s.deleteKV(ctx, keyAuthSession)
}

// --- incidents ---

// AppendIncident inserts an incident row. Local record-keeping is
// independent of backend success; callers insert before submitting.
func (s *Store) AppendIncident(ctx context.Context, inc state.Incident) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents
			(id, triggered_at, latitude, longitude, mode, device_id, device_info, ip, status, contacts_alerted, submitted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.TriggeredAt.UnixMilli(), inc.Latitude, inc.Longitude, inc.Mode,
		inc.DeviceID, inc.DeviceInfo, inc.IP, inc.Status, inc.ContactsAlerted, boolToInt(inc.Submitted))
	if err != nil {
		return fmt.Errorf("append incident: %w", err)
	}
	return nil
}

// MarkSubmitted records backend acknowledgement for an incident.
func (s *Store) MarkSubmitted(ctx context.Context, id, status string, contactsAlerted int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE incidents SET submitted = 1, status = ?, contacts_alerted = ? WHERE id = ?`,
		status, contactsAlerted, id)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	return nil
}

// Incidents returns the stored incidents, most recent first.
func (s *Store) Incidents(ctx context.Context) ([]state.Incident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, triggered_at, latitude, longitude, mode, device_id, device_info, ip, status, contacts_alerted, submitted
		 FROM incidents ORDER BY triggered_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var result []state.Incident
	for rows.Next() {
		var inc state.Incident
		var triggeredAt int64
		var submitted int
		if err := rows.Scan(&inc.ID, &triggeredAt, &inc.Latitude, &inc.Longitude, &inc.Mode,
			&inc.DeviceID, &inc.DeviceInfo, &inc.IP, &inc.Status, &inc.ContactsAlerted, &submitted); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.TriggeredAt = time.UnixMilli(triggeredAt)
		inc.Submitted = submitted != 0
		result = append(result, inc)
	}
	return result, rows.Err()
}

// DeleteIncident removes one incident by id.
func (s *Store) DeleteIncident(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM incidents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	return nil
}

// ClearAll wipes everything: incidents, auth, paired device. Used on
// logout/full data clear.
func (s *Store) ClearAll(ctx context.Context) error {
	for _, stmt := range []string{`DELETE FROM incidents`, `DELETE FROM kv`} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
