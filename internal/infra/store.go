package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	storeDBName    = "app_gate.db"
	engineStateKey = "engine_state"
	dayLayout      = "2006-01-02"
)

// ErrCorruptState is returned when the persisted snapshot cannot be decoded.
var ErrCorruptState = errors.New("corrupt engine state")

// EncryptedStore keeps the engine snapshot, the durable event log, daily
// usage and the CLI command queue in one SQLCipher database.
type EncryptedStore struct {
	db     *sql.DB
	dbPath string
	loc    *time.Location
}

// NewEncryptedStore opens (or creates) the encrypted store in dataDir.
// Usage days are bucketed in loc (time.Local if nil).
func NewEncryptedStore(dataDir string, key []byte, loc *time.Location) (*EncryptedStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}

	dbPath := filepath.Join(dataDir, storeDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	// A single connection serializes writers from the engine and the monitor.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedStore{db: db, dbPath: dbPath, loc: loc}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *EncryptedStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		type TEXT NOT NULL,
		app_id TEXT NOT NULL DEFAULT '',
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daily_usage (
		app_id TEXT NOT NULL,
		day TEXT NOT NULL,
		minutes REAL NOT NULL,
		PRIMARY KEY (app_id, day)
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		app_id TEXT NOT NULL DEFAULT '',
		minutes INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- domain.StateStore implementation ---

// SaveState replaces the snapshot stored under the engine_state key.
func (s *EncryptedStore) SaveState(ctx context.Context, state domain.EngineState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode engine state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
		engineStateKey, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save engine state: %w", err)
	}
	return nil
}

// LoadState returns the last snapshot, or nil if none was saved.
// An undecodable snapshot yields ErrCorruptState.
func (s *EncryptedStore) LoadState(ctx context.Context) (*domain.EngineState, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, engineStateKey).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load engine state: %w", err)
	}

	var state domain.EngineState
	if err := json.Unmarshal([]byte(value), &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return &state, nil
}

// --- domain.EventSink implementation ---

// LogEvent appends an event to the durable log. Unlike the in-state log it
// is unbounded.
func (s *EncryptedStore) LogEvent(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, app_id, from_state, to_state, timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), event.AppID, string(event.From), string(event.To), event.Timestamp, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to log event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, oldest first.
func (s *EncryptedStore) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM (
			SELECT seq, payload FROM events ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- domain.UsageSource / domain.UsageRecorder implementation ---

// TodayUsage returns the minutes recorded for appID on the day containing now.
func (s *EncryptedStore) TodayUsage(ctx context.Context, appID string, now time.Time) (float64, error) {
	var minutes float64
	err := s.db.QueryRowContext(ctx, `SELECT minutes FROM daily_usage WHERE app_id = ? AND day = ?`,
		usageKey(appID), s.dayKey(now)).Scan(&minutes)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return minutes, nil
}

// AddUsage accumulates minutes for appID on day.
func (s *EncryptedStore) AddUsage(ctx context.Context, appID string, day time.Time, minutes float64) error {
	if minutes <= 0 || appID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_usage (app_id, day, minutes) VALUES (?, ?, ?)
		ON CONFLICT(app_id, day) DO UPDATE SET minutes = minutes + excluded.minutes`,
		usageKey(appID), s.dayKey(day), minutes,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// UsageForDay returns all recorded minutes on the day containing t.
func (s *EncryptedStore) UsageForDay(ctx context.Context, t time.Time) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT app_id, minutes FROM daily_usage WHERE day = ?`, s.dayKey(t))
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	usage := make(map[string]float64)
	for rows.Next() {
		var app string
		var minutes float64
		if err := rows.Scan(&app, &minutes); err != nil {
			return nil, err
		}
		usage[app] = minutes
	}
	return usage, rows.Err()
}

func (s *EncryptedStore) dayKey(t time.Time) string {
	return t.In(s.loc).Format(dayLayout)
}

func usageKey(appID string) string {
	return strings.ToLower(appID)
}

// --- domain.CommandQueue implementation ---

// Enqueue stores a command for the daemon to pick up.
func (s *EncryptedStore) Enqueue(ctx context.Context, cmd domain.Command) error {
	createdAt := cmd.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO commands (kind, app_id, minutes, created_at) VALUES (?, ?, ?, ?)`,
		string(cmd.Kind), cmd.AppID, cmd.Minutes, createdAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue command: %w", err)
	}
	return nil
}

// Drain returns pending commands oldest first and deletes them in the same
// transaction.
func (s *EncryptedStore) Drain(ctx context.Context) ([]domain.Command, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, kind, app_id, minutes, created_at FROM commands ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	var cmds []domain.Command
	for rows.Next() {
		var c domain.Command
		var kind string
		if err := rows.Scan(&c.ID, &kind, &c.AppID, &c.Minutes, &c.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		c.Kind = domain.CommandKind(kind)
		cmds = append(cmds, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(cmds) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM commands WHERE id <= ?`, cmds[len(cmds)-1].ID); err != nil {
		return nil, fmt.Errorf("failed to delete commands: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit drain: %w", err)
	}
	return cmds, nil
}

// Path returns the database file path.
func (s *EncryptedStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure EncryptedStore implements the engine's persistence interfaces.
var (
	_ domain.StateStore    = (*EncryptedStore)(nil)
	_ domain.EventSink     = (*EncryptedStore)(nil)
	_ domain.UsageSource   = (*EncryptedStore)(nil)
	_ domain.UsageRecorder = (*EncryptedStore)(nil)
	_ domain.CommandQueue  = (*EncryptedStore)(nil)
)
