package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sinricsync/sinric-bridge/internal/cloud"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Change sources recorded in the history table.
const (
	// SourceStream marks changes delivered by the portal event stream.
	SourceStream = "stream"
	// SourceDiscovery marks snapshots seeded from the portal inventory.
	SourceDiscovery = "discovery"
)

// StateRecord is a persisted device snapshot.
type StateRecord struct {
	DeviceID  string
	Kind      Kind
	Name      string
	State     State
	UpdatedAt time.Time
}

// HistoryEntry is one row of the append-only state change history.
type HistoryEntry struct {
	ID        int64
	DeviceID  string
	Action    cloud.Action
	State     State
	Source    string
	CreatedAt time.Time
}

// Store persists device state to SQLite.
//
// It keeps two tables: device_states holds the latest snapshot per device
// (the warm-start restore source), device_state_history holds every change
// for the API's history endpoint.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open SQLite connection.
//
// Parameters:
//   - db: Open SQLite connection, already migrated
//
// Returns:
//   - *Store: Store instance ready for use
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveState upserts the latest snapshot for a device.
func (s *Store) SaveState(ctx context.Context, d *Device) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("%w: missing device", ErrInvalidDevice)
	}

	stateJSON, err := json.Marshal(d.State())
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO device_states (device_id, kind, name, state, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(device_id) DO UPDATE SET
		     kind = excluded.kind,
		     name = excluded.name,
		     state = excluded.state,
		     updated_at = CURRENT_TIMESTAMP`,
		d.ID, string(d.Kind), d.Name, string(stateJSON),
	)
	if err != nil {
		return fmt.Errorf("upserting device state: %w", err)
	}
	return nil
}

// LoadState returns the persisted snapshot for one device.
// Returns ErrStateNotFound if the device has never been saved.
func (s *Store) LoadState(ctx context.Context, deviceID string) (StateRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT device_id, kind, name, state, updated_at
		 FROM device_states WHERE device_id = ?`,
		deviceID,
	)

	record, err := scanStateRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StateRecord{}, fmt.Errorf("%w: %s", ErrStateNotFound, deviceID)
	}
	return record, err
}

// LoadAll returns every persisted snapshot keyed by device ID. Used at
// startup to restore state before the portal answers.
func (s *Store) LoadAll(ctx context.Context) (map[string]StateRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, kind, name, state, updated_at FROM device_states`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying device states: %w", err)
	}
	defer rows.Close()

	records := make(map[string]StateRecord)
	for rows.Next() {
		record, err := scanStateRecord(rows)
		if err != nil {
			return nil, err
		}
		records[record.DeviceID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device states: %w", err)
	}
	return records, nil
}

// RecordChange appends one entry to the state change history.
func (s *Store) RecordChange(ctx context.Context, deviceID string, action cloud.Action, state State, source string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: missing device id", ErrInvalidDevice)
	}
	if source == "" {
		source = SourceStream
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO device_state_history (device_id, action, state, source)
		 VALUES (?, ?, ?, ?)`,
		deviceID, string(action), string(stateJSON), source,
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// History returns recent changes for a device, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Unique device identifier
//   - limit: Maximum entries to return (default 50, max 200)
func (s *Store) History(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: missing device id", ErrInvalidDevice)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, action, state, source, created_at
		 FROM device_state_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var entry HistoryEntry
		var action, stateJSON string
		var createdAt time.Time

		if err := rows.Scan(&entry.ID, &entry.DeviceID, &action, &stateJSON, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &entry.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state: %w", err)
		}
		entry.Action = cloud.Action(action)
		entry.CreatedAt = createdAt
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes history entries older than the retention window.
// Returns the number of rows removed.
func (s *Store) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format("2006-01-02 15:04:05")
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM device_state_history WHERE created_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}
	return result.RowsAffected()
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanStateRecord(row scanner) (StateRecord, error) {
	var record StateRecord
	var kind, stateJSON string
	var updatedAt time.Time

	if err := row.Scan(&record.DeviceID, &kind, &record.Name, &stateJSON, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StateRecord{}, err
		}
		return StateRecord{}, fmt.Errorf("scanning device state: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &record.State); err != nil {
		return StateRecord{}, fmt.Errorf("unmarshalling state: %w", err)
	}
	record.Kind = Kind(kind)
	record.UpdatedAt = updatedAt
	return record, nil
}
