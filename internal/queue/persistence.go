package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/JanekDr/music-hub/internal/catalog"
	_ "modernc.org/sqlite"
)

// SnapshotStore caches the queue locally in SQLite so the transport bar can
// be restored when the hub is unreachable. The hub remains the source of
// truth; this is a best-effort mirror.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore opens (or creates) the store at dbPath. An empty path
// uses the default location under the user config dir.
func NewSnapshotStore(dbPath string) (*SnapshotStore, error) {
	if dbPath == "" {
		var err error
		dbPath, err = defaultSnapshotPath()
		if err != nil {
			return nil, fmt.Errorf("resolve queue db path: %w", err)
		}
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}

	store := &SnapshotStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func defaultSnapshotPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	base := filepath.Join(dir, "musichub", "state")
	if runtime.GOOS == "windows" {
		base = filepath.Join(dir, "MusicHub", "state")
	}
	return filepath.Join(base, "queue.db"), nil
}

func (s *SnapshotStore) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS queue_entries (
			position INTEGER PRIMARY KEY,
			entry_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			track_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS queue_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			current_index INTEGER NOT NULL DEFAULT -1
		);`,
		`INSERT OR IGNORE INTO queue_state (id, current_index) VALUES (1, -1);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate queue schema: %w", err)
		}
	}
	return nil
}

// Save persists the queue snapshot.
func (s *SnapshotStore) Save(ctx context.Context, q *Queue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_entries`); err != nil {
		return fmt.Errorf("clear queue entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO queue_entries (position, entry_id, platform, track_json)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range q.Entries() {
		trackJSON, err := json.Marshal(e.Track)
		if err != nil {
			return fmt.Errorf("marshal track %s: %w", e.Track.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, e.EntryID, string(e.Track.Platform), string(trackJSON)); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.EntryID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE queue_state SET current_index = ? WHERE id = 1`, q.CurrentIndex()); err != nil {
		return fmt.Errorf("update queue state: %w", err)
	}
	return tx.Commit()
}

// LoadResult is the restored queue snapshot.
type LoadResult struct {
	Entries      []catalog.QueueEntry
	CurrentIndex int
}

// Load restores the queue snapshot, clamping a stale cursor into range.
func (s *SnapshotStore) Load(ctx context.Context) (LoadResult, error) {
	result := LoadResult{CurrentIndex: -1}

	err := s.db.QueryRowContext(ctx, `SELECT current_index FROM queue_state WHERE id = 1`).
		Scan(&result.CurrentIndex)
	if err != nil && err != sql.ErrNoRows {
		return result, fmt.Errorf("load queue state: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, track_json FROM queue_entries ORDER BY position ASC`)
	if err != nil {
		return result, fmt.Errorf("load queue entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entryID, trackJSON string
		if err := rows.Scan(&entryID, &trackJSON); err != nil {
			return result, fmt.Errorf("scan entry: %w", err)
		}
		var track catalog.Track
		if err := json.Unmarshal([]byte(trackJSON), &track); err != nil {
			// Skip corrupted entries
			continue
		}
		result.Entries = append(result.Entries, catalog.QueueEntry{EntryID: entryID, Track: track})
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("iterate entries: %w", err)
	}

	if result.CurrentIndex >= len(result.Entries) {
		result.CurrentIndex = len(result.Entries) - 1
	}
	if result.CurrentIndex < 0 && len(result.Entries) > 0 {
		result.CurrentIndex = 0
	}
	return result, nil
}

// Clear removes all persisted queue data.
func (s *SnapshotStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_entries`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE queue_state SET current_index = -1 WHERE id = 1`); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SnapshotStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
