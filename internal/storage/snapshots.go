// Package storage persists diagnostics documents and status snapshots: as
// timestamped files for operators and in a SQLite history for the CLI.
package storage

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Snapshot kinds.
const (
	KindDiagnostics = "diagnostics"
	KindStatus      = "status"
)

// Snapshot is one stored document.
type Snapshot struct {
	ID       int64
	Kind     string
	TakenAt  time.Time
	Document []byte
}

// Size returns the document length in bytes.
func (s *Snapshot) Size() int {
	return len(s.Document)
}

// SnapshotStore keeps diagnostics and status history in a SQLite database.
type SnapshotStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSnapshotStore opens or creates the database at path.
func NewSnapshotStore(path string) (*SnapshotStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open snapshot database")
	}

	store := &SnapshotStore{db: db, now: time.Now}
	if err := store.initTables(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "unable to initialize snapshot database")
	}
	return store, nil
}

func (s *SnapshotStore) initTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		taken_at INTEGER NOT NULL,
		document BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_kind_taken ON snapshots(kind, taken_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SnapshotStore) insert(kind string, document []byte) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO snapshots (kind, taken_at, document) VALUES (?, ?, ?)`,
		kind,
		s.now().UnixNano(),
		document,
	)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to store %s snapshot", kind)
	}
	return result.LastInsertId()
}

// Persist stores a diagnostics document.
func (s *SnapshotStore) Persist(document []byte) error {
	_, err := s.insert(KindDiagnostics, document)
	return err
}

// RecordStatus stores a raw status report.
func (s *SnapshotStore) RecordStatus(report []byte) error {
	_, err := s.insert(KindStatus, report)
	return err
}

func scanSnapshot(row interface{ Scan(...interface{}) error }) (*Snapshot, error) {
	var snapshot Snapshot
	var takenAt int64
	if err := row.Scan(&snapshot.ID, &snapshot.Kind, &takenAt, &snapshot.Document); err != nil {
		return nil, err
	}
	snapshot.TakenAt = time.Unix(0, takenAt)
	return &snapshot, nil
}

// Get returns the snapshot with the given id.
func (s *SnapshotStore) Get(id int64) (*Snapshot, error) {
	row := s.db.QueryRow(`SELECT id, kind, taken_at, document FROM snapshots WHERE id = ?`, id)
	snapshot, err := scanSnapshot(row)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load snapshot %d", id)
	}
	return snapshot, nil
}

// List returns up to limit snapshots of kind, newest first. A limit of zero
// or less returns all of them.
func (s *SnapshotStore) List(kind string, limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, kind, taken_at, document FROM snapshots WHERE kind = ? ORDER BY taken_at DESC, id DESC LIMIT ?`,
		kind, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list snapshots")
	}
	defer rows.Close()

	var snapshots []*Snapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, errors.Wrap(err, "unable to read snapshot")
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

// Latest returns the newest snapshot of kind, or nil if there is none.
func (s *SnapshotStore) Latest(kind string) (*Snapshot, error) {
	snapshots, err := s.List(kind, 1)
	if err != nil || len(snapshots) == 0 {
		return nil, err
	}
	return snapshots[0], nil
}

// Prune keeps the newest keep snapshots of kind and deletes the rest. It
// returns the number of deleted rows.
func (s *SnapshotStore) Prune(kind string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := s.db.Exec(`
	DELETE FROM snapshots WHERE kind = ? AND id NOT IN (
		SELECT id FROM snapshots WHERE kind = ? ORDER BY taken_at DESC, id DESC LIMIT ?
	)`, kind, kind, keep)
	if err != nil {
		return 0, errors.Wrap(err, "unable to prune snapshots")
	}
	return result.RowsAffected()
}

// Close closes the database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}
