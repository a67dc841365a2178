package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"codetax/internal/temporal"
)

const dateLayout = "2006-01-02"

// Point payloads are small JSON documents; EncodeAll and DecodeAll are safe
// for concurrent use.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// Store provides persistence for history runs in a SQLite database.
type Store struct {
	conn   *sql.DB
	logger *slog.Logger
	dbPath string
}

// OpenStore opens or creates the history database at dbPath
func OpenStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	dbExists := fileExists(dbPath)

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// pragmas are per connection
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	store := &Store{conn: conn, logger: logger, dbPath: dbPath}

	if !dbExists {
		logger.Info("Creating history database", "path", dbPath)
	}
	if err := store.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	return store, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// initializeSchema creates the history tables.
func (s *Store) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			epic_key TEXT NOT NULL,
			taxonomy TEXT,
			from_date TEXT NOT NULL,
			to_date TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			created_at TEXT NOT NULL,
			completed_at TEXT,
			error TEXT,
			collaborators TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_runs_epic_key ON runs(epic_key);

		CREATE TABLE IF NOT EXISTS points (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			date TEXT NOT NULL,
			count INTEGER NOT NULL,
			payload BLOB,
			PRIMARY KEY (run_id, date)
		);

		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);
		INSERT OR REPLACE INTO schema_version (version) VALUES (1);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// CreateRun inserts a new run.
func (s *Store) CreateRun(run *Run) error {
	collaborators, err := json.Marshal(run.Collaborators)
	if err != nil {
		return fmt.Errorf("failed to encode collaborators: %w", err)
	}

	_, err = s.conn.Exec(`
		INSERT INTO runs (id, epic_key, taxonomy, from_date, to_date, status, created_at, completed_at, error, collaborators)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.EpicKey,
		nullString(run.Taxonomy),
		run.From.Format(dateLayout),
		run.To.Format(dateLayout),
		run.Status,
		run.CreatedAt.Format(time.RFC3339),
		nullTime(run.CompletedAt),
		nullString(run.Error),
		string(collaborators),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	s.logger.Debug("Created run", "runId", run.ID, "epicKey", run.EpicKey)
	return nil
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(run *Run) error {
	collaborators, err := json.Marshal(run.Collaborators)
	if err != nil {
		return fmt.Errorf("failed to encode collaborators: %w", err)
	}

	result, err := s.conn.Exec(`
		UPDATE runs SET status = ?, completed_at = ?, error = ?, collaborators = ?
		WHERE id = ?
	`,
		run.Status,
		nullTime(run.CompletedAt),
		nullString(run.Error),
		string(collaborators),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

type pointPayload struct {
	Epics     map[string]int    `json:"epics"`
	Revisions map[string]string `json:"revisions"`
}

// AddPoint stores one point of a run. Per-epic counts and revisions are kept
// as a compressed payload.
func (s *Store) AddPoint(runID string, p temporal.Point) error {
	raw, err := json.Marshal(pointPayload{Epics: p.Epics, Revisions: p.Revisions})
	if err != nil {
		return fmt.Errorf("failed to encode point: %w", err)
	}

	_, err = s.conn.Exec(`
		INSERT OR REPLACE INTO points (run_id, date, count, payload)
		VALUES (?, ?, ?, ?)
	`, runID, p.Date.Format(dateLayout), p.Count, encoder.EncodeAll(raw, nil))
	if err != nil {
		return fmt.Errorf("failed to add point: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. A missing run returns nil without error.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.conn.QueryRow(runSelect+` WHERE r.id = ? GROUP BY r.id`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRuns returns the most recent runs first, optionally for one epic key.
func (s *Store) ListRuns(epicKey string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := runSelect
	var args []interface{}
	if epicKey != "" {
		query += ` WHERE r.epic_key = ?`
		args = append(args, epicKey)
	}
	query += ` GROUP BY r.id ORDER BY r.created_at DESC, r.id LIMIT ?`
	args = append(args, limit)

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Points returns the points of a run in date order.
func (s *Store) Points(runID string) ([]temporal.Point, error) {
	rows, err := s.conn.Query(`
		SELECT date, count, payload FROM points WHERE run_id = ? ORDER BY date ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get points: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var points []temporal.Point
	for rows.Next() {
		var date string
		var p temporal.Point
		var payload []byte
		if err := rows.Scan(&date, &p.Count, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		if p.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("invalid point date %q: %w", date, err)
		}
		if len(payload) > 0 {
			raw, err := decoder.DecodeAll(payload, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress point %s: %w", date, err)
			}
			var pp pointPayload
			if err := json.Unmarshal(raw, &pp); err != nil {
				return nil, fmt.Errorf("failed to decode point %s: %w", date, err)
			}
			p.Epics, p.Revisions = pp.Epics, pp.Revisions
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// DeleteRun removes a run and its points.
func (s *Store) DeleteRun(id string) error {
	_, err := s.conn.Exec(`DELETE FROM runs WHERE id = ?`, id)
	return err
}

const runSelect = `
	SELECT r.id, r.epic_key, r.taxonomy, r.from_date, r.to_date, r.status, r.created_at,
		r.completed_at, r.error, r.collaborators, COUNT(p.date)
	FROM runs r LEFT JOIN points p ON p.run_id = r.id`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var taxonomy, completedAt, errMsg, collaborators sql.NullString
	var from, to, createdAt string

	err := row.Scan(
		&run.ID,
		&run.EpicKey,
		&taxonomy,
		&from,
		&to,
		&run.Status,
		&createdAt,
		&completedAt,
		&errMsg,
		&collaborators,
		&run.PointCount,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Taxonomy = taxonomy.String
	run.Error = errMsg.String
	if t, err := time.Parse(dateLayout, from); err == nil {
		run.From = t
	}
	if t, err := time.Parse(dateLayout, to); err == nil {
		run.To = t
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		run.CreatedAt = t
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			run.CompletedAt = &t
		}
	}
	if collaborators.Valid && collaborators.String != "" {
		if err := json.Unmarshal([]byte(collaborators.String), &run.Collaborators); err != nil {
			return nil, fmt.Errorf("failed to decode collaborators: %w", err)
		}
	}

	return &run, nil
}

// Helper functions for nullable fields
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}
