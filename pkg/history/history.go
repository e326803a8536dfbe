package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shaneisley/sigmashift/pkg/sampling"
	"github.com/shaneisley/sigmashift/pkg/shift"
)

// schemaVersion is stored in PRAGMA user_version. Opening a cache written
// with an older schema drops its results.
const schemaVersion = 2

// ErrNotFound is returned by Lookup when no result is cached for a key
var ErrNotFound = errors.New("no cached result")

// Key identifies a search. Searches are deterministic, so equal keys always
// produce equal results. The model's sampling settings are part of the key
// because a presets file can redefine a name.
type Key struct {
	Model      string  `json:"model"`
	Multiplier float64 `json:"multiplier"`
	Timesteps  int     `json:"timesteps"`
	Scheduler  string  `json:"scheduler"`
	StepsHigh  int     `json:"steps_high"`
	StepsLow   int     `json:"steps_low"`
	Denoise    float64 `json:"denoise"`
	Boundary   float64 `json:"boundary"`
	Interval   float64 `json:"interval"`
}

// KeyFor builds the cache key of a request against a model
func KeyFor(model sampling.ModelConfig, req shift.Request) Key {
	return Key{
		Model:      model.Name,
		Multiplier: model.Multiplier,
		Timesteps:  model.Timesteps,
		Scheduler:  req.Scheduler,
		StepsHigh:  req.StepsHigh,
		StepsLow:   req.StepsLow,
		Denoise:    req.Denoise,
		Boundary:   req.Boundary,
		Interval:   req.Interval,
	}
}

// Entry is a cached search result
type Entry struct {
	Key
	Shift      float64          `json:"shift"`
	RawShift   float64          `json:"raw_shift"`
	Iterations int              `json:"iterations"`
	Stop       shift.StopReason `json:"stop"`
	Cause      string           `json:"cause,omitempty"`
	Sigmas     []float64        `json:"sigmas"`
	Hits       int              `json:"hits"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// NewEntry captures a result for storage
func NewEntry(key Key, result *shift.Result) *Entry {
	sigmas := make([]float64, len(result.Full))
	copy(sigmas, result.Full)
	entry := &Entry{
		Key:        key,
		Shift:      result.Shift,
		RawShift:   result.RawShift,
		Iterations: result.Iterations,
		Stop:       result.Stop,
		Sigmas:     sigmas,
	}
	if result.Cause != nil {
		entry.Cause = result.Cause.Error()
	}
	return entry
}

// Result rebuilds the search result, splitting the stored sequence again.
// The cause comes back as plain text; Original is left for the caller.
func (e *Entry) Result() (*shift.Result, error) {
	full := make([]float64, len(e.Sigmas))
	copy(full, e.Sigmas)

	high, low, err := shift.Split(full, e.StepsHigh)
	if err != nil {
		return nil, fmt.Errorf("corrupt cache entry: %w", err)
	}
	result := &shift.Result{
		Shift:      e.Shift,
		RawShift:   e.RawShift,
		TotalSteps: e.StepsHigh + e.StepsLow,
		StepsHigh:  e.StepsHigh,
		StepsLow:   e.StepsLow,
		Full:       full,
		High:       high,
		Low:        low,
		Iterations: e.Iterations,
		Stop:       e.Stop,
	}
	if e.Cause != "" {
		result.Cause = errors.New(e.Cause)
	}
	return result, nil
}

// Store manages the SQLite result cache
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates or opens the cache at dbPath
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serializes
	// writers on the file.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: dbPath, now: time.Now}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version < schemaVersion {
		if _, err := s.db.Exec("DROP TABLE IF EXISTS search_results"); err != nil {
			return err
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS search_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		model TEXT NOT NULL,
		multiplier REAL NOT NULL,
		timesteps INTEGER NOT NULL,
		scheduler TEXT NOT NULL,
		steps_high INTEGER NOT NULL,
		steps_low INTEGER NOT NULL,
		denoise REAL NOT NULL,
		boundary REAL NOT NULL,
		step_interval REAL NOT NULL,
		shift REAL NOT NULL,
		raw_shift REAL NOT NULL,
		iterations INTEGER NOT NULL,
		stop TEXT NOT NULL,
		cause TEXT NOT NULL DEFAULT '',
		sigmas TEXT NOT NULL,
		hits INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(model, multiplier, timesteps, scheduler, steps_high, steps_low, denoise, boundary, step_interval)
	);

	CREATE INDEX IF NOT EXISTS idx_search_results_updated ON search_results(updated_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

// Save stores an entry, replacing any previous result for the same key
func (s *Store) Save(entry *Entry) error {
	sigmas, err := json.Marshal(entry.Sigmas)
	if err != nil {
		return fmt.Errorf("failed to encode sigmas: %w", err)
	}

	query := `
	INSERT INTO search_results (
		model, multiplier, timesteps, scheduler, steps_high, steps_low, denoise, boundary, step_interval,
		shift, raw_shift, iterations, stop, cause, sigmas, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(model, multiplier, timesteps, scheduler, steps_high, steps_low, denoise, boundary, step_interval)
	DO UPDATE SET
		shift = excluded.shift,
		raw_shift = excluded.raw_shift,
		iterations = excluded.iterations,
		stop = excluded.stop,
		cause = excluded.cause,
		sigmas = excluded.sigmas,
		updated_at = excluded.updated_at`

	now := s.now().Unix()
	_, err = s.db.Exec(query,
		entry.Model, entry.Multiplier, entry.Timesteps, entry.Scheduler, entry.StepsHigh,
		entry.StepsLow, entry.Denoise, entry.Boundary, entry.Interval, entry.Shift, entry.RawShift,
		entry.Iterations, string(entry.Stop), entry.Cause, string(sigmas), now, now)
	return err
}

// Lookup returns the cached entry for key and counts the hit
func (s *Store) Lookup(key Key) (*Entry, error) {
	query := `SELECT ` + entryColumns + `
	FROM search_results
	WHERE ` + keyMatch

	row := s.db.QueryRow(query, key.args()...)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(`UPDATE search_results SET hits = hits + 1 WHERE `+keyMatch, key.args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to record cache hit: %w", err)
	}
	entry.Hits++
	return entry, nil
}

// List returns up to limit entries, most recently updated first. A limit of
// zero or less returns everything.
func (s *Store) List(limit int) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + `
	FROM search_results
	ORDER BY updated_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Cleanup removes entries not updated within maxAge and returns how many
// were deleted
func (s *Store) Cleanup(maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge).Unix()

	res, err := s.db.Exec("DELETE FROM search_results WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired results: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns cache statistics
func (s *Store) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM search_results").Scan(&count); err != nil {
		return nil, err
	}
	stats["entry_count"] = count

	var hits sql.NullInt64
	if err := s.db.QueryRow("SELECT SUM(hits) FROM search_results").Scan(&hits); err != nil {
		return nil, err
	}
	stats["total_hits"] = hits.Int64

	var lastUpdated sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(updated_at) FROM search_results").Scan(&lastUpdated); err != nil {
		return nil, err
	}
	if lastUpdated.Valid {
		stats["last_updated"] = time.Unix(lastUpdated.Int64, 0)
	}

	if info, err := os.Stat(s.path); err == nil {
		stats["database_size_bytes"] = info.Size()
	}

	return stats, nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const entryColumns = `model, multiplier, timesteps, scheduler, steps_high, steps_low, denoise,
	       boundary, step_interval, shift, raw_shift, iterations, stop, cause, sigmas, hits,
	       created_at, updated_at`

const keyMatch = `model = ? AND multiplier = ? AND timesteps = ? AND scheduler = ?
	  AND steps_high = ? AND steps_low = ? AND denoise = ? AND boundary = ? AND step_interval = ?`

func (k Key) args() []interface{} {
	return []interface{}{k.Model, k.Multiplier, k.Timesteps, k.Scheduler,
		k.StepsHigh, k.StepsLow, k.Denoise, k.Boundary, k.Interval}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	entry := &Entry{}
	var stop, sigmas string
	var createdAt, updatedAt int64

	err := row.Scan(
		&entry.Model, &entry.Multiplier, &entry.Timesteps, &entry.Scheduler, &entry.StepsHigh,
		&entry.StepsLow, &entry.Denoise, &entry.Boundary, &entry.Interval, &entry.Shift,
		&entry.RawShift, &entry.Iterations, &stop, &entry.Cause, &sigmas, &entry.Hits,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(sigmas), &entry.Sigmas); err != nil {
		return nil, fmt.Errorf("failed to decode sigmas: %w", err)
	}
	entry.Stop = shift.StopReason(stop)
	entry.CreatedAt = time.Unix(createdAt, 0)
	entry.UpdatedAt = time.Unix(updatedAt, 0)
	return entry, nil
}

// DefaultPath returns the default location of the cache database
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "sigmashift-history.db")
	}
	return filepath.Join(homeDir, ".sigmashift", "history.db")
}
