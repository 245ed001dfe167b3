package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no CGO
)

// zeroResultRetention is how many zero-result questions the database
// keeps (FIFO).
const zeroResultRetention = 100

// Store defines persistence for question metrics. All Save methods
// add to any counts already stored for the date.
type Store interface {
	SaveTypeCounts(date string, counts map[string]int64) error
	GetTypeCounts(from, to string) (map[string]int64, error)

	SaveModeCounts(date string, counts map[string]int64) error
	GetModeCounts(from, to string) (map[string]int64, error)

	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)

	SaveStageLatencies(date string, stages map[Stage]StageAgg) error
	GetStageLatencies(from, to string) (map[Stage]StageAgg, error)

	SaveCacheCounts(date string, kinds map[string]int64) error
	GetCacheCounts(from, to string) (map[string]int64, error)

	AddZeroResult(question, namespace string, at time.Time) error
	GetZeroResults(limit int) ([]ZeroResult, error)

	Close() error
}

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	ownsDB bool
}

var _ Store = (*SQLiteStore)(nil)

// NewStore wraps an existing database connection. The schema must
// already exist (InitSchema) and Close leaves the connection open.
func NewStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteStore{db: db}, nil
}

// OpenStore opens (creating if needed) the metrics database at path
// and initializes the schema. Close closes the connection.
func OpenStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}

	// Single writer; telemetry volume never needs more.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores DSN pragmas; set them via statements.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, ownsDB: true}, nil
}

// InitSchema creates the metrics tables if they don't exist.
func InitSchema(db *sql.DB) error {
	schema := `
	-- Question type frequency (aggregated daily)
	CREATE TABLE IF NOT EXISTS question_type_stats (
		date TEXT NOT NULL,
		question_type TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, question_type)
	);

	-- Answer mode frequency (rag vs pure_llm, aggregated daily)
	CREATE TABLE IF NOT EXISTS answer_mode_stats (
		date TEXT NOT NULL,
		mode TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, mode)
	);

	-- Whole-question latency histogram
	CREATE TABLE IF NOT EXISTS latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);

	-- Per-stage latency aggregates
	CREATE TABLE IF NOT EXISTS stage_latency_stats (
		date TEXT NOT NULL,
		stage TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		total_ms INTEGER NOT NULL DEFAULT 0,
		max_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, stage)
	);

	-- Cache outcomes (exact / semantic / miss, aggregated daily)
	CREATE TABLE IF NOT EXISTS cache_stats (
		date TEXT NOT NULL,
		kind TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, kind)
	);

	-- Zero-result questions (FIFO, capped)
	CREATE TABLE IF NOT EXISTS zero_result_questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question TEXT NOT NULL,
		namespace TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// saveCounts upserts date-keyed counts into one of the count tables.
func (s *SQLiteStore) saveCounts(table, keyColumn, date string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT INTO %s (date, %s, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, %s) DO UPDATE SET count = count + excluded.count
	`, table, keyColumn, keyColumn))
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for key, count := range counts {
		if _, err := stmt.Exec(date, key, count); err != nil {
			return fmt.Errorf("insert %s count: %w", table, err)
		}
	}
	return tx.Commit()
}

// getCounts sums date-keyed counts over a date range.
func (s *SQLiteStore) getCounts(table, keyColumn, from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s, SUM(count) AS total
		FROM %s
		WHERE date >= ? AND date <= ?
		GROUP BY %s
	`, keyColumn, table, keyColumn), from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) SaveTypeCounts(date string, counts map[string]int64) error {
	return s.saveCounts("question_type_stats", "question_type", date, counts)
}

func (s *SQLiteStore) GetTypeCounts(from, to string) (map[string]int64, error) {
	return s.getCounts("question_type_stats", "question_type", from, to)
}

func (s *SQLiteStore) SaveModeCounts(date string, counts map[string]int64) error {
	return s.saveCounts("answer_mode_stats", "mode", date, counts)
}

func (s *SQLiteStore) GetModeCounts(from, to string) (map[string]int64, error) {
	return s.getCounts("answer_mode_stats", "mode", from, to)
}

func (s *SQLiteStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	plain := make(map[string]int64, len(counts))
	for k, v := range counts {
		plain[string(k)] = v
	}
	return s.saveCounts("latency_stats", "bucket", date, plain)
}

func (s *SQLiteStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	plain, err := s.getCounts("latency_stats", "bucket", from, to)
	if err != nil {
		return nil, err
	}
	counts := make(map[LatencyBucket]int64, len(plain))
	for k, v := range plain {
		counts[LatencyBucket(k)] = v
	}
	return counts, nil
}

func (s *SQLiteStore) SaveCacheCounts(date string, kinds map[string]int64) error {
	return s.saveCounts("cache_stats", "kind", date, kinds)
}

func (s *SQLiteStore) GetCacheCounts(from, to string) (map[string]int64, error) {
	return s.getCounts("cache_stats", "kind", from, to)
}

// SaveStageLatencies upserts per-stage aggregates: counts and totals
// add, the max keeps the larger value.
func (s *SQLiteStore) SaveStageLatencies(date string, stages map[Stage]StageAgg) error {
	if len(stages) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO stage_latency_stats (date, stage, count, total_ms, max_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date, stage) DO UPDATE SET
			count = count + excluded.count,
			total_ms = total_ms + excluded.total_ms,
			max_ms = MAX(max_ms, excluded.max_ms)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for stage, agg := range stages {
		if _, err := stmt.Exec(date, string(stage), agg.Count, agg.TotalMs, agg.MaxMs); err != nil {
			return fmt.Errorf("insert stage latency: %w", err)
		}
	}
	return tx.Commit()
}

// GetStageLatencies sums per-stage aggregates over a date range.
func (s *SQLiteStore) GetStageLatencies(from, to string) (map[Stage]StageAgg, error) {
	rows, err := s.db.Query(`
		SELECT stage, SUM(count), SUM(total_ms), MAX(max_ms)
		FROM stage_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY stage
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query stage latencies: %w", err)
	}
	defer rows.Close()

	stages := make(map[Stage]StageAgg)
	for rows.Next() {
		var stage string
		var agg StageAgg
		if err := rows.Scan(&stage, &agg.Count, &agg.TotalMs, &agg.MaxMs); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		stages[Stage(stage)] = agg
	}
	return stages, rows.Err()
}

// AddZeroResult appends a zero-result question and trims the table to
// its retention cap, oldest first.
func (s *SQLiteStore) AddZeroResult(question, namespace string, at time.Time) error {
	if _, err := s.db.Exec(`
		INSERT INTO zero_result_questions (question, namespace, timestamp)
		VALUES (?, ?, ?)
	`, question, namespace, at); err != nil {
		return fmt.Errorf("insert zero-result question: %w", err)
	}

	if _, err := s.db.Exec(`
		DELETE FROM zero_result_questions
		WHERE id NOT IN (
			SELECT id FROM zero_result_questions
			ORDER BY id DESC
			LIMIT ?
		)
	`, zeroResultRetention); err != nil {
		return fmt.Errorf("trim zero-result questions: %w", err)
	}
	return nil
}

// GetZeroResults retrieves recent zero-result questions, newest first.
func (s *SQLiteStore) GetZeroResults(limit int) ([]ZeroResult, error) {
	rows, err := s.db.Query(`
		SELECT question, namespace, timestamp
		FROM zero_result_questions
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result questions: %w", err)
	}
	defer rows.Close()

	var results []ZeroResult
	for rows.Next() {
		var zr ZeroResult
		if err := rows.Scan(&zr.Question, &zr.Namespace, &zr.At); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, zr)
	}
	return results, rows.Err()
}

// Close releases the connection when this store opened it; injected
// connections stay open for their owner.
func (s *SQLiteStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
