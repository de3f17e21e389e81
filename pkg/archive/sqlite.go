package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"crisis-monitor/pkg/errors"
	"crisis-monitor/pkg/session"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStore archives every ended session in a SQLite database. Rows are
// keyed by monotonic ULID so key order is insertion order.
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Entry

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewSQLiteStore opens or creates the database at path
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	if path == "" {
		path = filepath.Join("data", "archive.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		logger:  logger.WithField("component", "sqlite_archive"),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive db: %w", err)
	}

	s.logger.WithField("path", path).Info("SQLite summary archive initialized")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS session_summaries (
		id                   TEXT PRIMARY KEY,
		call_id              TEXT NOT NULL,
		ended_at             TEXT NOT NULL,
		end_reason           TEXT NOT NULL,
		max_crisis_risk      INTEGER NOT NULL,
		escalation_triggered INTEGER NOT NULL,
		data                 TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_call ON session_summaries(call_id, id DESC);
	`)
	return err
}

func (s *SQLiteStore) newID(t time.Time) string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// Save implements Store
func (s *SQLiteStore) Save(ctx context.Context, summary *session.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	escalated := 0
	if summary.EscalationTriggered {
		escalated = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_summaries (id, call_id, ended_at, end_reason, max_crisis_risk, escalation_triggered, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.newID(time.Now()), summary.CallID, summary.EndedAt.UTC().Format(time.RFC3339Nano),
		string(summary.EndReason), summary.MaxCrisisRisk, escalated, string(data),
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// Get implements Store, returning the most recent summary for the call
func (s *SQLiteStore) Get(ctx context.Context, callID string) (*session.Summary, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM session_summaries WHERE call_id = ? ORDER BY id DESC LIMIT 1`, callID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("no archived summary", map[string]interface{}{"call_id": callID})
	}
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	return decodeSummary(data)
}

// List implements Store
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*session.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM session_summaries ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	out := []*session.Summary{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		summary, err := decodeSummary(data)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// Close implements Store
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeSummary(data string) (*session.Summary, error) {
	var summary session.Summary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	return &summary, nil
}
