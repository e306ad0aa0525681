// Package queue is the persistent, at-least-once outbound delivery queue:
// a status FSM backed by an embedded SQLite table, with fixed back-off and
// a dead-letter tier for exhausted messages.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is the delivery FSM state, encoded as the integer stored in the
// messages table.
type Status int

const (
	Pending Status = iota
	Processing
	Delivered
	Failed
	DeadLetter
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Processing:
		return "processing"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	case DeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

const defaultMaxAttempts = 5

// backoffSchedule is indexed by attempt_count-1, clamped to the last entry.
var backoffSchedule = []time.Duration{
	1 * time.Second, 5 * time.Second, 15 * time.Second, 60 * time.Second, 300 * time.Second,
}

func backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	return backoffSchedule[idx]
}

// Message is one outbound delivery.
type Message struct {
	ID            string
	Channel       string
	Recipient     string
	Content       string
	ThreadID      string
	SessionKey    string
	CreatedAt     time.Time
	ScheduledAt   *time.Time
	DeliveredAt   *time.Time
	Status        Status
	AttemptCount  int
	MaxAttempts   int
	LastError     string
	NextAttemptAt *time.Time
	Priority      int
}

// EnqueueOptions carries the optional fields of an enqueue call.
type EnqueueOptions struct {
	ThreadID    string
	SessionKey  string
	ScheduledAt *time.Time
	Priority    int
}

// Queue wraps the embedded SQLite delivery table.
type Queue struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite database under
// workspaceDir/.queue/delivery.db, applying schema migrations first.
func Open(workspaceDir string) (*Queue, error) {
	dir := filepath.Join(workspaceDir, ".queue")
	path := filepath.Join(dir, "delivery.db")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("queue: create dir: %w", err)
	}
	if err := applyMigrations(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("queue: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer; SQLite handles one writer at a time anyway

	return &Queue{db: db}, nil
}

// Close releases the underlying database handle.
func (q *Queue) Close() error { return q.db.Close() }

const timeLayout = time.RFC3339Nano

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// Enqueue inserts a new Pending message and returns its id.
func (q *Queue) Enqueue(ctx context.Context, channel, recipient, content string, opts EnqueueOptions) (string, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	maxAttempts := defaultMaxAttempts
	now := time.Now().UTC()

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel, recipient, content, thread_id, session_key, created_at,
			scheduled_at, delivered_at, status, attempt_count, max_attempts, last_error, next_attempt_at, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, 0, ?, NULL, NULL, ?)`,
		id, channel, recipient, content, nullable(opts.ThreadID), nullable(opts.SessionKey),
		now.Format(timeLayout), formatTime(opts.ScheduledAt), int(Pending), maxAttempts, opts.Priority)
	if err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return id, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetPending returns up to limit ready messages, ordered by priority DESC
// then created_at ASC, per the ready predicate in the delivery contract.
func (q *Queue) GetPending(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	now := time.Now().UTC().Format(timeLayout)

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, channel, recipient, content, thread_id, session_key, created_at, scheduled_at,
			delivered_at, status, attempt_count, max_attempts, last_error, next_attempt_at, priority
		FROM messages
		WHERE status IN (?, ?)
		  AND attempt_count < max_attempts
		  AND (scheduled_at IS NULL OR scheduled_at <= ?)
		  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`, int(Pending), int(Failed), now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("queue: get_pending: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var m Message
	var threadID, sessionKey, lastError sql.NullString
	var createdAt string
	var scheduledAt, deliveredAt, nextAttemptAt sql.NullString
	var status int

	err := rows.Scan(&m.ID, &m.Channel, &m.Recipient, &m.Content, &threadID, &sessionKey,
		&createdAt, &scheduledAt, &deliveredAt, &status, &m.AttemptCount, &m.MaxAttempts,
		&lastError, &nextAttemptAt, &m.Priority)
	if err != nil {
		return Message{}, fmt.Errorf("queue: scan message: %w", err)
	}

	m.ThreadID = threadID.String
	m.SessionKey = sessionKey.String
	m.LastError = lastError.String
	m.Status = Status(status)
	if t, err := time.Parse(timeLayout, createdAt); err == nil {
		m.CreatedAt = t
	}
	m.ScheduledAt = parseTime(scheduledAt)
	m.DeliveredAt = parseTime(deliveredAt)
	m.NextAttemptAt = parseTime(nextAttemptAt)
	return m, nil
}

// MarkProcessing atomically moves a message to Processing and increments
// its attempt count. This is the reserve step; it must not be called
// concurrently by more than one worker for the same message.
func (q *Queue) MarkProcessing(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, attempt_count = attempt_count + 1 WHERE id = ?`,
		int(Processing), id)
	if err != nil {
		return fmt.Errorf("queue: mark_processing: %w", err)
	}
	return requireRowAffected(res, id)
}

// MarkDelivered transitions a message to the terminal Delivered state.
func (q *Queue) MarkDelivered(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := q.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, delivered_at = ?, next_attempt_at = NULL WHERE id = ?`,
		int(Delivered), now, id)
	if err != nil {
		return fmt.Errorf("queue: mark_delivered: %w", err)
	}
	return requireRowAffected(res, id)
}

// MarkFailed records a failed delivery attempt. If the message has
// exhausted max_attempts, it moves to DeadLetter instead of Failed.
func (q *Queue) MarkFailed(ctx context.Context, id string, sendErr error) error {
	row := q.db.QueryRowContext(ctx, `SELECT attempt_count, max_attempts FROM messages WHERE id = ?`, id)
	var attempts, maxAttempts int
	if err := row.Scan(&attempts, &maxAttempts); err != nil {
		return fmt.Errorf("queue: mark_failed: lookup: %w", err)
	}

	errMsg := ""
	if sendErr != nil {
		errMsg = sendErr.Error()
	}

	if attempts >= maxAttempts {
		res, err := q.db.ExecContext(ctx, `
			UPDATE messages SET status = ?, last_error = ?, next_attempt_at = NULL WHERE id = ?`,
			int(DeadLetter), errMsg, id)
		if err != nil {
			return fmt.Errorf("queue: mark_failed: dead_letter: %w", err)
		}
		return requireRowAffected(res, id)
	}

	next := time.Now().UTC().Add(backoffFor(attempts)).Format(timeLayout)
	res, err := q.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, last_error = ?, next_attempt_at = ? WHERE id = ?`,
		int(Failed), errMsg, next, id)
	if err != nil {
		return fmt.Errorf("queue: mark_failed: %w", err)
	}
	return requireRowAffected(res, id)
}

func requireRowAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("queue: message %q not found", id)
	}
	return nil
}

// Stats is one count per delivery status plus the overall total.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
	DeadLetter int `json:"dead_letter"`
	Total      int `json:"total"`
}

// GetStats tallies messages per status.
func (q *Queue) GetStats(ctx context.Context) (Stats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("queue: get_stats: %w", err)
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var status, count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("queue: scan stats: %w", err)
		}
		switch Status(status) {
		case Pending:
			s.Pending = count
		case Processing:
			s.Processing = count
		case Delivered:
			s.Delivered = count
		case Failed:
			s.Failed = count
		case DeadLetter:
			s.DeadLetter = count
		}
		s.Total += count
	}
	return s, rows.Err()
}

// GetDeadLetters returns up to limit dead-lettered messages, newest first.
func (q *Queue) GetDeadLetters(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, channel, recipient, content, thread_id, session_key, created_at, scheduled_at,
			delivered_at, status, attempt_count, max_attempts, last_error, next_attempt_at, priority
		FROM messages WHERE status = ? ORDER BY created_at DESC LIMIT ?`, int(DeadLetter), limit)
	if err != nil {
		return nil, fmt.Errorf("queue: get_dead_letters: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RetryDeadLetter is the only allowed reverse transition: it resets a
// dead-lettered message back to Pending with a clean attempt count.
func (q *Queue) RetryDeadLetter(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, attempt_count = 0, last_error = NULL, next_attempt_at = NULL
		WHERE id = ? AND status = ?`, int(Pending), id, int(DeadLetter))
	if err != nil {
		return fmt.Errorf("queue: retry_dead_letter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("queue: message %q is not in dead_letter status", id)
	}
	return nil
}
