package queue

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"smig-go/internal/smig"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const queueSchema = `
CREATE TABLE IF NOT EXISTS queue_messages (
    id             TEXT PRIMARY KEY,
    body           BLOB NOT NULL,
    delivery_count INTEGER NOT NULL DEFAULT 0,
    locked_until   TIMESTAMP,
    dead           INTEGER NOT NULL DEFAULT 0,
    dead_reason    TEXT,
    enqueued_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_messages_deliverable
    ON queue_messages (dead, locked_until, enqueued_at);
`

// SQLiteQueue is a durable implementation of the Queue interface backed by
// a SQLite file. Messages survive process restarts; locks are visibility
// timeouts so a crashed consumer's messages become deliverable again.
type SQLiteQueue struct {
	db          *sql.DB
	maxDelivery int

	// mu serializes the claim step; SQLite has no SKIP LOCKED.
	mu sync.Mutex
}

// NewSQLiteQueue opens (creating if necessary) a queue at the given path.
// maxDelivery dead-letters a message after that many deliveries; zero means
// unlimited redelivery.
func NewSQLiteQueue(path string, maxDelivery int) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(queueSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create queue schema: %w", err)
	}
	return &SQLiteQueue{db: db, maxDelivery: maxDelivery}, nil
}

// Close closes the underlying database.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

func (q *SQLiteQueue) Send(ctx context.Context, body []byte) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO queue_messages (id, body, enqueued_at) VALUES (?, ?, ?)",
		uuid.New().String(), body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueuing message: %w", err)
	}
	return nil
}

func (q *SQLiteQueue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM queue_messages WHERE dead = 0").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// DeadLetterCount returns how many messages have been dead-lettered.
func (q *SQLiteQueue) DeadLetterCount(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM queue_messages WHERE dead = 1").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting dead letters: %w", err)
	}
	return n, nil
}

func (q *SQLiteQueue) Subscribe(ctx context.Context, opts smig.SubscribeOptions, h smig.Handler) error {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.LockRenewal <= 0 {
		opts.LockRenewal = 5 * time.Minute
	}

	sem := make(chan struct{}, opts.MaxConcurrent)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}

			msg, err := q.claim(ctx, opts.LockRenewal)
			if err != nil {
				if opts.OnError != nil && ctx.Err() == nil {
					opts.OnError(err)
				}
			}
			if msg == nil {
				<-sem
				select {
				case <-ctx.Done():
					return
				case <-time.After(pollInterval):
				}
				continue
			}

			go func(m *smig.Message) {
				defer func() { <-sem }()
				h(ctx, *m, &sqliteActions{q: q, id: m.ID})
			}(msg)
		}
	}()
	return nil
}

// claim locks and returns the oldest deliverable message, dead-lettering
// messages past their delivery budget. Returns nil when the queue is idle.
func (q *SQLiteQueue) claim(ctx context.Context, lock time.Duration) (*smig.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	for {
		var (
			id        string
			body      []byte
			delivered int
		)
		err := q.db.QueryRowContext(ctx, `
			SELECT id, body, delivery_count FROM queue_messages
			WHERE dead = 0 AND (locked_until IS NULL OR locked_until < ?)
			ORDER BY enqueued_at LIMIT 1`, now).Scan(&id, &body, &delivered)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("selecting message: %w", err)
		}

		if q.maxDelivery > 0 && delivered >= q.maxDelivery {
			_, err := q.db.ExecContext(ctx,
				"UPDATE queue_messages SET dead = 1, dead_reason = ? WHERE id = ?",
				"delivery count exceeded", id)
			if err != nil {
				return nil, fmt.Errorf("dead-lettering message %s: %w", id, err)
			}
			continue
		}

		_, err = q.db.ExecContext(ctx,
			"UPDATE queue_messages SET delivery_count = delivery_count + 1, locked_until = ? WHERE id = ?",
			now.Add(lock), id)
		if err != nil {
			return nil, fmt.Errorf("locking message %s: %w", id, err)
		}
		return &smig.Message{ID: id, Body: body, DeliveryCount: delivered + 1}, nil
	}
}

type sqliteActions struct {
	q  *SQLiteQueue
	id string
}

func (a *sqliteActions) Complete(ctx context.Context) error {
	_, err := a.q.db.ExecContext(ctx, "DELETE FROM queue_messages WHERE id = ?", a.id)
	if err != nil {
		return fmt.Errorf("completing message %s: %w", a.id, err)
	}
	return nil
}

func (a *sqliteActions) Abandon(ctx context.Context) error {
	_, err := a.q.db.ExecContext(ctx, "UPDATE queue_messages SET locked_until = NULL WHERE id = ?", a.id)
	if err != nil {
		return fmt.Errorf("abandoning message %s: %w", a.id, err)
	}
	return nil
}

func (a *sqliteActions) DeadLetter(ctx context.Context, reason string) error {
	_, err := a.q.db.ExecContext(ctx,
		"UPDATE queue_messages SET dead = 1, dead_reason = ? WHERE id = ?", reason, a.id)
	if err != nil {
		return fmt.Errorf("dead-lettering message %s: %w", a.id, err)
	}
	return nil
}
