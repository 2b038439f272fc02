package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/metrics"

	"github.com/jackc/pgx/v5/pgconn"
)

const schema = `
	CREATE TABLE IF NOT EXISTS session_events (
		id         BIGSERIAL PRIMARY KEY,
		kind       TEXT        NOT NULL,
		room_id    TEXT        NOT NULL,
		conn_id    TEXT        NOT NULL,
		name       TEXT        NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`

const insertTransition = `
	INSERT INTO session_events (kind, room_id, conn_id, name, created_at)
	VALUES ($1, $2, $3, $4, $5)`

// execer is the part of *pgxpool.Pool the journal needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Journal appends membership transitions to session_events. It is an audit
// trail only: nothing is ever read back into the registry.
type Journal struct {
	db           execer
	queue        chan domain.Transition
	writeTimeout time.Duration
}

func NewJournal(db execer, buffer int) *Journal {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Journal{
		db:           db,
		queue:        make(chan domain.Transition, buffer),
		writeTimeout: 3 * time.Second,
	}
}

// EnsureSchema creates the session_events table when missing.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	_, err := j.db.Exec(ctx, schema)
	return err
}

// Record queues t for writing. A full queue drops it.
func (j *Journal) Record(t domain.Transition) {
	select {
	case j.queue <- t:
	default:
		metrics.JournalWrites.WithLabelValues("dropped").Inc()
	}
}

// Run writes queued transitions until ctx is done, then flushes what is left.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case t := <-j.queue:
			j.write(ctx, t)
		case <-ctx.Done():
			j.drain()
			return nil
		}
	}
}

func (j *Journal) drain() {
	ctx := context.Background()
	for {
		select {
		case t := <-j.queue:
			j.write(ctx, t)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, t domain.Transition) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.writeTimeout)
	defer cancel()

	_, err := j.db.Exec(ctx, insertTransition, string(t.Kind), t.RoomID, string(t.ConnID), t.Name, t.At)
	if err != nil {
		metrics.JournalWrites.WithLabelValues("error").Inc()
		slog.WarnContext(ctx, "journal write failed", "room", t.RoomID, "conn", t.ConnID, "err", err)
		return
	}
	metrics.JournalWrites.WithLabelValues("ok").Inc()
}
