package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	iface "CoDetServer/interface"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	message     TEXT NOT NULL,
	dedupe_key  TEXT NOT NULL DEFAULT '',
	group_a     INTEGER NOT NULL DEFAULT 0,
	group_b     INTEGER NOT NULL DEFAULT 0,
	payload     TEXT NOT NULL,
	created_at  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS events_created_at ON events (created_at);
`

// Journal is the durable history of published events. The display log only keeps a bounded window,
// the journal keeps everything it is handed. Callers feed it through eventlog.Debounce so a held
// co-occurrence is one row, not one per tick.
type Journal struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*Journal, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported journal driver %q", driver)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// One writer at a time avoids SQLITE_BUSY under the async sink.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	j := &Journal{db: db, driver: driver, logger: logger}
	if err := j.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Init creates the events table if it does not exist.
func (j *Journal) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init journal: %w", err)
		}
	}
	return nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Publish records e and logs failures. It blocks on the database.
func (j *Journal) Publish(e iface.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.Record(ctx, e); err != nil {
		j.logger.Error("journal write failed", zap.String("event", e.ID), zap.Error(err))
	}
}

func (j *Journal) Record(ctx context.Context, e iface.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, j.rebind(`
		INSERT INTO events (id, kind, message, dedupe_key, group_a, group_b, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		e.ID, string(e.Kind), e.Message, e.DedupeKey, len(e.GroupA), len(e.GroupB), string(payload), e.Timestamp.UnixNano())
	return err
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]iface.Event, error) {
	rows, err := j.db.QueryContext(ctx, j.rebind(`SELECT payload FROM events ORDER BY created_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []iface.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var e iface.Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountByKind returns how many events of each kind were recorded since from.
func (j *Journal) CountByKind(ctx context.Context, from time.Time) (map[iface.EventKind]int, error) {
	rows, err := j.db.QueryContext(ctx, j.rebind(`SELECT kind, COUNT(*) FROM events WHERE created_at >= ? GROUP BY kind`), from.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[iface.EventKind]int{}
	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		counts[iface.EventKind(kind)] = count
	}
	return counts, rows.Err()
}

// rebind turns ? placeholders into $n for postgres.
func (j *Journal) rebind(query string) string {
	if j.driver != DriverPostgres {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
