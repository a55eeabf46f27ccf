// Package ledger keeps a SQLite record of what the client reported and
// delivered, and of the images the patcher built. It is a secondary record:
// the multiworld server stays authoritative, but a restarted client can seed
// its reported set from here instead of replaying every check.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"cliffredux.ai/internal/bridge"
)

type Ledger struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Int64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqBuild
)

type req struct {
	kind  reqKind
	event bridge.Event
	build Build
}

// Build is one patched image written by the patcher.
type Build struct {
	Output  string
	ROM     string
	BaseMD5 string
	BuiltAt time.Time
}

func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("empty ledger path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	l := &Ledger{
		db: db,
		ch: make(chan req, 4096),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.loop()
	}()
	return l, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS checks (
			rom TEXT NOT NULL,
			location_id INTEGER NOT NULL,
			reported_at TEXT NOT NULL,
			PRIMARY KEY (rom, location_id)
		);`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			rom TEXT NOT NULL,
			idx INTEGER NOT NULL,
			item INTEGER NOT NULL,
			player INTEGER NOT NULL,
			location_id INTEGER NOT NULL,
			delivered_at TEXT NOT NULL,
			PRIMARY KEY (rom, idx)
		);`,
		`CREATE TABLE IF NOT EXISTS goals (
			rom TEXT PRIMARY KEY,
			reported_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS kills (
			rom TEXT NOT NULL,
			killed_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS builds (
			output TEXT PRIMARY KEY,
			rom TEXT NOT NULL,
			base_md5 TEXT NOT NULL,
			built_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_builds_rom ON builds(rom);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains queued writes and closes the database.
func (l *Ledger) Close() error {
	var err error
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.ch)
		l.wg.Wait()
		err = l.db.Close()
	})
	return err
}

// Dropped reports how many writes were discarded because the queue was full.
func (l *Ledger) Dropped() int64 { return l.dropped.Load() }

// Record queues a bridge event. It never blocks the poll loop.
func (l *Ledger) Record(e bridge.Event) {
	l.enqueue(req{kind: reqEvent, event: e})
}

func (l *Ledger) RecordBuild(b Build) {
	if b.BuiltAt.IsZero() {
		b.BuiltAt = time.Now()
	}
	l.enqueue(req{kind: reqBuild, build: b})
}

func (l *Ledger) enqueue(r req) {
	if l == nil || l.closed.Load() {
		return
	}
	select {
	case l.ch <- r:
	default:
		l.dropped.Add(1)
	}
}

// ReportedChecks returns the location ids recorded for rom, ascending.
func (l *Ledger) ReportedChecks(ctx context.Context, rom string) ([]int64, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT location_id FROM checks WHERE rom=? ORDER BY location_id`, rom)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Builds returns the recorded builds for rom, newest first.
func (l *Ledger) Builds(ctx context.Context, rom string) ([]Build, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT output,rom,base_md5,built_at FROM builds WHERE rom=? ORDER BY built_at DESC`, rom)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Build
	for rows.Next() {
		var (
			b  Build
			at string
		)
		if err := rows.Scan(&b.Output, &b.ROM, &b.BaseMD5, &at); err != nil {
			return nil, err
		}
		b.BuiltAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, b)
	}
	return out, rows.Err()
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (l *Ledger) loop() {
	ctx := context.Background()

	var tx *sql.Tx
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
	}

	for r := range l.ch {
		if tx == nil {
			txx, err := l.db.BeginTx(ctx, nil)
			if err != nil {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			tx = txx
		}
		if err := apply(ctx, tx, r); err != nil {
			_ = tx.Rollback()
			tx = nil
			continue
		}
		// Commit once the queue is idle so readers on the single
		// connection are never held behind an open transaction.
		if len(l.ch) == 0 {
			commit()
		}
	}
	commit()
}

func apply(ctx context.Context, tx *sql.Tx, r req) error {
	switch r.kind {
	case reqEvent:
		e := r.event
		switch e.Kind {
		case bridge.EventCheck:
			_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO checks(rom,location_id,reported_at) VALUES(?,?,?)`,
				e.ROM, e.Location, stamp(e.At))
			return err
		case bridge.EventDelivery:
			_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO deliveries(rom,idx,item,player,location_id,delivered_at) VALUES(?,?,?,?,?,?)`,
				e.ROM, e.Index, e.Item, e.Player, e.Location, stamp(e.At))
			return err
		case bridge.EventGoal:
			_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO goals(rom,reported_at) VALUES(?,?)`, e.ROM, stamp(e.At))
			return err
		case bridge.EventKill:
			_, err := tx.ExecContext(ctx, `INSERT INTO kills(rom,killed_at) VALUES(?,?)`, e.ROM, stamp(e.At))
			return err
		}
	case reqBuild:
		b := r.build
		_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO builds(output,rom,base_md5,built_at) VALUES(?,?,?,?)`,
			b.Output, b.ROM, b.BaseMD5, stamp(b.BuiltAt))
		return err
	}
	return nil
}
