// Package journal persists visibility transitions to SQLite so operators
// can answer "why did the bar hide at 14:32" after the fact. Writes are
// asynchronous and lossy under pressure: the controller must never block
// on disk.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"chromectl"
)

// Transition is one recorded visibility flip with the scroll context that
// caused it.
type Transition struct {
	ID                int64     `json:"id"`
	Surface           string    `json:"surface"`
	At                time.Time `json:"at"`
	Visible           bool      `json:"visible"`
	Animate           bool      `json:"animate"`
	TransformOffsetPx float64   `json:"transform_offset_px"`
	OffsetPx          float64   `json:"offset_px"`
	VelocityPxPerMs   float64   `json:"velocity_px_per_ms"`
	Direction         string    `json:"direction"`
	KeyboardVisible   bool      `json:"keyboard_visible"`
}

const schema = `
CREATE TABLE IF NOT EXISTS transitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    surface TEXT NOT NULL,
    at_ns INTEGER NOT NULL,
    visible INTEGER NOT NULL,
    animate INTEGER NOT NULL,
    transform_offset_px REAL NOT NULL,
    offset_px REAL NOT NULL,
    velocity_px_per_ms REAL NOT NULL,
    direction TEXT NOT NULL,
    keyboard_visible INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_surface_at ON transitions(surface, at_ns);
`

// Journal is a SQLite-backed transition log with a single background
// writer goroutine.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	writeCh chan Transition
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Open creates or opens the journal database at path and starts the
// writer.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to journal database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	j := &Journal{
		db:      db,
		logger:  logger,
		writeCh: make(chan Transition, 256),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go j.writer()
	return j, nil
}

// Record enqueues one transition. Never blocks: when the write queue is
// full the transition is dropped with a warning. The journal is an
// observability aid, not a system of record.
func (j *Journal) Record(surface string, at time.Time, snap chromectl.Snapshot) {
	tr := Transition{
		Surface:           surface,
		At:                at,
		Visible:           snap.Visibility.Visible,
		Animate:           snap.Visibility.Animate,
		TransformOffsetPx: snap.Visibility.TransformOffsetPx,
		OffsetPx:          snap.Scroll.OffsetPx,
		VelocityPxPerMs:   snap.Scroll.VelocityPxPerMs,
		Direction:         string(snap.Scroll.Direction),
		KeyboardVisible:   snap.Keyboard.Visible,
	}
	select {
	case j.writeCh <- tr:
	default:
		j.logger.Warn("journal write queue full, dropping transition", "surface", surface)
	}
}

func (j *Journal) writer() {
	defer close(j.doneCh)
	for {
		select {
		case tr := <-j.writeCh:
			j.insert(tr)
		case <-j.stopCh:
			// Drain whatever is queued before exit.
			for {
				select {
				case tr := <-j.writeCh:
					j.insert(tr)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) insert(tr Transition) {
	_, err := j.db.Exec(`
		INSERT INTO transitions
			(surface, at_ns, visible, animate, transform_offset_px, offset_px, velocity_px_per_ms, direction, keyboard_visible)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.Surface, tr.At.UnixNano(), boolInt(tr.Visible), boolInt(tr.Animate),
		tr.TransformOffsetPx, tr.OffsetPx, tr.VelocityPxPerMs, tr.Direction, boolInt(tr.KeyboardVisible),
	)
	if err != nil {
		j.logger.Error("journal insert failed", "error", err, "surface", tr.Surface)
	}
}

// Recent returns up to limit transitions, newest first. An empty surface
// returns transitions for every surface.
func (j *Journal) Recent(surface string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if surface == "" {
		rows, err = j.db.Query(`
			SELECT id, surface, at_ns, visible, animate, transform_offset_px, offset_px, velocity_px_per_ms, direction, keyboard_visible
			FROM transitions
			ORDER BY at_ns DESC, id DESC
			LIMIT ?`, limit)
	} else {
		rows, err = j.db.Query(`
			SELECT id, surface, at_ns, visible, animate, transform_offset_px, offset_px, velocity_px_per_ms, direction, keyboard_visible
			FROM transitions
			WHERE surface = ?
			ORDER BY at_ns DESC, id DESC
			LIMIT ?`, surface, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			tr                         Transition
			atNs                       int64
			visible, animate, keyboard int
		)
		if err := rows.Scan(&tr.ID, &tr.Surface, &atNs, &visible, &animate,
			&tr.TransformOffsetPx, &tr.OffsetPx, &tr.VelocityPxPerMs, &tr.Direction, &keyboard); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.At = time.Unix(0, atNs)
		tr.Visible = visible == 1
		tr.Animate = animate == 1
		tr.KeyboardVisible = keyboard == 1
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Close drains pending writes and closes the database.
func (j *Journal) Close() error {
	close(j.stopCh)
	<-j.doneCh
	return j.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
