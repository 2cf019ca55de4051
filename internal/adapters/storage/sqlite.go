package storage

// sqlite.go: diario de eventos del bot, ligero y sin ruido.
//
// Estrategia:
//   - `events`: una fila por evento del controlador (órdenes, reconstrucciones,
//     fallos). Es un registro de auditoría: el bot nunca lo lee para decidir.
//   - `cycles`: una fila por ciclo entrada→flat con precio de entrada y
//     tamaño máximo alcanzado.
//   - Los eventos ruidosos (lectura de posición, espera de entrada) solo se
//     escriben cuando cambian respecto al último guardado.
//   - Prune automático al arrancar: eventos > 30d.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/charliebot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    kind      TEXT    NOT NULL,
    state     TEXT    NOT NULL DEFAULT '',
    cycle_id  TEXT    NOT NULL DEFAULT '',
    side      TEXT    NOT NULL DEFAULT '',
    order_id  TEXT    NOT NULL DEFAULT '',
    price     REAL    NOT NULL DEFAULT 0,
    quantity  INTEGER NOT NULL DEFAULT 0,
    detail    TEXT    NOT NULL DEFAULT '',
    error     TEXT    NOT NULL DEFAULT '',
    at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cycles (
    id           TEXT PRIMARY KEY,
    started_at   INTEGER NOT NULL,
    ended_at     INTEGER,
    entry_price  REAL    NOT NULL DEFAULT 0,
    max_quantity INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_events_at    ON events(at DESC);
CREATE INDEX IF NOT EXISTS idx_events_kind  ON events(kind);
CREATE INDEX IF NOT EXISTS idx_events_cycle ON events(cycle_id);
CREATE INDEX IF NOT EXISTS idx_cycles_start ON cycles(started_at DESC);
`

const retentionEvents = 30 * 24 * time.Hour

// lastNoisy is the last persisted value of a noisy event kind.
type lastNoisy struct {
	cycleID  string
	price    float64
	quantity int
}

// SQLiteStorage implementa ports.Reporter y ports.Journal usando SQLite
// (pure Go, sin CGo).
type SQLiteStorage struct {
	db    *sql.DB
	mu    sync.Mutex
	noisy map[domain.EventKind]lastNoisy
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db, noisy: make(map[domain.EventKind]lastNoisy)}
	s.pruneOld(context.Background())
	return s, nil
}

// Close cierra la conexión a la base de datos limpiamente.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Report persists ev. It never fails the caller: errors are logged.
func (s *SQLiteStorage) Report(ctx context.Context, ev domain.Event) {
	if err := s.save(ctx, ev); err != nil {
		slog.Warn("storage: failed to journal event", "kind", ev.Kind, "err", err)
	}
}

func (s *SQLiteStorage) save(ctx context.Context, ev domain.Event) error {
	if !s.changed(ev) {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	errText := ""
	if ev.Err != nil {
		errText = ev.Err.Error()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (kind, state, cycle_id, side, order_id, price, quantity, detail, error, at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		string(ev.Kind), string(ev.State), ev.CycleID, string(ev.Side), ev.OrderID,
		ev.Price, ev.Quantity, ev.Detail, errText, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("storage.save: insert event: %w", err)
	}

	return s.trackCycle(ctx, ev, at)
}

// changed filtra los eventos ruidosos que no aportan nada nuevo.
func (s *SQLiteStorage) changed(ev domain.Event) bool {
	if ev.Kind != domain.EventPositionRead && ev.Kind != domain.EventEntryWaiting {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := lastNoisy{cycleID: ev.CycleID, price: ev.Price, quantity: ev.Quantity}
	if prev, ok := s.noisy[ev.Kind]; ok && prev == cur {
		return false
	}
	s.noisy[ev.Kind] = cur
	return true
}

// trackCycle mantiene la fila del ciclo al que pertenece el evento.
func (s *SQLiteStorage) trackCycle(ctx context.Context, ev domain.Event, at time.Time) error {
	if ev.CycleID == "" {
		return nil
	}

	var err error
	switch ev.Kind {
	case domain.EventCycleStarted:
		_, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO cycles (id, started_at) VALUES (?, ?)`, ev.CycleID, at.UnixMilli())
	case domain.EventPositionRead, domain.EventBracketPlaced:
		if ev.Position == nil {
			return nil
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE cycles SET
			  entry_price  = CASE WHEN entry_price = 0 THEN ? ELSE entry_price END,
			  max_quantity = MAX(max_quantity, ?)
			WHERE id = ?`,
			ev.Position.EntryPrice, ev.Position.Quantity, ev.CycleID)
	case domain.EventCycleFlat:
		_, err = s.db.ExecContext(ctx,
			`UPDATE cycles SET ended_at = ? WHERE id = ?`, at.UnixMilli(), ev.CycleID)
	}
	if err != nil {
		return fmt.Errorf("storage.trackCycle: %s: %w", ev.Kind, err)
	}
	return nil
}

// RecentEvents devuelve los últimos eventos, el más reciente primero.
func (s *SQLiteStorage) RecentEvents(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, state, cycle_id, side, order_id, price, quantity, detail, error, at
		FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentEvents: query: %w", err)
	}
	defer rows.Close()

	var out []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		var kind, state, side string
		var at int64
		if err := rows.Scan(&e.ID, &kind, &state, &e.CycleID, &side, &e.OrderID,
			&e.Price, &e.Quantity, &e.Detail, &e.Error, &at); err != nil {
			return nil, fmt.Errorf("storage.RecentEvents: scan: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		e.State = domain.CycleState(state)
		e.Side = domain.Side(side)
		e.At = time.UnixMilli(at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cycles devuelve los ciclos registrados, el más reciente primero.
func (s *SQLiteStorage) Cycles(ctx context.Context, limit int) ([]domain.CycleSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, entry_price, max_quantity
		FROM cycles ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Cycles: query: %w", err)
	}
	defer rows.Close()

	var out []domain.CycleSummary
	for rows.Next() {
		var c domain.CycleSummary
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&c.ID, &started, &ended, &c.EntryPrice, &c.MaxQuantity); err != nil {
			return nil, fmt.Errorf("storage.Cycles: scan: %w", err)
		}
		c.StartedAt = time.UnixMilli(started).UTC()
		if ended.Valid {
			t := time.UnixMilli(ended.Int64).UTC()
			c.EndedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Stats agrega el diario completo.
func (s *SQLiteStorage) Stats(ctx context.Context) (domain.JournalStats, error) {
	var stats domain.JournalStats

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(ended_at), COALESCE(MAX(max_quantity), 0) FROM cycles`).
		Scan(&stats.CyclesStarted, &stats.CyclesCompleted, &stats.MaxQuantity)
	if err != nil {
		return stats, fmt.Errorf("storage.Stats: cycles: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return stats, fmt.Errorf("storage.Stats: events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return stats, fmt.Errorf("storage.Stats: scan: %w", err)
		}
		switch domain.EventKind(kind) {
		case domain.EventOrderPlaced, domain.EventEntryPlaced, domain.EventEntryChased:
			stats.OrdersPlaced += n
		case domain.EventOrderCancelled:
			stats.OrdersCancelled += n
		case domain.EventPassFailed:
			stats.FailedPasses += n
		case domain.EventBreakerTripped:
			stats.BreakerTrips += n
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("storage.Stats: rows: %w", err)
	}

	var last sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT MAX(at) FROM events`).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return stats, fmt.Errorf("storage.Stats: last event: %w", err)
	}
	if last.Valid {
		t := time.UnixMilli(last.Int64).UTC()
		stats.LastEventAt = &t
	}

	stats.Cycles, err = s.Cycles(ctx, 20)
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// pruneOld elimina eventos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := time.Now().Add(-retentionEvents).UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE at < ?`, cutoff); err != nil {
		slog.Warn("storage: failed to prune old events", "err", err)
	}
}
