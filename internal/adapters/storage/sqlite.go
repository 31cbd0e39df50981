package storage

// sqlite.go: journal de auditoría de la simulación.
//
// Estrategia:
//   - `markets`: UNA fila por mercado (UPSERT), refleja el último estado de resolución.
//   - `orders`: UNA fila por orden (UPSERT), estado y fills acumulados.
//   - `fills`: append-only, el rowid conserva el orden de creación.
//   - `decisions`: UNA fila por decisión. Las entradas (probabilidades, precio de
//     entrada) no se reescriben nunca; solo resolución y exclusión.
//     `executed_size` se escribe una sola vez (orden cancelada con fill parcial).
//   - Sin prune: el journal es el historial completo del run.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS markets (
    market_id         TEXT PRIMARY KEY,
    category          TEXT,
    end_time          DATETIME,
    resolution_status TEXT NOT NULL DEFAULT 'OPEN',
    outcome           REAL,
    updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
    order_id       TEXT PRIMARY KEY,
    token_id       TEXT NOT NULL,
    side           TEXT NOT NULL,
    type           TEXT NOT NULL,
    queue_mode     TEXT,
    price          REAL NOT NULL DEFAULT 0,
    size           REAL NOT NULL,
    remaining      REAL NOT NULL,
    filled         REAL NOT NULL DEFAULT 0,
    avg_fill_price REAL NOT NULL DEFAULT 0,
    total_fees     REAL NOT NULL DEFAULT 0,
    status         TEXT NOT NULL,
    created_at     DATETIME NOT NULL,
    updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS fills (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id  TEXT NOT NULL,
    token_id  TEXT NOT NULL,
    side      TEXT NOT NULL,
    price     REAL NOT NULL,
    size      REAL NOT NULL,
    fee       REAL NOT NULL DEFAULT 0,
    timestamp DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
    seq              INTEGER PRIMARY KEY AUTOINCREMENT,
    decision_id      TEXT NOT NULL UNIQUE,
    market_id        TEXT NOT NULL,
    token_id         TEXT NOT NULL,
    order_id         TEXT,
    side             TEXT NOT NULL,
    size             REAL NOT NULL,
    entry_price      REAL NOT NULL,
    fair_prob        REAL NOT NULL,
    market_prob      REAL NOT NULL,
    edge             REAL NOT NULL,
    risk_flags       TEXT,
    timestamp        DATETIME NOT NULL,
    cohort_id        INTEGER NOT NULL DEFAULT 0,
    executed_size    REAL,
    resolved_outcome REAL,
    exit_price       REAL,
    resolved_at      DATETIME,
    excluded         INTEGER NOT NULL DEFAULT 0,
    exclude_reason   TEXT
);

CREATE INDEX IF NOT EXISTS idx_orders_status    ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_token     ON orders(token_id);
CREATE INDEX IF NOT EXISTS idx_fills_order      ON fills(order_id);
CREATE INDEX IF NOT EXISTS idx_decisions_market ON decisions(market_id);
CREATE INDEX IF NOT EXISTS idx_decisions_cohort ON decisions(cohort_id);
`

// SQLiteStorage implementa ports.Journal usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica
// el schema.
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

	s := &SQLiteStorage{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	s.migrate(context.Background())
	return s, nil
}

// migrate agrega columnas que pueden faltar en journals de versiones
// anteriores. Los errores (columna ya existe) se ignoran.
func (s *SQLiteStorage) migrate(ctx context.Context) {
	for _, stmt := range []string{
		"ALTER TABLE decisions ADD COLUMN risk_flags TEXT",
		"ALTER TABLE decisions ADD COLUMN cohort_id INTEGER NOT NULL DEFAULT 0",
		"ALTER TABLE decisions ADD COLUMN executed_size REAL",
	} {
		s.db.ExecContext(ctx, stmt)
	}
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func nullTimeVal(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
