package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alejandrodnm/polysim/internal/domain"
)

// SaveMarket inserta o actualiza el estado de resolución de un mercado.
func (s *SQLiteStorage) SaveMarket(ctx context.Context, m domain.Market) error {
	status := m.ResolutionStatus
	if status == "" {
		status = domain.ResolutionOpen
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markets (market_id, category, end_time, resolution_status, outcome, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET
			category          = excluded.category,
			end_time          = excluded.end_time,
			resolution_status = excluded.resolution_status,
			outcome           = excluded.outcome,
			updated_at        = excluded.updated_at`,
		m.ID, m.Category, nullTimeVal(m.EndTime), string(status), nullFloat(m.Outcome),
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveMarket: %w", err)
	}
	return nil
}

// SaveOrder inserta una orden o actualiza su estado y fills acumulados.
func (s *SQLiteStorage) SaveOrder(ctx context.Context, o domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, token_id, side, type, queue_mode, price, size,
		                    remaining, filled, avg_fill_price, total_fees, status,
		                    created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			remaining      = excluded.remaining,
			filled         = excluded.filled,
			avg_fill_price = excluded.avg_fill_price,
			total_fees     = excluded.total_fees,
			status         = excluded.status,
			updated_at     = excluded.updated_at`,
		o.ID, o.TokenID, string(o.Side), string(o.Type), string(o.QueueMode), o.Price, o.Size,
		o.Remaining, o.Filled, o.AvgFillPrice, o.TotalFees, string(o.Status),
		formatTime(o.CreatedAt), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveOrder: %w", err)
	}
	return nil
}

// SaveFill agrega un fill al final del journal.
func (s *SQLiteStorage) SaveFill(ctx context.Context, f domain.Fill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fills (order_id, token_id, side, price, size, fee, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.TokenID, string(f.Side), f.Price, f.Size, f.Fee, formatTime(f.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveFill: %w", err)
	}
	return nil
}

// SaveDecision inserta una decisión. Si ya existe, solo se actualizan los
// campos de resolución y exclusión; executed_size solo si estaba vacío.
func (s *SQLiteStorage) SaveDecision(ctx context.Context, d domain.Decision) error {
	var flags any
	if len(d.RiskFlags) > 0 {
		raw, err := json.Marshal(d.RiskFlags)
		if err != nil {
			return fmt.Errorf("storage.SaveDecision: encode risk flags: %w", err)
		}
		flags = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (decision_id, market_id, token_id, order_id, side, size,
		                       entry_price, fair_prob, market_prob, edge, risk_flags,
		                       timestamp, cohort_id, executed_size, resolved_outcome,
		                       exit_price, resolved_at, excluded, exclude_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(decision_id) DO UPDATE SET
			executed_size    = COALESCE(decisions.executed_size, excluded.executed_size),
			resolved_outcome = excluded.resolved_outcome,
			exit_price       = excluded.exit_price,
			resolved_at      = excluded.resolved_at,
			excluded         = excluded.excluded,
			exclude_reason   = excluded.exclude_reason`,
		d.ID, d.MarketID, d.TokenID, d.OrderID, string(d.Side), d.Size,
		d.EntryPrice, d.FairProb, d.MarketProb, d.Edge, flags,
		formatTime(d.Timestamp), d.CohortID, nullFloat(d.ExecutedSize), nullFloat(d.ResolvedOutcome), nullFloat(d.ExitPrice),
		nullTime(d.ResolvedAt), boolToInt(d.Excluded), d.ExcludeReason,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveDecision %s: %w", d.ID, err)
	}
	return nil
}

// LoadDecisions devuelve todas las decisiones en orden de registro.
func (s *SQLiteStorage) LoadDecisions(ctx context.Context) ([]domain.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT decision_id, market_id, token_id, COALESCE(order_id, ''), side, size,
		       entry_price, fair_prob, market_prob, edge, risk_flags, timestamp,
		       cohort_id, executed_size, resolved_outcome, exit_price, resolved_at, excluded,
		       COALESCE(exclude_reason, '')
		FROM decisions
		ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadDecisions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.LoadDecisions: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDecision(rows *sql.Rows) (domain.Decision, error) {
	var (
		d                 domain.Decision
		side, ts          string
		flags, resolvedAt sql.NullString
		executed          sql.NullFloat64
		outcome, exit     sql.NullFloat64
		excluded          int
	)
	if err := rows.Scan(
		&d.ID, &d.MarketID, &d.TokenID, &d.OrderID, &side, &d.Size,
		&d.EntryPrice, &d.FairProb, &d.MarketProb, &d.Edge, &flags, &ts,
		&d.CohortID, &executed, &outcome, &exit, &resolvedAt, &excluded,
		&d.ExcludeReason,
	); err != nil {
		return d, fmt.Errorf("scan row: %w", err)
	}

	d.Side = domain.Side(side)
	d.Timestamp = parseTime(ts)
	d.Excluded = excluded == 1
	if flags.Valid && flags.String != "" {
		if err := json.Unmarshal([]byte(flags.String), &d.RiskFlags); err != nil {
			return d, fmt.Errorf("decode risk flags of %s: %w", d.ID, err)
		}
	}
	if executed.Valid {
		v := executed.Float64
		d.ExecutedSize = &v
	}
	if outcome.Valid {
		v := outcome.Float64
		d.ResolvedOutcome = &v
	}
	if exit.Valid {
		v := exit.Float64
		d.ExitPrice = &v
	}
	if resolvedAt.Valid {
		t := parseTime(resolvedAt.String)
		d.ResolvedAt = &t
	}
	return d, nil
}

// LoadFills devuelve el log de fills en orden de creación.
func (s *SQLiteStorage) LoadFills(ctx context.Context) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, token_id, side, price, size, fee, timestamp
		FROM fills
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadFills: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side, ts string
		if err := rows.Scan(&f.OrderID, &f.TokenID, &side, &f.Price, &f.Size, &f.Fee, &ts); err != nil {
			return nil, fmt.Errorf("storage.LoadFills: scan row: %w", err)
		}
		f.Side = domain.Side(side)
		f.Timestamp = parseTime(ts)
		out = append(out, f)
	}
	return out, rows.Err()
}

// LoadOrders devuelve las órdenes con el status dado, o todas si status es "".
func (s *SQLiteStorage) LoadOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	query := `
		SELECT order_id, token_id, side, type, COALESCE(queue_mode, ''), price, size,
		       remaining, filled, avg_fill_price, total_fees, status, created_at
		FROM orders`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, order_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadOrders: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		var side, typ, mode, st, created string
		if err := rows.Scan(
			&o.ID, &o.TokenID, &side, &typ, &mode, &o.Price, &o.Size,
			&o.Remaining, &o.Filled, &o.AvgFillPrice, &o.TotalFees, &st, &created,
		); err != nil {
			return nil, fmt.Errorf("storage.LoadOrders: scan row: %w", err)
		}
		o.Side = domain.Side(side)
		o.Type = domain.OrderType(typ)
		o.QueueMode = domain.QueueMode(mode)
		o.Status = domain.OrderStatus(st)
		o.CreatedAt = parseTime(created)
		out = append(out, o)
	}
	return out, rows.Err()
}

// LoadMarkets devuelve el último estado conocido de cada mercado.
func (s *SQLiteStorage) LoadMarkets(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_id, COALESCE(category, ''), end_time, resolution_status, outcome
		FROM markets
		ORDER BY market_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadMarkets: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		var m domain.Market
		var end sql.NullString
		var status string
		var outcome sql.NullFloat64
		if err := rows.Scan(&m.ID, &m.Category, &end, &status, &outcome); err != nil {
			return nil, fmt.Errorf("storage.LoadMarkets: scan row: %w", err)
		}
		if end.Valid {
			m.EndTime = parseTime(end.String)
		}
		m.ResolutionStatus = domain.ResolutionStatus(status)
		if outcome.Valid {
			v := outcome.Float64
			m.Outcome = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
