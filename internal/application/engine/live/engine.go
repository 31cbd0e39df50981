// Package live alimenta la simulación con datos reales de Polymarket:
// registra los mercados seguidos, sondea sus orderbooks y propaga los
// cambios de estado de resolución.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polysim/internal/application/engine"
	"github.com/alejandrodnm/polysim/internal/domain"
	"github.com/alejandrodnm/polysim/internal/ports"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultStatusInterval = time.Minute
)

// Simulation es la parte de paper.Simulation que usa el feed live.
type Simulation interface {
	RegisterMarket(ctx context.Context, m domain.Market, tokens []domain.Token) error
	UpdateMarket(ctx context.Context, marketID string, status domain.ResolutionStatus, outcome *float64) error
	Market(marketID string) (domain.Market, bool)
	TokenIDs() []string
}

// Config holds configuration for the live feed.
type Config struct {
	MarketIDs      []string
	PollInterval   time.Duration
	StatusInterval time.Duration
	// LastTrades pide el último trade de los tokens cuyo book no lo trae
	// (necesario para el mark AGGRESSIVE).
	LastTrades bool
}

// CycleResult contains everything produced by one polling cycle.
type CycleResult struct {
	Tokens    int
	Books     int
	Published int
	Unchanged int
	Rejected  int
}

// Engine sondea Polymarket y publica los snapshots en un SnapshotSink.
type Engine struct {
	books   ports.BookProvider
	trades  ports.TradeProvider
	markets ports.MarketProvider
	sink    engine.SnapshotSink
	sim     Simulation
	cfg     Config

	onBook   func(domain.OrderBook)
	onMarket func(domain.Listing)

	// último timestamp publicado por token; un book igual o más viejo se descarta
	lastSeen   map[string]time.Time
	lastSeenMu sync.RWMutex
}

// Option configura un Engine.
type Option func(*Engine)

// WithTradeProvider habilita la consulta de últimos trades.
func WithTradeProvider(tp ports.TradeProvider) Option {
	return func(e *Engine) { e.trades = tp }
}

// WithRecorder recibe cada mercado registrado y cada book publicado,
// p.ej. para grabar la sesión y reproducirla después.
func WithRecorder(onMarket func(domain.Listing), onBook func(domain.OrderBook)) Option {
	return func(e *Engine) {
		e.onMarket = onMarket
		e.onBook = onBook
	}
}

// New crea el feed live. sink suele ser un paper.Dispatcher sobre sim.
func New(
	books ports.BookProvider,
	markets ports.MarketProvider,
	sink engine.SnapshotSink,
	sim Simulation,
	cfg Config,
	opts ...Option,
) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = defaultStatusInterval
	}
	e := &Engine{
		books:    books,
		markets:  markets,
		sink:     sink,
		sim:      sim,
		cfg:      cfg,
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Bootstrap registra en la simulación los mercados configurados. Los que ya
// están resueltos o anulados se omiten.
func (e *Engine) Bootstrap(ctx context.Context) (int, error) {
	if len(e.cfg.MarketIDs) == 0 {
		return 0, errors.New("live.Bootstrap: no markets configured")
	}
	listings, err := e.markets.FetchListings(ctx, e.cfg.MarketIDs)
	if err != nil {
		return 0, fmt.Errorf("live.Bootstrap: %w", err)
	}

	registered := 0
	for _, l := range listings {
		if l.Market.ResolutionStatus.Final() {
			slog.Info("live: market already settled, skipping",
				"market", domain.TruncateID(l.Market.ID, 16),
				"status", l.Market.ResolutionStatus,
			)
			continue
		}
		if err := e.sim.RegisterMarket(ctx, l.Market, l.Tokens); err != nil {
			slog.Warn("live: could not register market", "market", domain.TruncateID(l.Market.ID, 16), "err", err)
			continue
		}
		if e.onMarket != nil {
			e.onMarket(l)
		}
		registered++
	}
	if registered == 0 {
		return 0, errors.New("live.Bootstrap: no tradable markets")
	}
	return registered, nil
}

// RunOnce sondea los orderbooks de todos los tokens registrados y publica los
// que han cambiado desde el ciclo anterior.
func (e *Engine) RunOnce(ctx context.Context) (*CycleResult, error) {
	tokenIDs := e.sim.TokenIDs()
	result := &CycleResult{Tokens: len(tokenIDs)}
	if len(tokenIDs) == 0 {
		return result, nil
	}

	books, err := e.books.FetchOrderBooks(ctx, tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("live.RunOnce: books: %w", err)
	}
	result.Books = len(books)

	fresh := make([]domain.OrderBook, 0, len(books))
	for _, id := range tokenIDs {
		book, ok := books[id]
		if !ok {
			continue
		}
		if !e.isNewer(book) {
			result.Unchanged++
			continue
		}
		fresh = append(fresh, book)
	}

	e.attachLastTrades(ctx, fresh)

	for _, book := range fresh {
		if err := e.sink.OnSnapshot(ctx, book); err != nil {
			result.Rejected++
			slog.Warn("live: snapshot rejected", "token", domain.TruncateID(book.TokenID, 12), "err", err)
			continue
		}
		e.markSeen(book)
		if e.onBook != nil {
			e.onBook(book)
		}
		result.Published++
	}

	slog.Debug("live: cycle done",
		"tokens", result.Tokens,
		"published", result.Published,
		"unchanged", result.Unchanged,
		"rejected", result.Rejected,
	)
	return result, nil
}

// attachLastTrades completa LastTradePrice en los books que no lo traen.
func (e *Engine) attachLastTrades(ctx context.Context, books []domain.OrderBook) {
	if !e.cfg.LastTrades || e.trades == nil {
		return
	}
	var missing []string
	for _, b := range books {
		if b.LastTradePrice <= 0 {
			missing = append(missing, b.TokenID)
		}
	}
	if len(missing) == 0 {
		return
	}

	prices, err := e.trades.FetchLastTradePrices(ctx, missing)
	if err != nil {
		slog.Warn("live: error fetching last trades", "tokens", len(missing), "err", err)
		return
	}
	for i := range books {
		if p, ok := prices[books[i].TokenID]; ok && books[i].LastTradePrice <= 0 {
			books[i].LastTradePrice = p
		}
	}
}

// RefreshStatus consulta el estado de resolución de los mercados abiertos y
// aplica los cambios. Devuelve cuántos mercados cambiaron de estado.
func (e *Engine) RefreshStatus(ctx context.Context) (int, error) {
	var open []string
	for _, id := range e.cfg.MarketIDs {
		if m, ok := e.sim.Market(id); ok && !m.ResolutionStatus.Final() {
			open = append(open, id)
		}
	}
	if len(open) == 0 {
		return 0, nil
	}

	listings, err := e.markets.FetchListings(ctx, open)
	if err != nil {
		return 0, fmt.Errorf("live.RefreshStatus: %w", err)
	}

	changed := 0
	for _, l := range listings {
		cur, ok := e.sim.Market(l.Market.ID)
		if !ok || cur.ResolutionStatus == l.Market.ResolutionStatus {
			continue
		}
		if err := e.sim.UpdateMarket(ctx, l.Market.ID, l.Market.ResolutionStatus, l.Market.Outcome); err != nil {
			slog.Warn("live: status update rejected",
				"market", domain.TruncateID(l.Market.ID, 16),
				"from", cur.ResolutionStatus,
				"to", l.Market.ResolutionStatus,
				"err", err,
			)
			continue
		}
		changed++
	}
	return changed, nil
}

// Run ejecuta los loops de books y de estado hasta que ctx se cancela.
// onCycle, si no es nil, se llama tras cada ciclo de books.
func (e *Engine) Run(ctx context.Context, onCycle func(*CycleResult)) error {
	books := time.NewTicker(e.cfg.PollInterval)
	defer books.Stop()
	status := time.NewTicker(e.cfg.StatusInterval)
	defer status.Stop()

	e.cycle(ctx, onCycle)
	for {
		select {
		case <-ctx.Done():
			slog.Info("live: stopped")
			return nil
		case <-books.C:
			e.cycle(ctx, onCycle)
		case <-status.C:
			if n, err := e.RefreshStatus(ctx); err != nil {
				slog.Warn("live: status refresh failed", "err", err)
			} else if n > 0 {
				slog.Info("live: market statuses updated", "changed", n)
			}
		}
	}
}

func (e *Engine) cycle(ctx context.Context, onCycle func(*CycleResult)) {
	result, err := e.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("live: cycle failed", "err", err)
		}
		return
	}
	if onCycle != nil {
		onCycle(result)
	}
}

func (e *Engine) isNewer(book domain.OrderBook) bool {
	e.lastSeenMu.RLock()
	defer e.lastSeenMu.RUnlock()
	last, ok := e.lastSeen[book.TokenID]
	return !ok || book.Timestamp.IsZero() || book.Timestamp.After(last)
}

func (e *Engine) markSeen(book domain.OrderBook) {
	e.lastSeenMu.Lock()
	defer e.lastSeenMu.Unlock()
	e.lastSeen[book.TokenID] = book.Timestamp
}
