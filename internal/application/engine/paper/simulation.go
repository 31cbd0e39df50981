// Package paper runs the paper exchange: it routes order intents and
// order-book ticks through per-market pipelines, settles fills into the
// shared account and logs every decision for evaluation.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polysim/internal/account"
	"github.com/alejandrodnm/polysim/internal/application/engine"
	"github.com/alejandrodnm/polysim/internal/domain"
	"github.com/alejandrodnm/polysim/internal/evaluation"
	"github.com/alejandrodnm/polysim/internal/metrics"
	"github.com/alejandrodnm/polysim/internal/ports"
)

const (
	defaultInitialBalance = 1000
	voidReason            = "market voided"
	noLiquidityReason     = "no liquidity"
	unfilledReason        = "order never filled"
)

// Config holds the per-run simulation settings. Fee rate and mark mode are
// fixed for the lifetime of a Simulation.
type Config struct {
	InitialBalance float64
	FeeRate        float64
	MarkMode       domain.MarkMode
	CohortWindow   time.Duration
	CohortEpoch    time.Time

	// DefaultQueueMode applies to LIMIT requests that carry no queue_mode.
	DefaultQueueMode domain.QueueMode
}

// Simulation is the simulation context. It owns the account, the evaluation
// tracker and the journal and hands them to every market pipeline; nothing
// is process-global.
type Simulation struct {
	cfg     Config
	account *account.Account
	tracker *evaluation.Tracker
	journal ports.Journal
	now     func() time.Time
	newID   func() string

	mu      sync.RWMutex
	markets map[string]*pipeline
	tokens  map[string]*pipeline

	auditMu sync.Mutex
	fills   []domain.Fill

	resting atomic.Int64
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithJournal persists markets, orders, fills and decisions.
func WithJournal(j ports.Journal) Option {
	return func(s *Simulation) { s.journal = j }
}

// WithClock sets the fallback clock used before a token has any snapshot.
func WithClock(fn func() time.Time) Option {
	return func(s *Simulation) { s.now = fn }
}

// WithIDGenerator overrides order and decision id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Simulation) { s.newID = fn }
}

// New creates a simulation.
func New(cfg Config, opts ...Option) *Simulation {
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = defaultInitialBalance
	}
	if cfg.MarkMode == "" {
		cfg.MarkMode = domain.MarkNeutral
	}
	s := &Simulation{
		cfg:     cfg,
		account: account.New(cfg.InitialBalance),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		markets: make(map[string]*pipeline),
		tokens:  make(map[string]*pipeline),
	}
	for _, opt := range opts {
		opt(s)
	}

	trackerOpts := []evaluation.Option{evaluation.WithIDGenerator(s.newID)}
	if !cfg.CohortEpoch.IsZero() {
		trackerOpts = append(trackerOpts, evaluation.WithEpoch(cfg.CohortEpoch))
	}
	s.tracker = evaluation.NewTracker(cfg.CohortWindow, trackerOpts...)
	metrics.Balance.Set(cfg.InitialBalance)
	metrics.Equity.Set(cfg.InitialBalance)
	return s
}

// Account returns the shared account.
func (s *Simulation) Account() *account.Account { return s.account }

// Tracker returns the shared evaluation tracker.
func (s *Simulation) Tracker() *evaluation.Tracker { return s.tracker }

// RegisterMarket creates the pipeline for a market and its tokens.
func (s *Simulation) RegisterMarket(ctx context.Context, m domain.Market, tokens []domain.Token) error {
	if m.ID == "" {
		return fmt.Errorf("paper.RegisterMarket: missing market_id")
	}
	if len(tokens) == 0 {
		return fmt.Errorf("paper.RegisterMarket: market %s has no tokens", m.ID)
	}
	if m.ResolutionStatus == "" {
		m.ResolutionStatus = domain.ResolutionOpen
	}

	s.mu.Lock()
	if _, dup := s.markets[m.ID]; dup {
		s.mu.Unlock()
		return fmt.Errorf("paper.RegisterMarket: market %s already registered", m.ID)
	}
	for _, t := range tokens {
		if t.ID == "" {
			s.mu.Unlock()
			return fmt.Errorf("paper.RegisterMarket: market %s has a token without id", m.ID)
		}
		if _, dup := s.tokens[t.ID]; dup {
			s.mu.Unlock()
			return fmt.Errorf("paper.RegisterMarket: token %s already registered", t.ID)
		}
	}
	p := newPipeline(m, tokens, s.cfg.FeeRate)
	s.markets[m.ID] = p
	for id := range p.tokens {
		s.tokens[id] = p
	}
	s.mu.Unlock()

	s.saveMarket(ctx, m)
	slog.Info("paper: market registered",
		"market", domain.TruncateID(m.ID, 16),
		"category", m.Category,
		"tokens", len(tokens),
		"status", m.ResolutionStatus,
	)
	return nil
}

func (s *Simulation) pipelineForToken(tokenID string) *pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[tokenID]
}

func (s *Simulation) pipelineForMarket(marketID string) *pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markets[marketID]
}

// MarketOf returns the market id owning tokenID.
func (s *Simulation) MarketOf(tokenID string) (string, bool) {
	p := s.pipelineForToken(tokenID)
	if p == nil {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.market.ID, true
}

// Market returns the current state of a registered market.
func (s *Simulation) Market(marketID string) (domain.Market, bool) {
	p := s.pipelineForMarket(marketID)
	if p == nil {
		return domain.Market{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.market, true
}

// TokenIDs returns every registered token id, sorted.
func (s *Simulation) TokenIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tokens))
	for id := range s.tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Submit validates, funds and matches an order intent against the latest
// snapshot of its token, then logs the decision that produced it.
// Rejections are returned as *domain.RejectError and leave no state behind.
func (s *Simulation) Submit(ctx context.Context, req domain.OrderRequest, sig domain.Signal) (domain.Execution, error) {
	p := s.pipelineForToken(req.TokenID)
	if p == nil {
		return domain.Execution{}, s.reject(domain.Reject(domain.ReasonUnknownToken, req.TokenID))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.market.Tradable() {
		return domain.Execution{}, s.reject(domain.Reject(domain.ReasonMarketClosed,
			fmt.Sprintf("market %s is %s", p.market.ID, p.market.ResolutionStatus)))
	}
	if req.OrderID == "" {
		req.OrderID = s.newID()
	}
	if req.Type == domain.OrderLimit && req.QueueMode == "" {
		req.QueueMode = s.cfg.DefaultQueueMode
	}

	book := p.books[req.TokenID]
	createdAt := book.Timestamp
	if createdAt.IsZero() {
		// before the token's first tick, use the market's latest tick
		createdAt = s.marketTime(p)
	}
	order := domain.NewOrder(req, createdAt)
	eng := p.engines[req.TokenID]
	led := p.ledgers[req.TokenID]

	if err := eng.Validate(order); err != nil {
		return domain.Execution{Order: order}, s.reject(err)
	}
	held := account.Uncommitted(led.Quantity().InexactFloat64(), order, eng.Resting())
	required := account.RequiredFor(order, book, s.cfg.FeeRate, held)
	if err := s.account.Reserve(order.ID, required); err != nil {
		return domain.Execution{Order: order}, s.reject(err)
	}

	exec, err := eng.Submit(order, book)
	if err != nil {
		s.account.ReleaseAll(order.ID)
		return exec, s.reject(err)
	}

	s.settle(ctx, p, exec)
	s.rehold(p, req.TokenID, exec.Order)
	if exec.Order.Resting() {
		metrics.RestingOrders.Set(float64(s.resting.Add(1)))
		slog.Debug("paper: order resting",
			"order", exec.Order.ID,
			"price", fmt.Sprintf("%.4f", exec.Order.Price),
			"queue_ahead", fmt.Sprintf("%.2f", engine.QueuePosition(book, exec.Order.Side, exec.Order.Price)),
			"mode", exec.Order.QueueMode,
		)
	}
	s.markToken(p, req.TokenID)
	s.saveOrder(ctx, exec.Order)
	d := s.logDecision(ctx, p, exec, sig, book)

	slog.Info("paper: order submitted",
		"order", exec.Order.ID,
		"token", domain.TruncateID(req.TokenID, 12),
		"side", exec.Order.Side,
		"type", exec.Order.Type,
		"status", exec.Order.Status,
		"filled", fmt.Sprintf("%.2f/%.2f", exec.Order.Filled, exec.Order.Size),
		"avg_price", fmt.Sprintf("%.4f", exec.Order.AvgFillPrice),
		"slippage_bps", fmt.Sprintf("%.1f", exec.SlippageBps),
		"depth_exhausted", exec.DepthExhausted,
		"decision", d.ID,
	)
	return exec, nil
}

// Cancel cancels a resting order and frees its reservation.
func (s *Simulation) Cancel(ctx context.Context, tokenID, orderID string) (domain.Order, error) {
	p := s.pipelineForToken(tokenID)
	if p == nil {
		return domain.Order{}, s.reject(domain.Reject(domain.ReasonUnknownToken, tokenID))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	eng := p.engines[tokenID]
	before, _ := eng.Order(orderID)
	o, err := eng.Cancel(orderID)
	if err != nil {
		return o, s.reject(err)
	}
	if before.Resting() {
		metrics.RestingOrders.Set(float64(s.resting.Add(-1)))
		s.account.ReleaseAll(orderID)
		s.saveOrder(ctx, o)
		s.closeDecision(ctx, o)
		s.rehold(p, tokenID)
		slog.Info("paper: order canceled",
			"order", orderID,
			"filled", fmt.Sprintf("%.2f/%.2f", o.Filled, o.Size),
		)
	}
	return o, nil
}

// Order returns the current state of an order.
func (s *Simulation) Order(tokenID, orderID string) (domain.Order, bool) {
	p := s.pipelineForToken(tokenID)
	if p == nil {
		return domain.Order{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engines[tokenID].Order(orderID)
}

// Position returns the current position of a token.
func (s *Simulation) Position(tokenID string) (domain.Position, bool) {
	p := s.pipelineForToken(tokenID)
	if p == nil {
		return domain.Position{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledgers[tokenID].Position(), true
}

// OnSnapshot replaces the token's book, re-evaluates its resting orders once
// and re-marks its position. Snapshots for final markets are ignored.
func (s *Simulation) OnSnapshot(ctx context.Context, book domain.OrderBook) error {
	p := s.pipelineForToken(book.TokenID)
	if p == nil {
		return domain.Reject(domain.ReasonUnknownToken, book.TokenID)
	}
	start := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.market.ResolutionStatus.Final() {
		return nil
	}
	book = book.Normalized()
	if book.IsCrossed() {
		metrics.CrossedBooks.Inc()
	}
	p.books[book.TokenID] = book

	execs := p.engines[book.TokenID].OnSnapshot(book)
	for _, exec := range execs {
		s.settle(ctx, p, exec)
		s.saveOrder(ctx, exec.Order)
		if !exec.Order.Resting() {
			s.account.ReleaseAll(exec.Order.ID)
			metrics.RestingOrders.Set(float64(s.resting.Add(-1)))
		}
		slog.Info("paper: resting order filled",
			"order", exec.Order.ID,
			"status", exec.Order.Status,
			"fill", fmt.Sprintf("%.2f@%.4f", exec.Fills[0].Size, exec.Fills[0].Price),
			"remaining", fmt.Sprintf("%.2f", exec.Order.Remaining),
		)
	}
	if len(execs) > 0 {
		s.rehold(p, book.TokenID)
	}
	s.markToken(p, book.TokenID)

	metrics.SnapshotsTotal.Inc()
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	return nil
}

// UpdateMarket applies a resolution status change. RESOLVED cancels every
// order of the market, settles its positions at the token payoffs and
// resolves its decisions; VOIDED does the same at cost and excludes the
// decisions. Other statuses, DISPUTED included, leave orders and positions
// open.
func (s *Simulation) UpdateMarket(ctx context.Context, marketID string, status domain.ResolutionStatus, outcome *float64) error {
	p := s.pipelineForMarket(marketID)
	if p == nil {
		return fmt.Errorf("paper.UpdateMarket: unknown market %s", marketID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.market.ResolutionStatus
	if err := p.market.Transition(status, outcome); err != nil {
		return s.reject(err)
	}
	if prev == p.market.ResolutionStatus {
		return nil
	}
	s.saveMarket(ctx, p.market)

	switch p.market.ResolutionStatus {
	case domain.ResolutionResolved:
		s.resolve(ctx, p, *p.market.Outcome)
	case domain.ResolutionVoided:
		s.void(ctx, p)
	default:
		slog.Info("paper: market status changed",
			"market", domain.TruncateID(marketID, 16),
			"from", prev,
			"to", p.market.ResolutionStatus,
		)
	}
	return nil
}

// VoidMarket voids a market: orders are canceled, positions are closed at
// cost and its decisions are excluded from evaluation.
func (s *Simulation) VoidMarket(ctx context.Context, marketID string) error {
	return s.UpdateMarket(ctx, marketID, domain.ResolutionVoided, nil)
}

func (s *Simulation) resolve(ctx context.Context, p *pipeline, yesOutcome float64) {
	at := s.marketTime(p)
	payoffs := make(map[string]float64, len(p.tokens))
	var realized float64

	for _, id := range p.tokenIDs() {
		s.cancelAll(ctx, p, id, true)
		payoff := p.tokens[id].Payoff(yesOutcome)
		payoffs[id] = payoff

		led := p.ledgers[id]
		ch := led.Settle(payoff)
		s.account.ApplySettlement(ch)
		s.account.UpdatePosition(led.Position())
		realized += ch.Realized.InexactFloat64()
	}

	resolved := s.tracker.ResolveMarket(p.market.ID, payoffs, at)
	for _, d := range resolved {
		s.saveDecision(ctx, d)
	}
	metrics.DecisionsTotal.WithLabelValues("resolved").Add(float64(len(resolved)))
	s.publishAccount()

	slog.Info("paper: market resolved",
		"market", domain.TruncateID(p.market.ID, 16),
		"outcome", yesOutcome,
		"decisions", len(resolved),
		"realized", fmt.Sprintf("%.4f", realized),
	)
}

func (s *Simulation) void(ctx context.Context, p *pipeline) {
	for _, id := range p.tokenIDs() {
		s.cancelAll(ctx, p, id, false)
		led := p.ledgers[id]
		s.account.ApplySettlement(led.SettleAtCost())
		s.account.UpdatePosition(led.Position())
	}

	excluded := s.tracker.ExcludeMarket(p.market.ID, voidReason)
	for _, d := range excluded {
		s.saveDecision(ctx, d)
	}
	metrics.DecisionsTotal.WithLabelValues("excluded").Add(float64(len(excluded)))
	s.publishAccount()

	slog.Warn("paper: market voided",
		"market", domain.TruncateID(p.market.ID, 16),
		"decisions_excluded", len(excluded),
	)
}

func (s *Simulation) cancelAll(ctx context.Context, p *pipeline, tokenID string, closeDecisions bool) {
	canceled := p.engines[tokenID].CancelAll()
	for _, o := range canceled {
		s.account.ReleaseAll(o.ID)
		s.saveOrder(ctx, o)
		if closeDecisions {
			s.closeDecision(ctx, o)
		}
	}
	if len(canceled) > 0 {
		metrics.RestingOrders.Set(float64(s.resting.Add(-int64(len(canceled)))))
	}
}

// closeDecision settles the decision of a canceled order on what it traded.
// Without fills the decision leaves the evaluation; after a partial fill only
// the filled size counts towards its PnL.
func (s *Simulation) closeDecision(ctx context.Context, o domain.Order) {
	if o.Filled == 0 {
		if d, ok := s.tracker.ExcludeOrder(o.ID, unfilledReason); ok {
			s.saveDecision(ctx, d)
			metrics.DecisionsTotal.WithLabelValues("excluded").Inc()
		}
		return
	}
	if d, ok := s.tracker.SetExecutedSize(o.ID, o.Filled); ok {
		s.saveDecision(ctx, d)
	}
}

// settle books each fill of an execution into the token ledger, the account
// and the audit log, in creation order.
func (s *Simulation) settle(ctx context.Context, p *pipeline, exec domain.Execution) {
	led := p.ledgers[exec.Order.TokenID]
	for _, f := range exec.Fills {
		ch := led.Apply(f)
		s.account.ApplyFill(f, ch)
		s.record(ctx, f)
		metrics.FillsTotal.WithLabelValues(string(f.Side), string(exec.Order.Type)).Inc()
		metrics.FilledVolume.WithLabelValues(p.market.ID, string(f.Side)).Add(f.Size)
	}
}

// rehold resizes the reservations of tokenID's resting orders after its
// position or resting set changed. done, if given, are orders that finished
// matching; a non-resting one gives its reservation back.
func (s *Simulation) rehold(p *pipeline, tokenID string, done ...domain.Order) {
	for _, o := range done {
		if !o.Resting() {
			s.account.ReleaseAll(o.ID)
		}
	}
	resting := p.engines[tokenID].Resting()
	for _, o := range resting {
		s.holdFor(p, o, resting)
	}
}

// holdFor keeps the reservation of a resting order in line with what it can
// still fill. Earlier resting sells claim the long first.
func (s *Simulation) holdFor(p *pipeline, o domain.Order, resting []domain.Order) {
	held := account.Uncommitted(p.ledgers[o.TokenID].Quantity().InexactFloat64(), o, resting)
	required := account.RequiredFor(o, p.books[o.TokenID], s.cfg.FeeRate, held)
	if err := s.account.Reserve(o.ID, required); err != nil {
		slog.Warn("paper: could not resize reservation", "order", o.ID, "err", err)
	}
}

func (s *Simulation) markToken(p *pipeline, tokenID string) {
	led := p.ledgers[tokenID]
	if book, ok := p.books[tokenID]; ok {
		led.Mark(book, s.cfg.MarkMode)
	}
	s.account.UpdatePosition(led.Position())
	s.publishAccount()
}

func (s *Simulation) publishAccount() {
	snap := s.account.Snapshot()
	metrics.Balance.Set(snap.Balance)
	metrics.Equity.Set(snap.Equity)
}

// logDecision records the decision behind a submission. The entry price is
// what the order is expected to pay: the fills so far plus the limit price
// for any resting remainder. A MARKET order that found no liquidity is
// logged but excluded.
func (s *Simulation) logDecision(ctx context.Context, p *pipeline, exec domain.Execution, sig domain.Signal, book domain.OrderBook) domain.Decision {
	o := exec.Order
	size := o.Size
	entry := domain.VWAP(exec.Fills)
	var exclude string

	switch {
	case o.Type == domain.OrderMarket && o.Filled == 0:
		exclude = noLiquidityReason
	case o.Type == domain.OrderMarket:
		size = o.Filled
	case o.Remaining > 0:
		entry = (entry*o.Filled + o.Price*o.Remaining) / o.Size
	}

	marketProb := sig.MarketProb
	if marketProb == 0 {
		marketProb = book.Mid()
	}

	d := s.tracker.Log(domain.Decision{
		MarketID:      p.market.ID,
		TokenID:       o.TokenID,
		OrderID:       o.ID,
		Side:          o.Side,
		Size:          size,
		EntryPrice:    entry,
		FairProb:      sig.FairProb,
		MarketProb:    marketProb,
		Edge:          sig.Edge,
		RiskFlags:     sig.RiskFlags,
		Timestamp:     o.CreatedAt,
		Excluded:      exclude != "",
		ExcludeReason: exclude,
	})
	s.saveDecision(ctx, d)

	state := "logged"
	if d.Excluded {
		state = "excluded"
	}
	metrics.DecisionsTotal.WithLabelValues(state).Inc()
	return d
}

func (s *Simulation) marketTime(p *pipeline) time.Time {
	if b, ok := p.lastUpdate(); ok && !b.Timestamp.IsZero() {
		return b.Timestamp
	}
	return s.now()
}

func (s *Simulation) reject(err error) error {
	if reason := domain.ReasonOf(err); reason != "" {
		metrics.RejectionsTotal.WithLabelValues(string(reason)).Inc()
		slog.Debug("paper: rejected", "reason", reason, "err", err)
	}
	return err
}

// record appends a fill to the audit log and the journal under one lock so
// both see fills in creation order.
func (s *Simulation) record(ctx context.Context, f domain.Fill) {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	s.fills = append(s.fills, f)
	if s.journal == nil {
		return
	}
	if err := s.journal.SaveFill(ctx, f); err != nil {
		slog.Warn("paper: error saving fill", "order", f.OrderID, "err", err)
	}
}

func (s *Simulation) saveOrder(ctx context.Context, o domain.Order) {
	if s.journal == nil {
		return
	}
	if err := s.journal.SaveOrder(ctx, o); err != nil {
		slog.Warn("paper: error saving order", "order", o.ID, "err", err)
	}
}

func (s *Simulation) saveDecision(ctx context.Context, d domain.Decision) {
	if s.journal == nil {
		return
	}
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	if err := s.journal.SaveDecision(ctx, d); err != nil {
		slog.Warn("paper: error saving decision", "decision", d.ID, "err", err)
	}
}

func (s *Simulation) saveMarket(ctx context.Context, m domain.Market) {
	if s.journal == nil {
		return
	}
	if err := s.journal.SaveMarket(ctx, m); err != nil {
		slog.Warn("paper: error saving market", "market", m.ID, "err", err)
	}
}

// Fills returns the audit log of fills in creation order.
func (s *Simulation) Fills() []domain.Fill {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	out := make([]domain.Fill, len(s.fills))
	copy(out, s.fills)
	return out
}

// Report collects the account, positions, resting orders and evaluation.
func (s *Simulation) Report() domain.Report {
	positions := s.account.Positions()
	sort.Slice(positions, func(i, j int) bool { return positions[i].TokenID < positions[j].TokenID })

	s.mu.RLock()
	ids := make([]string, 0, len(s.markets))
	for id := range s.markets {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	var orders []domain.Order
	for _, id := range ids {
		p := s.pipelineForMarket(id)
		p.mu.Lock()
		orders = append(orders, p.resting()...)
		p.mu.Unlock()
	}

	activity := domain.SummarizeActivity(s.Fills(), func(tokenID string) string {
		id, _ := s.MarketOf(tokenID)
		return id
	})

	return domain.Report{
		GeneratedAt: s.now(),
		Account:     s.account.Snapshot(),
		Positions:   positions,
		Orders:      orders,
		Activity:    activity,
		Evaluation:  s.tracker.Stats(),
		Cohorts:     s.tracker.Cohorts(),
	}
}
