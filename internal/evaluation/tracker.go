// Package evaluation records strategy decisions and scores them once their
// markets resolve.
package evaluation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polysim/internal/domain"
)

// DefaultCohortWindow is the cohort length used when none is configured.
const DefaultCohortWindow = 24 * time.Hour

// Tracker is the shared decision log. Recorded probabilities and entry
// prices are never rewritten; only resolution and exclusion fields change,
// and only once.
type Tracker struct {
	mu        sync.RWMutex
	decisions []*domain.Decision
	byID      map[string]*domain.Decision

	epoch  time.Time
	window time.Duration
	newID  func() string
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithEpoch sets the fixed origin of the cohort grid.
func WithEpoch(epoch time.Time) Option {
	return func(t *Tracker) { t.epoch = epoch.UTC() }
}

// WithIDGenerator overrides decision id generation.
func WithIDGenerator(fn func() string) Option {
	return func(t *Tracker) { t.newID = fn }
}

// NewTracker creates a tracker grouping decisions in windows of the given
// length starting at the Unix epoch.
func NewTracker(window time.Duration, opts ...Option) *Tracker {
	if window <= 0 {
		window = DefaultCohortWindow
	}
	t := &Tracker{
		byID:   make(map[string]*domain.Decision),
		epoch:  time.Unix(0, 0).UTC(),
		window: window,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CohortOf returns the cohort id for a decision time.
func (t *Tracker) CohortOf(ts time.Time) int64 {
	diff := ts.Sub(t.epoch)
	id := int64(diff / t.window)
	if diff < 0 && diff%t.window != 0 {
		id--
	}
	return id
}

// Log appends a decision, assigning its id and cohort. It returns the stored
// copy.
func (t *Tracker) Log(d domain.Decision) domain.Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	if d.ID == "" {
		d.ID = t.newID()
	}
	d.CohortID = t.CohortOf(d.Timestamp)
	d.RiskFlags = append([]string(nil), d.RiskFlags...)
	t.store(&d)
	return d
}

func (t *Tracker) store(d *domain.Decision) {
	t.decisions = append(t.decisions, d)
	t.byID[d.ID] = d
}

// ResolveMarket resolves every open decision of marketID. payoffs maps each
// token id to its settlement value; decisions on tokens missing from the map
// are left open. It returns the resolved decisions.
func (t *Tracker) ResolveMarket(marketID string, payoffs map[string]float64, at time.Time) []domain.Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []domain.Decision
	for _, d := range t.decisions {
		if d.MarketID != marketID || d.Resolved() || d.Excluded {
			continue
		}
		payoff, ok := payoffs[d.TokenID]
		if !ok {
			continue
		}
		outcome, exit, when := payoff, payoff, at
		d.ResolvedOutcome = &outcome
		d.ExitPrice = &exit
		d.ResolvedAt = &when
		out = append(out, *d)
	}
	return out
}

// ExcludeMarket marks every unresolved decision of marketID as excluded from
// metrics.
func (t *Tracker) ExcludeMarket(marketID, reason string) []domain.Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []domain.Decision
	for _, d := range t.decisions {
		if d.MarketID != marketID || d.Resolved() || d.Excluded {
			continue
		}
		d.Excluded = true
		d.ExcludeReason = reason
		out = append(out, *d)
	}
	return out
}

// ExcludeOrder excludes the unresolved decision placed with orderID, used
// when the order is canceled before any fill.
func (t *Tracker) ExcludeOrder(orderID, reason string) (domain.Decision, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, d := range t.decisions {
		if d.OrderID != orderID || d.Resolved() || d.Excluded {
			continue
		}
		d.Excluded = true
		d.ExcludeReason = reason
		return *d, true
	}
	return domain.Decision{}, false
}

// SetExecutedSize records how much of orderID's decision actually traded,
// used when the order is canceled after a partial fill. It is written once
// and only on an open decision whose size it reduces; the recorded inputs
// are left untouched.
func (t *Tracker) SetExecutedSize(orderID string, filled float64) (domain.Decision, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, d := range t.decisions {
		if d.OrderID != orderID || d.Resolved() || d.Excluded {
			continue
		}
		if d.ExecutedSize != nil || filled <= 0 || filled >= d.Size {
			return domain.Decision{}, false
		}
		size := filled
		d.ExecutedSize = &size
		return *d, true
	}
	return domain.Decision{}, false
}

// Decision returns a copy of the decision with the given id.
func (t *Tracker) Decision(id string) (domain.Decision, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.byID[id]
	if !ok {
		return domain.Decision{}, false
	}
	return *d, true
}

// Decisions returns all decisions in log order.
func (t *Tracker) Decisions() []domain.Decision {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot(func(*domain.Decision) bool { return true })
}

// Pending returns the decisions still waiting for resolution.
func (t *Tracker) Pending() []domain.Decision {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot(func(d *domain.Decision) bool { return !d.Resolved() && !d.Excluded })
}

func (t *Tracker) snapshot(keep func(*domain.Decision) bool) []domain.Decision {
	out := make([]domain.Decision, 0, len(t.decisions))
	for _, d := range t.decisions {
		if keep(d) {
			out = append(out, *d)
		}
	}
	return out
}

// Stats aggregates every decision.
func (t *Tracker) Stats() domain.EvaluationStats {
	return Compute(t.Decisions())
}

// Cohorts aggregates decisions per cohort window, ordered by cohort id.
func (t *Tracker) Cohorts() []domain.CohortStats {
	return GroupCohorts(t.Decisions(), t.epoch, t.window)
}

// Restore reloads persisted decisions, for example from the journal, keeping
// their ids and resolution state. Cohorts are recomputed on this tracker's
// grid. Decisions already present are skipped.
func (t *Tracker) Restore(decisions []domain.Decision) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, d := range decisions {
		if d.ID == "" {
			return n, fmt.Errorf("evaluation.Restore: decision for market %s has no id", d.MarketID)
		}
		if _, dup := t.byID[d.ID]; dup {
			continue
		}
		d.CohortID = t.CohortOf(d.Timestamp)
		t.store(&d)
		n++
	}
	return n, nil
}

// GroupCohorts buckets decisions into fixed windows starting at epoch and
// aggregates each bucket.
func GroupCohorts(decisions []domain.Decision, epoch time.Time, window time.Duration) []domain.CohortStats {
	if window <= 0 {
		window = DefaultCohortWindow
	}
	grid := &Tracker{epoch: epoch.UTC(), window: window}

	buckets := make(map[int64][]domain.Decision)
	for _, d := range decisions {
		id := grid.CohortOf(d.Timestamp)
		buckets[id] = append(buckets[id], d)
	}

	out := make([]domain.CohortStats, 0, len(buckets))
	for id, ds := range buckets {
		start := grid.epoch.Add(time.Duration(id) * window)
		out = append(out, domain.CohortStats{
			CohortID:        id,
			Start:           start,
			End:             start.Add(window),
			EvaluationStats: Compute(ds),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CohortID < out[j].CohortID })
	return out
}
