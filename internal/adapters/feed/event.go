// Package feed lee eventos de simulación en formato JSON Lines: altas de
// mercado, snapshots de orderbook, intenciones de orden, cancelaciones y
// cambios de resolución. Un fichero de eventos reproduce una sesión completa.
package feed

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alejandrodnm/polysim/internal/domain"
)

// EventType identifica el tipo de una línea del feed.
type EventType string

const (
	EventMarket     EventType = "market"
	EventSnapshot   EventType = "snapshot"
	EventOrder      EventType = "order"
	EventCancel     EventType = "cancel"
	EventResolution EventType = "resolution"
	EventVoid       EventType = "void"
)

// maxLineBytes es el tamaño máximo de una línea (books profundos).
const maxLineBytes = 4 << 20

// Event es una línea del feed. Solo los campos de su tipo están presentes.
type Event struct {
	Type EventType `json:"type"`

	// market
	Market *domain.Market `json:"market,omitempty"`
	Tokens []domain.Token `json:"tokens,omitempty"`

	// snapshot
	Book *domain.OrderBook `json:"book,omitempty"`

	// order
	Order  *domain.OrderRequest `json:"order,omitempty"`
	Signal *domain.Signal       `json:"signal,omitempty"`

	// cancel
	TokenID string `json:"token_id,omitempty"`
	OrderID string `json:"order_id,omitempty"`

	// resolution, void
	MarketID string                  `json:"market_id,omitempty"`
	Status   domain.ResolutionStatus `json:"status,omitempty"`
	Outcome  *float64                `json:"outcome,omitempty"`
}

// Validate comprueba que el evento trae los campos de su tipo.
func (e Event) Validate() error {
	switch e.Type {
	case EventMarket:
		if e.Market == nil || e.Market.ID == "" {
			return errors.New("market event without market_id")
		}
		if len(e.Tokens) == 0 {
			return errors.New("market event without tokens")
		}
	case EventSnapshot:
		if e.Book == nil || e.Book.TokenID == "" {
			return errors.New("snapshot event without book.token_id")
		}
	case EventOrder:
		if e.Order == nil || e.Order.TokenID == "" {
			return errors.New("order event without order.token_id")
		}
	case EventCancel:
		if e.TokenID == "" || e.OrderID == "" {
			return errors.New("cancel event needs token_id and order_id")
		}
	case EventResolution:
		if e.MarketID == "" || e.Status == "" {
			return errors.New("resolution event needs market_id and status")
		}
	case EventVoid:
		if e.MarketID == "" {
			return errors.New("void event without market_id")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// Reader decodifica un feed línea a línea. Las líneas vacías y las que
// empiezan por "#" se ignoran.
type Reader struct {
	sc   *bufio.Scanner
	line int
	done bool
}

// NewReader crea un Reader sobre r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{sc: sc}
}

// Next devuelve el siguiente evento, o io.EOF al terminar. Un error de lectura
// se devuelve una sola vez; las llamadas siguientes devuelven io.EOF.
func (r *Reader) Next() (Event, error) {
	if r.done {
		return Event{}, io.EOF
	}
	for r.sc.Scan() {
		r.line++
		text := strings.TrimSpace(r.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return Event{}, fmt.Errorf("feed line %d: %w", r.line, err)
		}
		if err := ev.Validate(); err != nil {
			return Event{}, fmt.Errorf("feed line %d: %w", r.line, err)
		}
		if ev.Book != nil {
			*ev.Book = ev.Book.Normalized()
		}
		return ev, nil
	}
	r.done = true
	if err := r.sc.Err(); err != nil {
		return Event{}, fmt.Errorf("feed line %d: %w", r.line+1, err)
	}
	return Event{}, io.EOF
}

// Line devuelve el número de la última línea leída.
func (r *Reader) Line() int { return r.line }

// Encode escribe ev como una línea JSON.
func Encode(w io.Writer, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("feed.Encode: %w", err)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// SnapshotEvent construye un evento snapshot, útil para grabar un feed live.
func SnapshotEvent(book domain.OrderBook) Event {
	return Event{Type: EventSnapshot, Book: &book}
}

// MarketEvent construye un evento de alta de mercado.
func MarketEvent(l domain.Listing) Event {
	m := l.Market
	return Event{Type: EventMarket, Market: &m, Tokens: l.Tokens}
}

// stamp devuelve el timestamp lógico del evento, si lo tiene.
func (e Event) stamp() time.Time {
	if e.Book != nil {
		return e.Book.Timestamp
	}
	return time.Time{}
}
