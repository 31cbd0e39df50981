package engine

import (
	"context"

	"github.com/alejandrodnm/polysim/internal/domain"
)

// SnapshotSink recibe ticks de orderbook. La simulación los procesa inline;
// el Dispatcher los encola por mercado y se queda solo con el último por token.
type SnapshotSink interface {
	OnSnapshot(ctx context.Context, book domain.OrderBook) error
}

// QueuePosition devuelve el tamaño que ya descansa en el mismo nivel de precio
// y del mismo lado que una orden límite, es decir lo que está delante en la cola.
// FIFO dentro de un nivel de precio: solo las órdenes al mismo precio están delante.
func QueuePosition(book domain.OrderBook, side domain.Side, price float64) float64 {
	levels := book.Bids
	if side == domain.SideSell {
		levels = book.Asks
	}
	total := 0.0
	for _, entry := range levels {
		if domain.PriceEqual(entry.Price, price) {
			total += entry.Size
		}
	}
	return total
}
