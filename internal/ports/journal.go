package ports

import (
	"context"

	"github.com/alejandrodnm/polysim/internal/domain"
)

// Journal persiste el historial de auditoría de la simulación.
// Fills y decisiones se escriben en orden de creación y nunca se borran.
type Journal interface {
	SaveMarket(ctx context.Context, m domain.Market) error

	// SaveOrder inserta o actualiza el estado de una orden.
	SaveOrder(ctx context.Context, o domain.Order) error

	SaveFill(ctx context.Context, f domain.Fill) error

	// SaveDecision inserta o actualiza una decisión (resolución, exclusión).
	SaveDecision(ctx context.Context, d domain.Decision) error

	LoadDecisions(ctx context.Context) ([]domain.Decision, error)
	LoadFills(ctx context.Context) ([]domain.Fill, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
