package ports

import (
	"context"

	"github.com/alejandrodnm/polysim/internal/domain"
)

// Reporter presenta el estado de la simulación al usuario.
type Reporter interface {
	// Report muestra cuenta, posiciones y métricas de evaluación.
	// En la implementación de consola, imprime tablas formateadas.
	Report(ctx context.Context, r domain.Report) error
}
