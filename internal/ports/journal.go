package ports

import (
	"context"

	"github.com/alejandrodnm/charliebot/internal/domain"
)

// Journal reads back the audit trail written by the storage reporter.
type Journal interface {
	// RecentEvents devuelve los últimos eventos, el más reciente primero.
	RecentEvents(ctx context.Context, limit int) ([]domain.JournalEntry, error)

	// Stats agrega los ciclos y órdenes registrados.
	Stats(ctx context.Context) (domain.JournalStats, error)

	Close() error
}
