package ports

import (
	"context"

	"github.com/alejandrodnm/charliebot/internal/domain"
)

// Reporter receives every event the controller emits. Report must not block
// for long and never fails the caller: implementations log their own errors.
type Reporter interface {
	Report(ctx context.Context, event domain.Event)
}
