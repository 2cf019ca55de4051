package notify

import (
	"context"

	"github.com/alejandrodnm/charliebot/internal/domain"
	"github.com/alejandrodnm/charliebot/internal/ports"
)

// Multi reparte cada evento entre varios reporters, en orden.
type Multi []ports.Reporter

// NewMulti ignora los reporters nil.
func NewMulti(reporters ...ports.Reporter) Multi {
	var m Multi
	for _, r := range reporters {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m Multi) Report(ctx context.Context, ev domain.Event) {
	for _, r := range m {
		r.Report(ctx, ev)
	}
}
