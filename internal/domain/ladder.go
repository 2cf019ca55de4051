package domain

import (
	"iter"
	"math"
)

// MaxLadderQuantity caps the size of any ladder step. The step that would
// carry more is never emitted.
const MaxLadderQuantity = 2048

// LadderStep is one resting buy of the averaging-down ladder.
type LadderStep struct {
	Price    float64
	Quantity int
	Offset   int // price distance from the previous reference, rounded
}

// LadderParams shapes the geometric price decay of the ladder.
type LadderParams struct {
	Index        int
	Multiplier   float64
	Intercept    float64
	GrowthFactor float64
	MaxQuantity  int
}

// DefaultLadderParams returns the parameters the strategy trades with.
func DefaultLadderParams() LadderParams {
	return LadderParams{
		Index:        1,
		Multiplier:   10,
		Intercept:    7,
		GrowthFactor: 1.3,
		MaxQuantity:  MaxLadderQuantity,
	}
}

func (p LadderParams) withDefaults() LadderParams {
	d := DefaultLadderParams()
	if p.Index <= 0 {
		p.Index = d.Index
	}
	if p.Multiplier == 0 {
		p.Multiplier = d.Multiplier
	}
	if p.Intercept == 0 {
		p.Intercept = d.Intercept
	}
	if p.GrowthFactor == 0 {
		p.GrowthFactor = d.GrowthFactor
	}
	if p.MaxQuantity <= 0 {
		p.MaxQuantity = d.MaxQuantity
	}
	return p
}

// AllocateLongs yields the long ladder below reference. Each step moves
// multiplier·intercept·growth^index further down, snapped to the tick, and
// doubles the quantity. The sequence is lazy and restartable: every range
// over it recomputes from the seed, so the same inputs give the same steps.
func AllocateLongs(reference float64, quantity int, p LadderParams) iter.Seq[LadderStep] {
	p = p.withDefaults()
	return func(yield func(LadderStep) bool) {
		ref, qty, idx := reference, quantity, p.Index
		for qty > 0 && qty <= p.MaxQuantity {
			distance := p.Multiplier * p.Intercept * math.Pow(p.GrowthFactor, float64(idx))
			price := QuantizePrice(QuantizePrice(ref) - distance)
			step := LadderStep{
				Price:    price,
				Quantity: qty,
				Offset:   int(math.RoundToEven(price - ref)),
			}
			if !yield(step) {
				return
			}
			ref, qty, idx = price, qty*2, idx+1
		}
	}
}

// Ladder collects AllocateLongs into a slice.
func Ladder(reference float64, quantity int, p LadderParams) []LadderStep {
	var steps []LadderStep
	for step := range AllocateLongs(reference, quantity, p) {
		steps = append(steps, step)
	}
	return steps
}
