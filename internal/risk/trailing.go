package risk

import (
	"math"

	"strategy-backtester/internal/models"
)

// TrailingState is the per-leg-instance stop state. Instances live in the
// engine's arena and are dropped with the engine.
type TrailingState struct {
	EntryPrice             float64
	CurrentStop            float64 // ±Inf when no stop is set
	Trailed                bool    // CurrentStop was moved by the trailing rule
	LockedFloor            *float64
	PeakFavorableExcursion float64
}

func newTrailingState(side models.OrderSide, entry, hardStop float64) TrailingState {
	ts := TrailingState{EntryPrice: entry, CurrentStop: math.Inf(-1)}
	if side == models.OrderSideSell {
		ts.CurrentStop = math.Inf(1)
	}
	if !math.IsNaN(hardStop) {
		ts.CurrentStop = hardStop
	}
	return ts
}

// better reports whether stop a is more protective than b for side.
func better(side models.OrderSide, a, b float64) bool {
	if side == models.OrderSideSell {
		return a < b
	}
	return a > b
}

// breached reports whether price has crossed stop against the position.
func breached(side models.OrderSide, price, stop float64) bool {
	if side == models.OrderSideSell {
		return price >= stop
	}
	return price <= stop
}

// trail advances the stop for one bar. It returns true when the stop moved.
// Candidates that would loosen the stop are discarded, so a retrace never
// pulls the stop back.
func trail(st *TrailingState, side models.OrderSide, pt models.ProfitTrailing, price float64) bool {
	sign := side.Sign()
	if exc := sign * (price - st.EntryPrice); exc > st.PeakFavorableExcursion {
		st.PeakFavorableExcursion = exc
	}
	peak := st.PeakFavorableExcursion

	var candidate float64
	switch pt.Kind {
	case models.NoTrailing:
		return false

	case models.TrailProfit:
		if pt.OnEveryIncreaseOf <= 0 {
			return false
		}
		steps := math.Floor(peak / pt.OnEveryIncreaseOf)
		if steps < 1 {
			return false
		}
		candidate = st.EntryPrice + sign*steps*pt.TrailBy

	case models.LockAndTrail:
		if peak < pt.ProfitReaches {
			return false
		}
		if st.LockedFloor == nil {
			floor := st.EntryPrice + sign*pt.LockProfitAt
			st.LockedFloor = &floor
		}
		steps := 0.0
		if pt.OnEveryIncreaseOf > 0 {
			steps = math.Floor((peak - pt.ProfitReaches) / pt.OnEveryIncreaseOf)
		}
		candidate = st.EntryPrice + sign*(pt.LockProfitAt+steps*pt.TrailBy)

	default:
		return false
	}

	if !better(side, candidate, st.CurrentStop) {
		return false
	}
	st.CurrentStop = candidate
	st.Trailed = true
	return true
}
