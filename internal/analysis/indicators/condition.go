package indicators

import (
	"fmt"
	"math"

	"strategy-backtester/internal/models"
)

const equalTolerance = 1e-9

// ConditionSet evaluates a conjunction of entry conditions over precomputed lines.
// Evaluation at bar i reads only values at i and i-1.
type ConditionSet struct {
	conds []models.EntryCondition
	lines map[string]Line
}

func newConditionSet(conds []models.EntryCondition, lines map[string]Line) *ConditionSet {
	return &ConditionSet{conds: conds, lines: lines}
}

// ValidComparator reports whether c is a supported comparator.
func ValidComparator(c models.Comparator) bool {
	switch c {
	case models.CompGreater, models.CompLess, models.CompGreaterEqual, models.CompLessEqual,
		models.CompEqual, models.CompCrossAbove, models.CompCrossBelow:
		return true
	}
	return false
}

// Holds reports whether every condition is true at bar i. Warm-up bars never hold.
func (s *ConditionSet) Holds(i int) bool {
	if len(s.conds) == 0 {
		return false
	}
	for _, c := range s.conds {
		if !s.eval(c, i) {
			return false
		}
	}
	return true
}

func (s *ConditionSet) operand(ref models.IndicatorRef, i int) (float64, bool) {
	l, ok := s.lines[lineKey(ref.Name, ref.Period)]
	if !ok || !l.Valid(i) {
		return 0, false
	}
	return l.Values[i], true
}

func (s *ConditionSet) sides(c models.EntryCondition, i int) (float64, float64, bool) {
	ops := c.Operands()
	left, ok := s.operand(ops[0], i)
	if !ok {
		return 0, 0, false
	}
	if c.UsesValue() {
		return left, c.Value, true
	}
	right, ok := s.operand(ops[1], i)
	return left, right, ok
}

func (s *ConditionSet) eval(c models.EntryCondition, i int) bool {
	left, right, ok := s.sides(c, i)
	if !ok {
		return false
	}
	switch c.Comparator {
	case models.CompGreater:
		return left > right
	case models.CompLess:
		return left < right
	case models.CompGreaterEqual:
		return left >= right
	case models.CompLessEqual:
		return left <= right
	case models.CompEqual:
		return math.Abs(left-right) <= equalTolerance
	case models.CompCrossAbove, models.CompCrossBelow:
		if i == 0 {
			return false
		}
		pl, pr, ok := s.sides(c, i-1)
		if !ok {
			return false
		}
		if c.Comparator == models.CompCrossAbove {
			return pl <= pr && left > right
		}
		return pl >= pr && left < right
	}
	return false
}

// Describe renders the condition values at bar i for debug logging.
func (s *ConditionSet) Describe(i int) string {
	out := ""
	for n, c := range s.conds {
		left, right, ok := s.sides(c, i)
		if n > 0 {
			out += " AND "
		}
		if !ok {
			out += c.String() + " [warm-up]"
			continue
		}
		out += fmt.Sprintf("%s [%.2f vs %.2f]", c.String(), left, right)
	}
	return out
}
