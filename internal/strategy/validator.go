package strategy

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"strategy-backtester/internal/analysis/indicators"
	"strategy-backtester/internal/models"
)

// CrossChecker resolves strategy instruments against a broker.
type CrossChecker interface {
	ValidateForStrategy(s *models.Strategy, brokerID string) models.ValidationResult
}

// Validator runs structural and cross-reference checks on strategies.
type Validator struct {
	resolver CrossChecker
	logger   zerolog.Logger
}

// NewValidator creates a validator. A nil resolver skips instrument checks.
func NewValidator(resolver CrossChecker, logger zerolog.Logger) *Validator {
	return &Validator{
		resolver: resolver,
		logger:   logger.With().Str("component", "validator").Logger(),
	}
}

var validIntervals = map[string]bool{
	"": true, "minute": true, "3minute": true, "5minute": true, "10minute": true,
	"15minute": true, "30minute": true, "60minute": true,
}

// CheckReplayInterval rejects intervals a session-gated replay cannot use.
// Daily bars are stamped at midnight and so never fall inside the entry window.
func CheckReplayInterval(interval string) error {
	if interval == "day" {
		return fmt.Errorf("%q bars carry no time of day and never fall inside the session window", interval)
	}
	if !validIntervals[interval] {
		return fmt.Errorf("unsupported interval %q", interval)
	}
	return nil
}

// Validate checks s and, when every check passes, normalizes its trailing
// variant and marks it validated. brokerID may be empty to skip instrument
// resolution.
func (v *Validator) Validate(s *models.Strategy, brokerID string) models.ValidationResult {
	res := models.NewValidationResult()

	kind, err := NormalizeTrailing(s.Risk.ProfitTrailing.Label)
	if err != nil {
		res.Add("", "risk_management.profit_trailing.type", err.Error())
	}
	checkRisk(&res, s.Risk, kind)

	switch spec := s.Spec.(type) {
	case *models.TimeBased:
		checkSession(&res, spec.Session, s.Risk.NoTradeAfterTime)
		checkLegs(&res, spec.Legs)
	case *models.IndicatorBased:
		checkSession(&res, spec.Session, s.Risk.NoTradeAfterTime)
		checkIndicatorStrategy(&res, spec)
	case nil:
		res.Add("", "type", "strategy has no variant")
	default:
		res.Add("", "type", fmt.Sprintf("unsupported strategy variant %T", spec))
	}

	if v.resolver != nil && brokerID != "" && s.Spec != nil {
		res.Merge(v.resolver.ValidateForStrategy(s, brokerID))
	}

	if res.Valid {
		s.Risk.ProfitTrailing.Kind = kind
		s.MarkValidated()
		v.logger.Debug().Str("strategy_id", s.ID).Str("trailing", kind.String()).Msg("Strategy validated")
	} else {
		v.logger.Debug().Str("strategy_id", s.ID).Int("issues", len(res.Errors)).Msg("Strategy rejected")
	}
	return res
}

// Load parses, converts and validates a document in one step.
func (v *Validator) Load(doc *Document, brokerID string) (*models.Strategy, error) {
	s, res := doc.ToStrategy()
	if res.Valid {
		res = v.Validate(s, brokerID)
	}
	if err := res.Err(doc.ID); err != nil {
		return nil, err
	}
	return s, nil
}

func checkSession(res *models.ValidationResult, sess models.Session, noTradeAfter *models.TimeOfDay) {
	if sess.TradingDays.Count() == 0 {
		res.Add("", "trading_days", "at least one trading day must be active")
	}
	if sess.StartTime >= sess.SquareOffTime {
		res.Add("", "start_time", fmt.Sprintf("start %s must be before square-off %s", sess.StartTime, sess.SquareOffTime))
	}
	if noTradeAfter != nil {
		if *noTradeAfter <= sess.StartTime || *noTradeAfter > sess.SquareOffTime {
			res.Add("", "no_trade_after_time",
				fmt.Sprintf("%s must be after start %s and not after square-off %s", *noTradeAfter, sess.StartTime, sess.SquareOffTime))
		}
	}
}

func checkStop(res *models.ValidationResult, legID, field string, s models.StopSpec) {
	switch s.Type {
	case models.StopPoints, models.StopPercentage, models.StopAmount:
	default:
		res.Add(legID, field+".type", fmt.Sprintf("unknown stop type %q", s.Type))
	}
	if s.Value < 0 {
		res.Add(legID, field+".value", "must not be negative")
	}
	if s.Type == models.StopPercentage && s.Value >= 100 {
		res.Add(legID, field+".value", "percentage must be below 100")
	}
}

func checkSide(res *models.ValidationResult, legID string, side models.OrderSide) {
	if side != models.OrderSideBuy && side != models.OrderSideSell {
		res.Add(legID, "action", fmt.Sprintf("unknown action %q", side))
	}
}

func checkLegs(res *models.ValidationResult, legs []models.OrderLeg) {
	if len(legs) == 0 {
		res.Add("", "order_legs", "time-based strategy needs at least one leg")
		return
	}
	seen := make(map[string]bool, len(legs))
	for _, l := range legs {
		if strings.TrimSpace(l.ID) == "" {
			res.Add("", "order_legs.id", "leg id must not be empty")
		} else if seen[l.ID] {
			res.Add(l.ID, "id", "duplicate leg id")
		}
		seen[l.ID] = true

		if l.InstrumentID == "" {
			res.Add(l.ID, "instrument_id", "required")
		}
		checkSide(res, l.ID, l.Action)
		if l.Quantity <= 0 {
			res.Add(l.ID, "quantity", "must be positive")
		}
		checkStop(res, l.ID, "stop_loss", l.StopLoss)
		checkStop(res, l.ID, "take_profit", l.TakeProfit)

		switch l.Strike.Mode {
		case "", models.StrikeATM, models.StrikeITM, models.StrikeOTM:
		case models.StrikeExact:
			if l.Strike.Price <= 0 {
				res.Add(l.ID, "strike.price", "EXACT strike needs a positive price")
			}
		default:
			res.Add(l.ID, "strike.mode", fmt.Sprintf("unknown strike mode %q", l.Strike.Mode))
		}
	}
}

func checkIndicatorStrategy(res *models.ValidationResult, spec *models.IndicatorBased) {
	if len(spec.Instruments) == 0 {
		res.Add("", "instruments", "indicator strategy needs at least one instrument")
	}
	if len(spec.EntryConditions) == 0 {
		res.Add("", "entry_conditions", "indicator strategy needs at least one entry condition")
	}
	switch spec.ChartType {
	case models.ChartCandle, models.ChartHeikinAshi:
	default:
		res.Add("", "chart_type", fmt.Sprintf("unknown chart type %q", spec.ChartType))
	}
	if err := CheckReplayInterval(spec.Interval); err != nil {
		res.Add("", "interval", err.Error())
	}

	for i, in := range spec.Instruments {
		id := models.IndicatorLegID(i)
		if in.InstrumentID == "" {
			res.Add(id, "instrument_id", "required")
		}
		checkSide(res, id, in.Action)
		if in.Quantity <= 0 {
			res.Add(id, "quantity", "must be positive")
		}
		checkStop(res, id, "stop_loss", in.StopLoss)
		checkStop(res, id, "take_profit", in.TakeProfit)
	}

	for i, c := range spec.EntryConditions {
		field := fmt.Sprintf("entry_conditions[%d]", i)
		if !indicators.ValidComparator(c.Comparator) {
			res.Add("", field+".comparator", fmt.Sprintf("unknown comparator %q", c.Comparator))
		}
		for _, ref := range c.Operands() {
			if !indicators.Known(ref.Name) {
				res.Add("", field, fmt.Sprintf("unknown indicator %q", ref.Name))
				continue
			}
			if indicators.NeedsPeriod(ref.Name) && ref.Period <= 0 {
				res.Add("", field, fmt.Sprintf("%s needs a positive period", ref.Name))
			}
		}
	}
}

func checkRisk(res *models.ValidationResult, r models.RiskManagement, kind models.TrailingKind) {
	if r.ExitProfitAmount < 0 {
		res.Add("", "risk_management.exit_profit_amount", "must not be negative")
	}
	if r.ExitLossAmount < 0 {
		res.Add("", "risk_management.exit_loss_amount", "must not be negative")
	}
	if r.MaxTradeCycle < 0 {
		res.Add("", "risk_management.max_trade_cycle", "must not be negative")
	}

	pt := r.ProfitTrailing
	const field = "risk_management.profit_trailing"
	switch kind {
	case models.NoTrailing:
	case models.TrailProfit:
		if pt.OnEveryIncreaseOf <= 0 {
			res.Add("", field+".on_every_increase_of", "must be positive")
		}
		if pt.TrailBy <= 0 {
			res.Add("", field+".trail_by", "must be positive")
		}
	case models.LockAndTrail:
		if pt.ProfitReaches <= 0 {
			res.Add("", field+".profit_reaches", "must be positive")
		}
		if pt.LockProfitAt < 0 {
			res.Add("", field+".lock_profit_at", "must not be negative")
		}
		if pt.LockProfitAt > pt.ProfitReaches {
			res.Add("", field+".lock_profit_at", "must not exceed profit_reaches")
		}
		if pt.OnEveryIncreaseOf <= 0 {
			res.Add("", field+".on_every_increase_of", "must be positive")
		}
		if pt.TrailBy <= 0 {
			res.Add("", field+".trail_by", "must be positive")
		}
	}
}
