// Package strategy parses strategy documents and validates strategies.
package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"strategy-backtester/internal/models"
)

// Document is the boundary shape of a strategy as users write it.
type Document struct {
	ID              string          `json:"id" yaml:"id" validate:"required"`
	Name            string          `json:"name" yaml:"name"`
	Type            string          `json:"type" yaml:"type" validate:"required"`
	StartTime       string          `json:"start_time" yaml:"start_time" validate:"required"`
	SquareOffTime   string          `json:"square_off_time" yaml:"square_off_time" validate:"required"`
	TradingDays     DaysField       `json:"trading_days" yaml:"trading_days"`
	OrderLegs       []LegDoc        `json:"order_legs,omitempty" yaml:"order_legs,omitempty" validate:"dive"`
	Instruments     []InstrumentDoc `json:"instruments,omitempty" yaml:"instruments,omitempty" validate:"dive"`
	EntryConditions []ConditionDoc  `json:"entry_conditions,omitempty" yaml:"entry_conditions,omitempty" validate:"dive"`
	ChartType       string          `json:"chart_type,omitempty" yaml:"chart_type,omitempty"`
	Interval        string          `json:"interval,omitempty" yaml:"interval,omitempty"`
	RiskManagement  RiskDoc         `json:"risk_management" yaml:"risk_management"`
}

// LegDoc is one order leg of a time-based strategy.
type LegDoc struct {
	ID             string    `json:"id,omitempty" yaml:"id,omitempty"`
	InstrumentID   string    `json:"instrument_id" yaml:"instrument_id" validate:"required"`
	Action         string    `json:"action" yaml:"action" validate:"required"`
	Quantity       int       `json:"quantity" yaml:"quantity"`
	InstrumentType string    `json:"instrument_type,omitempty" yaml:"instrument_type,omitempty"`
	Expiry         string    `json:"expiry,omitempty" yaml:"expiry,omitempty"`
	Strike         StrikeDoc `json:"strike,omitempty" yaml:"strike,omitempty"`
	StopLoss       StopDoc   `json:"stop_loss,omitempty" yaml:"stop_loss,omitempty"`
	TakeProfit     StopDoc   `json:"take_profit,omitempty" yaml:"take_profit,omitempty"`
}

// InstrumentDoc is one instrument of an indicator-based strategy.
type InstrumentDoc struct {
	InstrumentID string  `json:"instrument_id" yaml:"instrument_id" validate:"required"`
	Quantity     int     `json:"quantity" yaml:"quantity"`
	Action       string  `json:"action,omitempty" yaml:"action,omitempty"`
	StopLoss     StopDoc `json:"stop_loss,omitempty" yaml:"stop_loss,omitempty"`
	TakeProfit   StopDoc `json:"take_profit,omitempty" yaml:"take_profit,omitempty"`
}

// ConditionDoc is one entry condition.
type ConditionDoc struct {
	Indicator1 string  `json:"indicator1" yaml:"indicator1" validate:"required"`
	Comparator string  `json:"comparator" yaml:"comparator" validate:"required"`
	Indicator2 string  `json:"indicator2,omitempty" yaml:"indicator2,omitempty"`
	Period     int     `json:"period,omitempty" yaml:"period,omitempty"`
	Period2    int     `json:"period2,omitempty" yaml:"period2,omitempty"`
	Value      float64 `json:"value,omitempty" yaml:"value,omitempty"`
}

// StopDoc is a stop-loss or take-profit.
type StopDoc struct {
	Type  string  `json:"type,omitempty" yaml:"type,omitempty"`
	Value float64 `json:"value,omitempty" yaml:"value,omitempty"`
}

// StrikeDoc is a strike selection rule.
type StrikeDoc struct {
	Mode   string  `json:"mode,omitempty" yaml:"mode,omitempty"`
	Offset int     `json:"offset,omitempty" yaml:"offset,omitempty"`
	Price  float64 `json:"price,omitempty" yaml:"price,omitempty"`
}

// RiskDoc holds the risk_management block.
type RiskDoc struct {
	ExitProfitAmount float64     `json:"exit_profit_amount,omitempty" yaml:"exit_profit_amount,omitempty"`
	ExitLossAmount   float64     `json:"exit_loss_amount,omitempty" yaml:"exit_loss_amount,omitempty"`
	NoTradeAfterTime string      `json:"no_trade_after_time,omitempty" yaml:"no_trade_after_time,omitempty"`
	MaxTradeCycle    int         `json:"max_trade_cycle,omitempty" yaml:"max_trade_cycle,omitempty"`
	ProfitTrailing   TrailingDoc `json:"profit_trailing" yaml:"profit_trailing"`
}

// TrailingDoc holds the profit_trailing block.
type TrailingDoc struct {
	Type              string  `json:"type" yaml:"type"`
	ProfitReaches     float64 `json:"profit_reaches,omitempty" yaml:"profit_reaches,omitempty"`
	LockProfitAt      float64 `json:"lock_profit_at,omitempty" yaml:"lock_profit_at,omitempty"`
	OnEveryIncreaseOf float64 `json:"on_every_increase_of,omitempty" yaml:"on_every_increase_of,omitempty"`
	TrailBy           float64 `json:"trail_by,omitempty" yaml:"trail_by,omitempty"`
}

// DaysField accepts trading_days as seven booleans (Monday first) or as day names.
type DaysField struct {
	Days models.TradingDays
	Set  bool
	err  error
}

func (d *DaysField) fromBools(b []bool) {
	d.Set = true
	if len(b) != 7 {
		d.err = fmt.Errorf("trading_days needs 7 booleans, got %d", len(b))
		return
	}
	copy(d.Days[:], b)
}

func (d *DaysField) fromNames(names []string) {
	d.Set = true
	for _, n := range names {
		idx, err := models.ParseDayName(n)
		if err != nil {
			d.err = err
			return
		}
		d.Days[idx] = true
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DaysField) UnmarshalJSON(data []byte) error {
	var bools []bool
	if err := json.Unmarshal(data, &bools); err == nil {
		d.fromBools(bools)
		return nil
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("trading_days: want [7]bool or day names: %w", err)
	}
	d.fromNames(names)
	return nil
}

// MarshalJSON writes the seven-boolean form.
func (d DaysField) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Days[:])
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DaysField) UnmarshalYAML(node *yaml.Node) error {
	var bools []bool
	if err := node.Decode(&bools); err == nil {
		d.fromBools(bools)
		return nil
	}
	var names []string
	if err := node.Decode(&names); err != nil {
		return fmt.Errorf("trading_days: want [7]bool or day names: %w", err)
	}
	d.fromNames(names)
	return nil
}

// MarshalYAML writes day names.
func (d DaysField) MarshalYAML() (interface{}, error) {
	return d.Days.Names(), nil
}

// ParseFile reads a .json, .yaml or .yml strategy document.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON decodes a JSON strategy document.
func ParseJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding strategy: %w", err)
	}
	return &doc, nil
}

// ParseYAML decodes a YAML strategy document.
func ParseYAML(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding strategy: %w", err)
	}
	return &doc, nil
}

var validate = validator.New()

// checkShape runs the struct tags and reports missing fields as issues.
func (d *Document) checkShape(res *models.ValidationResult) {
	if err := validate.Struct(d); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			res.Add("", "document", err.Error())
			return
		}
		for _, fe := range verrs {
			res.Add("", fe.Namespace(), fmt.Sprintf("failed %q check", fe.Tag()))
		}
	}
	if d.TradingDays.err != nil {
		res.Add("", "trading_days", d.TradingDays.err.Error())
	}
}

// kind maps the document type label to a strategy kind.
func (d *Document) kind() (models.StrategyKind, bool) {
	switch strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(d.Type)) {
	case "timebased", "time":
		return models.KindTimeBased, true
	case "indicatorbased", "indicator":
		return models.KindIndicatorBased, true
	}
	return "", false
}

// ToStrategy converts the document into a strategy, collecting every parse
// problem. The trailing label is carried raw; the Validator normalizes it.
func (d *Document) ToStrategy() (*models.Strategy, models.ValidationResult) {
	res := models.NewValidationResult()
	d.checkShape(&res)

	session := models.Session{TradingDays: models.Weekdays}
	if d.TradingDays.Set {
		session.TradingDays = d.TradingDays.Days
	}
	if t, err := models.ParseTimeOfDay(d.StartTime); err == nil {
		session.StartTime = t
	} else if d.StartTime != "" {
		res.Add("", "start_time", err.Error())
	}
	if t, err := models.ParseTimeOfDay(d.SquareOffTime); err == nil {
		session.SquareOffTime = t
	} else if d.SquareOffTime != "" {
		res.Add("", "square_off_time", err.Error())
	}

	s := &models.Strategy{
		ID:   d.ID,
		Name: d.Name,
		Risk: models.RiskManagement{
			ExitProfitAmount: d.RiskManagement.ExitProfitAmount,
			ExitLossAmount:   d.RiskManagement.ExitLossAmount,
			MaxTradeCycle:    d.RiskManagement.MaxTradeCycle,
			ProfitTrailing: models.ProfitTrailing{
				Label:             d.RiskManagement.ProfitTrailing.Type,
				ProfitReaches:     d.RiskManagement.ProfitTrailing.ProfitReaches,
				LockProfitAt:      d.RiskManagement.ProfitTrailing.LockProfitAt,
				OnEveryIncreaseOf: d.RiskManagement.ProfitTrailing.OnEveryIncreaseOf,
				TrailBy:           d.RiskManagement.ProfitTrailing.TrailBy,
			},
		},
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	if d.RiskManagement.NoTradeAfterTime != "" {
		if t, err := models.ParseTimeOfDay(d.RiskManagement.NoTradeAfterTime); err == nil {
			s.Risk.NoTradeAfterTime = &t
		} else {
			res.Add("", "no_trade_after_time", err.Error())
		}
	}

	kind, ok := d.kind()
	if !ok {
		res.Add("", "type", fmt.Sprintf("unknown strategy type %q", d.Type))
		return s, res
	}

	switch kind {
	case models.KindTimeBased:
		tb := &models.TimeBased{Session: session}
		for i, l := range d.OrderLegs {
			id := l.ID
			if id == "" {
				id = fmt.Sprintf("L%d", i+1)
			}
			leg := models.OrderLeg{
				ID:             id,
				InstrumentID:   strings.ToUpper(strings.TrimSpace(l.InstrumentID)),
				Quantity:       l.Quantity,
				InstrumentType: strings.ToUpper(l.InstrumentType),
				Expiry:         l.Expiry,
				Strike: models.StrikeSelection{
					Mode:   models.StrikeMode(strings.ToUpper(l.Strike.Mode)),
					Offset: l.Strike.Offset,
					Price:  l.Strike.Price,
				},
			}
			if side, err := models.ParseOrderSide(l.Action); err == nil {
				leg.Action = side
			} else {
				res.Add(id, "action", err.Error())
			}
			leg.StopLoss = parseStop(&res, id, "stop_loss", l.StopLoss)
			leg.TakeProfit = parseStop(&res, id, "take_profit", l.TakeProfit)
			tb.Legs = append(tb.Legs, leg)
		}
		s.Spec = tb

	case models.KindIndicatorBased:
		ib := &models.IndicatorBased{
			Session:   session,
			ChartType: models.ChartType(strings.ToLower(strings.ReplaceAll(d.ChartType, " ", "_"))),
			Interval:  d.Interval,
		}
		if ib.ChartType == "" {
			ib.ChartType = models.ChartCandle
		}
		for i, in := range d.Instruments {
			id := models.IndicatorLegID(i)
			inst := models.IndicatorInstrument{
				InstrumentID: strings.ToUpper(strings.TrimSpace(in.InstrumentID)),
				Quantity:     in.Quantity,
				Action:       models.OrderSideBuy,
			}
			if in.Action != "" {
				if side, err := models.ParseOrderSide(in.Action); err == nil {
					inst.Action = side
				} else {
					res.Add(id, "action", err.Error())
				}
			}
			inst.StopLoss = parseStop(&res, id, "stop_loss", in.StopLoss)
			inst.TakeProfit = parseStop(&res, id, "take_profit", in.TakeProfit)
			ib.Instruments = append(ib.Instruments, inst)
		}
		for _, c := range d.EntryConditions {
			ib.EntryConditions = append(ib.EntryConditions, models.EntryCondition{
				Indicator1: c.Indicator1,
				Comparator: models.Comparator(strings.ToUpper(strings.TrimSpace(c.Comparator))),
				Indicator2: c.Indicator2,
				Period:     c.Period,
				Period2:    c.Period2,
				Value:      c.Value,
			})
		}
		s.Spec = ib
	}
	return s, res
}

func parseStop(res *models.ValidationResult, legID, field string, d StopDoc) models.StopSpec {
	t, err := models.ParseStopType(d.Type)
	if err != nil {
		res.Add(legID, field+".type", err.Error())
	}
	return models.StopSpec{Type: t, Value: d.Value}
}
