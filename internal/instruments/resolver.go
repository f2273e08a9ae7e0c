// Package instruments maps universal instrument ids to broker-specific
// tradable references.
package instruments

import (
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	apperrors "strategy-backtester/internal/errors"
	"strategy-backtester/internal/models"
)

// table is an immutable snapshot of the mapping table. It is never modified
// after publication; writers build a fresh copy.
type table struct {
	byID    map[string]models.Instrument
	ids     []string // ascending
	version uint64
}

func newTable(byID map[string]models.Instrument, version uint64) *table {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return &table{byID: byID, ids: ids, version: version}
}

func (t *table) clone() map[string]models.Instrument {
	out := make(map[string]models.Instrument, len(t.byID))
	for id, inst := range t.byID {
		out[id] = inst.Clone()
	}
	return out
}

// Resolver resolves instruments against a copy-on-write mapping table.
// Reads are lock-free; writers are serialized and publish a complete new table.
type Resolver struct {
	current atomic.Pointer[table]
	writeMu sync.Mutex
	logger  zerolog.Logger
}

// NewResolver creates a resolver seeded with instruments.
func NewResolver(logger zerolog.Logger, seed []models.Instrument) *Resolver {
	r := &Resolver{logger: logger.With().Str("component", "resolver").Logger()}
	byID := make(map[string]models.Instrument, len(seed))
	for _, inst := range seed {
		byID[inst.ID] = inst.Clone()
	}
	r.current.Store(newTable(byID, 1))
	return r
}

// Resolve returns the broker reference for an instrument. It fails closed:
// a missing instrument, a missing broker block, tradable=false or an empty
// token are all errors.
func (r *Resolver) Resolve(universalID, brokerID string) (models.BrokerInstrumentRef, error) {
	return resolveIn(r.current.Load(), universalID, brokerID)
}

func resolveIn(t *table, universalID, brokerID string) (models.BrokerInstrumentRef, error) {
	inst, ok := t.byID[universalID]
	if !ok {
		return models.BrokerInstrumentRef{}, apperrors.NewNotFoundError(universalID, brokerID, "unknown instrument")
	}
	m, ok := inst.Brokers[brokerID]
	if !ok {
		return models.BrokerInstrumentRef{}, apperrors.NewNotFoundError(universalID, brokerID, "no mapping for broker")
	}
	if !m.Tradable {
		return models.BrokerInstrumentRef{}, apperrors.NewNotTradableError(universalID, brokerID, "marked not tradable")
	}
	if m.Token == "" {
		return models.BrokerInstrumentRef{}, apperrors.NewNotTradableError(universalID, brokerID, "empty token")
	}
	return models.BrokerInstrumentRef{
		InstrumentID: universalID,
		BrokerID:     brokerID,
		Token:        m.Token,
		LotSize:      m.LotSize,
		TickSize:     m.TickSize,
	}, nil
}

// Get returns a copy of the instrument record.
func (r *Resolver) Get(universalID string) (models.Instrument, bool) {
	inst, ok := r.current.Load().byID[universalID]
	if !ok {
		return models.Instrument{}, false
	}
	return inst.Clone(), true
}

// Len returns the number of instruments in the current table.
func (r *Resolver) Len() int {
	return len(r.current.Load().ids)
}

// Version increases by one on every published table.
func (r *Resolver) Version() uint64 {
	return r.current.Load().version
}

// Snapshot returns copies of every instrument in id order.
func (r *Resolver) Snapshot() []models.Instrument {
	t := r.current.Load()
	out := make([]models.Instrument, 0, len(t.ids))
	for _, id := range t.ids {
		out = append(out, t.byID[id].Clone())
	}
	return out
}

// Filter narrows ListMultiBroker. Empty fields match everything.
type Filter struct {
	Exchange       models.Exchange
	Underlying     string
	InstrumentType string
	SymbolPrefix   string
}

func (f Filter) matches(inst models.Instrument) bool {
	if f.Exchange != "" && !strings.EqualFold(string(inst.Exchange), string(f.Exchange)) {
		return false
	}
	if f.Underlying != "" && !strings.EqualFold(inst.Underlying, f.Underlying) {
		return false
	}
	if f.InstrumentType != "" && !strings.EqualFold(inst.InstrumentType, f.InstrumentType) {
		return false
	}
	if f.SymbolPrefix != "" && !strings.HasPrefix(strings.ToUpper(inst.Symbol), strings.ToUpper(f.SymbolPrefix)) {
		return false
	}
	return true
}

// ListMultiBroker lazily yields, in id order, every instrument matching f that
// resolves on all of brokerIDs. Each range over the sequence takes a fresh
// snapshot, so the sequence is restartable and never observes a partial swap.
func (r *Resolver) ListMultiBroker(f Filter, brokerIDs []string) iter.Seq[models.Instrument] {
	brokers := slices.Clone(brokerIDs)
	return func(yield func(models.Instrument) bool) {
		t := r.current.Load()
		for _, id := range t.ids {
			inst := t.byID[id]
			if !f.matches(inst) {
				continue
			}
			ok := true
			for _, b := range brokers {
				if _, err := resolveIn(t, id, b); err != nil {
					ok = false
					break
				}
			}
			if ok && !yield(inst.Clone()) {
				return
			}
		}
	}
}

// ValidateForStrategy resolves every instrument the strategy references on
// brokerID and reports all failures, keyed by leg.
func (r *Resolver) ValidateForStrategy(s *models.Strategy, brokerID string) models.ValidationResult {
	t := r.current.Load()
	res := models.NewValidationResult()

	switch spec := s.Spec.(type) {
	case *models.TimeBased:
		for _, leg := range spec.Legs {
			checkLeg(t, &res, leg.ID, leg.InstrumentID, brokerID, leg.Quantity, leg.InstrumentType, leg.Strike)
		}
	case *models.IndicatorBased:
		for i, in := range spec.Instruments {
			checkLeg(t, &res, models.IndicatorLegID(i), in.InstrumentID, brokerID, in.Quantity, "", models.StrikeSelection{})
		}
	default:
		res.Add("", "type", fmt.Sprintf("unsupported strategy kind %T", s.Spec))
	}
	return res
}

func checkLeg(t *table, res *models.ValidationResult, legID, instrumentID, brokerID string, qty int, instType string, strike models.StrikeSelection) {
	ref, err := resolveIn(t, instrumentID, brokerID)
	if err != nil {
		res.Add(legID, "instrument_id", err.Error())
		return
	}
	if ref.LotSize > 1 && qty > 0 && qty%ref.LotSize != 0 {
		res.Add(legID, "quantity", fmt.Sprintf("%d is not a multiple of lot size %d on %s", qty, ref.LotSize, brokerID))
	}
	inst := t.byID[instrumentID]
	if instType != "" && inst.InstrumentType != "" && !strings.EqualFold(instType, inst.InstrumentType) {
		res.Add(legID, "instrument_type", fmt.Sprintf("leg declares %s but %s is %s", instType, instrumentID, inst.InstrumentType))
	}
	if strike.Mode == models.StrikeExact && inst.Strike != 0 && strike.Price != inst.Strike {
		res.Add(legID, "strike", fmt.Sprintf("leg strike %g does not match instrument strike %g", strike.Price, inst.Strike))
	}
}

// Swap replaces the whole table atomically.
func (r *Resolver) Swap(instruments []models.Instrument) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	byID := make(map[string]models.Instrument, len(instruments))
	for _, inst := range instruments {
		byID[inst.ID] = inst.Clone()
	}
	next := newTable(byID, r.current.Load().version+1)
	r.current.Store(next)
	r.logger.Info().Int("instruments", len(next.ids)).Uint64("version", next.version).Msg("Instrument table swapped")
}

// ReplaceBroker publishes a new table in which brokerID's block is exactly
// the one carried by dump. Instruments missing from dump lose their mapping for
// that broker; instruments new to the table are added with dump's metadata.
func (r *Resolver) ReplaceBroker(brokerID string, dump []models.Instrument) int {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	old := r.current.Load()
	byID := old.clone()
	for id, inst := range byID {
		delete(inst.Brokers, brokerID)
		byID[id] = inst
	}

	applied := 0
	for _, in := range dump {
		m, ok := in.Brokers[brokerID]
		if !ok {
			continue
		}
		inst, exists := byID[in.ID]
		if !exists {
			inst = in.Clone()
			inst.Brokers = map[string]models.BrokerMapping{}
		}
		inst.Brokers[brokerID] = m
		byID[in.ID] = inst
		applied++
	}

	next := newTable(byID, old.version+1)
	r.current.Store(next)
	r.logger.Info().
		Str("broker", brokerID).
		Int("mappings", applied).
		Uint64("version", next.version).
		Msg("Broker block replaced")
	return applied
}
