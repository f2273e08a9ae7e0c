package instruments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "strategy-backtester/internal/errors"
	"strategy-backtester/internal/models"
)

func mapping(token string, lot int, tradable bool) models.BrokerMapping {
	return models.BrokerMapping{Token: token, LotSize: lot, TickSize: 0.05, Tradable: tradable}
}

func fixture() []models.Instrument {
	return []models.Instrument{
		{
			ID: "NFO:NIFTY24DEC22000CE", Symbol: "NIFTY24DEC22000CE", Exchange: models.NFO,
			Underlying: "NIFTY", InstrumentType: models.InstrumentCall, Strike: 22000,
			Brokers: map[string]models.BrokerMapping{
				"zerodha":  mapping("12345", 25, true),
				"angelone": mapping("54321", 25, true),
			},
		},
		{
			ID: "NFO:NIFTY24DEC22000PE", Symbol: "NIFTY24DEC22000PE", Exchange: models.NFO,
			Underlying: "NIFTY", InstrumentType: models.InstrumentPut, Strike: 22000,
			Brokers: map[string]models.BrokerMapping{
				"zerodha":  mapping("12346", 25, true),
				"angelone": mapping("", 25, true),
			},
		},
		{
			ID: "NSE:SBIN", Symbol: "SBIN", Exchange: models.NSE, InstrumentType: models.InstrumentEquity,
			Brokers: map[string]models.BrokerMapping{
				"zerodha": mapping("779521", 1, true),
			},
		},
		{
			ID: "NSE:SUSPENDED", Symbol: "SUSPENDED", Exchange: models.NSE, InstrumentType: models.InstrumentEquity,
			Brokers: map[string]models.BrokerMapping{
				"zerodha": mapping("1", 1, false),
			},
		},
	}
}

func newTestResolver() *Resolver {
	return NewResolver(zerolog.Nop(), fixture())
}

func TestResolve(t *testing.T) {
	r := newTestResolver()

	ref, err := r.Resolve("NFO:NIFTY24DEC22000CE", "zerodha")
	require.NoError(t, err)
	assert.Equal(t, "12345", ref.Token)
	assert.Equal(t, 25, ref.LotSize)
	assert.Equal(t, 0.05, ref.TickSize)

	tests := []struct {
		name string
		id   string
		b    string
		kind apperrors.ResolutionKind
		is   error
	}{
		{"unknown instrument", "NSE:NOPE", "zerodha", apperrors.ResolutionNotFound, apperrors.ErrNotFound},
		{"unknown broker", "NSE:SBIN", "angelone", apperrors.ResolutionNotFound, apperrors.ErrNotFound},
		{"empty token", "NFO:NIFTY24DEC22000PE", "angelone", apperrors.ResolutionNotTradable, apperrors.ErrNotTradable},
		{"not tradable", "NSE:SUSPENDED", "zerodha", apperrors.ResolutionNotTradable, apperrors.ErrNotTradable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.id, tt.b)
			require.Error(t, err)
			var re *apperrors.InstrumentResolutionError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.kind, re.Kind)
			assert.ErrorIs(t, err, tt.is)
		})
	}
}

func collect(r *Resolver, f Filter, brokers ...string) []string {
	var ids []string
	for inst := range r.ListMultiBroker(f, brokers) {
		ids = append(ids, inst.ID)
	}
	return ids
}

func TestListMultiBroker(t *testing.T) {
	r := newTestResolver()

	assert.Equal(t, []string{"NFO:NIFTY24DEC22000CE"}, collect(r, Filter{}, "zerodha", "angelone"))
	assert.Equal(t,
		[]string{"NFO:NIFTY24DEC22000CE", "NFO:NIFTY24DEC22000PE", "NSE:SBIN"},
		collect(r, Filter{}, "zerodha"))
	assert.Equal(t, []string{"NSE:SBIN"}, collect(r, Filter{Exchange: models.NSE}, "zerodha"))
	assert.Equal(t, []string{"NFO:NIFTY24DEC22000PE"}, collect(r, Filter{InstrumentType: "pe"}, "zerodha"))
	assert.Equal(t, []string{"NFO:NIFTY24DEC22000CE", "NFO:NIFTY24DEC22000PE"}, collect(r, Filter{Underlying: "nifty"}, "zerodha"))
	assert.Empty(t, collect(r, Filter{SymbolPrefix: "BANK"}, "zerodha"))
}

func TestListMultiBrokerRestartable(t *testing.T) {
	r := newTestResolver()
	seq := r.ListMultiBroker(Filter{}, []string{"zerodha"})

	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	assert.Equal(t, 3, count())
	assert.Equal(t, 3, count())

	// early break stops the walk
	n := 0
	for range seq {
		n++
		break
	}
	assert.Equal(t, 1, n)

	// a later range sees a newer table
	r.Swap(fixture()[:1])
	assert.Equal(t, 1, count())
}

func TestValidateForStrategyAggregates(t *testing.T) {
	r := newTestResolver()
	s := &models.Strategy{
		ID: "straddle",
		Spec: &models.TimeBased{
			Legs: []models.OrderLeg{
				{ID: "L1", InstrumentID: "NFO:NIFTY24DEC22000CE", Action: models.OrderSideSell, Quantity: 50, InstrumentType: "CE"},
				{ID: "L2", InstrumentID: "NFO:NIFTY24DEC22000PE", Action: models.OrderSideSell, Quantity: 30, InstrumentType: "CE"},
				{ID: "L3", InstrumentID: "NSE:NOPE", Action: models.OrderSideBuy, Quantity: 1},
				{ID: "L4", InstrumentID: "NFO:NIFTY24DEC22000CE", Action: models.OrderSideBuy, Quantity: 25,
					Strike: models.StrikeSelection{Mode: models.StrikeExact, Price: 22100}},
			},
		},
	}

	res := r.ValidateForStrategy(s, "zerodha")
	assert.False(t, res.Valid)

	byLeg := map[string][]string{}
	for _, e := range res.Errors {
		byLeg[e.LegID] = append(byLeg[e.LegID], e.Field)
	}
	assert.NotContains(t, byLeg, "L1")
	assert.ElementsMatch(t, []string{"quantity", "instrument_type"}, byLeg["L2"])
	assert.Equal(t, []string{"instrument_id"}, byLeg["L3"])
	assert.Equal(t, []string{"strike"}, byLeg["L4"])

	// on angelone the PE leg fails closed on its empty token
	res = r.ValidateForStrategy(s, "angelone")
	found := false
	for _, e := range res.Errors {
		if e.LegID == "L2" && e.Field == "instrument_id" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateIndicatorStrategy(t *testing.T) {
	r := newTestResolver()
	s := &models.Strategy{
		ID: "ema-cross",
		Spec: &models.IndicatorBased{
			Instruments: []models.IndicatorInstrument{
				{InstrumentID: "NSE:SBIN", Quantity: 10},
				{InstrumentID: "NSE:SUSPENDED", Quantity: 10},
			},
		},
	}
	res := r.ValidateForStrategy(s, "zerodha")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "I2", res.Errors[0].LegID)
}

func TestReplaceBroker(t *testing.T) {
	r := newTestResolver()
	v := r.Version()

	dump := []models.Instrument{
		{ID: "NSE:SBIN", Symbol: "SBIN", Exchange: models.NSE,
			Brokers: map[string]models.BrokerMapping{"zerodha": mapping("999", 1, true)}},
		{ID: "NSE:INFY", Symbol: "INFY", Exchange: models.NSE,
			Brokers: map[string]models.BrokerMapping{"zerodha": mapping("408065", 1, true)}},
	}
	n := r.ReplaceBroker("zerodha", dump)
	assert.Equal(t, 2, n)
	assert.Equal(t, v+1, r.Version())

	ref, err := r.Resolve("NSE:SBIN", "zerodha")
	require.NoError(t, err)
	assert.Equal(t, "999", ref.Token)

	_, err = r.Resolve("NSE:INFY", "zerodha")
	require.NoError(t, err)

	// dropped from the dump: no longer resolvable on zerodha
	_, err = r.Resolve("NFO:NIFTY24DEC22000CE", "zerodha")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	// other brokers untouched
	_, err = r.Resolve("NFO:NIFTY24DEC22000CE", "angelone")
	assert.NoError(t, err)
}

func TestConcurrentSwapNeverTears(t *testing.T) {
	// Every published table maps both legs to tokens with the same generation suffix.
	gen := func(g int) []models.Instrument {
		return []models.Instrument{
			{ID: "NSE:A", Brokers: map[string]models.BrokerMapping{"zerodha": mapping(fmt.Sprintf("a-%d", g), 1, true)}},
			{ID: "NSE:B", Brokers: map[string]models.BrokerMapping{"zerodha": mapping(fmt.Sprintf("b-%d", g), 1, true)}},
		}
	}
	r := NewResolver(zerolog.Nop(), gen(0))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	torn := make(chan string, 1)

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for inst := range r.ListMultiBroker(Filter{}, []string{"zerodha"}) {
					if inst.Brokers["zerodha"].Token == "" {
						select {
						case torn <- inst.ID:
						default:
						}
					}
				}
				var a, b string
				for inst := range r.ListMultiBroker(Filter{}, []string{"zerodha"}) {
					if inst.ID == "NSE:A" {
						a = inst.Brokers["zerodha"].Token[2:]
					} else {
						b = inst.Brokers["zerodha"].Token[2:]
					}
				}
				if a != b {
					select {
					case torn <- a + "/" + b:
					default:
					}
				}
			}
		}()
	}

	for g := 1; g <= 200; g++ {
		r.Swap(gen(g))
	}
	close(stop)
	wg.Wait()

	select {
	case msg := <-torn:
		t.Fatalf("observed half-updated table: %s", msg)
	default:
	}
	ref, err := r.Resolve("NSE:B", "zerodha")
	require.NoError(t, err)
	assert.Equal(t, "b-200", ref.Token)
}

const scripJSON = `[
 {"token":"3045","symbol":"SBIN-EQ","name":"SBIN","expiry":"","strike":"-1.000000","lotsize":"1","instrumenttype":"","exch_seg":"NSE","tick_size":"5.000000"},
 {"token":"43650","symbol":"NIFTY24DEC22000CE","name":"NIFTY","expiry":"26DEC2024","strike":"2200000.000000","lotsize":"25","instrumenttype":"OPTIDX","exch_seg":"NFO","tick_size":"5.000000"},
 {"token":"","symbol":"","name":"","expiry":"","strike":"","lotsize":"","instrumenttype":"","exch_seg":"","tick_size":""}
]`

func TestRESTLoader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte(scripJSON))
	}))
	defer srv.Close()

	l := NewRESTLoader("angelone", srv.URL, zerolog.Nop())
	got, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	sbin := got[0]
	assert.Equal(t, "NSE:SBIN", sbin.ID)
	assert.Equal(t, models.InstrumentEquity, sbin.InstrumentType)
	assert.InDelta(t, 0.05, sbin.Brokers["angelone"].TickSize, 1e-9)
	assert.Equal(t, 0.0, sbin.Strike)

	opt := got[1]
	assert.Equal(t, "NFO:NIFTY24DEC22000CE", opt.ID)
	assert.Equal(t, models.InstrumentCall, opt.InstrumentType)
	assert.Equal(t, 22000.0, opt.Strike)
	assert.Equal(t, 25, opt.Brokers["angelone"].LotSize)
	assert.Equal(t, time.Date(2024, 12, 26, 0, 0, 0, 0, time.UTC), opt.Expiry)
}

type fakeLoader struct {
	broker string
	dump   []models.Instrument
	err    error
}

func (f fakeLoader) BrokerID() string { return f.broker }
func (f fakeLoader) Load(context.Context) ([]models.Instrument, error) {
	return f.dump, f.err
}

type memPersister struct{ saved []models.Instrument }

func (m *memPersister) SaveInstruments(_ context.Context, in []models.Instrument) error {
	m.saved = in
	return nil
}

func TestRefresherKeepsBlockOnFailure(t *testing.T) {
	r := newTestResolver()
	p := &memPersister{}
	loaders := []Loader{
		fakeLoader{broker: "angelone", err: errors.New("scrip master down")},
		fakeLoader{broker: "zerodha", dump: []models.Instrument{
			{ID: "NSE:SBIN", Brokers: map[string]models.BrokerMapping{"zerodha": mapping("42", 1, true)}},
		}},
	}
	ref := NewRefresher(r, loaders, p, time.UTC, zerolog.Nop())

	results, err := ref.RefreshAll(context.Background())
	require.Error(t, err)
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.Equal(t, 1, results[1].Mappings)

	// angelone block survives its failed load
	_, err = r.Resolve("NFO:NIFTY24DEC22000CE", "angelone")
	assert.NoError(t, err)
	assert.Len(t, p.saved, 4)
}

func TestNextRun(t *testing.T) {
	from := time.Date(2024, 12, 27, 9, 0, 0, 0, time.UTC) // Friday
	next, err := NextRun("30 8 * * 1-5", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 12, 30, 8, 30, 0, 0, time.UTC), next)

	_, err = NextRun("not a schedule", from)
	assert.Error(t, err)
}
