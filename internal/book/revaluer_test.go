package book

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"OptionSentinel/internal/asian"
	"OptionSentinel/internal/daycount"
	"OptionSentinel/internal/model"
	"OptionSentinel/internal/pricing"

	"github.com/shopspring/decimal"
)

type fakeMarket struct {
	forward  map[string]float64
	settle   map[string]float64
	realized float64
}

func (f *fakeMarket) Snapshot(pos *model.Position, pd time.Time) (*model.MarketSnapshot, error) {
	fwd, ok := f.forward[pos.Underlying]
	if !ok {
		return nil, errors.New("no quote")
	}
	return &model.MarketSnapshot{Symbol: pos.Underlying, Forward: fwd, Realized: f.realized}, nil
}

// Settlement fixes every underlying at settle, or fails when it is unset.
func (f *fakeMarket) Settlement(pos *model.Position) (*model.MarketSnapshot, error) {
	px, ok := f.settle[pos.Underlying]
	if !ok {
		return nil, errors.New("no settlement")
	}
	return &model.MarketSnapshot{Symbol: pos.Underlying, Forward: px, Realized: px}, nil
}

func newTestRevaluer(t *testing.T, market MarketSource) (*Revaluer, *StateManager) {
	t.Helper()
	b, err := Parse([]byte(sampleBook))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sm, err := NewStateManager(filepath.Join(t.TempDir(), "state", "book_state.json"))
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	return NewRevaluer(b, market, sm, 0.02, 2, 5), sm
}

func TestRun_ValuesEveryPosition(t *testing.T) {
	market := &fakeMarket{forward: map[string]float64{"CL": 80, "GC": 1900}, realized: 76}
	r, _ := newTestRevaluer(t, market)
	pd := daycount.Date(2023, 2, 10)

	run, err := r.Run(context.Background(), pd)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.ID == "" || len(run.Valuations) != 2 || len(run.Failures) != 0 {
		t.Fatalf("unexpected run: %+v", run)
	}

	apo := run.Valuations[0]
	want, err := asian.Price(asian.Inputs{
		Type: model.Call, PricingDate: pd,
		StartDate: daycount.Date(2023, 2, 1), EndDate: daycount.Date(2023, 2, 28),
		BulletVol: 0.35, Forward: 80, Realized: 76, Strike: 78, Rate: 0.02,
	})
	if err != nil {
		t.Fatalf("asian: %v", err)
	}
	if apo.PositionID != "APO-CL-FEB23" || math.Abs(apo.UnitValue-want) > 1e-12 {
		t.Fatalf("expected APO unit value %v, got %+v", want, apo)
	}
	if apo.Regime != asian.InProgress.String() {
		t.Errorf("expected in-progress regime, got %s", apo.Regime)
	}
	wantMTM := decimal.NewFromFloat(want).Mul(decimal.NewFromInt(10000)).Round(2)
	if !apo.MTM.Equal(wantMTM) {
		t.Errorf("expected MTM %s, got %s", wantMTM, apo.MTM)
	}

	eu := run.Valuations[1]
	res, err := pricing.Price(model.Put, 1900, 1850, daycount.TimeToMaturity(pd, daycount.Date(2023, 5, 25)), 0.02, 0, 0.16)
	if err != nil {
		t.Fatalf("vanilla: %v", err)
	}
	if math.Abs(eu.UnitValue-res.Value) > 1e-12 || eu.Greeks.Delta != res.Delta {
		t.Fatalf("european mismatch: %+v vs %+v", eu, res)
	}
	if eu.Exposure != res.Delta*-500 {
		t.Errorf("expected exposure %v, got %v", res.Delta*-500, eu.Exposure)
	}
	if !run.TotalMTM.Equal(apo.MTM.Add(eu.MTM)) {
		t.Errorf("total MTM %s is not the sum of lines", run.TotalMTM)
	}
}

func TestRun_PnLAgainstPreviousRun(t *testing.T) {
	market := &fakeMarket{forward: map[string]float64{"CL": 80, "GC": 1900}, realized: 76}
	r, sm := newTestRevaluer(t, market)

	first, err := r.Run(context.Background(), daycount.Date(2023, 2, 10))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Valuations[0].HasPrior {
		t.Fatal("first run should have no prior MTM")
	}
	if st := sm.GetState(); st.LastRunID != first.ID {
		t.Fatalf("state not committed: %+v", st)
	}

	market.forward["CL"] = 82
	second, err := r.Run(context.Background(), daycount.Date(2023, 2, 13))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	apo := second.Valuations[0]
	if !apo.HasPrior || !apo.PnL.Equal(apo.MTM.Sub(first.Valuations[0].MTM)) {
		t.Fatalf("unexpected P&L %s", apo.PnL)
	}
	if !apo.PnL.IsPositive() {
		t.Errorf("long call should gain when the forward rises, got %s", apo.PnL)
	}

	reloaded, err := NewStateManager(sm.filePath)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if prev, ok := reloaded.PreviousMTM("APO-CL-FEB23"); !ok || !prev.Equal(apo.MTM) {
		t.Errorf("persisted MTM mismatch: %s vs %s", prev, apo.MTM)
	}
}

func TestRun_FailuresDoNotAbort(t *testing.T) {
	market := &fakeMarket{forward: map[string]float64{"CL": 80}, realized: 76}
	r, _ := newTestRevaluer(t, market)
	run, err := r.Run(context.Background(), daycount.Date(2023, 2, 10))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(run.Valuations) != 1 || run.Failures["EU-GC-JUN23"] == "" {
		t.Fatalf("expected one valuation and one failure, got %+v", run)
	}
}

func TestRun_SkipsLongExpiredPositions(t *testing.T) {
	market := &fakeMarket{forward: map[string]float64{"CL": 80, "GC": 1900}, realized: 76}
	r, _ := newTestRevaluer(t, market)
	run, err := r.Run(context.Background(), daycount.Date(2023, 3, 10))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(run.Skipped) != 1 || run.Skipped[0] != "APO-CL-FEB23" {
		t.Fatalf("expected the APO to be skipped, got %v", run.Skipped)
	}
}

func TestRun_Cancelled(t *testing.T) {
	market := &fakeMarket{forward: map[string]float64{"CL": 80, "GC": 1900}, realized: 76}
	r, _ := newTestRevaluer(t, market)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Run(ctx, daycount.Date(2023, 2, 10)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStateManager_MarkExpiredOnce(t *testing.T) {
	sm, err := NewStateManager(filepath.Join(t.TempDir(), "s.json"))
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	d := daycount.Date(2023, 2, 28)
	if !sm.MarkExpired("a", d) {
		t.Fatal("first mark should succeed")
	}
	if sm.MarkExpired("a", d) {
		t.Fatal("second mark should be a no-op")
	}
	if !sm.IsExpired("a") || sm.IsExpired("b") {
		t.Fatal("IsExpired should report only marked positions")
	}
}

func TestSettle_IntrinsicAtLastFixing(t *testing.T) {
	market := &fakeMarket{
		forward: map[string]float64{"CL": 95, "GC": 1900},
		settle:  map[string]float64{"CL": 80, "GC": 1800},
	}
	r, _ := newTestRevaluer(t, market)
	b := r.Book()

	tests := []struct {
		id     string
		unit   float64
		mtm    string
		regime string
	}{
		// Average 80 against strike 78, 10 lots of 1000.
		{"APO-CL-FEB23", 2, "20000", asian.Finished.String()},
		// Settled 1800 against a 1850 put, short 5 lots of 100.
		{"EU-GC-JUN23", 50, "-25000", ""},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			p, err := b.Find(tt.id)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			v, err := r.Settle(p)
			if err != nil {
				t.Fatalf("settle: %v", err)
			}
			if math.Abs(v.UnitValue-tt.unit) > 1e-9 {
				t.Errorf("unit value = %v, want %v", v.UnitValue, tt.unit)
			}
			if !v.MTM.Equal(decimal.RequireFromString(tt.mtm)) {
				t.Errorf("MTM = %s, want %s", v.MTM, tt.mtm)
			}
			if v.Regime != tt.regime {
				t.Errorf("regime = %q, want %q", v.Regime, tt.regime)
			}
		})
	}
}

func TestSettle_MissingSettlement(t *testing.T) {
	market := &fakeMarket{forward: map[string]float64{"CL": 80, "GC": 1900}}
	r, _ := newTestRevaluer(t, market)
	p, err := r.Book().Find("EU-GC-JUN23")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if _, err := r.Settle(p); err == nil {
		t.Fatal("expected an error without settlement data")
	}
}
