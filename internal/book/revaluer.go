package book

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"OptionSentinel/internal/asian"
	"OptionSentinel/internal/daycount"
	"OptionSentinel/internal/model"
	"OptionSentinel/internal/pricing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// MarketSource supplies the market state a position is priced against.
// Settlement returns the state fixed on the position's last fixing date.
type MarketSource interface {
	Snapshot(pos *model.Position, pd time.Time) (*model.MarketSnapshot, error)
	Settlement(pos *model.Position) (*model.MarketSnapshot, error)
}

// Revaluer prices the book against live market data.
type Revaluer struct {
	Market     MarketSource
	State      *StateManager
	Rate       float64
	Workers    int
	MaxAgeDays int // positions past their last fixing by more than this are skipped

	mu   sync.RWMutex
	book *Book
}

// NewRevaluer creates a Revaluer for b.
func NewRevaluer(b *Book, market MarketSource, state *StateManager, rate float64, workers, maxAgeDays int) *Revaluer {
	if workers < 1 {
		workers = 1
	}
	return &Revaluer{
		Market:     market,
		State:      state,
		Rate:       rate,
		Workers:    workers,
		MaxAgeDays: maxAgeDays,
		book:       b,
	}
}

// Book returns the book currently being revalued.
func (r *Revaluer) Book() *Book {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.book
}

// SetBook swaps in a reloaded book.
func (r *Revaluer) SetBook(b *Book) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.book = b
}

// Run revalues every live position as of pd. A position that fails to price
// is reported in Run.Failures and does not abort the others; only context
// cancellation does.
func (r *Revaluer) Run(ctx context.Context, pd time.Time) (*model.Run, error) {
	pd = daycount.Truncate(pd)
	b := r.Book()
	run := &model.Run{
		ID:          uuid.NewString(),
		PricingDate: pd,
		StartedAt:   time.Now(),
		Failures:    make(map[string]string),
	}

	var live []*model.Position
	for i := range b.Positions {
		p := &b.Positions[i]
		if daycount.Days(p.LastFixing(), pd) > r.MaxAgeDays {
			run.Skipped = append(run.Skipped, p.ID)
			continue
		}
		live = append(live, p)
	}

	results := make([]*model.Valuation, len(live))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Workers)
	for i, p := range live {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := r.Value(p, pd)
			if err != nil {
				log.Printf("[ERROR] revalue %s: %v", p.ID, err)
				mu.Lock()
				run.Failures[p.ID] = err.Error()
				mu.Unlock()
				return nil
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("revalue book: %w", err)
	}

	run.TotalMTM = decimal.Zero
	run.TotalPnL = decimal.Zero
	for _, v := range results {
		if v == nil {
			continue
		}
		run.Valuations = append(run.Valuations, *v)
		run.TotalMTM = run.TotalMTM.Add(v.MTM)
		run.TotalPnL = run.TotalPnL.Add(v.PnL)
	}
	run.Duration = time.Since(run.StartedAt)

	if r.State != nil {
		r.State.Commit(run)
	}
	log.Printf("[INFO] run %s: %d valued, %d failed, %d skipped, MTM %s",
		run.ID, len(run.Valuations), len(run.Failures), len(run.Skipped), run.TotalMTM.StringFixed(2))
	return run, nil
}

// Value prices a single position as of pd.
func (r *Revaluer) Value(p *model.Position, pd time.Time) (*model.Valuation, error) {
	snap, err := r.Market.Snapshot(p, pd)
	if err != nil {
		return nil, fmt.Errorf("market data: %w", err)
	}
	return r.price(p, daycount.Truncate(pd), snap)
}

// Settle values an expired position at its last fixing date against the
// settlement state, which leaves only intrinsic value.
func (r *Revaluer) Settle(p *model.Position) (*model.Valuation, error) {
	snap, err := r.Market.Settlement(p)
	if err != nil {
		return nil, fmt.Errorf("settlement data: %w", err)
	}
	return r.price(p, daycount.Truncate(p.LastFixing()), snap)
}

func (r *Revaluer) price(p *model.Position, pd time.Time, snap *model.MarketSnapshot) (*model.Valuation, error) {
	v := &model.Valuation{
		PositionID: p.ID,
		Underlying: p.Underlying,
		Style:      p.Style,
		Type:       p.Type,
		Market:     *snap,
	}

	switch p.Style {
	case model.StyleAsian:
		d, err := asian.Evaluate(asian.Inputs{
			Type:        p.Type,
			PricingDate: pd,
			StartDate:   p.AverageStart,
			EndDate:     p.AverageEnd,
			BulletVol:   p.Volatility,
			Forward:     snap.Forward,
			Realized:    snap.Realized,
			Strike:      p.Strike,
			Rate:        r.Rate,
		})
		if err != nil {
			return nil, err
		}
		v.UnitValue = d.Value
		v.Greeks = d.Greeks()
		v.Swap = d.Swap
		v.EffectiveVol = d.Vol
		v.AdjStrike = d.AdjStrike
		v.Multiplier = d.Multiplier
		v.Regime = d.Regime.String()
	case model.StyleEuropean:
		t := daycount.TimeToMaturity(pd, p.Expiry)
		res, err := pricing.Price(p.Type, snap.Forward, p.Strike, t, r.Rate, p.Carry, p.Volatility)
		if err != nil {
			return nil, err
		}
		v.UnitValue = res.Value
		v.Greeks = res.Greeks()
	default:
		return nil, fmt.Errorf("unknown style %q", p.Style)
	}

	units := p.Quantity * p.LotSize
	v.MTM = decimal.NewFromFloat(v.UnitValue).Mul(decimal.NewFromFloat(units)).Round(2)
	v.Exposure = v.Greeks.Delta * units
	v.VegaTotal = v.Greeks.Vega * units
	if r.State != nil {
		if prev, ok := r.State.PreviousMTM(p.ID); ok {
			v.PnL = v.MTM.Sub(prev)
			v.HasPrior = true
		}
	}
	return v, nil
}
