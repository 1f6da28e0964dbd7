package collector

import (
	"fmt"
	"log"
	"sync"
	"time"

	"OptionSentinel/internal/calculator"
	"OptionSentinel/internal/daycount"
	"OptionSentinel/internal/model"

	"golang.org/x/sync/singleflight"
)

// StaticFetcher serves fixed quotes, for offline runs and tests.
type StaticFetcher struct {
	Prices map[string]float64
	Bars   map[string][]model.OHLCV
}

func (m *StaticFetcher) Name() string { return "static" }

func (m *StaticFetcher) FetchDailyBars(symbol string, days int) ([]model.OHLCV, error) {
	if bars, ok := m.Bars[symbol]; ok {
		return bars, nil
	}
	price, ok := m.Prices[symbol]
	if !ok {
		return nil, fmt.Errorf("static: no data for %s", symbol)
	}
	return flatBars(price, days), nil
}

func (m *StaticFetcher) FetchCurrentPrice(symbol string) (float64, error) {
	if price, ok := m.Prices[symbol]; ok {
		return price, nil
	}
	if bars := m.Bars[symbol]; len(bars) > 0 {
		return bars[len(bars)-1].Close, nil
	}
	return 0, fmt.Errorf("static: no price for %s", symbol)
}

func flatBars(price float64, count int) []model.OHLCV {
	today := daycount.Truncate(time.Now())
	bars := make([]model.OHLCV, count)
	for i := 0; i < count; i++ {
		bars[i] = model.OHLCV{
			Time:  today.AddDate(0, 0, -(count - i)),
			Open:  price,
			High:  price,
			Low:   price,
			Close: price,
		}
	}
	return bars
}

// historyDays is how much settlement history is pulled per underlying; it
// bounds the longest averaging window that can be fixed from history.
const historyDays = 400

type series struct {
	bars      []model.OHLCV
	price     float64
	fetchedAt time.Time
}

// Collector turns fetched market data into per-position snapshots. It is
// safe for concurrent use and caches each underlying for TTL. Fetches run
// outside the cache lock; concurrent loads of one symbol share a fetch.
type Collector struct {
	Fetcher Fetcher
	TTL     time.Duration

	mu     sync.Mutex
	cache  map[string]*series
	flight singleflight.Group
}

// NewCollector creates a new Collector.
func NewCollector(fetcher Fetcher, ttl time.Duration) *Collector {
	return &Collector{Fetcher: fetcher, TTL: ttl, cache: make(map[string]*series)}
}

// Invalidate drops every cached series so the next snapshot refetches.
func (c *Collector) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*series)
}

func (c *Collector) cached(symbol string) (*series, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.cache[symbol]
	if !ok || time.Since(s.fetchedAt) >= c.TTL {
		return nil, false
	}
	return s, true
}

func (c *Collector) load(symbol string) (*series, error) {
	if s, ok := c.cached(symbol); ok {
		return s, nil
	}
	v, err, _ := c.flight.Do(symbol, func() (interface{}, error) {
		if s, ok := c.cached(symbol); ok {
			return s, nil
		}
		s, err := c.fetch(symbol)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[symbol] = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*series), nil
}

func (c *Collector) fetch(symbol string) (*series, error) {
	bars, err := c.Fetcher.FetchDailyBars(symbol, historyDays)
	if err != nil {
		return nil, fmt.Errorf("fetch daily bars: %w", err)
	}
	price, err := c.Fetcher.FetchCurrentPrice(symbol)
	if err != nil {
		last, lerr := calculator.LastClose(bars, time.Now())
		if lerr != nil {
			return nil, fmt.Errorf("fetch current price: %w", err)
		}
		log.Printf("[WARN] %s: live price unavailable (%v), using last settlement %.4f", symbol, err, last)
		price = last
	}
	return &series{bars: bars, price: price, fetchedAt: time.Now()}, nil
}

// Settlement returns the final fixing of pos from settlement bars, never the
// live quote: the full-window average for Asian lines, the expiry-day close
// (or the last close before it) for European lines. Forward carries the
// settlement price for both styles.
func (c *Collector) Settlement(pos *model.Position) (*model.MarketSnapshot, error) {
	s, err := c.load(pos.Underlying)
	if err != nil {
		return nil, err
	}
	snap := &model.MarketSnapshot{Symbol: pos.Underlying, AsOf: s.fetchedAt}

	if pos.Style == model.StyleAsian {
		avg, n, err := calculator.CalculateRealizedAverage(s.bars, pos.AverageStart, pos.AverageEnd)
		if err != nil {
			return nil, fmt.Errorf("%s settlement: %w", pos.ID, err)
		}
		snap.Forward, snap.Realized, snap.Fixings = avg, avg, n
		return snap, nil
	}

	last, err := calculator.LastClose(s.bars, pos.Expiry)
	if err != nil {
		return nil, fmt.Errorf("%s settlement: %w", pos.ID, err)
	}
	snap.Forward = last
	return snap, nil
}

// Snapshot returns the forward and realized average for pos as of pd. The
// realized average covers fixings from the window start up to the day before
// pd; today's fixing is still outstanding.
func (c *Collector) Snapshot(pos *model.Position, pd time.Time) (*model.MarketSnapshot, error) {
	s, err := c.load(pos.Underlying)
	if err != nil {
		return nil, err
	}
	snap := &model.MarketSnapshot{
		Symbol:  pos.Underlying,
		Forward: s.price,
		AsOf:    s.fetchedAt,
	}
	if pos.Style != model.StyleAsian || !pd.After(pos.AverageStart) {
		return snap, nil
	}

	to := daycount.Truncate(pd).AddDate(0, 0, -1)
	if to.After(pos.AverageEnd) {
		to = pos.AverageEnd
	}
	avg, n, err := calculator.CalculateRealizedAverage(s.bars, pos.AverageStart, to)
	if err != nil {
		log.Printf("[WARN] %s: no fixings for %s in [%s, %s], using forward as realized",
			pos.ID, pos.Underlying, pos.AverageStart.Format("2006-01-02"), to.Format("2006-01-02"))
		snap.Realized = s.price
		return snap, nil
	}
	snap.Realized = avg
	snap.Fixings = n
	return snap, nil
}
