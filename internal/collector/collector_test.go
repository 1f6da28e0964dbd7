package collector

import (
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"OptionSentinel/internal/daycount"
	"OptionSentinel/internal/model"
)

type countingFetcher struct {
	StaticFetcher
	calls int
}

func (c *countingFetcher) FetchCurrentPrice(symbol string) (float64, error) {
	c.calls++
	return c.StaticFetcher.FetchCurrentPrice(symbol)
}

func asianPosition(start, end time.Time) *model.Position {
	return &model.Position{
		ID:           "apo-1",
		Underlying:   "CL",
		Style:        model.StyleAsian,
		Type:         model.Call,
		AverageStart: start,
		AverageEnd:   end,
	}
}

func TestSnapshot_RealizedExcludesPricingDay(t *testing.T) {
	start := daycount.Date(2023, 2, 1)
	var bars []model.OHLCV
	for i := 0; i < 10; i++ {
		bars = append(bars, model.OHLCV{Time: start.AddDate(0, 0, i), Close: 100 + float64(i)})
	}
	col := NewCollector(&StaticFetcher{Prices: map[string]float64{"CL": 120}, Bars: map[string][]model.OHLCV{"CL": bars}}, time.Minute)

	snap, err := col.Snapshot(asianPosition(start, daycount.Date(2023, 2, 28)), daycount.Date(2023, 2, 5))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	// Fixings Feb 1..4: 100, 101, 102, 103.
	if snap.Fixings != 4 || math.Abs(snap.Realized-101.5) > 1e-12 {
		t.Fatalf("expected 4 fixings averaging 101.5, got %d / %v", snap.Fixings, snap.Realized)
	}
	if snap.Forward != 120 {
		t.Errorf("expected forward 120, got %v", snap.Forward)
	}
}

func TestSnapshot_WindowClampedToEnd(t *testing.T) {
	start := daycount.Date(2023, 2, 1)
	var bars []model.OHLCV
	for i := 0; i < 10; i++ {
		bars = append(bars, model.OHLCV{Time: start.AddDate(0, 0, i), Close: 100 + float64(i)})
	}
	col := NewCollector(&StaticFetcher{Prices: map[string]float64{"CL": 120}, Bars: map[string][]model.OHLCV{"CL": bars}}, time.Minute)

	snap, err := col.Snapshot(asianPosition(start, daycount.Date(2023, 2, 3)), daycount.Date(2023, 2, 9))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Fixings != 3 || math.Abs(snap.Realized-101) > 1e-12 {
		t.Fatalf("expected 3 fixings averaging 101, got %d / %v", snap.Fixings, snap.Realized)
	}
}

func TestSnapshot_NoFixingsFallsBackToForward(t *testing.T) {
	col := NewCollector(&StaticFetcher{Prices: map[string]float64{"CL": 80}, Bars: map[string][]model.OHLCV{"CL": nil}}, time.Minute)
	snap, err := col.Snapshot(asianPosition(daycount.Date(2023, 2, 1), daycount.Date(2023, 2, 28)), daycount.Date(2023, 2, 10))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Realized != 80 || snap.Fixings != 0 {
		t.Fatalf("expected forward fallback, got %+v", snap)
	}
}

func TestSnapshot_CachesPerUnderlying(t *testing.T) {
	f := &countingFetcher{StaticFetcher: StaticFetcher{Prices: map[string]float64{"CL": 80}}}
	col := NewCollector(f, time.Hour)
	pos := &model.Position{ID: "eu-1", Underlying: "CL", Style: model.StyleEuropean}
	for i := 0; i < 3; i++ {
		if _, err := col.Snapshot(pos, daycount.Date(2023, 2, 10)); err != nil {
			t.Fatalf("snapshot: %v", err)
		}
	}
	if f.calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", f.calls)
	}
	col.Invalidate()
	if _, err := col.Snapshot(pos, daycount.Date(2023, 2, 10)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if f.calls != 2 {
		t.Fatalf("expected refetch after invalidate, got %d calls", f.calls)
	}
}

func TestSnapshot_UnknownSymbol(t *testing.T) {
	col := NewCollector(&StaticFetcher{}, time.Minute)
	if _, err := col.Snapshot(&model.Position{Underlying: "XX"}, time.Now()); err == nil {
		t.Fatal("expected error for unknown symbol")
	}
}

func TestYahooFetcher_ParsesChart(t *testing.T) {
	now := time.Now().UTC().Add(-48 * time.Hour).Unix()
	body := fmt.Sprintf(`{"chart":{"result":[{"meta":{"regularMarketPrice":78.5},
		"timestamp":[%d,%d,%d],
		"indicators":{"quote":[{"open":[77,null,78],"high":[79,null,80],"low":[76,null,77],"close":[78,null,79],"volume":[10,null,12]}]}}],"error":null}}`,
		now-86400, now, now+86400)
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := NewYahooFetcher("")
	f.BaseURL = srv.URL

	bars, err := f.FetchDailyBars("CL", 30)
	if err != nil {
		t.Fatalf("bars: %v", err)
	}
	if gotPath != "/v8/finance/chart/CL=F" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if len(bars) != 2 || bars[1].Close != 79 {
		t.Fatalf("expected 2 bars skipping the null one, got %+v", bars)
	}
	price, err := f.FetchCurrentPrice("CL")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price != 78.5 {
		t.Errorf("expected 78.5, got %v", price)
	}
}

func TestVsTraderFetcher_SendsAuthAndSortsBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/v1/bars/daily":
			w.Write([]byte(`[{"timestamp":200,"close":2},{"timestamp":100,"close":1}]`))
		case "/api/v1/quote":
			w.Write([]byte(`{"price":3.5}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewVsTraderFetcher(srv.URL, "k", "")
	bars, err := f.FetchDailyBars("CL", 5)
	if err != nil {
		t.Fatalf("bars: %v", err)
	}
	if len(bars) != 2 || bars[0].Close != 1 {
		t.Fatalf("expected sorted bars, got %+v", bars)
	}
	price, err := f.FetchCurrentPrice("CL")
	if err != nil || price != 3.5 {
		t.Fatalf("expected 3.5, got %v (%v)", price, err)
	}

	f.APIKey = "wrong"
	if _, err := f.FetchCurrentPrice("CL"); err == nil {
		t.Fatal("expected error on 401")
	}
}

type noQuoteFetcher struct {
	StaticFetcher
}

func (n *noQuoteFetcher) FetchCurrentPrice(symbol string) (float64, error) {
	return 0, fmt.Errorf("quote service down")
}

func TestSnapshot_ForwardFallsBackToLastSettlement(t *testing.T) {
	bars := []model.OHLCV{
		{Time: daycount.Date(2023, 2, 8), Close: 79},
		{Time: daycount.Date(2023, 2, 9), Close: 81.5},
	}
	col := NewCollector(&noQuoteFetcher{StaticFetcher{Bars: map[string][]model.OHLCV{"CL": bars}}}, time.Minute)
	snap, err := col.Snapshot(&model.Position{ID: "eu-1", Underlying: "CL", Style: model.StyleEuropean}, daycount.Date(2023, 2, 10))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Forward != 81.5 {
		t.Errorf("forward = %v, want last settlement 81.5", snap.Forward)
	}

	empty := NewCollector(&noQuoteFetcher{StaticFetcher{Bars: map[string][]model.OHLCV{"CL": nil}}}, time.Minute)
	if _, err := empty.Snapshot(&model.Position{Underlying: "CL"}, time.Now()); err == nil {
		t.Error("expected error without quote or bars")
	}
}

// gatedFetcher blocks bar fetches for gated symbols until release is closed.
type gatedFetcher struct {
	StaticFetcher
	gated   map[string]bool
	release chan struct{}
	entered chan string
	fetches int32
}

func (g *gatedFetcher) FetchDailyBars(symbol string, days int) ([]model.OHLCV, error) {
	atomic.AddInt32(&g.fetches, 1)
	if g.gated[symbol] {
		g.entered <- symbol
		<-g.release
	}
	return g.StaticFetcher.FetchDailyBars(symbol, days)
}

func TestSnapshot_SlowUnderlyingDoesNotBlockOthers(t *testing.T) {
	f := &gatedFetcher{
		StaticFetcher: StaticFetcher{Prices: map[string]float64{"CL": 80, "NG": 3}},
		gated:         map[string]bool{"NG": true},
		release:       make(chan struct{}),
		entered:       make(chan string, 1),
	}
	col := NewCollector(f, time.Minute)
	pd := daycount.Date(2023, 2, 10)

	slow := make(chan error, 1)
	go func() {
		_, err := col.Snapshot(&model.Position{ID: "ng", Underlying: "NG"}, pd)
		slow <- err
	}()
	<-f.entered

	done := make(chan error, 1)
	go func() {
		_, err := col.Snapshot(&model.Position{ID: "cl", Underlying: "CL"}, pd)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("CL snapshot: %v", err)
		}
	case <-time.After(2 * time.Second):
		close(f.release)
		t.Fatal("CL snapshot blocked behind the NG fetch")
	}

	close(f.release)
	if err := <-slow; err != nil {
		t.Fatalf("NG snapshot: %v", err)
	}
}

func TestSnapshot_ConcurrentLoadsShareFetch(t *testing.T) {
	f := &gatedFetcher{
		StaticFetcher: StaticFetcher{Prices: map[string]float64{"CL": 80}},
		gated:         map[string]bool{"CL": true},
		release:       make(chan struct{}),
		entered:       make(chan string, 1),
	}
	col := NewCollector(f, time.Minute)
	pos := &model.Position{ID: "cl", Underlying: "CL"}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := col.Snapshot(pos, daycount.Date(2023, 2, 10))
			errs <- err
		}()
	}
	<-f.entered
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
	}
	if n := atomic.LoadInt32(&f.fetches); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
}

func TestSettlement_UsesSettlementBarsNotLiveQuote(t *testing.T) {
	var clBars []model.OHLCV
	for d := daycount.Date(2023, 2, 1); !d.After(daycount.Date(2023, 2, 28)); d = d.AddDate(0, 0, 1) {
		clBars = append(clBars, model.OHLCV{Time: d, Close: 80})
	}
	clBars = append(clBars, model.OHLCV{Time: daycount.Date(2023, 3, 1), Close: 95})
	gcBars := []model.OHLCV{
		{Time: daycount.Date(2023, 5, 24), Close: 1795},
		{Time: daycount.Date(2023, 5, 25), Close: 1800},
		{Time: daycount.Date(2023, 5, 26), Close: 1900},
	}
	col := NewCollector(&StaticFetcher{
		Prices: map[string]float64{"CL": 95, "GC": 1900},
		Bars:   map[string][]model.OHLCV{"CL": clBars, "GC": gcBars},
	}, time.Minute)

	apo := asianPosition(daycount.Date(2023, 2, 1), daycount.Date(2023, 2, 28))
	snap, err := col.Settlement(apo)
	if err != nil {
		t.Fatalf("asian settlement: %v", err)
	}
	if snap.Realized != 80 || snap.Forward != 80 || snap.Fixings != 28 {
		t.Errorf("asian settlement = %+v, want full-window average 80 over 28 fixings", snap)
	}

	eu := &model.Position{ID: "gc", Underlying: "GC", Style: model.StyleEuropean, Expiry: daycount.Date(2023, 5, 25)}
	snap, err = col.Settlement(eu)
	if err != nil {
		t.Fatalf("european settlement: %v", err)
	}
	if snap.Forward != 1800 {
		t.Errorf("european settlement = %v, want expiry-day close 1800", snap.Forward)
	}

	none := asianPosition(daycount.Date(2022, 1, 1), daycount.Date(2022, 1, 31))
	if _, err := col.Settlement(none); err == nil {
		t.Error("expected error when the window has no fixings")
	}
}
