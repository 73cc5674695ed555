package screener

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/quantk/internal/marketdata"
	"github.com/wonny/quantk/internal/rpc"
	"github.com/wonny/quantk/pkg/config"
	"github.com/wonny/quantk/pkg/logger"
)

// fakeProvider serves canned per-market snapshots
type fakeProvider struct {
	fundamentals map[string]map[string]marketdata.Fundamental // market → ticker → ratios
	caps         map[string]map[string]int64
	names        map[string]string
}

func (p *fakeProvider) Tickers(ctx context.Context, market, date string) ([]marketdata.TickerInfo, error) {
	return nil, nil
}

func (p *fakeProvider) OHLCV(ctx context.Context, ticker string, from, to time.Time) ([]marketdata.Bar, error) {
	return nil, nil
}

func (p *fakeProvider) Fundamentals(ctx context.Context, market, date string) (map[string]marketdata.Fundamental, error) {
	return p.fundamentals[market], nil
}

func (p *fakeProvider) MarketCaps(ctx context.Context, market, date string) (map[string]int64, error) {
	return p.caps[market], nil
}

func (p *fakeProvider) TickerName(ctx context.Context, ticker string) (string, error) {
	name, ok := p.names[ticker]
	if !ok {
		return "", fmt.Errorf("unknown ticker %s", ticker)
	}
	return name, nil
}

func defaultFakeProvider() *fakeProvider {
	return &fakeProvider{
		fundamentals: map[string]map[string]marketdata.Fundamental{
			"KOSPI": {
				"005930": {PER: 8, PBR: 1.2, EPS: 5000, BPS: 50000, DIV: 2.5},
				"000660": {PER: 25, PBR: 1.8, EPS: 3000, BPS: 60000, DIV: 1.0},
				"005380": {PER: 5, PBR: 0.6, EPS: 20000, BPS: 300000, DIV: 4.0},
			},
			"KOSDAQ": {
				"247540": {PER: 60, PBR: 10, EPS: 4000, BPS: 30000},
			},
		},
		caps: map[string]map[string]int64{
			"KOSPI": {
				"005930": 450_000_000_000_000,
				"000660": 100_000_000_000_000,
				"005380": 50_000_000_000_000,
			},
			"KOSDAQ": {
				"247540": 20_000_000_000_000,
			},
		},
		names: map[string]string{
			"005930": "삼성전자",
			"000660": "SK하이닉스",
			"005380": "현대차",
		},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.ScreenConfig{Dir: t.TempDir()}
	return NewEngine(cfg, defaultFakeProvider(), logger.NewNop())
}

func screenReq(conditions ...string) Request {
	return Request{
		Conditions: conditions,
		Market:     "KOSPI",
		Date:       "20240102",
		Limit:      100,
	}
}

func TestScreenSingleCondition(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Screen(context.Background(), screenReq("PER<10"))
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, 2, res.MatchCount)
	assert.Len(t, res.Results, 2)
	assert.Equal(t, []string{"PER<10"}, res.Conditions)
	require.Len(t, res.Parsed, 1)
	assert.Equal(t, Condition{"PER", "<", 10}, res.Parsed[0])
}

func TestScreenConjunctiveAndMonotonic(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	one, err := e.Screen(ctx, screenReq("PER<10"))
	require.NoError(t, err)
	two, err := e.Screen(ctx, screenReq("PER<10", "배당률>3%"))
	require.NoError(t, err)

	// Adding a condition never increases matchCount
	assert.LessOrEqual(t, two.MatchCount, one.MatchCount)
	assert.LessOrEqual(t, two.MatchCount, two.TotalCount)

	require.Equal(t, 1, two.MatchCount)
	assert.Equal(t, "005380", two.Results[0].Ticker)
	assert.Equal(t, "현대차", two.Results[0].Name)
}

func TestScreenDerivedROE(t *testing.T) {
	e := newTestEngine(t)

	// ROE: 005930 10%, 000660 5%, 005380 6.67%
	res, err := e.Screen(context.Background(), screenReq("자기자본이익률>6"))
	require.NoError(t, err)

	assert.Equal(t, 2, res.MatchCount)
	for _, row := range res.Results {
		assert.Greater(t, row.Values["ROE"], 6.0)
	}
}

func TestScreenMarketCapUnits(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Screen(context.Background(), screenReq("시총>100조"))
	require.NoError(t, err)

	// Only 005930 exceeds 100 trillion KRW (the > is strict)
	require.Equal(t, 1, res.MatchCount)
	assert.Equal(t, "005930", res.Results[0].Ticker)
}

func TestScreenAllMarketsUnion(t *testing.T) {
	e := newTestEngine(t)

	req := screenReq("PER>0")
	req.Market = "ALL"
	res, err := e.Screen(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 4, res.TotalCount)
	assert.Equal(t, 4, res.MatchCount)
}

func TestScreenMissingColumnDoesNotMatch(t *testing.T) {
	e := newTestEngine(t)

	// The KOSDAQ row reports no DIV; a DIV condition must not match it
	req := screenReq("DIV>0")
	req.Market = "ALL"
	res, err := e.Screen(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 3, res.MatchCount)
	for _, row := range res.Results {
		assert.NotEqual(t, "247540", row.Ticker)
	}
}

func TestScreenSortAndLimit(t *testing.T) {
	e := newTestEngine(t)

	req := screenReq("PER>0")
	req.SortBy = "PER"
	req.SortOrder = "asc"
	req.Limit = 2
	res, err := e.Screen(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, res.MatchCount)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "005380", res.Results[0].Ticker) // PER 5
	assert.Equal(t, "005930", res.Results[1].Ticker) // PER 8
}

func TestScreenSortDescendingDefault(t *testing.T) {
	e := newTestEngine(t)

	req := screenReq("PER>0")
	req.SortBy = "PER"
	req.SortOrder = "desc"
	res, err := e.Screen(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, res.Results, 3)
	assert.Equal(t, "000660", res.Results[0].Ticker) // PER 25
}

func TestScreenUnknownSortColumnKeepsOrder(t *testing.T) {
	e := newTestEngine(t)

	req := screenReq("PER>0")
	req.SortBy = "NOPE"
	res, err := e.Screen(context.Background(), req)
	require.NoError(t, err)
	// Natural order is by ticker
	require.Len(t, res.Results, 3)
	assert.Equal(t, "000660", res.Results[0].Ticker)
}

func TestScreenMalformedConditionFailsWhole(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Screen(context.Background(), screenReq("PER<10", "garbage"))
	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeScreenError, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "garbage")
}

func TestScreenRequiresConditions(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Screen(context.Background(), screenReq())
	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeScreenError, rpcErr.Code)
}

func TestScreenInvalidMarket(t *testing.T) {
	e := newTestEngine(t)

	req := screenReq("PER<10")
	req.Market = "NASDAQ"
	_, err := e.Screen(context.Background(), req)
	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeInvalidMarket, rpcErr.Code)
}

func TestScreenSaveAndLoadRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	req := screenReq("PER<10", "시총>1조")
	req.Save = "cheap_large"
	saved, err := e.Screen(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "cheap_large", saved.SavedAs)

	// Loading replays the verbatim stored conditions
	loadReq := screenReq()
	loadReq.Load = "cheap_large"
	loaded, err := e.Screen(ctx, loadReq)
	require.NoError(t, err)
	assert.Equal(t, []string{"PER<10", "시총>1조"}, loaded.Conditions)
	assert.Equal(t, saved.MatchCount, loaded.MatchCount)
}

func TestScreenLoadUnknownName(t *testing.T) {
	e := newTestEngine(t)

	req := screenReq()
	req.Load = "nope"
	_, err := e.Screen(context.Background(), req)
	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeScreenError, rpcErr.Code)
}

func TestScreenNameFallsBackToTicker(t *testing.T) {
	e := newTestEngine(t)

	req := screenReq("PER>0")
	req.Market = "KOSDAQ"
	res, err := e.Screen(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, res.Results, 1)
	assert.Equal(t, "247540", res.Results[0].Name)
}

func TestScreenRoundsValues(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Screen(context.Background(), screenReq("자기자본이익률>6"))
	require.NoError(t, err)

	for _, row := range res.Results {
		if row.Ticker == "005380" {
			// 20000/300000*100 = 6.666... rounds to 6.67
			assert.Equal(t, 6.67, row.Values["ROE"])
		}
	}
}
