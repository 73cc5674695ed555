package factors

import (
	"context"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/wonny/quantk/internal/marketdata"
	"github.com/wonny/quantk/internal/rpc"
	"github.com/wonny/quantk/pkg/config"
	"github.com/wonny/quantk/pkg/logger"
)

// Engine computes cross-sectional factor scores over a market snapshot.
// Structural problems (unknown factor, bad market, empty upstream data) are
// hard errors; per-ticker anomalies inside a valid batch are recovered by
// exclusion — a ticker with no usable raw value is dropped, never zero-filled.
// ⭐ SSOT: 팩터 점수 계산은 이 엔진에서만
type Engine struct {
	provider marketdata.Provider
	cache    *Cache
	logger   *logger.Logger

	// momentum/volatility scan only the leading momentumUniverse tickers
	// of the market listing. Documented cost-control limit, not a bug.
	momentumUniverse int
}

// NewEngine creates a factor engine over the given provider
func NewEngine(cfg config.FactorConfig, provider marketdata.Provider, log *logger.Logger) *Engine {
	return &Engine{
		provider:         provider,
		cache:            NewCache(cfg.CacheDir, cfg.CacheTTL, log),
		logger:           log.WithField("component", "factors"),
		momentumUniverse: cfg.MomentumUniverse,
	}
}

// FactorResult is the payload of a single-factor computation
type FactorResult struct {
	Factor string             `json:"factor"`
	Date   string             `json:"date"`
	Market string             `json:"market"`
	Scores map[string]float64 `json:"scores"`
	Cached bool               `json:"cached"`
	Count  int                `json:"count"`
}

// CompositeResult is the payload of a weighted multi-factor blend
type CompositeResult struct {
	Factors []string           `json:"factors"`
	Weights map[string]float64 `json:"weights"`
	Date    string             `json:"date"`
	Market  string             `json:"market"`
	Scores  map[string]float64 `json:"composite_scores"`
	Count   int                `json:"count"`
}

// Ranking is one row of a factor ranking
type Ranking struct {
	Rank   int     `json:"rank"`
	Ticker string  `json:"ticker"`
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
}

// RankResult is the payload of rank_by_factor
type RankResult struct {
	Factor   string    `json:"factor"`
	Date     string    `json:"date"`
	Market   string    `json:"market"`
	Rankings []Ranking `json:"rankings"`
}

// ExposureResult is the payload of get_factor_exposure
type ExposureResult struct {
	Ticker    string             `json:"ticker"`
	Date      string             `json:"date"`
	Exposures map[string]float64 `json:"exposures"`
}

// RefreshResult is the payload of refresh_cache
type RefreshResult struct {
	Market    string   `json:"market"`
	Date      string   `json:"date"`
	Refreshed []string `json:"refreshed"`
	Count     int      `json:"count"`
}

// CalculateFactor computes (or serves from cache) one factor over a market
// snapshot. The cached snapshot is served while younger than the TTL unless
// refresh forces recomputation; recomputation overwrites the cache wholesale.
func (e *Engine) CalculateFactor(ctx context.Context, factor, market, date string, refresh bool) (*FactorResult, error) {
	category, ok := Definitions[factor]
	if !ok {
		return nil, rpc.NewError(rpc.CodeUnknownFactor,
			"Unknown factor: %s. Supported: %s", factor, strings.Join(Catalog(), ", "))
	}
	if err := marketdata.CheckMarket(market, false); err != nil {
		return nil, err
	}
	if _, err := marketdata.CheckDate(date); err != nil {
		return nil, err
	}

	if !refresh {
		if scores, ok := e.cache.Load(factor, market, date); ok {
			return e.result(factor, market, date, scores, true), nil
		}
	}

	var (
		scores []Score
		err    error
	)
	switch category {
	case CategoryValue:
		scores, err = e.computeValue(ctx, factor, market, date)
	case CategoryMomentum:
		scores, err = e.computeMomentum(ctx, factor, market, date)
	case CategoryProfitability:
		scores, err = e.computeProfitability(ctx, factor, market, date)
	case CategorySize:
		scores, err = e.computeSize(ctx, factor, market, date)
	case CategoryVolatility:
		scores, err = e.computeVolatility(ctx, market, date)
	default:
		return nil, rpc.NewError(rpc.CodeUnknownFactor, "Factor category %s not yet implemented", category)
	}
	if err != nil {
		return nil, err
	}

	if err := e.cache.Store(factor, market, date, scores); err != nil {
		// a failed cache write must not fail the computation
		e.logger.WithError(err).WithField("factor", factor).Warn("Cache write failed")
	}

	return e.result(factor, market, date, scores, false), nil
}

func (e *Engine) result(factor, market, date string, scores []Score, cached bool) *FactorResult {
	m := make(map[string]float64, len(scores))
	for _, s := range scores {
		m[s.Ticker] = s.Score
	}
	return &FactorResult{
		Factor: factor,
		Date:   date,
		Market: market,
		Scores: m,
		Cached: cached,
		Count:  len(scores),
	}
}

// computeValue scores a value factor as normalize(1/raw). Raw values ≤ 0
// are treated as missing before inversion and the ticker is excluded.
func (e *Engine) computeValue(ctx context.Context, factor, market, date string) ([]Score, error) {
	fnd, err := e.provider.Fundamentals(ctx, market, date)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeNoData, "No data available for %s on %s: %v", market, date, err)
	}
	if len(fnd) == 0 {
		return nil, rpc.NewError(rpc.CodeNoData, "No data available for %s on %s", market, date)
	}

	scores := make([]Score, 0, len(fnd))
	inverted := make([]float64, 0, len(fnd))
	for ticker, f := range fnd {
		raw, ok := valueField(factor, f)
		if !ok {
			return nil, rpc.NewError(rpc.CodeUnknownFactor, "Factor %s not available in fundamental data", factor)
		}
		if raw <= 0 {
			continue
		}
		scores = append(scores, Score{Ticker: ticker, Raw: raw})
		inverted = append(inverted, 1/raw)
	}
	if len(scores) == 0 {
		return nil, rpc.NewError(rpc.CodeNoData, "No data available for %s on %s", market, date)
	}

	return finalize(scores, inverted), nil
}

// valueField selects the fundamental column backing a value factor.
// PSR/PCR/EV_EBITDA are advertised but the provider does not serve them.
func valueField(factor string, f marketdata.Fundamental) (float64, bool) {
	switch factor {
	case "PER":
		return f.PER, true
	case "PBR":
		return f.PBR, true
	default:
		return 0, false
	}
}

// computeMomentum scores trailing percent price return over the factor's
// trading-day window, across the leading momentumUniverse tickers. Tickers
// without enough history are excluded, never zero-filled.
func (e *Engine) computeMomentum(ctx context.Context, factor, market, date string) ([]Score, error) {
	window, ok := momentumWindows[factor]
	if !ok {
		return nil, rpc.NewError(rpc.CodeUnknownFactor, "Unknown momentum factor: %s", factor)
	}

	returns, err := e.trailingReturns(ctx, market, date, window)
	if err != nil {
		return nil, err
	}
	if len(returns) == 0 {
		return nil, rpc.NewError(rpc.CodeNoData, "No momentum data available")
	}

	raws := make([]float64, len(returns))
	for i, s := range returns {
		raws[i] = s.Raw
	}
	return finalize(returns, raws), nil
}

// trailingReturns collects the percent return over a trading-day window for
// the leading universe tickers. Per-ticker provider failures are skipped.
func (e *Engine) trailingReturns(ctx context.Context, market, date string, window int) ([]Score, error) {
	asOf, err := marketdata.CheckDate(date)
	if err != nil {
		return nil, err
	}

	tickers, err := e.provider.Tickers(ctx, market, date)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeNoData, "No ticker list for %s on %s: %v", market, date, err)
	}
	if len(tickers) > e.momentumUniverse {
		tickers = tickers[:e.momentumUniverse]
	}

	// 2x calendar padding over the trading-day window covers weekends and holidays
	from := asOf.AddDate(0, 0, -window*2)

	var out []Score
	for _, info := range tickers {
		bars, err := e.provider.OHLCV(ctx, info.Ticker, from, asOf)
		if err != nil {
			e.logger.WithError(err).WithField("ticker", info.Ticker).Debug("Skipping ticker without price history")
			continue
		}
		if len(bars) < window {
			continue
		}

		last := bars[len(bars)-1].Close
		base := bars[len(bars)-window].Close
		if base == 0 {
			continue
		}
		out = append(out, Score{Ticker: info.Ticker, Raw: (last/base - 1) * 100})
	}
	return out, nil
}

// computeProfitability scores ROE as EPS/BPS×100 where BPS > 0. The other
// declared profitability factors are catalogued but not yet computable.
func (e *Engine) computeProfitability(ctx context.Context, factor, market, date string) ([]Score, error) {
	switch factor {
	case "ROE":
	case "ROA", "GP_MARGIN", "OP_MARGIN":
		return nil, rpc.NewError(rpc.CodeUnknownFactor,
			"Factor %s is not yet fully implemented. Currently only ROE is supported for profitability factors.", factor)
	default:
		return nil, rpc.NewError(rpc.CodeUnknownFactor, "Unknown profitability factor: %s", factor)
	}

	fnd, err := e.provider.Fundamentals(ctx, market, date)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeNoData, "No data available for %s on %s: %v", market, date, err)
	}
	if len(fnd) == 0 {
		return nil, rpc.NewError(rpc.CodeNoData, "No data available for %s on %s", market, date)
	}

	var scores []Score
	var raws []float64
	for ticker, f := range fnd {
		if f.BPS <= 0 {
			continue
		}
		roe := f.EPS / f.BPS * 100
		scores = append(scores, Score{Ticker: ticker, Raw: roe})
		raws = append(raws, roe)
	}
	if len(scores) == 0 {
		return nil, rpc.NewError(rpc.CodeNoData, "No data available for %s on %s", market, date)
	}

	return finalize(scores, raws), nil
}

// computeSize scores ln(market cap); SIZE_INV is the negated direction
// (smaller caps score higher).
func (e *Engine) computeSize(ctx context.Context, factor, market, date string) ([]Score, error) {
	caps, err := e.provider.MarketCaps(ctx, market, date)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeNoData, "No market cap data for %s on %s: %v", market, date, err)
	}
	if len(caps) == 0 {
		return nil, rpc.NewError(rpc.CodeNoData, "No market cap data for %s on %s", market, date)
	}

	var scores []Score
	var raws []float64
	for ticker, cap := range caps {
		if cap <= 0 {
			continue
		}
		lnCap := math.Log(float64(cap))
		scores = append(scores, Score{Ticker: ticker, Raw: lnCap})
		raws = append(raws, lnCap)
	}
	if len(scores) == 0 {
		return nil, rpc.NewError(rpc.CodeNoData, "No market cap data for %s on %s", market, date)
	}

	out := finalize(scores, raws)
	if factor == "SIZE_INV" {
		for i := range out {
			out[i].Score = -out[i].Score
		}
	}
	return out, nil
}

// computeVolatility scores the negated 20-day close-to-close return standard
// deviation over the leading universe (lower volatility scores higher).
func (e *Engine) computeVolatility(ctx context.Context, market, date string) ([]Score, error) {
	asOf, err := marketdata.CheckDate(date)
	if err != nil {
		return nil, err
	}

	tickers, err := e.provider.Tickers(ctx, market, date)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeNoData, "No ticker list for %s on %s: %v", market, date, err)
	}
	if len(tickers) > e.momentumUniverse {
		tickers = tickers[:e.momentumUniverse]
	}

	from := asOf.AddDate(0, 0, -volatilityWindow*3)

	var scores []Score
	var raws []float64
	for _, info := range tickers {
		bars, err := e.provider.OHLCV(ctx, info.Ticker, from, asOf)
		if err != nil || len(bars) < volatilityWindow+1 {
			continue
		}

		closes := make([]float64, volatilityWindow+1)
		for i := range closes {
			closes[i] = bars[len(bars)-volatilityWindow-1+i].Close
		}
		std := returnStdDev(closes)
		if math.IsNaN(std) {
			continue
		}
		scores = append(scores, Score{Ticker: info.Ticker, Raw: std})
		raws = append(raws, std)
	}
	if len(scores) == 0 {
		return nil, rpc.NewError(rpc.CodeNoData, "No volatility data available")
	}

	out := finalize(scores, raws)
	for i := range out {
		out[i].Score = -out[i].Score
	}
	return out, nil
}

// returnStdDev is the sample standard deviation of daily percent returns
func returnStdDev(closes []float64) float64 {
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			return math.NaN()
		}
		returns = append(returns, (closes[i]/closes[i-1]-1)*100)
	}
	return stat.StdDev(returns, nil)
}

// finalize attaches normalized scores to the collected raw entries.
// Scores come back in entry order.
func finalize(scores []Score, raws []float64) []Score {
	normalized := WinsorizedZScores(raws)
	for i := range scores {
		scores[i].Score = normalized[i]
	}
	return scores
}

// CalculateComposite blends several factors into one weighted score per
// ticker. Weights default to an equal split and are renormalized to sum to
// 1.0; a ticker missing from any constituent factor is dropped entirely.
func (e *Engine) CalculateComposite(ctx context.Context, factorNames []string, weights map[string]float64, market, date string) (*CompositeResult, error) {
	if len(factorNames) == 0 {
		return nil, rpc.NewError(rpc.CodeUnknownFactor, "At least one factor required")
	}

	if len(weights) == 0 {
		weights = make(map[string]float64, len(factorNames))
		for _, f := range factorNames {
			weights[f] = 1.0 / float64(len(factorNames))
		}
	}
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return nil, rpc.NewError(rpc.CodeUnknownFactor, "Weights must not sum to zero")
	}
	normalized := make(map[string]float64, len(weights))
	for k, w := range weights {
		normalized[k] = w / total
	}

	perTicker := make(map[string]map[string]float64)
	for _, factor := range factorNames {
		res, err := e.CalculateFactor(ctx, factor, market, date, false)
		if err != nil {
			return nil, err
		}
		for ticker, score := range res.Scores {
			m, ok := perTicker[ticker]
			if !ok {
				m = make(map[string]float64, len(factorNames))
				perTicker[ticker] = m
			}
			m[factor] = score
		}
	}

	composite := make(map[string]float64)
	for ticker, byFactor := range perTicker {
		if len(byFactor) != len(factorNames) {
			continue // missing from at least one factor
		}
		sum := 0.0
		for _, factor := range factorNames {
			sum += byFactor[factor] * normalized[factor]
		}
		composite[ticker] = sum
	}

	return &CompositeResult{
		Factors: factorNames,
		Weights: normalized,
		Date:    date,
		Market:  market,
		Scores:  composite,
		Count:   len(composite),
	}, nil
}

// RankByFactor returns the top-N tickers by descending score. A failed name
// lookup falls back to the raw ticker code rather than failing the call.
func (e *Engine) RankByFactor(ctx context.Context, factor, market, date string, topN int) (*RankResult, error) {
	res, err := e.CalculateFactor(ctx, factor, market, date, false)
	if err != nil {
		return nil, err
	}

	type entry struct {
		ticker string
		score  float64
	}
	entries := make([]entry, 0, len(res.Scores))
	for ticker, score := range res.Scores {
		entries = append(entries, entry{ticker, score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].ticker < entries[j].ticker
	})
	if topN > 0 && len(entries) > topN {
		entries = entries[:topN]
	}

	rankings := make([]Ranking, len(entries))
	for i, en := range entries {
		name, err := e.provider.TickerName(ctx, en.ticker)
		if err != nil || name == "" {
			name = en.ticker
		}
		rankings[i] = Ranking{
			Rank:   i + 1,
			Ticker: en.ticker,
			Name:   name,
			Score:  round4(en.score),
		}
	}

	return &RankResult{
		Factor:   factor,
		Date:     date,
		Market:   market,
		Rankings: rankings,
	}, nil
}

// FactorExposure collects best-effort per-factor scores for one ticker.
// A factor that errors for any reason is omitted from the result.
func (e *Engine) FactorExposure(ctx context.Context, ticker string, factorNames []string, date string) (*ExposureResult, error) {
	if ticker == "" {
		return nil, rpc.NewError(rpc.CodeMissingParam, "ticker is required")
	}
	if len(factorNames) == 0 {
		factorNames = Catalog()
	}

	exposures := make(map[string]float64)
	for _, factor := range factorNames {
		res, err := e.CalculateFactor(ctx, factor, marketdata.MarketKOSPI, date, false)
		if err != nil {
			continue
		}
		if score, ok := res.Scores[ticker]; ok {
			exposures[factor] = round4(score)
		}
	}

	return &ExposureResult{
		Ticker:    ticker,
		Date:      date,
		Exposures: exposures,
	}, nil
}

// RefreshCache force-recomputes each listed factor. Per-factor failures are
// excluded from the refreshed set rather than aborting the call.
func (e *Engine) RefreshCache(ctx context.Context, market, date string, factorNames []string) (*RefreshResult, error) {
	if len(factorNames) == 0 {
		factorNames = Catalog()
	}

	refreshed := make([]string, 0, len(factorNames))
	for _, factor := range factorNames {
		if _, err := e.CalculateFactor(ctx, factor, market, date, true); err != nil {
			e.logger.WithError(err).WithField("factor", factor).Debug("Refresh skipped factor")
			continue
		}
		refreshed = append(refreshed, factor)
	}

	return &RefreshResult{
		Market:    market,
		Date:      date,
		Refreshed: refreshed,
		Count:     len(refreshed),
	}, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
