package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/wonny/quantk/internal/factors"
	"github.com/wonny/quantk/internal/marketdata"
	"github.com/wonny/quantk/internal/rpc"
	"github.com/wonny/quantk/internal/screener"
	"github.com/wonny/quantk/pkg/logger"
)

// Service registers the domain method surface onto one rpc.Server.
// Each method decodes its own typed request struct from params; the
// transport only ever sees the generic envelope.
// ⭐ SSOT: RPC 메서드 등록은 여기서만
type Service struct {
	provider marketdata.Provider
	factors  *factors.Engine
	screener *screener.Engine
	logger   *logger.Logger
}

// NewService creates the bridge service over the domain engines
func NewService(provider marketdata.Provider, fe *factors.Engine, se *screener.Engine, log *logger.Logger) *Service {
	return &Service{
		provider: provider,
		factors:  fe,
		screener: se,
		logger:   log.WithField("component", "bridge"),
	}
}

// Register wires every domain method onto the server. Handlers that hit the
// provider, the disk or the scoring path register as blocking and run on the
// worker pool; pure in-memory handlers run inline.
func (s *Service) Register(srv *rpc.Server) {
	// market data passthroughs
	srv.Register("get_tickers", s.handleGetTickers, rpc.Blocking())
	srv.Register("get_ohlcv", s.handleGetOHLCV, rpc.Blocking())
	srv.Register("get_fundamental", s.handleGetFundamental, rpc.Blocking())
	srv.Register("get_market_cap", s.handleGetMarketCap, rpc.Blocking())
	srv.Register("search_ticker", s.handleSearchTicker, rpc.Blocking())

	// factor engine
	srv.Register("calculate_factor", s.handleCalculateFactor, rpc.Blocking())
	srv.Register("calculate_composite", s.handleCalculateComposite, rpc.Blocking())
	srv.Register("rank_by_factor", s.handleRankByFactor, rpc.Blocking())
	srv.Register("get_factor_exposure", s.handleFactorExposure, rpc.Blocking())
	srv.Register("refresh_cache", s.handleRefreshCache, rpc.Blocking())
	srv.Register("list_factors", s.handleListFactors)

	// screening engine
	srv.Register("screen", s.handleScreen, rpc.Blocking())
	srv.Register("save_screen", s.handleSaveScreen, rpc.Blocking())
	srv.Register("load_screen", s.handleLoadScreen, rpc.Blocking())
	srv.Register("list_screens", s.handleListScreens)
	srv.Register("parse_conditions", s.handleParseConditions)
}

func decode(params json.RawMessage, into interface{}) error {
	if err := json.Unmarshal(params, into); err != nil {
		return rpc.NewError(rpc.CodeInvalidParams, "Invalid params: %v", err)
	}
	return nil
}

// defaultDate fills the wire date with today when the caller omitted it
func defaultDate(date string) string {
	if date == "" {
		return time.Now().Format(marketdata.DateLayout)
	}
	return date
}

func defaultMarket(market string) string {
	if market == "" {
		return marketdata.MarketKOSPI
	}
	return market
}

type tickersRequest struct {
	Market string `json:"market"`
	Date   string `json:"date"`
}

func (s *Service) handleGetTickers(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req tickersRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	req.Market = defaultMarket(req.Market)
	req.Date = defaultDate(req.Date)

	if err := marketdata.CheckMarket(req.Market, false); err != nil {
		return nil, err
	}
	if _, err := marketdata.CheckDate(req.Date); err != nil {
		return nil, err
	}

	tickers, err := s.provider.Tickers(ctx, req.Market, req.Date)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeNoData, "No ticker list for %s on %s: %v", req.Market, req.Date, err)
	}

	return map[string]interface{}{
		"market":  req.Market,
		"date":    req.Date,
		"tickers": tickers,
		"count":   len(tickers),
	}, nil
}

type ohlcvRequest struct {
	Ticker string `json:"ticker"`
	From   string `json:"from"`
	To     string `json:"to"`
}

func (s *Service) handleGetOHLCV(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req ohlcvRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if req.Ticker == "" {
		return nil, rpc.NewError(rpc.CodeMissingParam, "ticker is required")
	}
	req.To = defaultDate(req.To)
	to, err := marketdata.CheckDate(req.To)
	if err != nil {
		return nil, err
	}
	if req.From == "" {
		req.From = to.AddDate(-1, 0, 0).Format(marketdata.DateLayout)
	}
	from, err := marketdata.CheckDate(req.From)
	if err != nil {
		return nil, err
	}

	bars, err := s.provider.OHLCV(ctx, req.Ticker, from, to)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeNoData, "No price data for %s: %v", req.Ticker, err)
	}

	type wireBar struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume int64   `json:"volume"`
	}
	out := make([]wireBar, len(bars))
	for i, b := range bars {
		out[i] = wireBar{
			Date:   b.Date.Format(marketdata.DateLayout),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		}
	}

	return map[string]interface{}{
		"ticker": req.Ticker,
		"from":   req.From,
		"to":     req.To,
		"bars":   out,
		"count":  len(out),
	}, nil
}

type fundamentalRequest struct {
	Market string `json:"market"`
	Date   string `json:"date"`
	Ticker string `json:"ticker"`
}

func (s *Service) handleGetFundamental(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req fundamentalRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	req.Market = defaultMarket(req.Market)
	req.Date = defaultDate(req.Date)

	if err := marketdata.CheckMarket(req.Market, false); err != nil {
		return nil, err
	}
	if _, err := marketdata.CheckDate(req.Date); err != nil {
		return nil, err
	}

	fnd, err := s.provider.Fundamentals(ctx, req.Market, req.Date)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeNoData, "No data available for %s on %s: %v", req.Market, req.Date, err)
	}

	if req.Ticker != "" {
		f, ok := fnd[req.Ticker]
		if !ok {
			return nil, rpc.NewError(rpc.CodeNoData, "No fundamental data for %s on %s", req.Ticker, req.Date)
		}
		return map[string]interface{}{
			"market":      req.Market,
			"date":        req.Date,
			"ticker":      req.Ticker,
			"fundamental": f,
		}, nil
	}

	return map[string]interface{}{
		"market":       req.Market,
		"date":         req.Date,
		"fundamentals": fnd,
		"count":        len(fnd),
	}, nil
}

func (s *Service) handleGetMarketCap(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req fundamentalRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	req.Market = defaultMarket(req.Market)
	req.Date = defaultDate(req.Date)

	if err := marketdata.CheckMarket(req.Market, false); err != nil {
		return nil, err
	}
	if _, err := marketdata.CheckDate(req.Date); err != nil {
		return nil, err
	}

	caps, err := s.provider.MarketCaps(ctx, req.Market, req.Date)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeNoData, "No market cap data for %s on %s: %v", req.Market, req.Date, err)
	}

	if req.Ticker != "" {
		cap, ok := caps[req.Ticker]
		if !ok {
			return nil, rpc.NewError(rpc.CodeNoData, "No market cap for %s on %s", req.Ticker, req.Date)
		}
		return map[string]interface{}{
			"market":     req.Market,
			"date":       req.Date,
			"ticker":     req.Ticker,
			"market_cap": cap,
		}, nil
	}

	return map[string]interface{}{
		"market":      req.Market,
		"date":        req.Date,
		"market_caps": caps,
		"count":       len(caps),
	}, nil
}

type searchRequest struct {
	Query  string `json:"query"`
	Market string `json:"market"`
	Date   string `json:"date"`
	Limit  int    `json:"limit"`
}

// handleSearchTicker resolves a name fragment (or exact code) to matching
// securities over the requested market listing.
func (s *Service) handleSearchTicker(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req searchRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if req.Query == "" {
		return nil, rpc.NewError(rpc.CodeMissingParam, "query is required")
	}
	req.Market = defaultMarket(req.Market)
	req.Date = defaultDate(req.Date)
	if req.Limit <= 0 {
		req.Limit = 10
	}

	if err := marketdata.CheckMarket(req.Market, true); err != nil {
		return nil, err
	}
	if _, err := marketdata.CheckDate(req.Date); err != nil {
		return nil, err
	}

	markets := []string{req.Market}
	if req.Market == marketdata.MarketAll {
		markets = []string{marketdata.MarketKOSPI, marketdata.MarketKOSDAQ}
	}

	var matches []marketdata.TickerInfo
	for _, m := range markets {
		tickers, err := s.provider.Tickers(ctx, m, req.Date)
		if err != nil {
			continue // best effort across markets
		}
		for _, info := range tickers {
			if info.Ticker == req.Query || containsFold(info.Name, req.Query) {
				matches = append(matches, info)
				if len(matches) >= req.Limit {
					break
				}
			}
		}
		if len(matches) >= req.Limit {
			break
		}
	}

	return map[string]interface{}{
		"query":   req.Query,
		"market":  req.Market,
		"matches": matches,
		"count":   len(matches),
	}, nil
}

type factorRequest struct {
	Factor  string `json:"factor"`
	Market  string `json:"market"`
	Date    string `json:"date"`
	Refresh bool   `json:"refresh"`
}

func (s *Service) handleCalculateFactor(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req factorRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if req.Factor == "" {
		return nil, rpc.NewError(rpc.CodeMissingParam, "factor is required")
	}
	return s.factors.CalculateFactor(ctx, req.Factor, defaultMarket(req.Market), defaultDate(req.Date), req.Refresh)
}

type compositeRequest struct {
	Factors []string           `json:"factors"`
	Weights map[string]float64 `json:"weights"`
	Market  string             `json:"market"`
	Date    string             `json:"date"`
}

func (s *Service) handleCalculateComposite(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req compositeRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	return s.factors.CalculateComposite(ctx, req.Factors, req.Weights, defaultMarket(req.Market), defaultDate(req.Date))
}

type rankRequest struct {
	Factor string `json:"factor"`
	Market string `json:"market"`
	Date   string `json:"date"`
	TopN   int    `json:"top_n"`
}

func (s *Service) handleRankByFactor(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req rankRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if req.Factor == "" {
		return nil, rpc.NewError(rpc.CodeMissingParam, "factor is required")
	}
	if req.TopN <= 0 {
		req.TopN = 20
	}
	return s.factors.RankByFactor(ctx, req.Factor, defaultMarket(req.Market), defaultDate(req.Date), req.TopN)
}

type exposureRequest struct {
	Ticker  string   `json:"ticker"`
	Factors []string `json:"factors"`
	Date    string   `json:"date"`
}

func (s *Service) handleFactorExposure(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req exposureRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	return s.factors.FactorExposure(ctx, req.Ticker, req.Factors, defaultDate(req.Date))
}

type refreshRequest struct {
	Market  string   `json:"market"`
	Date    string   `json:"date"`
	Factors []string `json:"factors"`
}

func (s *Service) handleRefreshCache(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req refreshRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	return s.factors.RefreshCache(ctx, defaultMarket(req.Market), defaultDate(req.Date), req.Factors)
}

func (s *Service) handleListFactors(_ context.Context, _ json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"factors":    factors.Catalog(),
		"categories": factors.Categories(),
	}, nil
}

type screenRequest struct {
	Conditions []string `json:"conditions"`
	Market     string   `json:"market"`
	Date       string   `json:"date"`
	SortBy     string   `json:"sort_by"`
	SortOrder  string   `json:"sort_order"`
	Limit      int      `json:"limit"`
	Load       string   `json:"load"`
	Save       string   `json:"save"`
}

func (s *Service) handleScreen(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req screenRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}
	return s.screener.Screen(ctx, screener.Request{
		Conditions: req.Conditions,
		Market:     defaultMarket(req.Market),
		Date:       defaultDate(req.Date),
		SortBy:     req.SortBy,
		SortOrder:  req.SortOrder,
		Limit:      req.Limit,
		Load:       req.Load,
		Save:       req.Save,
	})
}

type saveScreenRequest struct {
	Name       string   `json:"name"`
	Conditions []string `json:"conditions"`
}

func (s *Service) handleSaveScreen(_ context.Context, params json.RawMessage) (interface{}, error) {
	var req saveScreenRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	saved, err := s.screener.Store().Save(req.Name, req.Conditions)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"saved": true,
		"name":  saved.Name,
	}, nil
}

type loadScreenRequest struct {
	Name string `json:"name"`
}

func (s *Service) handleLoadScreen(_ context.Context, params json.RawMessage) (interface{}, error) {
	var req loadScreenRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	return s.screener.Store().Load(req.Name)
}

func (s *Service) handleListScreens(_ context.Context, _ json.RawMessage) (interface{}, error) {
	names, err := s.screener.Store().List()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"screens": names}, nil
}

type parseRequest struct {
	Conditions []string `json:"conditions"`
}

func (s *Service) handleParseConditions(_ context.Context, params json.RawMessage) (interface{}, error) {
	var req parseRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	parsed := make([]map[string]interface{}, 0, len(req.Conditions))
	for _, cond := range req.Conditions {
		c, err := screener.ParseCondition(cond)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, map[string]interface{}{
			"original": cond,
			"factor":   c.Factor,
			"operator": c.Operator,
			"value":    c.Value,
		})
	}
	return map[string]interface{}{"parsed": parsed}, nil
}

// containsFold is a case-insensitive substring match
func containsFold(haystack, needle string) bool {
	return needle != "" && strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
