package screener

import (
	"context"
	"math"
	"sort"

	"github.com/wonny/quantk/internal/marketdata"
	"github.com/wonny/quantk/internal/rpc"
	"github.com/wonny/quantk/pkg/config"
	"github.com/wonny/quantk/pkg/logger"
)

// Row is one joined per-ticker record. Values holds only the columns the
// provider actually reported for the ticker; a condition referencing an
// absent column simply does not match the row.
type Row struct {
	Ticker string             `json:"ticker"`
	Name   string             `json:"name"`
	Values map[string]float64 `json:"values"`
}

// Request carries one screen call
type Request struct {
	Conditions []string
	Market     string
	Date       string
	SortBy     string
	SortOrder  string
	Limit      int
	Load       string
	Save       string
}

// Result is the screen payload
type Result struct {
	Conditions []string    `json:"conditions"`
	Parsed     []Condition `json:"parsed"`
	Market     string      `json:"market"`
	Date       string      `json:"date"`
	MatchCount int         `json:"matchCount"`
	TotalCount int         `json:"totalCount"`
	Results    []Row       `json:"results"`
	SavedAs    string      `json:"savedAs,omitempty"`
}

// Engine evaluates conjunctive screening conditions against a joined
// snapshot of per-ticker fundamentals, market cap and derived columns.
// ⭐ SSOT: 종목 스크리닝은 이 엔진에서만
type Engine struct {
	provider marketdata.Provider
	store    *Store
	logger   *logger.Logger
}

// NewEngine creates a screening engine over the given provider
func NewEngine(cfg config.ScreenConfig, provider marketdata.Provider, log *logger.Logger) *Engine {
	return &Engine{
		provider: provider,
		store:    NewStore(cfg.Dir, log),
		logger:   log.WithField("component", "screener"),
	}
}

// Store exposes the saved-screen store for the save/load/list methods
func (e *Engine) Store() *Store {
	return e.store
}

// Screen runs the full pipeline: resolve a loaded screen, build the joined
// table, validate every condition, filter conjunctively, sort, truncate,
// and optionally persist the raw condition strings under a name.
func (e *Engine) Screen(ctx context.Context, req Request) (*Result, error) {
	conditions := req.Conditions

	if req.Load != "" {
		saved, err := e.store.Load(req.Load)
		if err != nil {
			return nil, err
		}
		conditions = saved.Conditions
		if len(conditions) == 0 {
			return nil, rpc.NewError(rpc.CodeScreenError, "No conditions found in screen: %s", req.Load)
		}
	}
	if len(conditions) == 0 {
		return nil, rpc.NewError(rpc.CodeScreenError, "At least one condition required")
	}

	if err := marketdata.CheckMarket(req.Market, true); err != nil {
		return nil, err
	}
	if _, err := marketdata.CheckDate(req.Date); err != nil {
		return nil, err
	}

	// All-or-nothing: every condition parses before anything is applied
	parsed, err := ParseConditions(conditions)
	if err != nil {
		return nil, err
	}

	rows, err := e.buildTable(ctx, req.Market, req.Date)
	if err != nil {
		return nil, err
	}
	totalCount := len(rows)

	for _, cond := range parsed {
		rows = applyCondition(rows, cond)
	}

	sortRows(rows, req.SortBy, req.SortOrder)

	if req.Limit > 0 && len(rows) > req.Limit {
		rows = rows[:req.Limit]
	}

	for i := range rows {
		rows[i].Values = roundValues(rows[i].Values)
	}

	result := &Result{
		Conditions: conditions,
		Parsed:     parsed,
		Market:     req.Market,
		Date:       req.Date,
		MatchCount: len(rows),
		TotalCount: totalCount,
		Results:    rows,
	}

	if req.Save != "" {
		// the original unparsed condition strings are what gets stored
		if _, err := e.store.Save(req.Save, conditions); err != nil {
			return nil, err
		}
		result.SavedAs = req.Save
	}

	e.logger.WithFields(map[string]interface{}{
		"market":  req.Market,
		"date":    req.Date,
		"total":   totalCount,
		"matched": result.MatchCount,
	}).Debug("Screen complete")
	return result, nil
}

// buildTable joins fundamentals with market caps plus the derived ROE column
// and a best-effort name per ticker, for one market or the ALL union.
func (e *Engine) buildTable(ctx context.Context, market, date string) ([]Row, error) {
	markets := []string{market}
	if market == marketdata.MarketAll {
		markets = []string{marketdata.MarketKOSPI, marketdata.MarketKOSDAQ}
	}

	var rows []Row
	for _, m := range markets {
		part, err := e.marketTable(ctx, m, date)
		if err != nil {
			return nil, err
		}
		rows = append(rows, part...)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Ticker < rows[j].Ticker })
	return rows, nil
}

func (e *Engine) marketTable(ctx context.Context, market, date string) ([]Row, error) {
	fnd, err := e.provider.Fundamentals(ctx, market, date)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeNoData, "No data available for %s on %s: %v", market, date, err)
	}
	caps, err := e.provider.MarketCaps(ctx, market, date)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeNoData, "No market cap data for %s on %s: %v", market, date, err)
	}

	rows := make([]Row, 0, len(fnd))
	for ticker, f := range fnd {
		// inner join on market cap
		cap, ok := caps[ticker]
		if !ok {
			continue
		}

		values := map[string]float64{
			"MARKET_CAP": float64(cap),
		}
		// provider zeros mean "not reported": the column is omitted so
		// conditions against it never match this row
		putNonZero(values, "PER", f.PER)
		putNonZero(values, "PBR", f.PBR)
		putNonZero(values, "EPS", f.EPS)
		putNonZero(values, "BPS", f.BPS)
		putNonZero(values, "DIV", f.DIV)

		if f.BPS > 0 && f.EPS != 0 {
			values["ROE"] = f.EPS / f.BPS * 100
		}

		name, err := e.provider.TickerName(ctx, ticker)
		if err != nil || name == "" {
			name = ticker
		}

		rows = append(rows, Row{Ticker: ticker, Name: name, Values: values})
	}
	return rows, nil
}

func putNonZero(values map[string]float64, key string, v float64) {
	if v != 0 {
		values[key] = v
	}
}

// applyCondition filters rows to those matching one condition
func applyCondition(rows []Row, cond Condition) []Row {
	matched := rows[:0]
	for _, row := range rows {
		v, ok := row.Values[cond.Factor]
		if ok && cond.Matches(v) {
			matched = append(matched, row)
		}
	}
	return matched
}

// sortRows orders by a column when one was requested; rows missing the
// column sort last in either direction.
func sortRows(rows []Row, sortBy, sortOrder string) {
	if sortBy == "" {
		return
	}
	ascending := sortOrder == "asc"

	sort.SliceStable(rows, func(i, j int) bool {
		vi, oki := rows[i].Values[sortBy]
		vj, okj := rows[j].Values[sortBy]
		if oki != okj {
			return oki
		}
		if !oki {
			return false
		}
		if ascending {
			return vi < vj
		}
		return vi > vj
	})
}

func roundValues(values map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(values))
	for k, v := range values {
		out[k] = math.Round(v*100) / 100
	}
	return out
}
