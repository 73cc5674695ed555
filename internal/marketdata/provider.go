package marketdata

import (
	"context"
	"time"

	"github.com/wonny/quantk/internal/rpc"
)

// Supported markets
const (
	MarketKOSPI  = "KOSPI"
	MarketKOSDAQ = "KOSDAQ"
	MarketAll    = "ALL" // union of KOSPI and KOSDAQ where an operation allows it
)

// DateLayout is the wire format for trading dates (YYYYMMDD)
const DateLayout = "20060102"

// TickerInfo identifies one listed security
type TickerInfo struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
	Market string `json:"market"`
}

// Bar is one daily OHLCV bar
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Fundamental holds the per-ticker fundamental ratios the provider serves.
// Zero values mean "not reported" — callers must treat them as missing,
// not as literal zeros.
type Fundamental struct {
	PER float64 `json:"PER"`
	PBR float64 `json:"PBR"`
	EPS float64 `json:"EPS"`
	BPS float64 `json:"BPS"`
	DIV float64 `json:"DIV"` // dividend yield, percent
}

// Provider is the opaque market-data collaborator
// ⭐ SSOT: 시장 데이터 접근은 이 인터페이스를 통해서만
//
// Implementations may legitimately return empty or partial results; the
// engines recover per-ticker gaps by exclusion and only hard-fail when an
// entire dataset is missing.
type Provider interface {
	// Tickers lists the securities of a market on a date, in the
	// provider's natural (market-cap descending) order.
	Tickers(ctx context.Context, market, date string) ([]TickerInfo, error)

	// OHLCV returns daily bars for one ticker, oldest first.
	OHLCV(ctx context.Context, ticker string, from, to time.Time) ([]Bar, error)

	// Fundamentals returns the fundamental ratios per ticker for a market snapshot.
	Fundamentals(ctx context.Context, market, date string) (map[string]Fundamental, error)

	// MarketCaps returns market capitalization in KRW per ticker.
	MarketCaps(ctx context.Context, market, date string) (map[string]int64, error)

	// TickerName resolves a ticker code to its listed name.
	TickerName(ctx context.Context, ticker string) (string, error)
}

// ValidMarket reports whether market is KOSPI or KOSDAQ
func ValidMarket(market string) bool {
	return market == MarketKOSPI || market == MarketKOSDAQ
}

// CheckMarket validates a market name, optionally allowing ALL
func CheckMarket(market string, allowAll bool) error {
	if ValidMarket(market) || (allowAll && market == MarketAll) {
		return nil
	}
	return rpc.NewError(rpc.CodeInvalidMarket, "Invalid market: %s", market)
}

// CheckDate validates a YYYYMMDD trading date string
func CheckDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, rpc.NewError(rpc.CodeInvalidDate, "Invalid date: %s (want YYYYMMDD)", date)
	}
	return t, nil
}

// LatestTradingDate probes backwards from today for the most recent
// session with fundamental data, up to maxDaysBack days. Falls back to
// today when nothing is found (주말/공휴일 제외)
func LatestTradingDate(ctx context.Context, p Provider, maxDaysBack int) string {
	now := time.Now()
	for i := 0; i < maxDaysBack; i++ {
		date := now.AddDate(0, 0, -i).Format(DateLayout)
		fnd, err := p.Fundamentals(ctx, MarketKOSPI, date)
		if err == nil && len(fnd) > 0 {
			return date
		}
	}
	return now.Format(DateLayout)
}
