package naver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/wonny/quantk/internal/marketdata"
)

// maxListingPages bounds pagination; KOSPI/KOSDAQ each list under 1,500
// securities at 100 per mobile-API page and 50 per market-sum page.
const maxListingPages = 40

// sosok codes for the finance.naver.com market-sum listing
var sosokByMarket = map[string]string{
	marketdata.MarketKOSPI:  "0",
	marketdata.MarketKOSDAQ: "1",
}

// mobileListResponse is the m.stock.naver.com stock list payload
type mobileListResponse struct {
	Stocks []struct {
		ItemCode  string `json:"itemCode"`
		StockName string `json:"stockName"`
	} `json:"stocks"`
}

// Tickers lists the securities of a market in market-cap descending order
// ⭐ SSOT: 종목 목록 호출은 이 함수에서만
//
// The date parameter is advisory: Naver serves the latest session.
func (c *Client) Tickers(ctx context.Context, market, date string) ([]marketdata.TickerInfo, error) {
	if err := marketdata.CheckMarket(market, false); err != nil {
		return nil, err
	}

	var tickers []marketdata.TickerInfo

	for page := 1; page <= maxListingPages; page++ {
		url := fmt.Sprintf("https://m.stock.naver.com/api/stocks/marketValue/%s?page=%d&pageSize=100", market, page)

		resp, err := c.httpClient.Get(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		var list mobileListResponse
		err = json.NewDecoder(resp.Body).Decode(&list)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode page %d: %w", page, err)
		}

		if len(list.Stocks) == 0 {
			break
		}

		for _, item := range list.Stocks {
			if item.ItemCode == "" {
				continue
			}
			tickers = append(tickers, marketdata.TickerInfo{
				Ticker: item.ItemCode,
				Name:   item.StockName,
				Market: market,
			})
			c.cacheName(item.ItemCode, item.StockName)
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"market": market,
		"count":  len(tickers),
	}).Debug("Fetched ticker list")
	return tickers, nil
}

// Fundamentals returns per-ticker fundamental ratios from the market-sum listing
// ⭐ SSOT: 펀더멘털 지표 호출은 이 함수에서만
func (c *Client) Fundamentals(ctx context.Context, market, date string) (map[string]marketdata.Fundamental, error) {
	rows, err := c.fetchMarketSum(ctx, market)
	if err != nil {
		return nil, err
	}

	out := make(map[string]marketdata.Fundamental, len(rows))
	for _, row := range rows {
		out[row.ticker] = marketdata.Fundamental{
			PER: row.cols["PER"],
			PBR: row.cols["PBR"],
			EPS: row.cols["EPS"],
			BPS: row.cols["BPS"],
			DIV: row.cols["DIV"],
		}
	}
	return out, nil
}

// MarketCaps returns market capitalization in KRW per ticker
// ⭐ SSOT: 시가총액 호출은 이 함수에서만
func (c *Client) MarketCaps(ctx context.Context, market, date string) (map[string]int64, error) {
	rows, err := c.fetchMarketSum(ctx, market)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		if cap, ok := row.cols["MARKET_CAP"]; ok {
			out[row.ticker] = int64(cap)
		}
	}
	return out, nil
}

// listingRow is one parsed market-sum table row
type listingRow struct {
	ticker string
	name   string
	cols   map[string]float64
}

// headerToColumn maps market-sum table headers to canonical column names
var headerToColumn = map[string]string{
	"시가총액": "MARKET_CAP",
	"PER":  "PER",
	"PBR":  "PBR",
	"EPS":  "EPS",
	"BPS":  "BPS",
	"배당률":  "DIV",
	"ROE":  "ROE",
}

// fetchMarketSum pages through the market-sum listing and parses each page.
// Per-row parse failures are skipped; only a fully empty result is an error
// for the caller to classify.
func (c *Client) fetchMarketSum(ctx context.Context, market string) ([]listingRow, error) {
	sosok, ok := sosokByMarket[market]
	if !ok {
		return nil, fmt.Errorf("unsupported market: %s", market)
	}

	var rows []listingRow

	for page := 1; page <= maxListingPages; page++ {
		url := fmt.Sprintf("%s/sise/sise_market_sum.naver?sosok=%s&page=%d", c.baseURL, sosok, page)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request failed: %w", err)
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
		req.Header.Set("Referer", "https://finance.naver.com/")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		pageRows, hasMore := c.parseMarketSumPage(resp.Body)
		resp.Body.Close()

		rows = append(rows, pageRows...)
		if !hasMore {
			break
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"market": market,
		"count":  len(rows),
	}).Debug("Fetched market-sum listing")
	return rows, nil
}

// parseMarketSumPage parses one market-sum HTML page with goquery.
// Column positions are resolved from the header row, so the parser
// survives the configurable field set of the listing page.
func (c *Client) parseMarketSumPage(body io.Reader) ([]listingRow, bool) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, false
	}

	// Resolve column indices from the header
	colIndex := make(map[int]string)
	doc.Find("table.type_2 thead th").Each(func(i int, th *goquery.Selection) {
		header := strings.TrimSpace(th.Text())
		if canonical, ok := headerToColumn[header]; ok {
			colIndex[i] = canonical
		}
	})

	var rows []listingRow
	doc.Find("table.type_2 tbody tr").Each(func(_ int, tr *goquery.Selection) {
		link := tr.Find("a.tltle")
		href, _ := link.Attr("href")
		ticker := extractTickerCode(href)
		if ticker == "" {
			return // spacer row
		}

		row := listingRow{
			ticker: ticker,
			name:   strings.TrimSpace(link.Text()),
			cols:   make(map[string]float64),
		}

		tr.Find("td").Each(func(i int, td *goquery.Selection) {
			canonical, ok := colIndex[i]
			if !ok {
				return
			}
			value, ok := parseListingNumber(td.Text())
			if !ok {
				return
			}
			if canonical == "MARKET_CAP" {
				value *= 1e8 // listing shows 억원
			}
			row.cols[canonical] = value
		})

		c.cacheName(ticker, row.name)
		rows = append(rows, row)
	})

	// A page with no data rows means pagination is exhausted
	return rows, len(rows) > 0
}

// extractTickerCode pulls the 6-digit code out of an item link
func extractTickerCode(href string) string {
	const marker = "code="
	idx := strings.Index(href, marker)
	if idx < 0 {
		return ""
	}
	code := href[idx+len(marker):]
	if amp := strings.IndexByte(code, '&'); amp >= 0 {
		code = code[:amp]
	}
	if len(code) != 6 {
		return ""
	}
	return code
}

// parseListingNumber parses a table cell like "1,234.56" or "N/A"
func parseListingNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")
	if s == "" || s == "N/A" || s == "-" {
		return 0, false
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
