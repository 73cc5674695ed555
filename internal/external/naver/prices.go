package naver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/quantk/internal/marketdata"
)

// OHLCV fetches daily bars for one ticker from the Naver chart API
// ⭐ SSOT: 가격(OHLCV) 호출은 이 함수에서만
func (c *Client) OHLCV(ctx context.Context, ticker string, from, to time.Time) ([]marketdata.Bar, error) {
	fullURL := fmt.Sprintf(
		"%s/siseJson.naver?symbol=%s&requestType=1&startTime=%s&endTime=%s&timeframe=day",
		c.chartBaseURL, ticker,
		from.Format(marketdata.DateLayout), to.Format(marketdata.DateLayout),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	req.Header.Set("Referer", "https://finance.naver.com/")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body failed: %w", err)
	}

	bars, err := parseChartResponse(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse response failed: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"ticker": ticker,
		"count":  len(bars),
	}).Debug("Fetched OHLCV")
	return bars, nil
}

// parseChartResponse parses the quasi-JSON chart payload
func parseChartResponse(body string) ([]marketdata.Bar, error) {
	body = strings.TrimSpace(body)
	body = strings.ReplaceAll(body, "'", "\"")

	// Try JSON parsing first
	var rawData [][]interface{}
	if err := json.Unmarshal([]byte(body), &rawData); err == nil {
		return parseChartJSON(rawData), nil
	}

	// Fallback to regex parsing
	return parseChartRegex(body), nil
}

// parseChartJSON parses the JSON array format, skipping the header row
func parseChartJSON(rawData [][]interface{}) []marketdata.Bar {
	var bars []marketdata.Bar
	for i, row := range rawData {
		if i == 0 || len(row) < 6 {
			continue // Skip header
		}

		dateStr, ok := row[0].(string)
		if !ok {
			continue
		}
		dateStr = strings.Trim(dateStr, "\"")

		tradeDate, err := time.Parse(marketdata.DateLayout, dateStr)
		if err != nil {
			continue
		}

		bars = append(bars, marketdata.Bar{
			Date:   tradeDate,
			Open:   toFloat64(row[1]),
			High:   toFloat64(row[2]),
			Low:    toFloat64(row[3]),
			Close:  toFloat64(row[4]),
			Volume: int64(toFloat64(row[5])),
		})
	}
	return bars
}

var chartRowRe = regexp.MustCompile(`\["(\d{8})",\s*(\d+),\s*(\d+),\s*(\d+),\s*(\d+),\s*(\d+)\]`)

// parseChartRegex parses using regex (fallback)
func parseChartRegex(body string) []marketdata.Bar {
	matches := chartRowRe.FindAllStringSubmatch(body, -1)

	var bars []marketdata.Bar
	for _, match := range matches {
		if len(match) < 7 {
			continue
		}

		tradeDate, err := time.Parse(marketdata.DateLayout, match[1])
		if err != nil {
			continue
		}

		open, _ := strconv.ParseFloat(match[2], 64)
		high, _ := strconv.ParseFloat(match[3], 64)
		low, _ := strconv.ParseFloat(match[4], 64)
		closePrice, _ := strconv.ParseFloat(match[5], 64)
		volume, _ := strconv.ParseInt(match[6], 10, 64)

		bars = append(bars, marketdata.Bar{
			Date:   tradeDate,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}
	return bars
}

// toFloat64 converts various chart cell types to float64
func toFloat64(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case int:
		return float64(val)
	case string:
		n, _ := strconv.ParseFloat(val, 64)
		return n
	default:
		return 0
	}
}
