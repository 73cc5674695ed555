package naver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/wonny/quantk/pkg/config"
	"github.com/wonny/quantk/pkg/httputil"
	"github.com/wonny/quantk/pkg/logger"
)

// Client serves market data from Naver Finance. It is the default
// implementation of marketdata.Provider — the bridge core treats it as an
// opaque collaborator and tolerates empty or partial results from it.
// ⭐ SSOT: Naver Finance 호출은 이 클라이언트에서만
type Client struct {
	httpClient   *httputil.Client
	logger       *logger.Logger
	baseURL      string
	chartBaseURL string

	nameMu    sync.RWMutex
	nameCache map[string]string
}

// NewClient creates a new Naver Finance client
func NewClient(cfg config.NaverConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient:   httpClient,
		logger:       log.WithField("component", "naver"),
		baseURL:      cfg.BaseURL,
		chartBaseURL: cfg.ChartBaseURL,
		nameCache:    make(map[string]string),
	}
}

// TickerName resolves a ticker code to its listed name. Resolved names are
// cached for the process lifetime; listings do not change intraday.
func (c *Client) TickerName(ctx context.Context, ticker string) (string, error) {
	c.nameMu.RLock()
	if name, ok := c.nameCache[ticker]; ok {
		c.nameMu.RUnlock()
		return name, nil
	}
	c.nameMu.RUnlock()

	url := fmt.Sprintf("https://m.stock.naver.com/api/stock/%s/basic", ticker)

	resp, err := c.httpClient.Get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var basic struct {
		StockName string `json:"stockName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&basic); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if basic.StockName == "" {
		return "", fmt.Errorf("no name for ticker %s", ticker)
	}

	c.cacheName(ticker, basic.StockName)
	return basic.StockName, nil
}

func (c *Client) cacheName(ticker, name string) {
	c.nameMu.Lock()
	c.nameCache[ticker] = name
	c.nameMu.Unlock()
}
