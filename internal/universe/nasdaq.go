package universe

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"breakout/internal/domain"
	"breakout/internal/util"
)

// DefaultScreenerURL is the NASDAQ stock screener endpoint.
const DefaultScreenerURL = "https://api.nasdaq.com/api/screener/stocks"

const browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ScreenerConfig configures the NASDAQ screener query.
type ScreenerConfig struct {
	URL            string
	Limit          int
	MarketCaps     []string // mega, large, mid, small
	Recommendation []string // strong_buy, buy
	Retries        int
	RetryWait      time.Duration
	RetryMaxWait   time.Duration
	MaxJitter      time.Duration // random pause before the request
	Timeout        time.Duration
}

type screenerResponse struct {
	Data struct {
		Table struct {
			Rows []struct {
				Symbol string `json:"symbol"`
			} `json:"rows"`
		} `json:"table"`
	} `json:"data"`
}

// NasdaqScreener fetches the universe from the NASDAQ screener API.
type NasdaqScreener struct {
	client *resty.Client
	cfg    ScreenerConfig
	log    *slog.Logger
	rand   *rand.Rand
}

var _ Provider = (*NasdaqScreener)(nil)

// NewNasdaqScreener builds a screener client. Zero fields take the values
// the breakout strategy was tuned with: 3000 rows of mega to small caps
// rated buy or strong buy, 3 retries capped at 30s.
func NewNasdaqScreener(cfg ScreenerConfig, logger *slog.Logger) *NasdaqScreener {
	if cfg.URL == "" {
		cfg.URL = DefaultScreenerURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 3000
	}
	if len(cfg.MarketCaps) == 0 {
		cfg.MarketCaps = []string{"mega", "large", "mid", "small"}
	}
	if len(cfg.Recommendation) == 0 {
		cfg.Recommendation = []string{"strong_buy", "buy"}
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = time.Second
	}
	if cfg.RetryMaxWait < cfg.RetryWait {
		cfg.RetryMaxWait = max(30*time.Second, cfg.RetryWait)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetHeaders(map[string]string{
			"User-Agent":      browserUserAgent,
			"Accept":          "application/json, text/plain, */*",
			"Accept-Language": "en-US,en;q=0.9",
			"Origin":          "https://www.nasdaq.com",
			"Referer":         "https://www.nasdaq.com/",
		})

	return &NasdaqScreener{
		client: client,
		cfg:    cfg,
		log:    logger.With("component", "universe", "provider", "nasdaq"),
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Fetch queries the screener and returns the normalized symbols. An empty
// table yields an empty universe without error.
func (n *NasdaqScreener) Fetch(ctx context.Context) ([]domain.Symbol, error) {
	if n.cfg.MaxJitter > 0 {
		pause := time.Duration(n.rand.Int63n(int64(n.cfg.MaxJitter)))
		if err := util.Sleep(ctx, pause); err != nil {
			return nil, err
		}
	}

	var out screenerResponse
	resp, err := n.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"tableonly":      "true",
			"limit":          strconv.Itoa(n.cfg.Limit),
			"marketcap":      strings.Join(n.cfg.MarketCaps, "|"),
			"recommendation": strings.Join(n.cfg.Recommendation, "|"),
		}).
		SetResult(&out).
		Get(n.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("nasdaq screener request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("nasdaq screener: HTTP %d", resp.StatusCode())
	}

	raw := make([]string, 0, len(out.Data.Table.Rows))
	for _, row := range out.Data.Table.Rows {
		raw = append(raw, row.Symbol)
	}
	symbols := Normalize(raw)
	n.log.Info("universe fetched", "symbols", len(symbols), "attempts", resp.Request.Attempt)
	return symbols, nil
}
