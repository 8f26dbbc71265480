package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "OmniSwap-Agent/internal/errors"
)

// Source 是行情上游的抽象，按 CoinGecko 标识批量取现价。
type Source interface {
	FetchSpot(ctx context.Context, ids []string) (map[string]Snapshot, error)
}

// CoinGeckoSource 通过 CoinGecko simple/price 接口取行情。
type CoinGeckoSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewCoinGeckoSource 构造行情上游客户端。
func NewCoinGeckoSource(baseURL string, timeout time.Duration) *CoinGeckoSource {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CoinGeckoSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchSpot 一次请求取回多个资产的现价与 24 小时变动。
func (s *CoinGeckoSource) FetchSpot(ctx context.Context, ids []string) (map[string]Snapshot, error) {
	if len(ids) == 0 {
		return map[string]Snapshot{}, nil
	}

	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", "usd")
	query.Set("include_24hr_change", "true")
	query.Set("include_24hr_vol", "true")
	query.Set("include_market_cap", "true")
	endpoint := s.baseURL + "/simple/price?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "构造行情请求失败")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "请求行情上游失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, xerrors.New(xerrors.CodeUpstreamUnavailable, "行情上游限流",
			xerrors.WithRetryable(true))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, xerrors.New(xerrors.CodeUpstreamUnavailable,
			fmt.Sprintf("行情上游返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var payload map[string]struct {
		USD          float64 `json:"usd"`
		USD24hChange float64 `json:"usd_24h_change"`
		USD24hVol    float64 `json:"usd_24h_vol"`
		USDMarketCap float64 `json:"usd_market_cap"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "解析行情响应失败")
	}

	now := time.Now()
	out := make(map[string]Snapshot, len(payload))
	for id, entry := range payload {
		out[id] = Snapshot{
			PriceUSD:     entry.USD,
			Change24hPct: entry.USD24hChange,
			Volume24hUSD: entry.USD24hVol,
			MarketCapUSD: entry.USDMarketCap,
			FetchedAt:    now,
		}
	}
	return out, nil
}
