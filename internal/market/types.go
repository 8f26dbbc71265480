package market

import "time"

// Snapshot 是单一资产的一次行情快照，价格以美元计。
type Snapshot struct {
	Symbol        string    `json:"symbol"`
	PriceUSD      float64   `json:"price_usd"`
	Change24hPct  float64   `json:"change_24h_pct"`
	Volume24hUSD  float64   `json:"volume_24h_usd"`
	MarketCapUSD  float64   `json:"market_cap_usd"`
	FetchedAt     time.Time `json:"fetched_at"`
	ServedFromOld bool      `json:"served_from_old,omitempty"`
}

// Age 返回快照距今的时长。
func (s Snapshot) Age() time.Duration {
	return time.Since(s.FetchedAt)
}

// Stats 汇总预言机的缓存表现，供运维接口查询。
type Stats struct {
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	StaleServes  uint64 `json:"stale_serves"`
	UpstreamErrs uint64 `json:"upstream_errors"`
	Entries      int    `json:"entries"`
}
