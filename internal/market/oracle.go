package market

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/ledger"
	"OmniSwap-Agent/pkg/logger"
)

// Oracle 在行情上游之上提供 TTL 缓存、请求合并与过期兜底。
// 上游不可用时优先返回过期快照而不是报错，宁可旧也不可无。
type Oracle struct {
	source  Source
	catalog *ledger.Catalog
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[string]Snapshot

	// 请求合并按符号粒度: 同一符号任何时刻至多一个在途上游请求,
	// 批量调用之间重叠的符号共享同一个在途请求。
	group    singleflight.Group
	flightMu sync.Mutex
	inflight map[string]bool

	mirror       *redis.Client
	mirrorPrefix string

	hits         atomic.Uint64
	misses       atomic.Uint64
	staleServes  atomic.Uint64
	upstreamErrs atomic.Uint64
}

// OracleOption 配置预言机的可选能力。
type OracleOption func(*Oracle)

// WithRedisMirror 把每次成功取回的快照镜像到 Redis，
// 进程重启后冷缓存仍能在上游故障时提供最后已知价。
func WithRedisMirror(client *redis.Client, prefix string) OracleOption {
	return func(o *Oracle) {
		o.mirror = client
		if prefix == "" {
			prefix = "omniswap:price"
		}
		o.mirrorPrefix = prefix
	}
}

// NewOracle 构造行情预言机。
func NewOracle(source Source, catalog *ledger.Catalog, ttl time.Duration, opts ...OracleOption) *Oracle {
	if ttl <= 0 {
		ttl = time.Minute
	}
	o := &Oracle{
		source:   source,
		catalog:  catalog,
		ttl:      ttl,
		cache:    make(map[string]Snapshot),
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// GetPrice 返回单一资产的行情快照。
func (o *Oracle) GetPrice(ctx context.Context, symbol string) (Snapshot, error) {
	snapshots, err := o.GetPrices(ctx, []string{symbol})
	if err != nil {
		return Snapshot{}, err
	}
	snap, ok := snapshots[normalize(symbol)]
	if !ok {
		return Snapshot{}, xerrors.New(xerrors.CodeUpstreamUnavailable,
			"行情上游未返回 "+normalize(symbol)+" 的价格")
	}
	return snap, nil
}

// GetPrices 批量返回行情快照。所有符号先过目录校验，
// 缓存未命中的部分合并为一次上游请求。
func (o *Oracle) GetPrices(ctx context.Context, symbols []string) (map[string]Snapshot, error) {
	if len(symbols) == 0 {
		return map[string]Snapshot{}, nil
	}

	wanted := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, raw := range symbols {
		symbol := normalize(raw)
		if seen[symbol] {
			continue
		}
		if !o.catalog.Supported(symbol) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的资产 "+symbol)
		}
		seen[symbol] = true
		wanted = append(wanted, symbol)
	}

	out := make(map[string]Snapshot, len(wanted))
	var missing []string
	o.mu.RLock()
	for _, symbol := range wanted {
		if snap, ok := o.cache[symbol]; ok && snap.Age() < o.ttl {
			out[symbol] = snap
			o.hits.Add(1)
		} else {
			missing = append(missing, symbol)
		}
	}
	o.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}
	o.misses.Add(uint64(len(missing)))

	fetched, err := o.coalesce(ctx, missing)
	if err != nil {
		return nil, err
	}
	for symbol, snap := range fetched {
		out[symbol] = snap
	}
	return out, nil
}

// flightVal 区分"上游没有这个符号"与"请求失败": ok 为 false 时
// 上游正常应答但不认识该符号。
type flightVal struct {
	snap Snapshot
	ok   bool
}

// coalesce 把缺失符号并入在途请求。本次调用新认领的符号合并为
// 一次批量上游请求; 已被其他调用认领的符号直接等待其结果。
func (o *Oracle) coalesce(ctx context.Context, missing []string) (map[string]Snapshot, error) {
	sort.Strings(missing)

	var (
		batchOnce sync.Once
		batch     map[string]Snapshot
		batchErr  error
		claimed   map[string]bool
	)
	runBatch := func() {
		o.flightMu.Lock()
		claimed = make(map[string]bool, len(missing))
		toFetch := make([]string, 0, len(missing))
		for _, symbol := range missing {
			if !o.inflight[symbol] {
				o.inflight[symbol] = true
				claimed[symbol] = true
				toFetch = append(toFetch, symbol)
			}
		}
		o.flightMu.Unlock()

		if len(toFetch) > 0 {
			batch, batchErr = o.fetch(ctx, toFetch)
		}

		o.flightMu.Lock()
		for _, symbol := range toFetch {
			delete(o.inflight, symbol)
		}
		o.flightMu.Unlock()
	}

	results := make(map[string]<-chan singleflight.Result, len(missing))
	for _, symbol := range missing {
		symbol := symbol
		results[symbol] = o.group.DoChan(symbol, func() (any, error) {
			batchOnce.Do(runBatch)
			if claimed[symbol] {
				if batchErr != nil {
					return nil, batchErr
				}
				snap, ok := batch[symbol]
				return flightVal{snap: snap, ok: ok}, nil
			}
			// 认领时该符号已被另一批次认领, 退回单符号请求,
			// 本符号的所有等待方都会拿到这里的结果。
			one, err := o.fetch(ctx, []string{symbol})
			if err != nil {
				return nil, err
			}
			snap, ok := one[symbol]
			return flightVal{snap: snap, ok: ok}, nil
		})
	}

	out := make(map[string]Snapshot, len(missing))
	for _, symbol := range missing {
		res := <-results[symbol]
		if res.Err != nil {
			return nil, res.Err
		}
		if val := res.Val.(flightVal); val.ok {
			out[symbol] = val.snap
		}
	}
	return out, nil
}

// fetch 请求上游，失败时逐符号回退到过期缓存或 Redis 镜像。
func (o *Oracle) fetch(ctx context.Context, symbols []string) (map[string]Snapshot, error) {
	ids := o.catalog.CoinGeckoIDs(symbols)
	byID, err := o.source.FetchSpot(ctx, ids)
	if err != nil {
		o.upstreamErrs.Add(1)
		logger.Named("market").Warn("行情上游请求失败，尝试过期兜底", "error", err)
		return o.fallback(ctx, symbols, err)
	}

	out := make(map[string]Snapshot, len(symbols))
	o.mu.Lock()
	for _, symbol := range symbols {
		token, _ := o.catalog.Token(symbol)
		snap, ok := byID[token.CoinGeckoID]
		if !ok {
			continue
		}
		snap.Symbol = symbol
		o.cache[symbol] = snap
		out[symbol] = snap
	}
	o.mu.Unlock()

	o.mirrorWrite(ctx, out)
	return out, nil
}

func (o *Oracle) fallback(ctx context.Context, symbols []string, cause error) (map[string]Snapshot, error) {
	out := make(map[string]Snapshot, len(symbols))
	o.mu.RLock()
	for _, symbol := range symbols {
		if snap, ok := o.cache[symbol]; ok {
			snap.ServedFromOld = true
			out[symbol] = snap
		}
	}
	o.mu.RUnlock()

	for _, symbol := range symbols {
		if _, ok := out[symbol]; ok {
			continue
		}
		if snap, ok := o.mirrorRead(ctx, symbol); ok {
			snap.ServedFromOld = true
			out[symbol] = snap
		}
	}

	if len(out) == 0 {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamUnavailable, cause, "行情不可用且没有历史快照")
	}
	o.staleServes.Add(uint64(len(out)))
	return out, nil
}

func (o *Oracle) mirrorWrite(ctx context.Context, snapshots map[string]Snapshot) {
	if o.mirror == nil {
		return
	}
	for symbol, snap := range snapshots {
		data, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		if err := o.mirror.Set(ctx, o.mirrorKey(symbol), data, 0).Err(); err != nil {
			logger.Named("market").Warn("写入行情镜像失败", "symbol", symbol, "error", err)
			return
		}
	}
}

func (o *Oracle) mirrorRead(ctx context.Context, symbol string) (Snapshot, bool) {
	if o.mirror == nil {
		return Snapshot{}, false
	}
	data, err := o.mirror.Get(ctx, o.mirrorKey(symbol)).Bytes()
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

func (o *Oracle) mirrorKey(symbol string) string {
	return o.mirrorPrefix + ":" + symbol
}

// Stats 返回缓存统计。
func (o *Oracle) Stats() Stats {
	o.mu.RLock()
	entries := len(o.cache)
	o.mu.RUnlock()
	return Stats{
		Hits:         o.hits.Load(),
		Misses:       o.misses.Load(),
		StaleServes:  o.staleServes.Load(),
		UpstreamErrs: o.upstreamErrs.Load(),
		Entries:      entries,
	}
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
