// Package assistant 把归一化的用户意图分发到各业务服务,
// 并把结果组织成可直接展示的应答。
package assistant

import (
	"context"
	"fmt"
	"sort"
	"strings"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/alert"
	"OmniSwap-Agent/internal/ledger"
	"OmniSwap-Agent/internal/ledger/provider"
	"OmniSwap-Agent/internal/market"
	"OmniSwap-Agent/internal/swap"
	"OmniSwap-Agent/internal/userstore"
	"OmniSwap-Agent/internal/vault"
	"OmniSwap-Agent/pkg/logger"
)

// 各链家族在组合资产视图中展示的资产。
var portfolioAssets = map[ledger.Family][]string{
	ledger.FamilyEthereum: {"ETH", "USDC"},
	ledger.FamilyAptos:    {"APT", "USDC"},
}

// Router 持有全部协作方, 按意图分发。
type Router struct {
	registry *provider.Registry
	vault    *vault.Vault
	oracle   *market.Oracle
	swaps    *swap.Service
	alerts   *alert.Engine
}

// NewRouter 构造意图路由器。
func NewRouter(registry *provider.Registry, v *vault.Vault, oracle *market.Oracle, swaps *swap.Service, alerts *alert.Engine) *Router {
	return &Router{registry: registry, vault: v, oracle: oracle, swaps: swaps, alerts: alerts}
}

// Handle 处理一条意图。业务失败折叠进应答而不是返回 error,
// 聊天传输层总有话可回。
func (r *Router) Handle(ctx context.Context, userID string, intent Intent) Result {
	switch intent.Action {
	case ActionPortfolio:
		return r.portfolio(ctx, userID)
	case ActionPrice:
		return r.price(ctx, intent.Tokens)
	case ActionTrade:
		return r.trade(ctx, userID, intent)
	case ActionSetAlert:
		return r.setAlert(ctx, userID, intent)
	case ActionListAlerts:
		return r.listAlerts(ctx, userID)
	case ActionStopAlerts:
		return r.stopAlerts(ctx, userID)
	case ActionLink:
		return r.link(ctx, userID, intent)
	case ActionUnlink:
		return r.unlink(ctx, userID, intent)
	case ActionHelp:
		return r.help()
	default:
		return Result{
			Kind: "error",
			Text: "不理解这个请求, 输入 help 查看支持的操作",
			Code: xerrors.CodeInvalidArgument,
		}
	}
}

// portfolio 汇总全部绑定账户的余额与现价。
func (r *Router) portfolio(ctx context.Context, userID string) Result {
	accounts, err := r.vault.Accounts(ctx, userID)
	if err != nil {
		return errResult(err)
	}
	if len(accounts) == 0 {
		return Result{Kind: "portfolio", Text: "还没有绑定任何账户, 先用 link 绑定一个钱包"}
	}

	type holding struct {
		Family  ledger.Family `json:"family"`
		Asset   string        `json:"asset"`
		Amount  float64       `json:"amount"`
		USD     float64       `json:"usd"`
		Change  float64       `json:"change_24h_pct"`
		Address string        `json:"address"`
	}
	var holdings []holding
	symbolSet := make(map[string]bool)

	for family, account := range accounts {
		adapter, ok := r.registry.Adapter(family)
		if !ok {
			continue
		}
		for _, asset := range portfolioAssets[family] {
			balance, err := adapter.GetBalance(ctx, account.Address, asset)
			if err != nil {
				logger.L().Warn("组合视图余额查询失败",
					"family", string(family), "asset", asset, "error", err)
				continue
			}
			if balance == 0 {
				continue
			}
			holdings = append(holdings, holding{
				Family:  family,
				Asset:   asset,
				Amount:  balance,
				Address: account.Address,
			})
			symbolSet[asset] = true
		}
	}

	if len(holdings) == 0 {
		return Result{Kind: "portfolio", Text: "账户已绑定, 但暂未查询到任何余额"}
	}

	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}
	prices, err := r.oracle.GetPrices(ctx, symbols)
	if err != nil {
		return errResult(err)
	}

	var total float64
	var b strings.Builder
	b.WriteString("资产组合:\n")
	sort.Slice(holdings, func(i, j int) bool {
		if holdings[i].Family != holdings[j].Family {
			return holdings[i].Family < holdings[j].Family
		}
		return holdings[i].Asset < holdings[j].Asset
	})
	for i := range holdings {
		snap := prices[holdings[i].Asset]
		holdings[i].USD = holdings[i].Amount * snap.PriceUSD
		holdings[i].Change = snap.Change24hPct
		total += holdings[i].USD
		fmt.Fprintf(&b, "%s · %.6f %s ≈ $%.2f (24h %+.2f%%)\n",
			holdings[i].Family.DisplayName(), holdings[i].Amount,
			holdings[i].Asset, holdings[i].USD, holdings[i].Change)
	}
	fmt.Fprintf(&b, "合计 ≈ $%.2f", total)

	return Result{Kind: "portfolio", Text: b.String(), Payload: holdings}
}

func (r *Router) price(ctx context.Context, tokens []string) Result {
	if len(tokens) == 0 {
		return Result{
			Kind: "error",
			Text: "需要指定资产, 例如: price BTC ETH",
			Code: xerrors.CodeInvalidArgument,
		}
	}
	prices, err := r.oracle.GetPrices(ctx, tokens)
	if err != nil {
		return errResult(err)
	}

	symbols := make([]string, 0, len(prices))
	for s := range prices {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var b strings.Builder
	for _, s := range symbols {
		snap := prices[s]
		fmt.Fprintf(&b, "%s $%.4f (24h %+.2f%%)", s, snap.PriceUSD, snap.Change24hPct)
		if snap.ServedFromOld {
			b.WriteString(" [缓存价]")
		}
		b.WriteString("\n")
	}
	return Result{Kind: "price", Text: strings.TrimRight(b.String(), "\n"), Payload: prices}
}

func (r *Router) trade(ctx context.Context, userID string, intent Intent) Result {
	if intent.FromToken == "" || intent.ToToken == "" {
		return Result{
			Kind: "error",
			Text: "需要指定兑换双方, 例如: trade 2 ETH APT",
			Code: xerrors.CodeInvalidArgument,
		}
	}
	result, err := r.swaps.Execute(ctx, userID, intent.FromToken, intent.ToToken, intent.Amount)
	if err != nil {
		return errResult(err)
	}

	if result.Success {
		return Result{
			Kind: "swap",
			Text: fmt.Sprintf("兑换完成: %.6f %s -> %.6f %s (手续费 %.2f%%, 预计 gas %s)",
				result.Quote.Amount, result.Quote.FromAsset,
				result.Quote.Output, result.Quote.ToAsset,
				result.Quote.FeeRate*100, result.Quote.GasEstimate),
			Payload: result,
		}
	}
	return Result{
		Kind:    "swap",
		Text:    "兑换未完成: " + result.Message,
		Payload: result,
		Code:    result.Code,
	}
}

func (r *Router) setAlert(ctx context.Context, userID string, intent Intent) Result {
	if len(intent.Tokens) == 0 {
		return Result{
			Kind: "error",
			Text: "需要指定资产与目标价, 例如: alert BTC 50000",
			Code: xerrors.CodeInvalidArgument,
		}
	}
	created, err := r.alerts.SetAlert(ctx, userID, intent.Tokens[0], intent.PriceTarget)
	if err != nil {
		return errResult(err)
	}
	return Result{
		Kind: "alert",
		Text: fmt.Sprintf("已创建告警: %s 达到 $%.2f 时提醒", created.Asset, created.TargetPrice),
		Payload: created,
	}
}

func (r *Router) listAlerts(ctx context.Context, userID string) Result {
	alerts, err := r.alerts.List(ctx, userID)
	if err != nil {
		return errResult(err)
	}
	if len(alerts) == 0 {
		return Result{Kind: "alerts", Text: "当前没有任何告警"}
	}
	var b strings.Builder
	for _, a := range alerts {
		switch a.Status {
		case userstore.AlertActive:
			fmt.Fprintf(&b, "[活跃] %s @ $%.2f\n", a.Asset, a.TargetPrice)
		case userstore.AlertTriggered:
			fmt.Fprintf(&b, "[已触发] %s @ $%.2f, 触发价 $%.2f\n", a.Asset, a.TargetPrice, a.TriggerPrice)
		default:
			fmt.Fprintf(&b, "[已停止] %s @ $%.2f\n", a.Asset, a.TargetPrice)
		}
	}
	return Result{Kind: "alerts", Text: strings.TrimRight(b.String(), "\n"), Payload: alerts}
}

func (r *Router) stopAlerts(ctx context.Context, userID string) Result {
	stopped, err := r.alerts.StopAll(ctx, userID)
	if err != nil {
		return errResult(err)
	}
	return Result{
		Kind:    "stop",
		Text:    fmt.Sprintf("已停止 %d 条活跃告警", stopped),
		Payload: map[string]int{"stopped": stopped},
	}
}

func (r *Router) link(ctx context.Context, userID string, intent Intent) Result {
	family, err := parseFamily(intent.WalletType)
	if err != nil {
		return errResult(err)
	}
	linked, err := r.vault.LinkAccount(ctx, userID, family, intent.Secret)
	if err != nil {
		return errResult(err)
	}
	return Result{
		Kind: "link",
		Text: fmt.Sprintf("%s 账户已绑定: %s", family.DisplayName(), abbreviate(linked.Address)),
		Payload: map[string]string{
			"family":  string(family),
			"address": linked.Address,
		},
	}
}

func (r *Router) unlink(ctx context.Context, userID string, intent Intent) Result {
	family, err := parseFamily(intent.WalletType)
	if err != nil {
		return errResult(err)
	}
	if err := r.vault.UnlinkAccount(ctx, userID, family); err != nil {
		return errResult(err)
	}
	return Result{Kind: "unlink", Text: family.DisplayName() + " 账户已解绑"}
}

func (r *Router) help() Result {
	return Result{Kind: "help", Text: strings.TrimSpace(`
支持的操作:
  portfolio            查看资产组合
  price <资产...>      查询现价
  trade <数量> <从> <到>  执行兑换, 跨链自动经 USDC
  alert <资产> <目标价>  创建到价提醒
  alerts               查看全部提醒
  stop                 停止全部提醒
  link <链> <私钥>     绑定钱包 (ethereum / aptos)
  unlink <链>          解绑钱包`)}
}

func parseFamily(walletType string) (ledger.Family, error) {
	switch strings.ToLower(strings.TrimSpace(walletType)) {
	case "ethereum", "eth", "evm":
		return ledger.FamilyEthereum, nil
	case "aptos", "apt":
		return ledger.FamilyAptos, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument,
			"未知钱包类型, 支持 ethereum 与 aptos")
	}
}

func abbreviate(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:8] + "..." + address[len(address)-4:]
}

func errResult(err error) Result {
	code := xerrors.CodeOf(err)
	text := err.Error()
	if e, ok := xerrors.From(err); ok {
		text = e.Message()
	}
	return Result{Kind: "error", Text: text, Code: code}
}
