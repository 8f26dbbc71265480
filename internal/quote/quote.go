// Package quote 负责兑换路径规划与报价计算。
// 报价是纯函数: 相同的价格输入永远得到相同的输出, 方便上层缓存与测试。
package quote

import (
	"math"
	"strings"
	"time"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/ledger"
)

// 本模块专属错误码。
const (
	CodeUnsupportedAsset xerrors.Code = "UNSUPPORTED_ASSET"
	CodeInvalidAmount    xerrors.Code = "INVALID_AMOUNT"
	CodeNoRoute          xerrors.Code = "NO_ROUTE"
)

func init() {
	xerrors.Register(CodeUnsupportedAsset, xerrors.Attributes{
		Message:  "asset not supported",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidAmount, xerrors.Attributes{
		Message:  "amount must be a positive finite number",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNoRoute, xerrors.Attributes{
		Message:  "no swap route between assets",
		Severity: xerrors.SeverityInfo,
	})
}

// Kind 区分链内兑换与跨链兑换。
type Kind string

const (
	KindSameChain  Kind = "same_chain"
	KindCrossChain Kind = "cross_chain"
)

// 费率与 gas 估算为固定值, 后续接入真实路由时再改为动态。
const (
	sameChainFeeRate  = 0.003
	crossChainFeeRate = 0.005
)

// Route 描述一次兑换在哪条链上执行。跨链时 Source 与 Dest 不同,
// 中间资产固定为 ledger.BridgeAsset。
type Route struct {
	Kind   Kind
	Source ledger.Family
	Dest   ledger.Family
}

// FeeRate 返回该路径的总费率。
func (r Route) FeeRate() float64 {
	if r.Kind == KindCrossChain {
		return crossChainFeeRate
	}
	return sameChainFeeRate
}

// GasEstimate 返回该路径的固定 gas 估算, 以各链原生币计。
func (r Route) GasEstimate() string {
	if r.Kind == KindCrossChain {
		return "0.01"
	}
	switch r.Source {
	case ledger.FamilyAptos:
		return "0.001"
	default:
		return "0.003"
	}
}

// Quote 是一次报价的完整结果。
type Quote struct {
	FromAsset    string    `json:"from_asset"`
	ToAsset      string    `json:"to_asset"`
	Amount       float64   `json:"amount"`
	Rate         float64   `json:"rate"`
	FeeRate      float64   `json:"fee_rate"`
	Output       float64   `json:"output"`
	GasEstimate  string    `json:"gas_estimate"`
	Route        Route     `json:"route"`
	PriceFromUSD float64   `json:"price_from_usd"`
	PriceToUSD   float64   `json:"price_to_usd"`
	QuotedAt     time.Time `json:"quoted_at"`
}

// PlanRoute 依据目录决定兑换路径。
// 两种资产共享一条链时走链内兑换, 否则经中间资产跨链。
func PlanRoute(catalog *ledger.Catalog, fromAsset, toAsset string) (Route, error) {
	from, ok := catalog.Token(fromAsset)
	if !ok {
		return Route{}, xerrors.New(CodeUnsupportedAsset, "不支持的资产 "+normalize(fromAsset))
	}
	to, ok := catalog.Token(toAsset)
	if !ok {
		return Route{}, xerrors.New(CodeUnsupportedAsset, "不支持的资产 "+normalize(toAsset))
	}
	if normalize(fromAsset) == normalize(toAsset) {
		return Route{}, xerrors.New(CodeNoRoute, "兑换双方不能是同一种资产")
	}

	fromFamilies := from.Families()
	toFamilies := to.Families()
	if len(fromFamilies) == 0 {
		return Route{}, xerrors.New(CodeNoRoute, normalize(fromAsset)+" 只支持行情查询, 不支持兑换")
	}
	if len(toFamilies) == 0 {
		return Route{}, xerrors.New(CodeNoRoute, normalize(toAsset)+" 只支持行情查询, 不支持兑换")
	}

	for _, ff := range fromFamilies {
		for _, tf := range toFamilies {
			if ff == tf {
				return Route{Kind: KindSameChain, Source: ff, Dest: tf}, nil
			}
		}
	}
	return Route{Kind: KindCrossChain, Source: fromFamilies[0], Dest: toFamilies[0]}, nil
}

// ValidateAmount 校验兑换数量, 必须是正的有限数。
func ValidateAmount(amount float64) error {
	if amount <= 0 || math.IsInf(amount, 0) || math.IsNaN(amount) {
		return xerrors.New(CodeInvalidAmount, "兑换数量必须是正的有限数")
	}
	return nil
}

// Compute 依据两侧美元价格计算报价。
// 汇率是双方价格之比, 手续费从产出侧扣除。
func Compute(route Route, fromAsset, toAsset string, amount, priceFromUSD, priceToUSD float64) (Quote, error) {
	if err := ValidateAmount(amount); err != nil {
		return Quote{}, err
	}
	if priceFromUSD <= 0 || priceToUSD <= 0 {
		return Quote{}, xerrors.New(xerrors.CodeUpstreamUnavailable, "行情价格无效, 无法报价")
	}

	rate := priceFromUSD / priceToUSD
	feeRate := route.FeeRate()
	output := amount * rate * (1 - feeRate)

	return Quote{
		FromAsset:    normalize(fromAsset),
		ToAsset:      normalize(toAsset),
		Amount:       amount,
		Rate:         rate,
		FeeRate:      feeRate,
		Output:       output,
		GasEstimate:  route.GasEstimate(),
		Route:        route,
		PriceFromUSD: priceFromUSD,
		PriceToUSD:   priceToUSD,
		QuotedAt:     time.Now().UTC(),
	}, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
