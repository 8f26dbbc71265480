package quote

import (
	"math"
	"testing"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/ledger"
)

func testCatalog(t *testing.T) *ledger.Catalog {
	t.Helper()
	cat, err := ledger.LoadCatalog("")
	if err != nil {
		t.Fatalf("加载链目录失败: %v", err)
	}
	return cat
}

func TestPlanRouteSameChain(t *testing.T) {
	cat := testCatalog(t)
	route, err := PlanRoute(cat, "ETH", "USDC")
	if err != nil {
		t.Fatalf("规划路径失败: %v", err)
	}
	if route.Kind != KindSameChain || route.Source != ledger.FamilyEthereum {
		t.Fatalf("ETH->USDC 应为以太坊链内兑换: %+v", route)
	}
}

func TestPlanRouteCrossChain(t *testing.T) {
	cat := testCatalog(t)
	route, err := PlanRoute(cat, "ETH", "APT")
	if err != nil {
		t.Fatalf("规划路径失败: %v", err)
	}
	if route.Kind != KindCrossChain {
		t.Fatalf("ETH->APT 应为跨链兑换: %+v", route)
	}
	if route.Source != ledger.FamilyEthereum || route.Dest != ledger.FamilyAptos {
		t.Fatalf("跨链方向不正确: %+v", route)
	}
}

func TestPlanRouteRejectsPriceOnlyAsset(t *testing.T) {
	cat := testCatalog(t)
	_, err := PlanRoute(cat, "BTC", "ETH")
	if xerrors.CodeOf(err) != CodeNoRoute {
		t.Fatalf("仅行情资产不应可兑换: %v", err)
	}
}

func TestPlanRouteRejectsUnknownAsset(t *testing.T) {
	cat := testCatalog(t)
	_, err := PlanRoute(cat, "WAT", "ETH")
	if xerrors.CodeOf(err) != CodeUnsupportedAsset {
		t.Fatalf("未知资产应被拒绝: %v", err)
	}
}

func TestComputeCrossChainExample(t *testing.T) {
	// 2 ETH -> APT, ETH=3000, APT=10: 汇率 300, 跨链费 0.5%, 产出 597。
	route := Route{Kind: KindCrossChain, Source: ledger.FamilyEthereum, Dest: ledger.FamilyAptos}
	q, err := Compute(route, "eth", "apt", 2, 3000, 10)
	if err != nil {
		t.Fatalf("报价失败: %v", err)
	}
	if q.Rate != 300 {
		t.Fatalf("汇率不正确: %v", q.Rate)
	}
	if math.Abs(q.Output-597) > 1e-9 {
		t.Fatalf("产出数量不正确: %v", q.Output)
	}
	if q.FeeRate != 0.005 {
		t.Fatalf("跨链费率不正确: %v", q.FeeRate)
	}
	if q.FromAsset != "ETH" || q.ToAsset != "APT" {
		t.Fatalf("符号未规范化: %s -> %s", q.FromAsset, q.ToAsset)
	}
}

func TestComputeSameChainFee(t *testing.T) {
	route := Route{Kind: KindSameChain, Source: ledger.FamilyEthereum, Dest: ledger.FamilyEthereum}
	q, err := Compute(route, "ETH", "USDC", 1, 3000, 1)
	if err != nil {
		t.Fatalf("报价失败: %v", err)
	}
	if math.Abs(q.Output-2991) > 1e-9 {
		t.Fatalf("链内费率 0.3%% 未生效: %v", q.Output)
	}
}

func TestComputeRejectsBadAmounts(t *testing.T) {
	route := Route{Kind: KindSameChain, Source: ledger.FamilyEthereum, Dest: ledger.FamilyEthereum}
	for _, amount := range []float64{0, -1, math.Inf(1), math.NaN()} {
		_, err := Compute(route, "ETH", "USDC", amount, 3000, 1)
		if xerrors.CodeOf(err) != CodeInvalidAmount {
			t.Fatalf("数量 %v 应被拒绝: %v", amount, err)
		}
	}
}
