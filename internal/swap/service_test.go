package swap

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/ledger"
	"OmniSwap-Agent/internal/ledger/provider"
	"OmniSwap-Agent/internal/market"
	"OmniSwap-Agent/internal/notify"
	"OmniSwap-Agent/internal/quote"
	"OmniSwap-Agent/internal/userstore"
	"OmniSwap-Agent/internal/vault"
)

const (
	testEthKey  = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAptsKey = "ed25519-priv-0x1111111111111111111111111111111111111111111111111111111111111111"
)

type stubAdapter struct {
	family    ledger.Family
	balances  map[string]float64
	submitErr error
	confirm   ledger.ConfirmationState
	submits   int
}

func (a *stubAdapter) Family() ledger.Family { return a.family }

func (a *stubAdapter) GetBalance(_ context.Context, _, asset string) (float64, error) {
	return a.balances[asset], nil
}

func (a *stubAdapter) SubmitSwap(_ context.Context, _ ledger.SwapRequest) (string, error) {
	a.submits++
	if a.submitErr != nil {
		return "", a.submitErr
	}
	return "0xtx", nil
}

func (a *stubAdapter) WaitForConfirmation(_ context.Context, _ string) (ledger.ConfirmationState, error) {
	if a.confirm == "" {
		return ledger.ConfirmationConfirmed, nil
	}
	return a.confirm, nil
}

func (a *stubAdapter) Close() {}

type staticSource struct {
	prices map[string]float64
}

func (s staticSource) FetchSpot(_ context.Context, ids []string) (map[string]market.Snapshot, error) {
	out := make(map[string]market.Snapshot, len(ids))
	for _, id := range ids {
		if price, ok := s.prices[id]; ok {
			out[id] = market.Snapshot{PriceUSD: price, FetchedAt: time.Now()}
		}
	}
	return out, nil
}

type recordingNotifier struct {
	kinds []notify.Kind
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.kinds = append(r.kinds, n.Kind)
	return nil
}

func (r *recordingNotifier) Close() error { return nil }

type fixture struct {
	service  *Service
	eth      *stubAdapter
	apt      *stubAdapter
	notifier *recordingNotifier
}

func newFixture(t *testing.T, linkAptos bool) *fixture {
	t.Helper()
	cat, err := ledger.LoadCatalog("")
	if err != nil {
		t.Fatalf("加载链目录失败: %v", err)
	}

	eth := &stubAdapter{
		family:   ledger.FamilyEthereum,
		balances: map[string]float64{"ETH": 10, "USDC": 100000},
	}
	apt := &stubAdapter{
		family:   ledger.FamilyAptos,
		balances: map[string]float64{"APT": 1000, "USDC": 100000},
	}
	registry := provider.NewRegistryWith(cat, map[ledger.Family]ledger.Adapter{
		ledger.FamilyEthereum: eth,
		ledger.FamilyAptos:    apt,
	})

	store, err := userstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("打开文件存储失败: %v", err)
	}
	v, err := vault.New(store, "test passphrase")
	if err != nil {
		t.Fatalf("构造托管器失败: %v", err)
	}
	ctx := context.Background()
	if _, err := v.LinkAccount(ctx, "alice", ledger.FamilyEthereum, testEthKey); err != nil {
		t.Fatalf("绑定以太坊账户失败: %v", err)
	}
	if linkAptos {
		if _, err := v.LinkAccount(ctx, "alice", ledger.FamilyAptos, testAptsKey); err != nil {
			t.Fatalf("绑定 Aptos 账户失败: %v", err)
		}
	}

	oracle := market.NewOracle(staticSource{prices: map[string]float64{
		"ethereum": 3000, "aptos": 10, "usd-coin": 1,
	}}, cat, time.Minute)

	notifier := &recordingNotifier{}
	return &fixture{
		service:  NewService(registry, v, oracle, notifier),
		eth:      eth,
		apt:      apt,
		notifier: notifier,
	}
}

func TestExecuteSameChainSwap(t *testing.T) {
	f := newFixture(t, false)

	result, err := f.service.Execute(context.Background(), "alice", "ETH", "USDC", 1)
	if err != nil {
		t.Fatalf("兑换失败: %v", err)
	}
	if !result.Success {
		t.Fatalf("兑换应当成功: %+v", result)
	}
	if len(result.Legs) != 1 || result.Bridge != nil {
		t.Fatalf("链内兑换应只有一条腿: %+v", result)
	}
	if math.Abs(result.Quote.Output-2991) > 1e-9 {
		t.Fatalf("产出数量不正确: %v", result.Quote.Output)
	}
	if len(f.notifier.kinds) != 1 || f.notifier.kinds[0] != notify.KindSwapCompleted {
		t.Fatalf("应发出完成通知: %v", f.notifier.kinds)
	}
}

func TestExecuteCrossChainSwap(t *testing.T) {
	f := newFixture(t, true)

	result, err := f.service.Execute(context.Background(), "alice", "ETH", "APT", 2)
	if err != nil {
		t.Fatalf("兑换失败: %v", err)
	}
	if !result.Success {
		t.Fatalf("兑换应当成功: %+v", result)
	}
	if len(result.Legs) != 2 {
		t.Fatalf("跨链兑换应有两条腿: %+v", result.Legs)
	}
	if result.Bridge == nil || result.Bridge.Asset != ledger.BridgeAsset {
		t.Fatalf("缺少中间资产搬运步骤: %+v", result.Bridge)
	}
	// 第二条腿消费第一条腿的报价产出。
	if math.Abs(result.Legs[1].AmountIn-result.Legs[0].AmountOut) > 1e-9 {
		t.Fatalf("第二条腿输入应等于第一条腿产出: %v != %v",
			result.Legs[1].AmountIn, result.Legs[0].AmountOut)
	}
	if math.Abs(result.Quote.Output-597) > 1e-9 {
		t.Fatalf("总产出不正确: %v", result.Quote.Output)
	}
	if math.Abs(result.Legs[1].AmountOut-597) > 1e-9 {
		t.Fatalf("第二条腿产出不正确: %v", result.Legs[1].AmountOut)
	}
}

func TestExecuteCrossChainLeg1Failure(t *testing.T) {
	f := newFixture(t, true)
	f.eth.submitErr = errors.New("nonce too low")

	result, err := f.service.Execute(context.Background(), "alice", "ETH", "APT", 1)
	if err != nil {
		t.Fatalf("编排不应报错: %v", err)
	}
	if result.Success {
		t.Fatalf("第一条腿失败时兑换不应成功")
	}
	if len(result.Legs) != 1 {
		t.Fatalf("第一条腿失败后不应执行第二条腿: %+v", result.Legs)
	}
	if result.Bridge != nil {
		t.Fatalf("第一条腿失败后不应有搬运步骤")
	}
	if f.apt.submits != 0 {
		t.Fatalf("目标链不应收到任何提交")
	}
	if result.Code != CodeLegFailed {
		t.Fatalf("链上执行失败应标记为 LEG_FAILED: %v", result.Code)
	}
}

func TestExecuteCrossChainBridgeFailure(t *testing.T) {
	f := newFixture(t, true)
	// 目标链上查不到中间资产, 搬运核实必须失败。
	f.apt.balances["USDC"] = 0

	result, err := f.service.Execute(context.Background(), "alice", "ETH", "APT", 1)
	if err != nil {
		t.Fatalf("编排不应报错: %v", err)
	}
	if result.Success {
		t.Fatalf("搬运失败时兑换不应成功")
	}
	if result.Bridge == nil || result.Bridge.Status != "failed" {
		t.Fatalf("搬运步骤应标记失败: %+v", result.Bridge)
	}
	if len(result.Legs) != 1 {
		t.Fatalf("搬运未核实不应执行第二条腿: %+v", result.Legs)
	}
	if f.apt.submits != 0 {
		t.Fatalf("目标链不应收到任何提交")
	}
	if result.Code != xerrors.CodePartialFailure {
		t.Fatalf("应标记为部分失败: %v", result.Code)
	}
	// 资金位置只报告到已核实的源链为止。
	if !strings.Contains(result.Message, ledger.FamilyEthereum.DisplayName()+" 链") {
		t.Fatalf("提示应指出资金停留在源链: %s", result.Message)
	}
}

func TestExecuteCrossChainPartialFailure(t *testing.T) {
	f := newFixture(t, true)
	f.apt.confirm = ledger.ConfirmationFailed

	result, err := f.service.Execute(context.Background(), "alice", "ETH", "APT", 1)
	if err != nil {
		t.Fatalf("编排不应报错: %v", err)
	}
	if result.Success {
		t.Fatalf("第二条腿失败时兑换不应成功")
	}
	if len(result.Legs) != 2 {
		t.Fatalf("部分失败必须保留两条腿的结果: %+v", result.Legs)
	}
	if result.Code != xerrors.CodePartialFailure {
		t.Fatalf("应标记为部分失败: %v", result.Code)
	}
	if len(f.notifier.kinds) != 1 || f.notifier.kinds[0] != notify.KindSwapPartial {
		t.Fatalf("应发出部分失败通知: %v", f.notifier.kinds)
	}
}

func TestExecuteConfirmationTimeout(t *testing.T) {
	f := newFixture(t, false)
	f.eth.confirm = ledger.ConfirmationUnknown

	result, err := f.service.Execute(context.Background(), "alice", "ETH", "USDC", 1)
	if err != nil {
		t.Fatalf("编排不应报错: %v", err)
	}
	if result.Success {
		t.Fatalf("未确认的兑换不应标记成功")
	}
	if result.Legs[0].Status != ledger.ConfirmationUnknown {
		t.Fatalf("超时应报告状态未知: %v", result.Legs[0].Status)
	}
	if result.Code != xerrors.CodeTimeout {
		t.Fatalf("错误码不正确: %v", result.Code)
	}
}

func TestExecuteRequiresBothWallets(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.service.Execute(context.Background(), "alice", "ETH", "APT", 1)
	if xerrors.CodeOf(err) != vault.CodeWalletNotLinked {
		t.Fatalf("缺少目标链账户应被拒绝: %v", err)
	}
	if f.eth.submits != 0 || f.apt.submits != 0 {
		t.Fatalf("校验失败前不应有任何链上提交")
	}
}

func TestExecuteValidatesAmountBeforeWalletCheck(t *testing.T) {
	f := newFixture(t, false)

	// 数量非法且目标链未绑定时, 先报数量错误。
	for _, amount := range []float64{-1, 0, math.Inf(1), math.NaN()} {
		_, err := f.service.Execute(context.Background(), "alice", "ETH", "APT", amount)
		if xerrors.CodeOf(err) != quote.CodeInvalidAmount {
			t.Fatalf("数量 %v 应先被拒绝: %v", amount, err)
		}
	}
	if f.eth.submits != 0 || f.apt.submits != 0 {
		t.Fatalf("校验失败前不应有任何链上提交")
	}
}

func TestExecuteRejectsInsufficientBalance(t *testing.T) {
	f := newFixture(t, false)
	f.eth.balances["ETH"] = 0.5

	_, err := f.service.Execute(context.Background(), "alice", "ETH", "USDC", 1)
	if xerrors.CodeOf(err) != CodeInsufficientBalance {
		t.Fatalf("余额不足应被拒绝: %v", err)
	}
	if f.eth.submits != 0 {
		t.Fatalf("余额不足不应有链上提交")
	}
}
