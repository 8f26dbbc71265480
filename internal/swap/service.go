// Package swap 负责兑换编排: 前置校验、逐腿执行与结果汇总。
// 跨链兑换经中间资产走两条腿, 任何一条腿失败都不会自动重试,
// 把真实发生的事告诉用户, 由用户决定下一步。
package swap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/ledger"
	"OmniSwap-Agent/internal/ledger/provider"
	"OmniSwap-Agent/internal/market"
	"OmniSwap-Agent/internal/notify"
	"OmniSwap-Agent/internal/quote"
	"OmniSwap-Agent/internal/vault"
	"OmniSwap-Agent/pkg/logger"
)

// Service 编排兑换全流程。
type Service struct {
	registry *provider.Registry
	vault    *vault.Vault
	oracle   *market.Oracle
	notifier notify.Notifier
}

// NewService 构造兑换服务。
func NewService(registry *provider.Registry, v *vault.Vault, oracle *market.Oracle, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Service{registry: registry, vault: v, oracle: oracle, notifier: notifier}
}

// Preview 只做路径规划与报价, 不动链上资产。
func (s *Service) Preview(ctx context.Context, fromAsset, toAsset string, amount float64) (quote.Quote, error) {
	catalog := s.registry.Catalog()
	route, err := quote.PlanRoute(catalog, fromAsset, toAsset)
	if err != nil {
		return quote.Quote{}, err
	}
	if err := quote.ValidateAmount(amount); err != nil {
		return quote.Quote{}, err
	}
	prices, err := s.oracle.GetPrices(ctx, []string{fromAsset, toAsset})
	if err != nil {
		return quote.Quote{}, err
	}
	from, to := normalizedPair(fromAsset, toAsset)
	return quote.Compute(route, from, to, amount, prices[from].PriceUSD, prices[to].PriceUSD)
}

// Execute 执行一次兑换。前置校验全部通过后才会碰链上资产,
// 校验失败返回错误, 链上执行的成败记录在 Result 里。
func (s *Service) Execute(ctx context.Context, userID, fromAsset, toAsset string, amount float64) (Result, error) {
	catalog := s.registry.Catalog()
	route, err := quote.PlanRoute(catalog, fromAsset, toAsset)
	if err != nil {
		return Result{}, err
	}
	if err := quote.ValidateAmount(amount); err != nil {
		return Result{}, err
	}
	from, to := normalizedPair(fromAsset, toAsset)

	// 跨链需要双方链的签名材料, 链内只需要源链。
	srcSigner, err := s.vault.Signer(ctx, userID, route.Source)
	if err != nil {
		return Result{}, err
	}
	var dstSigner ledger.Signer
	if route.Kind == quote.KindCrossChain {
		dstSigner, err = s.vault.Signer(ctx, userID, route.Dest)
		if err != nil {
			return Result{}, err
		}
	}

	symbols := []string{from, to}
	if route.Kind == quote.KindCrossChain {
		symbols = append(symbols, ledger.BridgeAsset)
	}
	prices, err := s.oracle.GetPrices(ctx, symbols)
	if err != nil {
		return Result{}, err
	}

	q, err := quote.Compute(route, from, to, amount, prices[from].PriceUSD, prices[to].PriceUSD)
	if err != nil {
		return Result{}, err
	}

	srcAdapter, ok := s.registry.Adapter(route.Source)
	if !ok {
		return Result{}, xerrors.New(xerrors.CodeInitializationFailure,
			"链 "+route.Source.DisplayName()+" 未接入")
	}
	balance, err := srcAdapter.GetBalance(ctx, srcSigner.Address, from)
	if err != nil {
		return Result{}, err
	}
	if balance < amount {
		return Result{}, xerrors.New(CodeInsufficientBalance,
			fmt.Sprintf("%s 余额不足: 需要 %.8f, 实际 %.8f", from, amount, balance))
	}

	if route.Kind == quote.KindSameChain {
		return s.executeSameChain(ctx, userID, srcAdapter, srcSigner, q)
	}
	dstAdapter, ok := s.registry.Adapter(route.Dest)
	if !ok {
		return Result{}, xerrors.New(xerrors.CodeInitializationFailure,
			"链 "+route.Dest.DisplayName()+" 未接入")
	}
	return s.executeCrossChain(ctx, userID, srcAdapter, dstAdapter, srcSigner, dstSigner, q, prices)
}

func (s *Service) executeSameChain(ctx context.Context, userID string, adapter ledger.Adapter, signer ledger.Signer, q quote.Quote) (Result, error) {
	leg := s.runLeg(ctx, adapter, signer, q.Route.Source, q.FromAsset, q.ToAsset, q.Amount, q.Output)
	result := Result{
		UserID:      userID,
		Quote:       q,
		Legs:        []LegResult{leg},
		Success:     leg.Status == ledger.ConfirmationConfirmed,
		CompletedAt: time.Now().UTC(),
	}
	if !result.Success {
		result.Code, result.Message = legFailure(leg)
	}
	s.report(ctx, userID, result)
	return result, nil
}

// executeCrossChain 先在源链把资产换成中间资产, 搬运后在目标链换出。
// 第二条腿消费的是第一条腿的报价产出, 而不是用户的原始输入。
func (s *Service) executeCrossChain(ctx context.Context, userID string, srcAdapter, dstAdapter ledger.Adapter, srcSigner, dstSigner ledger.Signer, q quote.Quote, prices map[string]market.Snapshot) (Result, error) {
	bridgePrice := prices[ledger.BridgeAsset].PriceUSD
	if bridgePrice <= 0 {
		return Result{}, xerrors.New(xerrors.CodeUpstreamUnavailable, "中间资产行情无效")
	}

	// 总费率在第一条腿一次性扣除, 第二条腿按市价全额换出。
	bridgeAmount := q.Amount * (q.PriceFromUSD / bridgePrice) * (1 - q.FeeRate)

	leg1 := s.runLeg(ctx, srcAdapter, srcSigner, q.Route.Source, q.FromAsset, ledger.BridgeAsset, q.Amount, bridgeAmount)
	result := Result{
		UserID:      userID,
		Quote:       q,
		Legs:        []LegResult{leg1},
		CompletedAt: time.Now().UTC(),
	}

	if leg1.Status != ledger.ConfirmationConfirmed {
		result.Code, result.Message = legFailure(leg1)
		s.report(ctx, userID, result)
		return result, nil
	}

	bridge := &BridgeStep{
		Asset:  ledger.BridgeAsset,
		Amount: bridgeAmount,
		From:   q.Route.Source,
		To:     q.Route.Dest,
		Status: "pending",
	}
	result.Bridge = bridge

	// 搬运结果以目标链上的中间资产余额核实, 核实不过不放行第二条腿。
	// 此时资金唯一已核实的位置是源链, 提示也只说到源链为止。
	dstBalance, err := dstAdapter.GetBalance(ctx, dstSigner.Address, ledger.BridgeAsset)
	if err != nil || dstBalance < bridgeAmount {
		bridge.Status = "failed"
		if err != nil {
			bridge.Error = err.Error()
		}
		result.Code = xerrors.CodePartialFailure
		result.Message = fmt.Sprintf(
			"第一条腿已成交, 但 %s 未核实到达 %s 链, 第二条腿未执行; %.6f %s 停留在 %s 链",
			ledger.BridgeAsset, q.Route.Dest.DisplayName(),
			bridgeAmount, ledger.BridgeAsset, q.Route.Source.DisplayName())
		s.report(ctx, userID, result)
		return result, nil
	}
	bridge.Status = "completed"

	legOut := bridgeAmount * (bridgePrice / q.PriceToUSD)
	leg2 := s.runLeg(ctx, dstAdapter, dstSigner, q.Route.Dest, ledger.BridgeAsset, q.ToAsset, bridgeAmount, legOut)
	result.Legs = append(result.Legs, leg2)
	result.CompletedAt = time.Now().UTC()

	if leg2.Status == ledger.ConfirmationConfirmed {
		result.Success = true
	} else {
		// 第一条腿已经成交, 资金停在中间资产上。
		result.Code = xerrors.CodePartialFailure
		_, msg := legFailure(leg2)
		result.Message = fmt.Sprintf("第一条腿已成交, 第二条腿失败: %s; %.6f %s 停留在 %s 链",
			msg, bridgeAmount, ledger.BridgeAsset, q.Route.Dest.DisplayName())
	}
	s.report(ctx, userID, result)
	return result, nil
}

// runLeg 提交单条腿并等待确认。提交失败与确认失败都折叠进 LegResult。
func (s *Service) runLeg(ctx context.Context, adapter ledger.Adapter, signer ledger.Signer, family ledger.Family, fromAsset, toAsset string, amountIn, amountOut float64) LegResult {
	leg := LegResult{
		Ref:       uuid.NewString(),
		Family:    family,
		FromAsset: fromAsset,
		ToAsset:   toAsset,
		AmountIn:  amountIn,
		AmountOut: amountOut,
	}

	hash, err := adapter.SubmitSwap(ctx, ledger.SwapRequest{
		Account:   signer,
		FromAsset: fromAsset,
		ToAsset:   toAsset,
		Amount:    amountIn,
	})
	if err != nil {
		leg.Status = ledger.ConfirmationFailed
		leg.Error = err.Error()
		logger.Audit().Error("兑换腿提交失败",
			"ref", leg.Ref, "family", string(family), "error", err)
		return leg
	}
	leg.TxHash = hash

	state, err := adapter.WaitForConfirmation(ctx, hash)
	leg.Status = state
	if err != nil {
		leg.Error = err.Error()
	}
	logger.Audit().Info("兑换腿完成",
		"ref", leg.Ref, "family", string(family),
		"tx", hash, "status", string(state))
	return leg
}

func (s *Service) report(ctx context.Context, userID string, result Result) {
	kind := notify.KindSwapCompleted
	title := "兑换完成"
	body := fmt.Sprintf("%s -> %s 兑换成功, 预计到账 %.6f %s",
		result.Quote.FromAsset, result.Quote.ToAsset, result.Quote.Output, result.Quote.ToAsset)
	if !result.Success {
		kind = notify.KindSwapPartial
		title = "兑换未完成"
		body = result.Message
	}
	if err := s.notifier.Notify(ctx, notify.Notification{
		UserID: userID,
		Kind:   kind,
		Title:  title,
		Body:   body,
		At:     time.Now().UTC(),
	}); err != nil {
		logger.L().Warn("兑换通知投递失败", "user", userID, "error", err)
	}
}

func legFailure(leg LegResult) (xerrors.Code, string) {
	switch leg.Status {
	case ledger.ConfirmationUnknown:
		return xerrors.CodeTimeout,
			fmt.Sprintf("交易 %s 在超时前未确认, 状态未知, 请稍后在链上核对", leg.TxHash)
	default:
		msg := leg.Error
		if msg == "" {
			msg = "交易 " + leg.TxHash + " 在链上执行失败"
		}
		return CodeLegFailed, msg
	}
}

func normalizedPair(fromAsset, toAsset string) (string, string) {
	return strings.ToUpper(strings.TrimSpace(fromAsset)), strings.ToUpper(strings.TrimSpace(toAsset))
}
