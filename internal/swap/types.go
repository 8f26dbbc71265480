package swap

import (
	"time"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/ledger"
	"OmniSwap-Agent/internal/quote"
)

// 本模块专属错误码。
const (
	CodeInsufficientBalance xerrors.Code = "INSUFFICIENT_BALANCE"
	CodeLegFailed           xerrors.Code = "LEG_FAILED"
)

func init() {
	xerrors.Register(CodeInsufficientBalance, xerrors.Attributes{
		Message:  "insufficient balance",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeLegFailed, xerrors.Attributes{
		Message:  "swap leg failed on chain",
		Severity: xerrors.SeverityWarning,
	})
}

// LegResult 是单条腿的执行结果。
type LegResult struct {
	Ref       string                   `json:"ref"`
	Family    ledger.Family            `json:"family"`
	FromAsset string                   `json:"from_asset"`
	ToAsset   string                   `json:"to_asset"`
	AmountIn  float64                  `json:"amount_in"`
	AmountOut float64                  `json:"amount_out"`
	TxHash    string                   `json:"tx_hash,omitempty"`
	Status    ledger.ConfirmationState `json:"status"`
	Error     string                   `json:"error,omitempty"`
}

// BridgeStep 是跨链兑换中显式的中间资产搬运步骤。
// Status 由目标链核实得出, 不假设搬运即时完成。
type BridgeStep struct {
	Asset  string        `json:"asset"`
	Amount float64       `json:"amount"`
	From   ledger.Family `json:"from"`
	To     ledger.Family `json:"to"`
	Status string        `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// Result 是一次兑换的完整结果。Success 为 false 时 Code 指明失败类别,
// 部分成功的跨链兑换保留两条腿的结果供用户核对。
type Result struct {
	UserID      string       `json:"user_id"`
	Quote       quote.Quote  `json:"quote"`
	Legs        []LegResult  `json:"legs"`
	Bridge      *BridgeStep  `json:"bridge,omitempty"`
	Success     bool         `json:"success"`
	Code        xerrors.Code `json:"code,omitempty"`
	Message     string       `json:"message,omitempty"`
	CompletedAt time.Time    `json:"completed_at"`
}
