package ledger

import (
	"context"
)

// Family 表示一类共享地址与交易模型的链。系统目前只认识两种。
type Family string

const (
	FamilyEthereum Family = "ethereum"
	FamilyAptos    Family = "aptos"
)

// Valid 检查链家族是否为受支持的枚举值。
func (f Family) Valid() bool {
	return f == FamilyEthereum || f == FamilyAptos
}

// DisplayName 返回用于用户提示的链名称。
func (f Family) DisplayName() string {
	switch f {
	case FamilyEthereum:
		return "Ethereum"
	case FamilyAptos:
		return "Aptos"
	default:
		return string(f)
	}
}

// ConfirmationState 描述一笔已提交交易的最终状态。
// 超时未确认的交易必须报告为 Unknown，而不是武断地视为失败。
type ConfirmationState string

const (
	ConfirmationConfirmed ConfirmationState = "confirmed"
	ConfirmationFailed    ConfirmationState = "failed"
	ConfirmationUnknown   ConfirmationState = "unknown"
)

// Signer 携带一次链上操作所需的地址与解密后的私钥字节。
// 私钥只在单次调用内存活，调用方负责在使用后丢弃。
type Signer struct {
	Address string
	Secret  []byte
}

// SwapRequest 描述一次链内代币兑换。
type SwapRequest struct {
	Account   Signer
	FromAsset string
	ToAsset   string
	Amount    float64
}

// Adapter 是单条链的能力接口：查询余额、提交兑换、等待确认。
// 上层通过 Registry 按链家族选择实现，绝不基于凭据内容做运行时判断。
type Adapter interface {
	Family() Family
	GetBalance(ctx context.Context, address, asset string) (float64, error)
	SubmitSwap(ctx context.Context, req SwapRequest) (string, error)
	WaitForConfirmation(ctx context.Context, txRef string) (ConfirmationState, error)
	Close()
}
