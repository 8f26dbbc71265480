package ethereum

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/ledger"
	"OmniSwap-Agent/pkg/logger"
)

const erc20ABI = `[
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// Adapter 通过 go-ethereum 访问以太坊家族的链。
type Adapter struct {
	catalog        *ledger.Catalog
	rpcClient      *gethrpc.Client
	eth            *ethclient.Client
	erc20          abi.ABI
	chainID        *big.Int
	router         common.Address
	confirmTimeout time.Duration
	confirmPoll    time.Duration
	mu             sync.Mutex
}

// NewAdapter 连接配置的 RPC 节点并返回可用的适配器。
func NewAdapter(ctx context.Context, cfg ledger.ChainConfig, catalog *ledger.Catalog) (*Adapter, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接以太坊节点失败")
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "获取链 ID 失败")
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析 ERC-20 ABI 失败")
	}

	a := &Adapter{
		catalog:        catalog,
		rpcClient:      rpcClient,
		eth:            eth,
		erc20:          parsed,
		chainID:        chainID,
		confirmTimeout: time.Duration(cfg.ConfirmTimeoutSeconds) * time.Second,
		confirmPoll:    time.Duration(cfg.ConfirmPollSeconds) * time.Second,
	}
	if router := strings.TrimSpace(cfg.RouterAddress); router != "" {
		a.router = common.HexToAddress(router)
	}
	if a.confirmTimeout <= 0 {
		a.confirmTimeout = 2 * time.Minute
	}
	if a.confirmPoll <= 0 {
		a.confirmPoll = 3 * time.Second
	}
	return a, nil
}

// Family 实现 ledger.Adapter。
func (a *Adapter) Family() ledger.Family {
	return ledger.FamilyEthereum
}

// GetBalance 查询地址在指定资产上的余额，返回十进制数量。
// 原生币走 BalanceAt，ERC-20 走 balanceOf 合约调用。
func (a *Adapter) GetBalance(ctx context.Context, address, asset string) (float64, error) {
	token, ok := a.catalog.Token(asset)
	if !ok || token.Ethereum == nil {
		return 0, xerrors.New(xerrors.CodeInvalidArgument,
			"以太坊侧不支持资产 "+strings.ToUpper(asset))
	}
	owner := common.HexToAddress(address)

	if token.Ethereum.Contract == "" {
		wei, err := a.eth.BalanceAt(ctx, owner, nil)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "查询以太坊余额失败")
		}
		return baseUnitsToFloat(wei, 18), nil
	}

	input, err := a.erc20.Pack("balanceOf", owner)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeUnknown, err, "编码 balanceOf 调用失败")
	}
	contract := common.HexToAddress(token.Ethereum.Contract)
	raw, err := a.eth.CallContract(ctx, gethcore.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "查询代币余额失败")
	}
	outputs, err := a.erc20.Unpack("balanceOf", raw)
	if err != nil || len(outputs) == 0 {
		return 0, xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "解析代币余额失败")
	}
	amount, ok := outputs[0].(*big.Int)
	if !ok {
		return 0, xerrors.New(xerrors.CodeUpstreamUnavailable, "代币余额返回类型异常")
	}
	decimals := token.Ethereum.Decimals
	if decimals <= 0 {
		decimals = 18
	}
	return baseUnitsToFloat(amount, decimals), nil
}

// SubmitSwap 签名并广播兑换交易，返回交易哈希。
func (a *Adapter) SubmitSwap(ctx context.Context, req ledger.SwapRequest) (string, error) {
	from, ok := a.catalog.Token(req.FromAsset)
	if !ok || from.Ethereum == nil {
		return "", xerrors.New(xerrors.CodeInvalidArgument,
			"以太坊侧不支持资产 "+strings.ToUpper(req.FromAsset))
	}

	key, err := crypto.ToECDSA(req.Account.Secret)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "加载以太坊私钥失败")
	}
	sender := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := a.eth.PendingNonceAt(ctx, sender)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "查询交易计数失败")
	}
	gasPrice, err := a.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "查询 gas 价格失败")
	}

	to := a.router
	if to == (common.Address{}) {
		to = sender
	}
	decimals := 18
	value := big.NewInt(0)
	if from.Ethereum.Contract == "" {
		value = floatToBaseUnits(req.Amount, decimals)
	}

	tx := coretypes.NewTransaction(nonce, to, value, 90000, gasPrice, nil)
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(a.chainID), key)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "签名交易失败")
	}
	if err := a.eth.SendTransaction(ctx, signed); err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "广播交易失败")
	}

	logger.L().Info("已提交以太坊兑换交易",
		"tx", signed.Hash().Hex(),
		"from_asset", strings.ToUpper(req.FromAsset),
		"to_asset", strings.ToUpper(req.ToAsset))
	return signed.Hash().Hex(), nil
}

// WaitForConfirmation 轮询回执直到确认或超时。超时返回 Unknown，交由上层决定如何呈现。
func (a *Adapter) WaitForConfirmation(ctx context.Context, txRef string) (ledger.ConfirmationState, error) {
	hash := common.HexToHash(txRef)
	deadline := time.Now().Add(a.confirmTimeout)
	ticker := time.NewTicker(a.confirmPoll)
	defer ticker.Stop()

	for {
		receipt, err := a.eth.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == coretypes.ReceiptStatusSuccessful {
				return ledger.ConfirmationConfirmed, nil
			}
			return ledger.ConfirmationFailed, nil
		}

		if time.Now().After(deadline) {
			return ledger.ConfirmationUnknown, nil
		}
		select {
		case <-ctx.Done():
			return ledger.ConfirmationUnknown, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待交易确认被取消")
		case <-ticker.C:
		}
	}
}

// Close 释放客户端持有的网络连接。
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eth != nil {
		a.eth.Close()
		a.eth = nil
	}
	if a.rpcClient != nil {
		a.rpcClient.Close()
		a.rpcClient = nil
	}
}

func baseUnitsToFloat(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}

func floatToBaseUnits(amount float64, decimals int) *big.Int {
	f := new(big.Float).SetFloat64(amount)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Mul(f, scale).Int(nil)
	return out
}
