package aptos

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/ledger"
	"OmniSwap-Agent/pkg/logger"
)

// Adapter 通过全节点 REST API 访问 Aptos 链。
// 签名流程依赖节点的 encode_submission 接口：先取签名消息，
// 本地 Ed25519 签名后再提交，不在本地做 BCS 编码。
type Adapter struct {
	catalog        *ledger.Catalog
	baseURL        string
	httpClient     *http.Client
	confirmTimeout time.Duration
	confirmPoll    time.Duration
}

// NewAdapter 构造 Aptos 适配器。
func NewAdapter(cfg ledger.ChainConfig, catalog *ledger.Catalog) (*Adapter, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.RPCURL), "/")
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置 Aptos 节点地址")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	confirmTimeout := time.Duration(cfg.ConfirmTimeoutSeconds) * time.Second
	if confirmTimeout <= 0 {
		confirmTimeout = time.Minute
	}
	confirmPoll := time.Duration(cfg.ConfirmPollSeconds) * time.Second
	if confirmPoll <= 0 {
		confirmPoll = 2 * time.Second
	}
	return &Adapter{
		catalog:        catalog,
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: timeout},
		confirmTimeout: confirmTimeout,
		confirmPoll:    confirmPoll,
	}, nil
}

// Family 实现 ledger.Adapter。
func (a *Adapter) Family() ledger.Family {
	return ledger.FamilyAptos
}

// GetBalance 读取账户的 CoinStore 资源并换算为十进制数量。
// 账户从未注册该 CoinStore 时视为余额为零。
func (a *Adapter) GetBalance(ctx context.Context, address, asset string) (float64, error) {
	token, ok := a.catalog.Token(asset)
	if !ok || token.Aptos == nil {
		return 0, xerrors.New(xerrors.CodeInvalidArgument,
			"Aptos 侧不支持资产 "+strings.ToUpper(asset))
	}

	resource := fmt.Sprintf("0x1::coin::CoinStore<%s>", token.Aptos.CoinType)
	endpoint := fmt.Sprintf("%s/accounts/%s/resource/%s",
		a.baseURL, url.PathEscape(address), url.PathEscape(resource))

	var payload struct {
		Data struct {
			Coin struct {
				Value string `json:"value"`
			} `json:"coin"`
		} `json:"data"`
	}
	status, err := a.getJSON(ctx, endpoint, &payload)
	if err != nil {
		return 0, err
	}
	if status == http.StatusNotFound {
		return 0, nil
	}
	raw, err := strconv.ParseUint(payload.Data.Coin.Value, 10, 64)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "解析 Aptos 余额失败")
	}
	decimals := token.Aptos.Decimals
	if decimals <= 0 {
		decimals = 8
	}
	scale := 1.0
	for i := 0; i < decimals; i++ {
		scale *= 10
	}
	return float64(raw) / scale, nil
}

// toBaseUnits 把十进制数量换算成链上最小单位。
// 四舍五入到整数, 超出 uint64 可表示范围直接拒绝。
func toBaseUnits(amount float64, decimals int) (string, error) {
	if decimals <= 0 {
		decimals = 8
	}
	scale := 1.0
	for i := 0; i < decimals; i++ {
		scale *= 10
	}
	base := math.Round(amount * scale)
	if math.IsNaN(base) || base < 0 || base >= math.MaxUint64 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "兑换数量超出链上可表示范围")
	}
	return strconv.FormatUint(uint64(base), 10), nil
}

// SubmitSwap 构造入口函数调用，经节点取得签名消息、本地签名后提交。
func (a *Adapter) SubmitSwap(ctx context.Context, req ledger.SwapRequest) (string, error) {
	from, ok := a.catalog.Token(req.FromAsset)
	if !ok || from.Aptos == nil {
		return "", xerrors.New(xerrors.CodeInvalidArgument,
			"Aptos 侧不支持资产 "+strings.ToUpper(req.FromAsset))
	}
	if len(req.Account.Secret) != ed25519.SeedSize {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "Aptos 私钥长度异常")
	}
	key := ed25519.NewKeyFromSeed(req.Account.Secret)
	pub := key.Public().(ed25519.PublicKey)

	sequence, err := a.sequenceNumber(ctx, req.Account.Address)
	if err != nil {
		return "", err
	}

	amount, err := toBaseUnits(req.Amount, from.Aptos.Decimals)
	if err != nil {
		return "", err
	}

	tx := map[string]any{
		"sender":                    req.Account.Address,
		"sequence_number":           strconv.FormatUint(sequence, 10),
		"max_gas_amount":            "20000",
		"gas_unit_price":            "100",
		"expiration_timestamp_secs": strconv.FormatInt(time.Now().Add(2*time.Minute).Unix(), 10),
		"payload": map[string]any{
			"type":           "entry_function_payload",
			"function":       "0x1::coin::transfer",
			"type_arguments": []string{from.Aptos.CoinType},
			"arguments":      []string{req.Account.Address, amount},
		},
	}

	// 节点返回待签名消息的十六进制表示。
	var signingMessage string
	if err := a.postJSON(ctx, a.baseURL+"/transactions/encode_submission", tx, &signingMessage); err != nil {
		return "", err
	}
	messageBytes, err := hex.DecodeString(strings.TrimPrefix(signingMessage, "0x"))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "解析签名消息失败")
	}
	signature := ed25519.Sign(key, messageBytes)

	tx["signature"] = map[string]any{
		"type":       "ed25519_signature",
		"public_key": "0x" + hex.EncodeToString(pub),
		"signature":  "0x" + hex.EncodeToString(signature),
	}

	var submitted struct {
		Hash string `json:"hash"`
	}
	if err := a.postJSON(ctx, a.baseURL+"/transactions", tx, &submitted); err != nil {
		return "", err
	}

	logger.L().Info("已提交 Aptos 兑换交易",
		"tx", submitted.Hash,
		"from_asset", strings.ToUpper(req.FromAsset),
		"to_asset", strings.ToUpper(req.ToAsset))
	return submitted.Hash, nil
}

// WaitForConfirmation 按哈希轮询交易，直到上链或超时。
func (a *Adapter) WaitForConfirmation(ctx context.Context, txRef string) (ledger.ConfirmationState, error) {
	endpoint := a.baseURL + "/transactions/by_hash/" + url.PathEscape(txRef)
	deadline := time.Now().Add(a.confirmTimeout)
	ticker := time.NewTicker(a.confirmPoll)
	defer ticker.Stop()

	for {
		var payload struct {
			Type    string `json:"type"`
			Success *bool  `json:"success"`
		}
		status, err := a.getJSON(ctx, endpoint, &payload)
		if err == nil && status == http.StatusOK && payload.Type != "pending_transaction" && payload.Success != nil {
			if *payload.Success {
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

// Close 实现 ledger.Adapter。HTTP 客户端没有需要释放的长连接。
func (a *Adapter) Close() {}

func (a *Adapter) sequenceNumber(ctx context.Context, address string) (uint64, error) {
	var payload struct {
		SequenceNumber string `json:"sequence_number"`
	}
	status, err := a.getJSON(ctx, a.baseURL+"/accounts/"+url.PathEscape(address), &payload)
	if err != nil {
		return 0, err
	}
	if status == http.StatusNotFound {
		return 0, xerrors.New(xerrors.CodeNotFound, "Aptos 账户不存在")
	}
	sequence, err := strconv.ParseUint(payload.SequenceNumber, 10, 64)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "解析账户序号失败")
	}
	return sequence, nil
}

// getJSON 发起 GET 请求。404 被视为业务层面的空结果，返回状态码由调用方解释。
func (a *Adapter) getJSON(ctx context.Context, endpoint string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeUnknown, err, "构造 Aptos 请求失败")
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "请求 Aptos 节点失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, xerrors.New(xerrors.CodeUpstreamUnavailable,
			fmt.Sprintf("Aptos 节点返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "解析 Aptos 响应失败")
	}
	return resp.StatusCode, nil
}

func (a *Adapter) postJSON(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "编码 Aptos 请求失败")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "构造 Aptos 请求失败")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "请求 Aptos 节点失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return xerrors.New(xerrors.CodeUpstreamUnavailable,
			fmt.Sprintf("Aptos 节点返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "解析 Aptos 响应失败")
		}
	}
	return nil
}
