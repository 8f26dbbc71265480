package assistant

import xerrors "OmniSwap-Agent/internal/errors"

// Action 是传输层归一化后的用户意图类别。
type Action string

const (
	ActionPortfolio  Action = "portfolio"
	ActionPrice      Action = "price"
	ActionTrade      Action = "trade"
	ActionSetAlert   Action = "alert"
	ActionListAlerts Action = "alerts"
	ActionStopAlerts Action = "stop"
	ActionLink       Action = "link"
	ActionUnlink     Action = "unlink"
	ActionHelp       Action = "help"
)

// Intent 是一条归一化的用户请求。自然语言解析发生在传输层,
// 核心只接受结构化字段。Secret 只在绑定账户时出现, 永不记入日志。
type Intent struct {
	Action      Action   `json:"action"`
	Tokens      []string `json:"tokens,omitempty"`
	Amount      float64  `json:"amount,omitempty"`
	FromToken   string   `json:"from_token,omitempty"`
	ToToken     string   `json:"to_token,omitempty"`
	PriceTarget float64  `json:"price_target,omitempty"`
	WalletType  string   `json:"wallet_type,omitempty"`
	Secret      string   `json:"secret,omitempty"`
}

// Result 是返回给传输层的应答。Text 可直接展示,
// Payload 携带结构化数据供富客户端渲染。
type Result struct {
	Kind    string       `json:"kind"`
	Text    string       `json:"text"`
	Payload any          `json:"payload,omitempty"`
	Code    xerrors.Code `json:"code,omitempty"`
}
