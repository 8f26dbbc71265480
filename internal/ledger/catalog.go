package ledger

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "OmniSwap-Agent/internal/errors"
)

// ChainConfig 描述单条链的接入参数。
type ChainConfig struct {
	RPCURL                string `yaml:"rpc_url"`
	TimeoutSeconds        int    `yaml:"timeout_seconds"`
	ConfirmTimeoutSeconds int    `yaml:"confirm_timeout_seconds"`
	ConfirmPollSeconds    int    `yaml:"confirm_poll_seconds"`
	RouterAddress         string `yaml:"router_address"`
}

// EthereumToken 是代币在以太坊侧的身份。Contract 为空表示原生币。
type EthereumToken struct {
	Contract string `yaml:"contract"`
	Decimals int    `yaml:"decimals"`
}

// AptosToken 是代币在 Aptos 侧的身份。
type AptosToken struct {
	CoinType string `yaml:"coin_type"`
	Decimals int    `yaml:"decimals"`
}

// Token 汇总一个符号的全部已知身份。没有任何链身份的条目只用于行情与告警。
type Token struct {
	Symbol      string         `yaml:"-"`
	CoinGeckoID string         `yaml:"coingecko_id"`
	Ethereum    *EthereumToken `yaml:"ethereum,omitempty"`
	Aptos       *AptosToken    `yaml:"aptos,omitempty"`
}

// OnFamily 报告代币在给定链上是否有可交易身份。
func (t Token) OnFamily(f Family) bool {
	switch f {
	case FamilyEthereum:
		return t.Ethereum != nil
	case FamilyAptos:
		return t.Aptos != nil
	default:
		return false
	}
}

// Families 返回代币的全部可交易链，顺序固定。
func (t Token) Families() []Family {
	var out []Family
	if t.Ethereum != nil {
		out = append(out, FamilyEthereum)
	}
	if t.Aptos != nil {
		out = append(out, FamilyAptos)
	}
	return out
}

// Catalog 是链与代币的静态目录，启动时装载，此后只读。
type Catalog struct {
	Chains map[Family]ChainConfig `yaml:"chains"`
	Tokens map[string]Token       `yaml:"tokens"`
}

// BridgeAsset 是跨链兑换的中间资产，两条链都必须认识它。
const BridgeAsset = "USDC"

// DefaultCatalog 返回内置目录。外部 YAML 只在需要改接入点或补充代币时提供。
func DefaultCatalog() *Catalog {
	return &Catalog{
		Chains: map[Family]ChainConfig{
			FamilyEthereum: {
				RPCURL:                "https://eth-mainnet.g.alchemy.com/v2/demo",
				TimeoutSeconds:        15,
				ConfirmTimeoutSeconds: 120,
				ConfirmPollSeconds:    3,
			},
			FamilyAptos: {
				RPCURL:                "https://fullnode.mainnet.aptoslabs.com/v1",
				TimeoutSeconds:        15,
				ConfirmTimeoutSeconds: 60,
				ConfirmPollSeconds:    2,
			},
		},
		Tokens: map[string]Token{
			"ETH": {CoinGeckoID: "ethereum", Ethereum: &EthereumToken{Decimals: 18}},
			"APT": {CoinGeckoID: "aptos", Aptos: &AptosToken{CoinType: "0x1::aptos_coin::AptosCoin", Decimals: 8}},
			"USDC": {
				CoinGeckoID: "usd-coin",
				Ethereum:    &EthereumToken{Contract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
				Aptos:       &AptosToken{CoinType: "0xf22bede237a07e121b56d91a491eb7bcdfd1f5907926a9e58338f964a01b17fa::asset::USDC", Decimals: 6},
			},
			"USDT": {
				CoinGeckoID: "tether",
				Ethereum:    &EthereumToken{Contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
			},
			"BTC":   {CoinGeckoID: "bitcoin"},
			"BNB":   {CoinGeckoID: "binancecoin"},
			"SOL":   {CoinGeckoID: "solana"},
			"ADA":   {CoinGeckoID: "cardano"},
			"DOT":   {CoinGeckoID: "polkadot"},
			"MATIC": {CoinGeckoID: "matic-network"},
			"AVAX":  {CoinGeckoID: "avalanche-2"},
			"LINK":  {CoinGeckoID: "chainlink", Ethereum: &EthereumToken{Contract: "0x514910771AF9Ca656af840dff83E8264EcF986CA", Decimals: 18}},
			"UNI":   {CoinGeckoID: "uniswap", Ethereum: &EthereumToken{Contract: "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984", Decimals: 18}},
			"ATOM":  {CoinGeckoID: "cosmos"},
			"FTM":   {CoinGeckoID: "fantom"},
		},
	}
}

// LoadCatalog 装载目录。path 为空时使用内置目录；
// YAML 文件中的条目按符号整体覆盖内置条目。
func LoadCatalog(path string) (*Catalog, error) {
	cat := DefaultCatalog()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取链目录失败")
		}
		var overlay Catalog
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析链目录失败")
		}
		for family, chain := range overlay.Chains {
			cat.Chains[family] = chain
		}
		for symbol, token := range overlay.Tokens {
			cat.Tokens[strings.ToUpper(symbol)] = token
		}
	}
	for symbol, token := range cat.Tokens {
		token.Symbol = symbol
		cat.Tokens[symbol] = token
	}
	if err := cat.validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

func (c *Catalog) validate() error {
	for family := range c.Chains {
		if !family.Valid() {
			return xerrors.New(xerrors.CodeInitializationFailure,
				fmt.Sprintf("链目录包含未知链家族 %q", family))
		}
	}
	bridge, ok := c.Tokens[BridgeAsset]
	if !ok || bridge.Ethereum == nil || bridge.Aptos == nil {
		return xerrors.New(xerrors.CodeInitializationFailure,
			"链目录缺少双链可用的 "+BridgeAsset+" 中间资产")
	}
	for symbol, token := range c.Tokens {
		if token.CoinGeckoID == "" {
			return xerrors.New(xerrors.CodeInitializationFailure,
				fmt.Sprintf("代币 %s 缺少行情标识", symbol))
		}
	}
	return nil
}

// Token 按符号查询代币，大小写不敏感。
func (c *Catalog) Token(symbol string) (Token, bool) {
	t, ok := c.Tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	return t, ok
}

// Supported 报告符号是否在目录中。
func (c *Catalog) Supported(symbol string) bool {
	_, ok := c.Token(symbol)
	return ok
}

// Symbols 返回目录内全部符号，按字典序。
func (c *Catalog) Symbols() []string {
	out := make([]string, 0, len(c.Tokens))
	for s := range c.Tokens {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// CoinGeckoIDs 把符号列表映射为行情标识，未知符号被跳过。
func (c *Catalog) CoinGeckoIDs(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if t, ok := c.Token(s); ok {
			out = append(out, t.CoinGeckoID)
		}
	}
	return out
}
