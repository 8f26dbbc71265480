package ledger

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCatalogDefaults(t *testing.T) {
	cat, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("加载内置目录失败: %v", err)
	}
	if !cat.Supported("eth") {
		t.Fatalf("目录应当大小写不敏感地识别 ETH")
	}
	token, ok := cat.Token("APT")
	if !ok {
		t.Fatalf("目录缺少 APT")
	}
	if token.Aptos == nil || token.Aptos.CoinType != "0x1::aptos_coin::AptosCoin" {
		t.Fatalf("APT 的 CoinStore 类型不正确: %+v", token.Aptos)
	}
	bridge, _ := cat.Token(BridgeAsset)
	if bridge.Ethereum == nil || bridge.Aptos == nil {
		t.Fatalf("%s 必须在两条链上都可用", BridgeAsset)
	}
}

func TestLoadCatalogOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	overlay := `
chains:
  ethereum:
    rpc_url: "http://localhost:8545"
    confirm_timeout_seconds: 5
tokens:
  pepe:
    coingecko_id: pepe
    ethereum:
      contract: "0x6982508145454Ce325dDbE47a25d4ec3d2311933"
      decimals: 18
`
	if err := os.WriteFile(path, []byte(overlay), 0o600); err != nil {
		t.Fatalf("写入测试目录失败: %v", err)
	}

	cat, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("加载目录失败: %v", err)
	}
	if cat.Chains[FamilyEthereum].RPCURL != "http://localhost:8545" {
		t.Fatalf("链配置未被覆盖: %+v", cat.Chains[FamilyEthereum])
	}
	token, ok := cat.Token("PEPE")
	if !ok || token.Ethereum == nil {
		t.Fatalf("覆盖文件中的代币未生效: %+v", token)
	}
	if !cat.Supported("APT") {
		t.Fatalf("覆盖不应删除内置代币")
	}
}

func TestCoinGeckoIDs(t *testing.T) {
	cat, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("加载内置目录失败: %v", err)
	}
	ids := cat.CoinGeckoIDs([]string{"BTC", "eth", "NOPE"})
	if len(ids) != 2 || ids[0] != "bitcoin" || ids[1] != "ethereum" {
		t.Fatalf("符号映射结果不正确: %v", ids)
	}
}
