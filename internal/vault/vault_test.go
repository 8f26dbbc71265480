package vault

import (
	"bytes"
	"context"
	"strings"
	"testing"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/ledger"
	"OmniSwap-Agent/internal/userstore"
)

const (
	testPassphrase = "correct horse battery staple"
	// 公开的测试向量私钥, 不对应任何真实资产。
	testEthKey  = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAptsKey = "ed25519-priv-0x1111111111111111111111111111111111111111111111111111111111111111"
)

func newTestVault(t *testing.T) (*Vault, userstore.Store) {
	t.Helper()
	store, err := userstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("打开文件存储失败: %v", err)
	}
	v, err := New(store, testPassphrase)
	if err != nil {
		t.Fatalf("构造托管器失败: %v", err)
	}
	return v, store
}

func TestLinkEthereumAccount(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	linked, err := v.LinkAccount(ctx, "alice", ledger.FamilyEthereum, testEthKey)
	if err != nil {
		t.Fatalf("绑定失败: %v", err)
	}
	if !strings.HasPrefix(linked.Address, "0x") || len(linked.Address) != 42 {
		t.Fatalf("以太坊地址格式不正确: %s", linked.Address)
	}

	signer, err := v.Signer(ctx, "alice", ledger.FamilyEthereum)
	if err != nil {
		t.Fatalf("解密私钥失败: %v", err)
	}
	if signer.Address != linked.Address {
		t.Fatalf("签名材料地址不一致: %s != %s", signer.Address, linked.Address)
	}
	if len(signer.Secret) != 32 {
		t.Fatalf("私钥字节长度不正确: %d", len(signer.Secret))
	}
}

func TestLinkRejectsShortEthereumKey(t *testing.T) {
	v, _ := newTestVault(t)

	// 63 位十六进制必须被拒绝, 不允许补齐或截断。
	short := strings.Repeat("a", 63)
	_, err := v.LinkAccount(context.Background(), "alice", ledger.FamilyEthereum, short)
	if xerrors.CodeOf(err) != CodeInvalidKeyFormat {
		t.Fatalf("应返回私钥格式错误: %v", err)
	}
}

func TestLinkRejectsNonHexAptosKey(t *testing.T) {
	v, _ := newTestVault(t)

	_, err := v.LinkAccount(context.Background(), "alice", ledger.FamilyAptos, "ed25519-priv-0xZZZZ")
	if xerrors.CodeOf(err) != CodeInvalidKeyFormat {
		t.Fatalf("非十六进制私钥必须被拒绝: %v", err)
	}
}

func TestLinkAptosKeyNormalization(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	// 同一个密钥的三种写法必须得到同一个地址。
	bare := "1111111111111111111111111111111111111111111111111111111111111111"
	variants := []string{testAptsKey, "0x" + bare, bare}
	var first string
	for i, raw := range variants {
		user := string(rune('a' + i))
		linked, err := v.LinkAccount(ctx, user, ledger.FamilyAptos, raw)
		if err != nil {
			t.Fatalf("绑定 %q 失败: %v", raw, err)
		}
		if first == "" {
			first = linked.Address
		} else if linked.Address != first {
			t.Fatalf("规范化后地址应一致: %s != %s", linked.Address, first)
		}
	}
	if !strings.HasPrefix(first, "0x") || len(first) != 66 {
		t.Fatalf("Aptos 地址格式不正确: %s", first)
	}
}

func TestLinkRejectsSecondAccountOnSameFamily(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	if _, err := v.LinkAccount(ctx, "alice", ledger.FamilyEthereum, testEthKey); err != nil {
		t.Fatalf("绑定失败: %v", err)
	}
	_, err := v.LinkAccount(ctx, "alice", ledger.FamilyEthereum, testEthKey)
	if xerrors.CodeOf(err) != CodeAlreadyLinked {
		t.Fatalf("重复绑定应被拒绝: %v", err)
	}

	// 先解绑即可换绑。
	if err := v.UnlinkAccount(ctx, "alice", ledger.FamilyEthereum); err != nil {
		t.Fatalf("解绑失败: %v", err)
	}
	if _, err := v.LinkAccount(ctx, "alice", ledger.FamilyEthereum, testEthKey); err != nil {
		t.Fatalf("解绑后重新绑定失败: %v", err)
	}
}

func TestEnvelopeFailsClosed(t *testing.T) {
	v, store := newTestVault(t)
	ctx := context.Background()

	if _, err := v.LinkAccount(ctx, "alice", ledger.FamilyEthereum, testEthKey); err != nil {
		t.Fatalf("绑定失败: %v", err)
	}

	// 篡改信封中的一个字节, 解密必须失败而不是吐出错误字节。
	if _, err := store.Update(ctx, "alice", func(u *userstore.User) error {
		account := u.Accounts[ledger.FamilyEthereum]
		account.Envelope[len(account.Envelope)-1] ^= 0xFF
		u.Accounts[ledger.FamilyEthereum] = account
		return nil
	}); err != nil {
		t.Fatalf("篡改信封失败: %v", err)
	}

	_, err := v.Signer(ctx, "alice", ledger.FamilyEthereum)
	if xerrors.CodeOf(err) != CodeVaultSealBroken {
		t.Fatalf("篡改后的信封必须解密失败: %v", err)
	}
}

func TestSealRoundTrip(t *testing.T) {
	plaintext := []byte("thirty-two byte secret material!")
	envelope, err := seal(testPassphrase, plaintext)
	if err != nil {
		t.Fatalf("加密失败: %v", err)
	}
	out, err := open(testPassphrase, envelope)
	if err != nil {
		t.Fatalf("解密失败: %v", err)
	}
	if !bytes.Equal(out, plaintext) {
		t.Fatalf("解密结果不一致")
	}

	if _, err := open("wrong passphrase", envelope); err == nil {
		t.Fatalf("错误口令必须解密失败")
	}
}

func TestUnlinkAccount(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	if _, err := v.LinkAccount(ctx, "alice", ledger.FamilyEthereum, testEthKey); err != nil {
		t.Fatalf("绑定失败: %v", err)
	}
	if err := v.UnlinkAccount(ctx, "alice", ledger.FamilyEthereum); err != nil {
		t.Fatalf("解绑失败: %v", err)
	}
	_, err := v.Account(ctx, "alice", ledger.FamilyEthereum)
	if xerrors.CodeOf(err) != CodeWalletNotLinked {
		t.Fatalf("解绑后查询应返回未绑定: %v", err)
	}
	if err := v.UnlinkAccount(ctx, "alice", ledger.FamilyEthereum); xerrors.CodeOf(err) != CodeWalletNotLinked {
		t.Fatalf("重复解绑应返回未绑定: %v", err)
	}
}
