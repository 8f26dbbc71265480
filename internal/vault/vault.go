// Package vault 负责用户私钥的托管: 校验、加密落盘、按需解密。
// 明文私钥只在单次链上操作的内存中短暂存在。
package vault

import (
	"context"
	"time"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/ledger"
	"OmniSwap-Agent/internal/userstore"
	"OmniSwap-Agent/pkg/logger"
)

// 本模块专属错误码。
const (
	CodeInvalidKeyFormat xerrors.Code = "INVALID_KEY_FORMAT"
	CodeAlreadyLinked    xerrors.Code = "ACCOUNT_ALREADY_LINKED"
	CodeWalletNotLinked  xerrors.Code = "WALLET_NOT_LINKED"
	CodeVaultSealBroken  xerrors.Code = "VAULT_SEAL_BROKEN"
)

func init() {
	xerrors.Register(CodeInvalidKeyFormat, xerrors.Attributes{
		Message:  "private key format invalid",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeAlreadyLinked, xerrors.Attributes{
		Message:  "account already linked",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeWalletNotLinked, xerrors.Attributes{
		Message:  "wallet not linked",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeVaultSealBroken, xerrors.Attributes{
		Message:  "vault envelope cannot be opened",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// Vault 基于用户存储托管私钥。
type Vault struct {
	store      userstore.Store
	passphrase string
}

// New 构造私钥托管器。口令为空直接拒绝启动。
func New(store userstore.Store, passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置私钥托管口令")
	}
	return &Vault{store: store, passphrase: passphrase}, nil
}

// LinkAccount 校验私钥、推导地址并加密保存。
// 每条链家族至多绑定一个账户, 换账户需要先解绑。
func (v *Vault) LinkAccount(ctx context.Context, userID string, family ledger.Family, rawKey string) (userstore.LinkedAccount, error) {
	if !family.Valid() {
		return userstore.LinkedAccount{}, xerrors.New(xerrors.CodeInvalidArgument,
			"未知链家族 "+string(family))
	}
	secret, err := normalizeSecret(family, rawKey)
	if err != nil {
		return userstore.LinkedAccount{}, err
	}
	address, err := deriveAddress(family, secret)
	if err != nil {
		return userstore.LinkedAccount{}, err
	}
	envelope, err := seal(v.passphrase, secret)
	if err != nil {
		return userstore.LinkedAccount{}, err
	}

	var linked userstore.LinkedAccount
	_, err = v.store.Update(ctx, userID, func(u *userstore.User) error {
		if existing, ok := u.Accounts[family]; ok {
			return xerrors.New(CodeAlreadyLinked,
				family.DisplayName()+" 已绑定 "+abbreviateAddr(existing.Address)+", 请先解绑",
				xerrors.WithMetadata("family", string(family)))
		}
		linked = userstore.LinkedAccount{
			Family:   family,
			Address:  address,
			Envelope: envelope,
			LinkedAt: time.Now().UTC(),
		}
		u.Accounts[family] = linked
		return nil
	})
	if err != nil {
		return userstore.LinkedAccount{}, err
	}

	logger.Audit().Info("账户已绑定",
		"user", userID, "family", string(family), "address", address)
	return linked, nil
}

// UnlinkAccount 解除绑定并删除加密信封。
func (v *Vault) UnlinkAccount(ctx context.Context, userID string, family ledger.Family) error {
	_, err := v.store.Update(ctx, userID, func(u *userstore.User) error {
		if _, ok := u.Accounts[family]; !ok {
			return xerrors.New(CodeWalletNotLinked,
				"尚未绑定 "+family.DisplayName()+" 账户")
		}
		delete(u.Accounts, family)
		return nil
	})
	if err != nil {
		return err
	}
	logger.Audit().Info("账户已解绑", "user", userID, "family", string(family))
	return nil
}

// Account 返回绑定账户的公开信息, 不含密钥材料。
func (v *Vault) Account(ctx context.Context, userID string, family ledger.Family) (userstore.LinkedAccount, error) {
	user, err := v.store.Get(ctx, userID)
	if err != nil {
		if xerrors.CodeOf(err) == userstore.CodeUserNotFound {
			return userstore.LinkedAccount{}, xerrors.New(CodeWalletNotLinked,
				"尚未绑定 "+family.DisplayName()+" 账户")
		}
		return userstore.LinkedAccount{}, err
	}
	account, ok := user.Accounts[family]
	if !ok {
		return userstore.LinkedAccount{}, xerrors.New(CodeWalletNotLinked,
			"尚未绑定 "+family.DisplayName()+" 账户")
	}
	account.Envelope = nil
	return account, nil
}

// Accounts 返回用户全部绑定账户的公开信息。
func (v *Vault) Accounts(ctx context.Context, userID string) (map[ledger.Family]userstore.LinkedAccount, error) {
	user, err := v.store.Get(ctx, userID)
	if err != nil {
		if xerrors.CodeOf(err) == userstore.CodeUserNotFound {
			return map[ledger.Family]userstore.LinkedAccount{}, nil
		}
		return nil, err
	}
	out := make(map[ledger.Family]userstore.LinkedAccount, len(user.Accounts))
	for family, account := range user.Accounts {
		account.Envelope = nil
		out[family] = account
	}
	return out, nil
}

// Signer 解密私钥并返回可签名材料。调用方用完即弃。
func (v *Vault) Signer(ctx context.Context, userID string, family ledger.Family) (ledger.Signer, error) {
	user, err := v.store.Get(ctx, userID)
	if err != nil {
		if xerrors.CodeOf(err) == userstore.CodeUserNotFound {
			return ledger.Signer{}, xerrors.New(CodeWalletNotLinked,
				"尚未绑定 "+family.DisplayName()+" 账户")
		}
		return ledger.Signer{}, err
	}
	account, ok := user.Accounts[family]
	if !ok {
		return ledger.Signer{}, xerrors.New(CodeWalletNotLinked,
			"尚未绑定 "+family.DisplayName()+" 账户")
	}
	secret, err := open(v.passphrase, account.Envelope)
	if err != nil {
		return ledger.Signer{}, err
	}
	return ledger.Signer{Address: account.Address, Secret: secret}, nil
}

func abbreviateAddr(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:8] + "..." + address[len(address)-4:]
}
