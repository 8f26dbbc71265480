package vault

import (
	"crypto/ed25519"
	"encoding/hex"
	"regexp"
	"strings"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/ledger"
)

var ethKeyPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

// normalizeSecret 校验并规范化用户提交的私钥，返回原始密钥字节。
// 校验失败一律拒绝，绝不替换成别的密钥材料。
func normalizeSecret(family ledger.Family, raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	switch family {
	case ledger.FamilyEthereum:
		if !ethKeyPattern.MatchString(raw) {
			return nil, xerrors.New(CodeInvalidKeyFormat,
				"以太坊私钥必须是 64 位十六进制, 可带 0x 前缀")
		}
		return hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	case ledger.FamilyAptos:
		trimmed := strings.TrimPrefix(raw, "ed25519-priv-")
		trimmed = strings.TrimPrefix(trimmed, "0x")
		if trimmed == "" || len(trimmed) > 64 {
			return nil, xerrors.New(CodeInvalidKeyFormat,
				"Aptos 私钥长度必须不超过 64 位十六进制")
		}
		if _, err := hex.DecodeString(trimmed); err != nil {
			return nil, xerrors.New(CodeInvalidKeyFormat,
				"Aptos 私钥包含非十六进制字符")
		}
		// 短密钥左侧补零, 与链上工具的数值化表示保持一致。
		padded := strings.Repeat("0", 64-len(trimmed)) + trimmed
		return hex.DecodeString(padded)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知链家族 "+string(family))
	}
}

// deriveAddress 从私钥字节推导链上地址。
func deriveAddress(family ledger.Family, secret []byte) (string, error) {
	switch family {
	case ledger.FamilyEthereum:
		key, err := gethcrypto.ToECDSA(secret)
		if err != nil {
			return "", xerrors.Wrap(CodeInvalidKeyFormat, err, "私钥不在椭圆曲线有效范围内")
		}
		return gethcrypto.PubkeyToAddress(key.PublicKey).Hex(), nil
	case ledger.FamilyAptos:
		if len(secret) != ed25519.SeedSize {
			return "", xerrors.New(CodeInvalidKeyFormat, "Aptos 私钥长度异常")
		}
		key := ed25519.NewKeyFromSeed(secret)
		pub := key.Public().(ed25519.PublicKey)
		// 单签账户的认证密钥: SHA3-256(公钥 || 方案字节 0x00)。
		hasher := sha3.New256()
		hasher.Write(pub)
		hasher.Write([]byte{0x00})
		return "0x" + hex.EncodeToString(hasher.Sum(nil)), nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, "未知链家族 "+string(family))
	}
}
