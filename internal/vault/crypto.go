package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/pbkdf2"

	xerrors "OmniSwap-Agent/internal/errors"
)

// 加密信封参数。改动任何一项都要引入新的版本字节。
const (
	envelopeVersion   = 0x01
	saltSize          = 32
	nonceSize         = 12
	keySize           = 32
	pbkdf2Iterations  = 100_000
	minEnvelopeLength = 1 + saltSize + nonceSize + 16
)

// seal 用口令派生密钥并加密私钥字节。
// 信封布局: version || salt || nonce || ciphertext(含认证标签)。
func seal(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "生成盐失败")
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "生成随机数失败")
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	envelope := make([]byte, 0, minEnvelopeLength+len(plaintext))
	envelope = append(envelope, envelopeVersion)
	envelope = append(envelope, salt...)
	envelope = append(envelope, nonce...)
	envelope = gcm.Seal(envelope, nonce, plaintext, nil)
	return envelope, nil
}

// open 解开加密信封。任何篡改或口令错误都导致认证失败,
// 此时必须报错而不是返回任何字节。
func open(passphrase string, envelope []byte) ([]byte, error) {
	if len(envelope) < minEnvelopeLength {
		return nil, xerrors.New(CodeVaultSealBroken, "加密信封长度异常")
	}
	if envelope[0] != envelopeVersion {
		return nil, xerrors.New(CodeVaultSealBroken, "未知的信封版本")
	}
	salt := envelope[1 : 1+saltSize]
	nonce := envelope[1+saltSize : 1+saltSize+nonceSize]
	ciphertext := envelope[1+saltSize+nonceSize:]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, xerrors.Wrap(CodeVaultSealBroken, err, "解密私钥失败")
	}
	return plaintext, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha512.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "初始化加密器失败")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "初始化 GCM 失败")
	}
	return gcm, nil
}
