// Package auth 为运维接口提供静态令牌认证。
// 用户侧 webhook 的认证发生在传输层, 这里只保护操作员入口。
package auth

import (
	"crypto/subtle"
	"strings"

	xerrors "OmniSwap-Agent/internal/errors"
)

// Mode 是认证模式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeStatic   Mode = "static"
)

// 本模块专属错误码。
const (
	CodeMissingToken xerrors.Code = "AUTH_MISSING_TOKEN"
	CodeInvalidToken xerrors.Code = "AUTH_INVALID_TOKEN"
)

func init() {
	xerrors.Register(CodeMissingToken, xerrors.Attributes{
		Message:  "authorization token required",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidToken, xerrors.Attributes{
		Message:  "authorization token invalid",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// Token 是一个静态操作员令牌。
type Token struct {
	Name  string
	Value string
}

// Service 校验 Authorization 头携带的令牌。
type Service struct {
	mode   Mode
	tokens []Token
}

// NewService 构造认证服务。mode 为空等价于 disabled。
func NewService(mode Mode, tokens []Token) (*Service, error) {
	if mode == "" {
		mode = ModeDisabled
	}
	if mode == ModeStatic && len(tokens) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			"static 认证模式至少需要一个令牌")
	}
	return &Service{mode: mode, tokens: tokens}, nil
}

// Enabled 报告是否启用了认证。
func (s *Service) Enabled() bool {
	return s != nil && s.mode != ModeDisabled
}

// Authenticate 校验 Authorization 头, 返回令牌名称。
func (s *Service) Authenticate(header string) (string, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "Bearer"))
	if raw == "" {
		return "", xerrors.New(CodeMissingToken, "")
	}
	for _, t := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(raw), []byte(t.Value)) == 1 {
			return t.Name, nil
		}
	}
	return "", xerrors.New(CodeInvalidToken, "")
}
