package userstore

import (
	"context"

	xerrors "OmniSwap-Agent/internal/errors"
)

// 本模块专属错误码。
const (
	CodeUserNotFound xerrors.Code = "USER_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeUserNotFound, xerrors.Attributes{
		Message:  "user not found",
		Severity: xerrors.SeverityInfo,
	})
}

// Store 是用户记录的持久化抽象。
//
// Update 是唯一的写入口：实现必须保证同一用户的回调串行执行，
// 且回调对记录的修改在落盘成功之后才对后续读取可见。
// 落盘失败时内存状态回滚，调用方看到的是失败前的记录。
type Store interface {
	// Get 返回用户记录的深拷贝。用户不存在时返回 CodeUserNotFound。
	Get(ctx context.Context, userID string) (*User, error)

	// Update 在每用户临界区内执行 fn。用户不存在时先创建空记录。
	// fn 返回错误则放弃全部修改。
	Update(ctx context.Context, userID string, fn func(*User) error) (*User, error)

	// List 返回全部用户记录的深拷贝，顺序不保证。
	List(ctx context.Context) ([]*User, error)

	// Close 释放底层资源。
	Close() error
}
