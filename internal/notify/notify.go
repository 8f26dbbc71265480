// Package notify 负责把业务事件送达用户侧的下游通道。
package notify

import (
	"context"
	"time"

	"OmniSwap-Agent/pkg/logger"
)

// Kind 是事件类别。
type Kind string

const (
	KindAlertTriggered Kind = "alert_triggered"
	KindSwapCompleted  Kind = "swap_completed"
	KindSwapPartial    Kind = "swap_partial_failure"
)

// Notification 是一条待投递的通知。
type Notification struct {
	UserID   string            `json:"user_id"`
	Kind     Kind              `json:"kind"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
	At       time.Time         `json:"at"`
}

// Notifier 抽象一条投递通道。投递失败不应阻断业务流程,
// 调用方记录错误后继续。
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Close() error
}

// LogNotifier 把通知写进结构化日志, 是默认的兜底通道。
type LogNotifier struct{}

// Notify 实现 Notifier。
func (LogNotifier) Notify(_ context.Context, n Notification) error {
	logger.L().Info("通知",
		"user", n.UserID,
		"kind", string(n.Kind),
		"title", n.Title,
		"body", n.Body)
	return nil
}

// Close 实现 Notifier。
func (LogNotifier) Close() error { return nil }

// Fanout 把同一条通知投递到多条通道, 返回最后一个错误。
type Fanout struct {
	targets []Notifier
}

// NewFanout 构造多路通知器。
func NewFanout(targets ...Notifier) *Fanout {
	return &Fanout{targets: targets}
}

// Notify 实现 Notifier。单条通道失败不影响其余通道。
func (f *Fanout) Notify(ctx context.Context, n Notification) error {
	var last error
	for _, target := range f.targets {
		if err := target.Notify(ctx, n); err != nil {
			logger.L().Warn("通知投递失败", "kind", string(n.Kind), "error", err)
			last = err
		}
	}
	return last
}

// Close 实现 Notifier。
func (f *Fanout) Close() error {
	var last error
	for _, target := range f.targets {
		if err := target.Close(); err != nil {
			last = err
		}
	}
	return last
}
