package notify

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/pkg/logger"
)

// QueueNotifier 把通知以持久化消息发布到 RabbitMQ 队列,
// 由外部的推送服务消费后送达用户。
type QueueNotifier struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	mu      sync.Mutex
}

// QueueConfig 描述队列连接参数。
type QueueConfig struct {
	URL     string
	Queue   string
	Durable bool
}

// NewQueueNotifier 建立连接并声明队列。
func NewQueueNotifier(cfg QueueConfig) (*QueueNotifier, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置 RabbitMQ 地址")
	}
	if cfg.Queue == "" {
		cfg.Queue = "omniswap.notifications"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 RabbitMQ 失败")
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "打开 RabbitMQ 通道失败")
	}
	if _, err := channel.QueueDeclare(cfg.Queue, cfg.Durable, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "声明通知队列失败")
	}

	logger.L().Info("通知队列已就绪", "queue", cfg.Queue, "durable", cfg.Durable)
	return &QueueNotifier{conn: conn, channel: channel, queue: cfg.Queue}, nil
}

// Notify 实现 Notifier。
func (q *QueueNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "序列化通知失败")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "发布通知消息失败")
	}
	return nil
}

// Close 实现 Notifier。
func (q *QueueNotifier) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.channel != nil {
		q.channel.Close()
		q.channel = nil
	}
	if q.conn != nil {
		err := q.conn.Close()
		q.conn = nil
		return err
	}
	return nil
}
