package alert

import (
	"context"
	"testing"
	"time"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/ledger"
	"OmniSwap-Agent/internal/market"
	"OmniSwap-Agent/internal/notify"
	"OmniSwap-Agent/internal/userstore"
)

type adjustableSource struct {
	prices map[string]float64
}

func (s *adjustableSource) FetchSpot(_ context.Context, ids []string) (map[string]market.Snapshot, error) {
	out := make(map[string]market.Snapshot, len(ids))
	for _, id := range ids {
		if price, ok := s.prices[id]; ok {
			out[id] = market.Snapshot{PriceUSD: price, FetchedAt: time.Now()}
		}
	}
	return out, nil
}

type captureNotifier struct {
	notifications []notify.Notification
}

func (c *captureNotifier) Notify(_ context.Context, n notify.Notification) error {
	c.notifications = append(c.notifications, n)
	return nil
}

func (c *captureNotifier) Close() error { return nil }

func newTestEngine(t *testing.T) (*Engine, *adjustableSource, *captureNotifier, userstore.Store) {
	t.Helper()
	cat, err := ledger.LoadCatalog("")
	if err != nil {
		t.Fatalf("加载链目录失败: %v", err)
	}
	store, err := userstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("打开文件存储失败: %v", err)
	}
	source := &adjustableSource{prices: map[string]float64{"bitcoin": 49000}}
	// TTL 取 0 会被修正为默认值, 这里用极小值确保每轮巡检都取新价。
	oracle := market.NewOracle(source, cat, time.Nanosecond)
	notifier := &captureNotifier{}
	return NewEngine(store, oracle, cat, notifier, time.Minute), source, notifier, store
}

func TestSetAlertRejectsDuplicateActive(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.SetAlert(ctx, "alice", "BTC", 50000); err != nil {
		t.Fatalf("创建告警失败: %v", err)
	}
	_, err := engine.SetAlert(ctx, "alice", "btc", 60000)
	if xerrors.CodeOf(err) != CodeDuplicateAlert {
		t.Fatalf("同一资产的活跃告警应被拒绝: %v", err)
	}

	// 其他用户与其他资产不受影响。
	if _, err := engine.SetAlert(ctx, "bob", "BTC", 50000); err != nil {
		t.Fatalf("其他用户创建告警失败: %v", err)
	}
	if _, err := engine.SetAlert(ctx, "alice", "ETH", 4000); err != nil {
		t.Fatalf("其他资产创建告警失败: %v", err)
	}
}

func TestSetAlertValidation(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.SetAlert(ctx, "alice", "NOPE", 100); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("未知资产应被拒绝: %v", err)
	}
	if _, err := engine.SetAlert(ctx, "alice", "BTC", -5); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("负目标价应被拒绝: %v", err)
	}
}

func TestSweepTriggersOnceAtTarget(t *testing.T) {
	engine, source, notifier, store := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.SetAlert(ctx, "alice", "BTC", 50000)
	if err != nil {
		t.Fatalf("创建告警失败: %v", err)
	}

	// 低于目标价不触发。
	engine.Sweep(ctx)
	if len(notifier.notifications) != 0 {
		t.Fatalf("49000 不应触发 50000 的告警")
	}

	// 到价触发, 记录触发价。
	source.prices["bitcoin"] = 50500
	engine.Sweep(ctx)
	if len(notifier.notifications) != 1 {
		t.Fatalf("到价后应恰好触发一次: %d", len(notifier.notifications))
	}
	if notifier.notifications[0].Kind != notify.KindAlertTriggered {
		t.Fatalf("通知类别不正确: %v", notifier.notifications[0].Kind)
	}

	user, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("读取用户失败: %v", err)
	}
	a, ok := user.AlertByID(created.ID)
	if !ok {
		t.Fatalf("告警记录丢失")
	}
	if a.Status != userstore.AlertTriggered {
		t.Fatalf("状态应为已触发: %v", a.Status)
	}
	if a.TriggerPrice != 50500 {
		t.Fatalf("触发价应为巡检时的现价: %v", a.TriggerPrice)
	}

	// 已触发的告警不会再次触发。
	source.prices["bitcoin"] = 60000
	engine.Sweep(ctx)
	if len(notifier.notifications) != 1 {
		t.Fatalf("已触发的告警不应重复通知: %d", len(notifier.notifications))
	}
}

func TestStopAllCancelsOnlyActive(t *testing.T) {
	engine, source, _, store := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.SetAlert(ctx, "alice", "BTC", 50000); err != nil {
		t.Fatalf("创建告警失败: %v", err)
	}
	if _, err := engine.SetAlert(ctx, "alice", "ETH", 4000); err != nil {
		t.Fatalf("创建告警失败: %v", err)
	}

	// 先触发 BTC 告警, 再全部停止。
	source.prices["bitcoin"] = 50001
	source.prices["ethereum"] = 3000
	engine.Sweep(ctx)

	stopped, err := engine.StopAll(ctx, "alice")
	if err != nil {
		t.Fatalf("停止告警失败: %v", err)
	}
	if stopped != 1 {
		t.Fatalf("只应取消仍活跃的 1 条告警, 实际 %d", stopped)
	}

	user, _ := store.Get(ctx, "alice")
	for _, a := range user.Alerts {
		if a.Status == userstore.AlertActive {
			t.Fatalf("不应再有活跃告警: %+v", a)
		}
	}
}

func TestCancelAlert(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.SetAlert(ctx, "alice", "BTC", 50000)
	if err != nil {
		t.Fatalf("创建告警失败: %v", err)
	}
	if err := engine.CancelAlert(ctx, "alice", created.ID); err != nil {
		t.Fatalf("取消告警失败: %v", err)
	}
	if err := engine.CancelAlert(ctx, "alice", created.ID); xerrors.CodeOf(err) != CodeAlertNotFound {
		t.Fatalf("重复取消应报告警不存在: %v", err)
	}

	// 取消后同一资产可以再建。
	if _, err := engine.SetAlert(ctx, "alice", "BTC", 55000); err != nil {
		t.Fatalf("取消后重建告警失败: %v", err)
	}
}
