// Package alert 维护价格告警: 创建、取消与后台巡检。
// 告警状态先落盘再通知, 进程崩溃最多漏发一次通知, 不会丢状态。
package alert

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/ledger"
	"OmniSwap-Agent/internal/market"
	"OmniSwap-Agent/internal/notify"
	"OmniSwap-Agent/internal/userstore"
	"OmniSwap-Agent/pkg/logger"
)

// 本模块专属错误码。
const (
	CodeDuplicateAlert xerrors.Code = "DUPLICATE_ALERT"
	CodeAlertNotFound  xerrors.Code = "ALERT_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeDuplicateAlert, xerrors.Attributes{
		Message:  "an active alert already exists for this asset",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeAlertNotFound, xerrors.Attributes{
		Message:  "alert not found",
		Severity: xerrors.SeverityInfo,
	})
}

// Engine 管理全部用户的价格告警。
type Engine struct {
	store    userstore.Store
	oracle   *market.Oracle
	catalog  *ledger.Catalog
	notifier notify.Notifier
	interval time.Duration
}

// NewEngine 构造告警引擎。
func NewEngine(store userstore.Store, oracle *market.Oracle, catalog *ledger.Catalog, notifier notify.Notifier, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Engine{
		store:    store,
		oracle:   oracle,
		catalog:  catalog,
		notifier: notifier,
		interval: interval,
	}
}

// SetAlert 创建一条新告警。同一资产同时只允许一条活跃告警。
func (e *Engine) SetAlert(ctx context.Context, userID, asset string, targetPrice float64) (userstore.Alert, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if !e.catalog.Supported(asset) {
		return userstore.Alert{}, xerrors.New(xerrors.CodeInvalidArgument, "不支持的资产 "+asset)
	}
	if targetPrice <= 0 || math.IsInf(targetPrice, 0) || math.IsNaN(targetPrice) {
		return userstore.Alert{}, xerrors.New(xerrors.CodeInvalidArgument, "目标价必须是正的有限数")
	}

	var created userstore.Alert
	_, err := e.store.Update(ctx, userID, func(u *userstore.User) error {
		if _, exists := u.ActiveAlert(asset); exists {
			return xerrors.New(CodeDuplicateAlert,
				asset+" 已有活跃告警, 请先取消再创建")
		}
		created = userstore.Alert{
			ID:          uuid.NewString(),
			Asset:       asset,
			TargetPrice: targetPrice,
			Status:      userstore.AlertActive,
			CreatedAt:   time.Now().UTC(),
		}
		u.Alerts = append(u.Alerts, created)
		return nil
	})
	if err != nil {
		return userstore.Alert{}, err
	}

	logger.Audit().Info("告警已创建",
		"user", userID, "alert", created.ID, "asset", asset, "target", targetPrice)
	return created, nil
}

// CancelAlert 取消一条活跃告警。
func (e *Engine) CancelAlert(ctx context.Context, userID, alertID string) error {
	_, err := e.store.Update(ctx, userID, func(u *userstore.User) error {
		a, ok := u.AlertByID(alertID)
		if !ok || a.Status != userstore.AlertActive {
			return xerrors.New(CodeAlertNotFound, "没有可取消的告警 "+alertID)
		}
		a.Status = userstore.AlertStopped
		return nil
	})
	if err != nil {
		return err
	}
	logger.Audit().Info("告警已取消", "user", userID, "alert", alertID)
	return nil
}

// StopAll 取消用户的全部活跃告警, 返回取消数量。
func (e *Engine) StopAll(ctx context.Context, userID string) (int, error) {
	var stopped int
	_, err := e.store.Update(ctx, userID, func(u *userstore.User) error {
		stopped = 0
		for i := range u.Alerts {
			if u.Alerts[i].Status == userstore.AlertActive {
				u.Alerts[i].Status = userstore.AlertStopped
				stopped++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if stopped > 0 {
		logger.Audit().Info("告警已全部取消", "user", userID, "count", stopped)
	}
	return stopped, nil
}

// List 返回用户的全部告警, 含历史记录。
func (e *Engine) List(ctx context.Context, userID string) ([]userstore.Alert, error) {
	user, err := e.store.Get(ctx, userID)
	if err != nil {
		if xerrors.CodeOf(err) == userstore.CodeUserNotFound {
			return nil, nil
		}
		return nil, err
	}
	return user.Alerts, nil
}

// Run 启动巡检循环, 直到 ctx 取消。
func (e *Engine) Run(ctx context.Context) {
	logger.L().Info("告警巡检已启动", "interval", e.interval.String())
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.L().Info("告警巡检已停止")
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep 执行一轮巡检。对用户快照迭代, 单个用户的失败不影响其他用户。
func (e *Engine) Sweep(ctx context.Context) {
	users, err := e.store.List(ctx)
	if err != nil {
		logger.L().Error("巡检读取用户列表失败", "error", err)
		return
	}

	assetSet := make(map[string]bool)
	for _, user := range users {
		for _, a := range user.Alerts {
			if a.Status == userstore.AlertActive {
				assetSet[a.Asset] = true
			}
		}
	}
	if len(assetSet) == 0 {
		return
	}
	assets := make([]string, 0, len(assetSet))
	for asset := range assetSet {
		assets = append(assets, asset)
	}

	prices, err := e.oracle.GetPrices(ctx, assets)
	if err != nil {
		logger.L().Warn("巡检取价失败, 本轮跳过", "error", err)
		return
	}

	for _, user := range users {
		if err := e.sweepUser(ctx, user.ID, prices); err != nil {
			logger.L().Error("用户巡检失败", "user", user.ID, "error", err)
		}
	}
}

// sweepUser 在每用户临界区内判定并落盘触发, 落盘成功后才发通知。
func (e *Engine) sweepUser(ctx context.Context, userID string, prices map[string]market.Snapshot) error {
	var fired []userstore.Alert
	_, err := e.store.Update(ctx, userID, func(u *userstore.User) error {
		fired = fired[:0]
		now := time.Now().UTC()
		for i := range u.Alerts {
			a := &u.Alerts[i]
			if a.Status != userstore.AlertActive {
				continue
			}
			snap, ok := prices[a.Asset]
			if !ok {
				continue
			}
			if snap.PriceUSD >= a.TargetPrice {
				a.Status = userstore.AlertTriggered
				a.TriggeredAt = &now
				a.TriggerPrice = snap.PriceUSD
				fired = append(fired, *a)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, a := range fired {
		logger.Audit().Info("告警已触发",
			"user", userID, "alert", a.ID, "asset", a.Asset,
			"target", a.TargetPrice, "price", a.TriggerPrice)
		if err := e.notifier.Notify(ctx, notify.Notification{
			UserID: userID,
			Kind:   notify.KindAlertTriggered,
			Title:  a.Asset + " 到价提醒",
			Body: fmt.Sprintf("%s 现价 $%.2f, 已达到目标价 $%.2f",
				a.Asset, a.TriggerPrice, a.TargetPrice),
			Metadata: map[string]string{"alert_id": a.ID},
			At:       time.Now().UTC(),
		}); err != nil {
			logger.L().Warn("告警通知投递失败", "user", userID, "alert", a.ID, "error", err)
		}
	}
	return nil
}
