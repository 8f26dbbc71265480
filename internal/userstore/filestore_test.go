package userstore

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/ledger"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("打开文件存储失败: %v", err)
	}

	ctx := context.Background()
	_, err = store.Update(ctx, "alice", func(u *User) error {
		u.Accounts[ledger.FamilyEthereum] = LinkedAccount{
			Family:   ledger.FamilyEthereum,
			Address:  "0x1111111111111111111111111111111111111111",
			Envelope: []byte("sealed"),
			LinkedAt: time.Now().UTC(),
		}
		u.Alerts = append(u.Alerts, Alert{
			ID:          "a1",
			Asset:       "BTC",
			TargetPrice: 50000,
			Status:      AlertActive,
			CreatedAt:   time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		t.Fatalf("更新用户失败: %v", err)
	}

	// 重新打开, 记录必须原样回来。
	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("重新打开文件存储失败: %v", err)
	}
	user, err := reopened.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("读取用户失败: %v", err)
	}
	account, ok := user.Accounts[ledger.FamilyEthereum]
	if !ok || account.Address != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("绑定账户未恢复: %+v", user.Accounts)
	}
	if string(account.Envelope) != "sealed" {
		t.Fatalf("加密信封未恢复: %q", account.Envelope)
	}
	if len(user.Alerts) != 1 || user.Alerts[0].Status != AlertActive {
		t.Fatalf("告警未恢复: %+v", user.Alerts)
	}
}

func TestFileStoreGetUnknownUser(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("打开文件存储失败: %v", err)
	}
	_, err = store.Get(context.Background(), "nobody")
	if xerrors.CodeOf(err) != CodeUserNotFound {
		t.Fatalf("应返回用户不存在: %v", err)
	}
}

func TestFileStoreUpdateRollbackOnCallbackError(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("打开文件存储失败: %v", err)
	}

	ctx := context.Background()
	if _, err := store.Update(ctx, "bob", func(u *User) error {
		u.Alerts = append(u.Alerts, Alert{ID: "a1", Asset: "ETH", Status: AlertActive})
		return nil
	}); err != nil {
		t.Fatalf("首次更新失败: %v", err)
	}

	boom := errors.New("boom")
	if _, err := store.Update(ctx, "bob", func(u *User) error {
		u.Alerts = nil
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("回调错误应原样返回: %v", err)
	}

	user, err := store.Get(ctx, "bob")
	if err != nil {
		t.Fatalf("读取用户失败: %v", err)
	}
	if len(user.Alerts) != 1 {
		t.Fatalf("失败的更新不应留下痕迹: %+v", user.Alerts)
	}
}

func TestFileStoreUpdateRollbackOnFlushFailure(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("打开文件存储失败: %v", err)
	}

	ctx := context.Background()
	if _, err := store.Update(ctx, "dave", func(u *User) error {
		u.Alerts = append(u.Alerts, Alert{ID: "a1", Asset: "ETH", Status: AlertActive})
		return nil
	}); err != nil {
		t.Fatalf("首次更新失败: %v", err)
	}

	// 用目录占住落盘路径, 改名必然失败。
	final := filepath.Join(dir, "users", hex.EncodeToString([]byte("dave"))+".json")
	if err := os.Remove(final); err != nil {
		t.Fatalf("删除用户记录失败: %v", err)
	}
	if err := os.Mkdir(final, 0o700); err != nil {
		t.Fatalf("占位目录创建失败: %v", err)
	}

	_, err = store.Update(ctx, "dave", func(u *User) error {
		u.Alerts[0].Status = AlertStopped
		return nil
	})
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("落盘失败应返回存储错误: %v", err)
	}

	// 落盘失败的修改不进入内存, 内存里还是旧状态。
	user, err := store.Get(ctx, "dave")
	if err != nil {
		t.Fatalf("读取用户失败: %v", err)
	}
	if user.Alerts[0].Status != AlertActive {
		t.Fatalf("落盘失败的更新不应改变内存状态: %+v", user.Alerts)
	}
}

func TestFileStoreCloneIsolation(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("打开文件存储失败: %v", err)
	}

	ctx := context.Background()
	if _, err := store.Update(ctx, "carol", func(u *User) error {
		u.Alerts = append(u.Alerts, Alert{ID: "a1", Asset: "APT", Status: AlertActive})
		return nil
	}); err != nil {
		t.Fatalf("更新用户失败: %v", err)
	}

	user, _ := store.Get(ctx, "carol")
	user.Alerts[0].Status = AlertStopped

	again, _ := store.Get(ctx, "carol")
	if again.Alerts[0].Status != AlertActive {
		t.Fatalf("Get 返回的拷贝不应影响存储内部状态")
	}
}
