package userstore

import (
	"time"

	"OmniSwap-Agent/internal/ledger"
)

// AlertStatus 表示价格告警的生命周期状态。
type AlertStatus string

const (
	AlertActive    AlertStatus = "active"
	AlertTriggered AlertStatus = "triggered"
	AlertStopped   AlertStatus = "stopped"
)

// LinkedAccount 是用户在某条链上绑定的账户。
// Envelope 是私钥的加密信封，明文私钥绝不落盘。
type LinkedAccount struct {
	Family   ledger.Family `json:"family"`
	Address  string        `json:"address"`
	Envelope []byte        `json:"envelope"`
	LinkedAt time.Time     `json:"linked_at"`
}

// Alert 是一条价格告警。Triggered 后不再参与巡检，记录保留供查询。
type Alert struct {
	ID           string      `json:"id"`
	Asset        string      `json:"asset"`
	TargetPrice  float64     `json:"target_price"`
	Status       AlertStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	TriggeredAt  *time.Time  `json:"triggered_at,omitempty"`
	TriggerPrice float64     `json:"trigger_price,omitempty"`
}

// User 是单个用户的全部持久状态。
type User struct {
	ID        string                         `json:"id"`
	Accounts  map[ledger.Family]LinkedAccount `json:"accounts"`
	Alerts    []Alert                        `json:"alerts"`
	CreatedAt time.Time                      `json:"created_at"`
	UpdatedAt time.Time                      `json:"updated_at"`
}

// NewUser 构造空用户记录。
func NewUser(id string) *User {
	now := time.Now().UTC()
	return &User{
		ID:        id,
		Accounts:  make(map[ledger.Family]LinkedAccount),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone 返回深拷贝，避免调用方越过存储层篡改内部状态。
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	clone := *u
	clone.Accounts = make(map[ledger.Family]LinkedAccount, len(u.Accounts))
	for family, account := range u.Accounts {
		envelope := make([]byte, len(account.Envelope))
		copy(envelope, account.Envelope)
		account.Envelope = envelope
		clone.Accounts[family] = account
	}
	clone.Alerts = make([]Alert, len(u.Alerts))
	copy(clone.Alerts, u.Alerts)
	for i := range clone.Alerts {
		if u.Alerts[i].TriggeredAt != nil {
			ts := *u.Alerts[i].TriggeredAt
			clone.Alerts[i].TriggeredAt = &ts
		}
	}
	return &clone
}

// ActiveAlert 查找指定资产的活跃告警。
func (u *User) ActiveAlert(asset string) (*Alert, bool) {
	for i := range u.Alerts {
		if u.Alerts[i].Asset == asset && u.Alerts[i].Status == AlertActive {
			return &u.Alerts[i], true
		}
	}
	return nil, false
}

// AlertByID 按标识查找告警。
func (u *User) AlertByID(id string) (*Alert, bool) {
	for i := range u.Alerts {
		if u.Alerts[i].ID == id {
			return &u.Alerts[i], true
		}
	}
	return nil, false
}
