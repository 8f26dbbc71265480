package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 OmniSwap 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	Vault   VaultConfig   `json:"vault"`
	Market  MarketConfig  `json:"market"`
	Ledger  LedgerConfig  `json:"ledger"`
	Alerts  AlertConfig   `json:"alerts"`
	Notify  NotifyConfig  `json:"notify"`
	Auth    AuthConfig    `json:"auth"`
	Logging LoggingConfig `json:"logging"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 描述用户仓库的持久化后端。
type StorageConfig struct {
	UserStore UserStoreConfig `json:"user_store"`
}

// UserStoreConfig 支持本地文件与 MySQL 两种驱动。
type UserStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// VaultConfig 控制私钥加密所使用的口令来源。
type VaultConfig struct {
	Passphrase    string `json:"passphrase"`
	PassphraseEnv string `json:"passphrase_env"`
}

// MarketConfig 描述行情源与价格缓存的行为。
type MarketConfig struct {
	BaseURL        string      `json:"base_url"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	CacheTTLSecond int         `json:"cache_ttl_seconds"`
	Redis          RedisConfig `json:"redis"`
}

// RedisConfig 描述可选的共享快照缓存。
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// LedgerConfig 指向链与代币目录的 YAML 文件。
type LedgerConfig struct {
	ChainConfig string `json:"chain_config"`
}

// AlertConfig 控制价格提醒轮询。
type AlertConfig struct {
	PollIntervalSeconds int `json:"poll_interval_seconds"`
}

// NotifyConfig 描述通知投递方式。
type NotifyConfig struct {
	Driver   string         `json:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述通知队列的连接参数。
type RabbitMQConfig struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// AuthConfig 控制运维接口的认证。
type AuthConfig struct {
	Mode   string            `json:"mode"`
	Tokens []AuthTokenConfig `json:"tokens"`
}

// AuthTokenConfig 是一个静态操作员令牌。
type AuthTokenConfig struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

// LoggingConfig 描述日志输出方式。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.UserStore.Driver == "" {
		c.Storage.UserStore.Driver = "file"
	}

	if c.Vault.PassphraseEnv == "" && c.Vault.Passphrase == "" {
		c.Vault.PassphraseEnv = "OMNISWAP_VAULT_PASSPHRASE"
	}

	if c.Market.BaseURL == "" {
		c.Market.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if c.Market.TimeoutSeconds <= 0 {
		c.Market.TimeoutSeconds = 15
	}
	if c.Market.CacheTTLSecond <= 0 {
		c.Market.CacheTTLSecond = 60
	}
	if c.Market.Redis.Prefix == "" {
		c.Market.Redis.Prefix = "omniswap:price"
	}

	if c.Ledger.ChainConfig != "" && !filepath.IsAbs(c.Ledger.ChainConfig) {
		c.Ledger.ChainConfig = filepath.Join(baseDir, c.Ledger.ChainConfig)
	}

	if c.Alerts.PollIntervalSeconds <= 0 {
		c.Alerts.PollIntervalSeconds = 300
	}

	if c.Notify.Driver == "" {
		c.Notify.Driver = "log"
	}
	if c.Notify.RabbitMQ.Queue == "" {
		c.Notify.RabbitMQ.Queue = "omniswap.notifications"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// PollInterval 返回提醒轮询周期。
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Alerts.PollIntervalSeconds) * time.Second
}

// CacheTTL 返回价格快照的新鲜窗口。
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Market.CacheTTLSecond) * time.Second
}

// VaultPassphrase 解析私钥加密口令，优先使用配置文件中的明文字段。
func (c *Config) VaultPassphrase() (string, error) {
	if c.Vault.Passphrase != "" {
		return c.Vault.Passphrase, nil
	}
	if c.Vault.PassphraseEnv != "" {
		if value := os.Getenv(c.Vault.PassphraseEnv); value != "" {
			return value, nil
		}
	}
	return "", errors.New("未配置私钥加密口令")
}
