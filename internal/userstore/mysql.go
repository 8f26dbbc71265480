package userstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/pkg/logger"
)

const createUsersTable = `
CREATE TABLE IF NOT EXISTS wallet_users (
    id         VARCHAR(128) PRIMARY KEY,
    doc        JSON         NOT NULL,
    updated_at TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

// MySQLStore 把用户记录整体存为 JSON 文档，
// 每用户临界区由行锁保证，同一记录的并发更新串行化。
type MySQLStore struct {
	db *sql.DB
}

// MySQLOptions 控制连接池行为。
type MySQLOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewMySQLStore 建立连接并确保表结构存在。
func NewMySQLStore(ctx context.Context, dsn string, opts MySQLOptions) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "打开 MySQL 连接失败")
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 MySQL 失败")
	}
	if _, err := db.ExecContext(ctx, createUsersTable); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化用户表失败")
	}

	logger.L().Info("用户存储已就绪", "driver", "mysql")
	return &MySQLStore{db: db}, nil
}

// Get 实现 Store。
func (s *MySQLStore) Get(ctx context.Context, userID string) (*User, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT doc FROM wallet_users WHERE id = ?", userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.New(CodeUserNotFound, "用户 "+userID+" 不存在")
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询用户记录失败")
	}
	var user User
	if err := json.Unmarshal(doc, &user); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析用户记录失败")
	}
	return &user, nil
}

// Update 实现 Store。SELECT ... FOR UPDATE 持有行锁直到事务结束。
func (s *MySQLStore) Update(ctx context.Context, userID string, fn func(*User) error) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	var doc []byte
	err = tx.QueryRowContext(ctx,
		"SELECT doc FROM wallet_users WHERE id = ? FOR UPDATE", userID).Scan(&doc)

	var user *User
	switch {
	case errors.Is(err, sql.ErrNoRows):
		user = NewUser(userID)
	case err != nil:
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "锁定用户记录失败")
	default:
		user = &User{}
		if err := json.Unmarshal(doc, user); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析用户记录失败")
		}
	}

	if err := fn(user); err != nil {
		return nil, err
	}
	user.UpdatedAt = time.Now().UTC()

	updated, err := json.Marshal(user)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化用户记录失败")
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO wallet_users (id, doc) VALUES (?, ?) ON DUPLICATE KEY UPDATE doc = VALUES(doc)",
		userID, updated); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入用户记录失败")
	}
	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交用户记录失败")
	}
	return user.Clone(), nil
}

// List 实现 Store。
func (s *MySQLStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT doc FROM wallet_users")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询用户列表失败")
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取用户记录失败")
		}
		var user User
		if err := json.Unmarshal(doc, &user); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析用户记录失败")
		}
		out = append(out, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历用户列表失败")
	}
	return out, nil
}

// Close 实现 Store。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
