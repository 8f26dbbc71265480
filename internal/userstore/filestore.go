package userstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/pkg/logger"
)

// FileStore 把每个用户存成一个 JSON 文件，写入走临时文件加改名，
// 崩溃时磁盘上要么是旧版本要么是新版本，不会出现半截文件。
type FileStore struct {
	dir string

	mu    sync.RWMutex
	users map[string]*User

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewFileStore 打开或创建数据目录并装载全部用户记录。
func NewFileStore(dir string) (*FileStore, error) {
	dir = filepath.Join(dir, "users")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建用户数据目录失败")
	}

	s := &FileStore{
		dir:   dir,
		users: make(map[string]*User),
		locks: make(map[string]*sync.Mutex),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取用户数据目录失败")
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取用户记录失败")
		}
		var user User
		if err := json.Unmarshal(data, &user); err != nil {
			// 损坏的记录跳过并告警，不让单个坏文件拖垮整个服务。
			logger.L().Error("用户记录损坏, 已跳过", "file", entry.Name(), "error", err)
			continue
		}
		s.users[user.ID] = &user
	}

	logger.L().Info("用户存储已就绪", "driver", "file", "users", len(s.users))
	return s, nil
}

// Get 实现 Store。
func (s *FileStore) Get(_ context.Context, userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, xerrors.New(CodeUserNotFound, "用户 "+userID+" 不存在")
	}
	return user.Clone(), nil
}

// Update 实现 Store。fn 操作的是深拷贝，
// 只有落盘成功后拷贝才替换内存中的记录。
func (s *FileStore) Update(_ context.Context, userID string, fn func(*User) error) (*User, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, ok := s.users[userID]
	s.mu.RUnlock()

	var working *User
	if ok {
		working = current.Clone()
	} else {
		working = NewUser(userID)
	}

	if err := fn(working); err != nil {
		return nil, err
	}
	working.UpdatedAt = time.Now().UTC()

	if err := s.flush(working); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.users[userID] = working
	s.mu.Unlock()
	return working.Clone(), nil
}

// List 实现 Store。
func (s *FileStore) List(_ context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user.Clone())
	}
	return out, nil
}

// Close 实现 Store。文件存储没有需要关闭的句柄。
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) userLock(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

func (s *FileStore) flush(user *User) error {
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化用户记录失败")
	}

	final := filepath.Join(s.dir, hex.EncodeToString([]byte(user.ID))+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入用户记录失败")
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "替换用户记录失败")
	}
	return nil
}
