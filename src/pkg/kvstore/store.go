// Package kvstore 本地持久化的键值存储
// 保存登录 token、选中的海滩、设备标识等需要跨进程保留的小数据
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// DBFileName 数据库文件名
const DBFileName = "kv.db"

// 预定义的命名空间
const (
	// NamespaceAuth 登录凭据
	NamespaceAuth = "auth"
	// NamespaceSelection 用户选择
	NamespaceSelection = "selection"
	// NamespaceDevice 设备相关信息
	NamespaceDevice = "device"
)

// 预定义的键
const (
	KeyUserToken = "user_token"
	KeyBeachID   = "beach_id"
	KeyDeviceID  = "device_id"
)

// ErrClosed 存储已关闭
var ErrClosed = errors.New("kvstore: closed")

var (
	globalStore *Store
	storeMu     sync.RWMutex
)

// Store 基于 SQLite 的 namespace/key/value 存储
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open 打开（必要时创建）dir 下的数据库并执行迁移
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建目录失败: %w", err)
	}
	dbPath := filepath.Join(dir, DBFileName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	_, _ = db.Exec("PRAGMA journal_mode=WAL")
	_, _ = db.Exec("PRAGMA synchronous=NORMAL")

	logger := logrus.WithField("db_path", dbPath)
	if _, _, err := migrateUp(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	// 迁移完成后再限制为单连接，SQLite 单写入
	db.SetMaxOpenConns(1)
	return &Store{db: db, dbPath: dbPath}, nil
}

// Path 返回数据库文件路径
func (s *Store) Path() string {
	return s.dbPath
}

// Get 读取值，键不存在时返回空字符串和 nil
func (s *Store) Get(ctx context.Context, namespace, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return "", ErrClosed
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("查询失败: %w", err)
	}
	return value, nil
}

// Set 写入值，已存在时覆盖
func (s *Store) Set(ctx context.Context, namespace, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, strftime('%s', 'now'))
		 ON CONFLICT(namespace, key) DO UPDATE SET
		 value = excluded.value,
		 updated_at = strftime('%s', 'now')`,
		namespace, key, value,
	)
	if err != nil {
		return fmt.Errorf("保存失败: %w", err)
	}
	return nil
}

// Delete 删除键，不存在时不报错
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM kv WHERE namespace = ? AND key = ?",
		namespace, key,
	); err != nil {
		return fmt.Errorf("删除失败: %w", err)
	}
	return nil
}

// GetAll 获取命名空间下所有键值对
func (s *Store) GetAll(ctx context.Context, namespace string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM kv WHERE namespace = ?", namespace)
	if err != nil {
		return nil, fmt.Errorf("查询失败: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("读取行失败: %w", err)
		}
		result[key] = value
	}
	return result, rows.Err()
}

// Close 关闭数据库，重复调用安全
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Init 初始化全局存储，dir 一般为 AppDataPath/db
func Init(dir string) error {
	storeMu.Lock()
	defer storeMu.Unlock()
	if globalStore != nil {
		return nil
	}
	s, err := Open(dir)
	if err != nil {
		return err
	}
	globalStore = s
	return nil
}

// GetStore 返回全局存储，未初始化时为 nil
func GetStore() *Store {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return globalStore
}

// Close 关闭全局存储
func Close() error {
	storeMu.Lock()
	defer storeMu.Unlock()
	if globalStore == nil {
		return nil
	}
	err := globalStore.Close()
	globalStore = nil
	return err
}
