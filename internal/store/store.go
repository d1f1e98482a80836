// Package store 会话、面试目录和转录记录的存储实现：内存、PostgreSQL(pgx)、SQLite。
package store

import (
	"context"
	"errors"
	"fmt"

	"InterviewMonitor/internal/monitor"
)

// ErrDuplicate 主键冲突
var ErrDuplicate = errors.New("duplicate key")

// 面试状态
const (
	InterviewStatusInProgress = "IN_PROGRESS"
	InterviewStatusCompleted  = "COMPLETED"
)

// Backend 一个完整的存储后端
type Backend interface {
	monitor.SessionStore
	monitor.InterviewDirectory
	monitor.TranscriptSink
	Ping(ctx context.Context) error
	Close() error
}

// Kind 存储类型
type Kind string

const (
	KindMemory   Kind = "memory"
	KindPostgres Kind = "postgres"
	KindSQLite   Kind = "sqlite"
)

// ParseKind 解析配置中的存储类型
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMemory, KindPostgres, KindSQLite:
		return Kind(s), nil
	case "":
		return KindMemory, nil
	default:
		return "", fmt.Errorf("unsupported store type: %q", s)
	}
}

// MemoryBackend 组合内存实现
type MemoryBackend struct {
	*MemoryStore
	*MemoryDirectory
	*MemoryTranscripts
}

// NewMemoryBackend 创建内存后端
func NewMemoryBackend(interviews ...*monitor.Interview) *MemoryBackend {
	return &MemoryBackend{
		MemoryStore:       NewMemoryStore(),
		MemoryDirectory:   NewMemoryDirectory(interviews...),
		MemoryTranscripts: NewMemoryTranscripts(),
	}
}

// Get 消除MemoryStore与MemoryTranscripts的同名方法歧义
func (b *MemoryBackend) Get(ctx context.Context, id string) (*monitor.Session, error) {
	return b.MemoryStore.Get(ctx, id)
}

// Close 无资源需要释放
func (b *MemoryBackend) Close() error { return nil }

// PutInterview 写入面试记录
func (b *MemoryBackend) PutInterview(_ context.Context, iv *monitor.Interview) error {
	b.MemoryDirectory.Put(iv)
	return nil
}

// InterviewWriter 支持写入面试记录的后端，三种实现都满足
type InterviewWriter interface {
	PutInterview(ctx context.Context, iv *monitor.Interview) error
}

var (
	_ InterviewWriter = (*MemoryBackend)(nil)
	_ InterviewWriter = (*SQLiteStore)(nil)
	_ InterviewWriter = (*PostgresStore)(nil)
	_ Backend         = (*MemoryBackend)(nil)
	_ Backend         = (*SQLiteStore)(nil)
	_ Backend         = (*PostgresStore)(nil)
)
