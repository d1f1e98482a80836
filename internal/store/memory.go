package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"InterviewMonitor/internal/monitor"
)

// memoryEntry 单个会话及其互斥锁
type memoryEntry struct {
	mu      sync.Mutex
	session *monitor.Session
}

// MemoryStore 进程内会话存储，按会话加锁
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
}

// NewMemoryStore 创建内存会话存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memoryEntry)}
}

// Create 保存新会话，ID重复返回错误
func (s *MemoryStore) Create(_ context.Context, session *monitor.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.SessionID]; exists {
		return fmt.Errorf("%w: session %s", ErrDuplicate, session.SessionID)
	}
	s.sessions[session.SessionID] = &memoryEntry{session: session.Clone()}
	return nil
}

func (s *MemoryStore) entry(id string) (*memoryEntry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, monitor.SessionNotFound(id)
	}
	return e, nil
}

// Get 返回会话副本
func (s *MemoryStore) Get(_ context.Context, id string) (*monitor.Session, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// Append 原子追加分片并重算分数
func (s *MemoryStore) Append(_ context.Context, id string, entry monitor.TranscriptEntry, snapshot monitor.AnalysisSnapshot, now time.Time) (*monitor.Session, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.session.ApplyChunk(entry, snapshot, now)
	return e.session.Clone(), nil
}

// Complete 条件完成
func (s *MemoryStore) Complete(_ context.Context, id string, c monitor.Completion) (*monitor.Session, bool, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	applied := e.session.Complete(c)
	return e.session.Clone(), applied, nil
}

// Count 会话总数
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Ping 内存存储总是可用
func (s *MemoryStore) Ping(context.Context) error { return nil }

// MemoryDirectory 内存面试目录，用于开发和测试
type MemoryDirectory struct {
	mu         sync.RWMutex
	interviews map[string]*monitor.Interview
	progress   map[string]InterviewProgress
}

// InterviewProgress 目录记录的面试进度
type InterviewProgress struct {
	Status       string
	SessionID    string
	TranscriptID string
	AIScore      *float64
	UpdatedAt    time.Time
}

// NewMemoryDirectory 创建内存面试目录
func NewMemoryDirectory(interviews ...*monitor.Interview) *MemoryDirectory {
	d := &MemoryDirectory{
		interviews: make(map[string]*monitor.Interview),
		progress:   make(map[string]InterviewProgress),
	}
	for _, iv := range interviews {
		d.Put(iv)
	}
	return d
}

// Put 新增或替换面试
func (d *MemoryDirectory) Put(iv *monitor.Interview) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := *iv
	c.JobRequirements = append([]string(nil), iv.JobRequirements...)
	d.interviews[iv.ID] = &c
}

// Lookup 按ID查询面试
func (d *MemoryDirectory) Lookup(_ context.Context, id string) (*monitor.Interview, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	iv, ok := d.interviews[id]
	if !ok {
		return nil, monitor.InterviewNotFound(id)
	}
	c := *iv
	c.JobRequirements = append([]string(nil), iv.JobRequirements...)
	if p, ok := d.progress[id]; ok {
		c.Status = p.Status
	}
	return &c, nil
}

// MarkInProgress 面试进入IN_PROGRESS
func (d *MemoryDirectory) MarkInProgress(_ context.Context, interviewID, sessionID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.interviews[interviewID]; !ok {
		return monitor.InterviewNotFound(interviewID)
	}
	d.progress[interviewID] = InterviewProgress{
		Status:    InterviewStatusInProgress,
		SessionID: sessionID,
		UpdatedAt: at,
	}
	return nil
}

// MarkCompleted 面试完成并记录AI得分
func (d *MemoryDirectory) MarkCompleted(_ context.Context, interviewID, transcriptID string, aiScore float64, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.interviews[interviewID]; !ok {
		return monitor.InterviewNotFound(interviewID)
	}
	p := d.progress[interviewID]
	p.Status = InterviewStatusCompleted
	p.TranscriptID = transcriptID
	p.AIScore = &aiScore
	p.UpdatedAt = at
	d.progress[interviewID] = p
	return nil
}

// Progress 查询面试进度
func (d *MemoryDirectory) Progress(interviewID string) (InterviewProgress, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.progress[interviewID]
	return p, ok
}

// MemoryTranscripts 内存转录记录
type MemoryTranscripts struct {
	mu      sync.RWMutex
	records map[string]*monitor.TranscriptRecord
}

// NewMemoryTranscripts 创建内存转录记录存储
func NewMemoryTranscripts() *MemoryTranscripts {
	return &MemoryTranscripts{records: make(map[string]*monitor.TranscriptRecord)}
}

// SaveTranscript 保存转录记录
func (t *MemoryTranscripts) SaveTranscript(_ context.Context, record *monitor.TranscriptRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.records[record.ID]; exists {
		return fmt.Errorf("%w: transcript %s", ErrDuplicate, record.ID)
	}
	c := *record
	t.records[record.ID] = &c
	return nil
}

// Get 按ID查询转录记录
func (t *MemoryTranscripts) Get(id string) (*monitor.TranscriptRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[id]
	if !ok {
		return nil, false
	}
	c := *r
	return &c, true
}

// ByInterview 某面试的所有转录记录，按创建时间排序
func (t *MemoryTranscripts) ByInterview(interviewID string) []*monitor.TranscriptRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*monitor.TranscriptRecord
	for _, r := range t.records {
		if r.InterviewID == interviewID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
