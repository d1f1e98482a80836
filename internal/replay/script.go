// Package replay 录制已完成会话的转录为脚本，并按原始节奏把脚本回放到新会话
package replay

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"InterviewMonitor/internal/monitor"
)

// Script 可回放的面试脚本
type Script struct {
	InterviewID     string        `yaml:"interview_id"`
	MeetingLink     string        `yaml:"meeting_link"`
	MeetingPlatform string        `yaml:"meeting_platform,omitempty"`
	RecordedFrom    string        `yaml:"recorded_from,omitempty"`
	RecordedAt      time.Time     `yaml:"recorded_at,omitempty"`
	Chunks          []ScriptChunk `yaml:"chunks"`
}

// ScriptChunk 单个分片，Offset为相对第一个分片的秒数
type ScriptChunk struct {
	Offset float64 `yaml:"offset"`
	Text   string  `yaml:"text"`
}

// Duration 脚本总时长
func (s *Script) Duration() time.Duration {
	if len(s.Chunks) == 0 {
		return 0
	}
	return secondsToDuration(s.Chunks[len(s.Chunks)-1].Offset)
}

// Validate 检查脚本可回放
func (s *Script) Validate() error {
	if s.InterviewID == "" {
		return errors.New("script: interview_id is required")
	}
	if s.MeetingLink == "" {
		return errors.New("script: meeting_link is required")
	}
	if len(s.Chunks) == 0 {
		return errors.New("script: no chunks")
	}
	for i, c := range s.Chunks {
		if c.Offset < 0 {
			return fmt.Errorf("script: chunk %d has negative offset", i)
		}
		if i > 0 && c.Offset < s.Chunks[i-1].Offset {
			return fmt.Errorf("script: chunk %d is out of order", i)
		}
	}
	return nil
}

// FromSession 从会话记录生成脚本，时间戳转换为相对偏移
func FromSession(s *monitor.Session) *Script {
	script := &Script{
		InterviewID:     s.InterviewID,
		MeetingLink:     s.MeetingLink,
		MeetingPlatform: s.MeetingPlatform,
		RecordedFrom:    s.SessionID,
		RecordedAt:      time.Now().UTC().Truncate(time.Second),
		Chunks:          make([]ScriptChunk, 0, len(s.Transcript)),
	}
	if len(s.Transcript) == 0 {
		return script
	}

	base := s.Transcript[0].Timestamp
	last := 0.0
	for _, e := range s.Transcript {
		offset := e.Timestamp - base
		// 时间戳可能由客户端提供，不保证单调
		if offset < last {
			offset = last
		}
		last = offset
		script.Chunks = append(script.Chunks, ScriptChunk{Offset: roundOffset(offset), Text: e.Text})
	}
	return script
}

// Load 读取YAML（或JSON）脚本
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	if err := script.Validate(); err != nil {
		return nil, err
	}
	return &script, nil
}

// Marshal 编码为YAML
func (s *Script) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save 写入文件
func (s *Script) Save(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("encode script: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

func roundOffset(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
