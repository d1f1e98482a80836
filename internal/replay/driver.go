package replay

import (
	"context"
	"fmt"

	"InterviewMonitor/internal/apiclient"
	"InterviewMonitor/internal/logger"
	"InterviewMonitor/internal/monitor"
)

const logModule = "Replay"

// Outcome 一次完整回放的结果
type Outcome struct {
	SessionID string             `json:"session_id" yaml:"session_id"`
	End       *monitor.EndResult `json:"end" yaml:"end"`
	Stats     Stats              `json:"stats" yaml:"stats"`
}

// Record 读取已有会话并生成脚本
func Record(ctx context.Context, client *apiclient.Client, sessionID string) (*Script, error) {
	view, err := client.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return FromSession(view.Session), nil
}

// Run 新建会话，按脚本回放所有分片后结束会话。onChunk可为nil
func Run(ctx context.Context, client *apiclient.Client, script *Script, config Config, onChunk func(*Event, *monitor.IngestResult)) (*Outcome, error) {
	if err := script.Validate(); err != nil {
		return nil, err
	}

	started, err := client.StartMonitoring(ctx, apiclient.StartMonitoringRequest{
		InterviewID:     script.InterviewID,
		MeetingLink:     script.MeetingLink,
		MeetingPlatform: script.MeetingPlatform,
	})
	if err != nil {
		return nil, fmt.Errorf("start monitoring: %w", err)
	}
	logger.LogInfo(logModule, started.SessionID, fmt.Sprintf("▶️ 开始回放 %d 个分片 (speed=%.1f)", len(script.Chunks), config.Speed))

	r := New(script, config)
	r.AddCallback(func(ctx context.Context, ev *Event) error {
		res, err := client.ProcessAudio(ctx, apiclient.ProcessAudioRequest{
			SessionID:  started.SessionID,
			Transcript: ev.Chunk.Text,
		})
		if err != nil {
			logger.LogWarning(logModule, started.SessionID, fmt.Sprintf("分片 %d 回放失败: %v", ev.Index, err))
			return err
		}
		if onChunk != nil {
			onChunk(ev, res)
		}
		return nil
	})
	if err := r.Play(ctx); err != nil {
		return nil, err
	}
	replayErr := r.Wait()

	// 回放中断也结束会话，避免留下悬挂的监控
	end, err := client.EndMonitoring(context.WithoutCancel(ctx), started.SessionID)
	if err != nil {
		return nil, fmt.Errorf("end monitoring: %w", err)
	}

	out := &Outcome{SessionID: started.SessionID, End: end, Stats: r.GetStats()}
	if replayErr != nil {
		return out, fmt.Errorf("replay interrupted: %w", replayErr)
	}
	logger.LogSuccess(logModule, started.SessionID, fmt.Sprintf("✅ 回放完成: %d/%d 分片", out.Stats.ReplayedChunks, out.Stats.TotalChunks))
	return out, nil
}
