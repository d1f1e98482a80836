package replay

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Speed 回放速度倍数
type Speed float64

const (
	SpeedSlow    Speed = 0.5 // 慢速回放
	SpeedNormal  Speed = 1.0 // 原始节奏
	SpeedFast    Speed = 2.0 // 快速回放
	SpeedInstant Speed = 0.0 // 无等待
)

// Config 回放配置
type Config struct {
	Speed Speed
	// MaxGap 两个分片之间的最长等待，0表示不限
	MaxGap time.Duration
	// StopOnError 回调出错时停止，否则记录后继续
	StopOnError bool
}

// Event 一次分片回放
type Event struct {
	Index      int
	Chunk      ScriptChunk
	ReplayTime time.Time
	Delay      time.Duration
}

// Stats 回放统计
type Stats struct {
	StartTime      time.Time     `json:"start_time" yaml:"start_time"`
	EndTime        time.Time     `json:"end_time" yaml:"end_time"`
	Duration       time.Duration `json:"duration" yaml:"duration"`
	TotalChunks    int           `json:"total_chunks" yaml:"total_chunks"`
	ReplayedChunks int           `json:"replayed_chunks" yaml:"replayed_chunks"`
	ErrorChunks    int           `json:"error_chunks" yaml:"error_chunks"`
	PauseCount     int           `json:"pause_count" yaml:"pause_count"`
	TotalPauseTime time.Duration `json:"total_pause_time" yaml:"total_pause_time"`
}

// Callback 处理每个回放分片
type Callback func(ctx context.Context, event *Event) error

var (
	ErrAlreadyPlaying = errors.New("replay is already playing")
	ErrNotPlaying     = errors.New("replay is not playing")
)

// Replayer 脚本回放器，Play后可以Pause/Resume/Stop
type Replayer struct {
	script    *Script
	config    Config
	callbacks []Callback

	mu       sync.RWMutex
	stats    Stats
	playing  bool
	paused   bool
	pausedAt time.Time
	err      error

	resumeCh chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// New 创建回放器
func New(script *Script, config Config) *Replayer {
	if config.Speed < 0 {
		config.Speed = SpeedNormal
	}
	return &Replayer{
		script:   script,
		config:   config,
		resumeCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
		stats:    Stats{TotalChunks: len(script.Chunks)},
	}
}

// AddCallback 添加回调，需在Play之前调用
func (r *Replayer) AddCallback(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Play 在后台开始回放
func (r *Replayer) Play(ctx context.Context) error {
	r.mu.Lock()
	if r.playing || !r.stats.StartTime.IsZero() {
		r.mu.Unlock()
		return ErrAlreadyPlaying
	}
	r.playing = true
	r.stats.StartTime = time.Now()
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	go func() {
		defer close(r.done)
		err := r.loop(ctx)

		r.mu.Lock()
		r.playing = false
		r.err = err
		r.stats.EndTime = time.Now()
		r.stats.Duration = r.stats.EndTime.Sub(r.stats.StartTime)
		r.mu.Unlock()
		r.cancel()
	}()
	return nil
}

func (r *Replayer) loop(ctx context.Context) error {
	for i, chunk := range r.script.Chunks {
		delay := r.delayBefore(i)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := r.waitWhilePaused(ctx); err != nil {
			return err
		}

		event := &Event{Index: i, Chunk: chunk, ReplayTime: time.Now(), Delay: delay}
		if err := r.dispatch(ctx, event); err != nil {
			r.mu.Lock()
			r.stats.ErrorChunks++
			r.mu.Unlock()
			if r.config.StopOnError {
				return err
			}
			continue
		}

		r.mu.Lock()
		r.stats.ReplayedChunks++
		r.mu.Unlock()
	}
	return nil
}

// delayBefore 第i个分片前的等待，按速度缩放并受MaxGap限制
func (r *Replayer) delayBefore(i int) time.Duration {
	if i == 0 || r.config.Speed == SpeedInstant {
		return 0
	}
	gap := r.script.Chunks[i].Offset - r.script.Chunks[i-1].Offset
	delay := time.Duration(gap / float64(r.config.Speed) * float64(time.Second))
	if r.config.MaxGap > 0 && delay > r.config.MaxGap {
		delay = r.config.MaxGap
	}
	return delay
}

func (r *Replayer) waitWhilePaused(ctx context.Context) error {
	for r.IsPaused() {
		select {
		case <-r.resumeCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Replayer) dispatch(ctx context.Context, event *Event) error {
	r.mu.RLock()
	callbacks := append([]Callback(nil), r.callbacks...)
	r.mu.RUnlock()

	for _, cb := range callbacks {
		if err := cb(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Pause 在下一个分片前暂停
func (r *Replayer) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.playing {
		return ErrNotPlaying
	}
	if r.paused {
		return errors.New("replay is already paused")
	}
	r.paused = true
	r.pausedAt = time.Now()
	r.stats.PauseCount++
	return nil
}

// Resume 恢复回放
func (r *Replayer) Resume() error {
	r.mu.Lock()
	if !r.playing {
		r.mu.Unlock()
		return ErrNotPlaying
	}
	if !r.paused {
		r.mu.Unlock()
		return errors.New("replay is not paused")
	}
	r.paused = false
	r.stats.TotalPauseTime += time.Since(r.pausedAt)
	r.mu.Unlock()

	select {
	case r.resumeCh <- struct{}{}:
	default:
	}
	return nil
}

// Stop 取消回放并等待结束
func (r *Replayer) Stop() {
	r.mu.RLock()
	cancel := r.cancel
	r.mu.RUnlock()
	if cancel == nil {
		return
	}
	cancel()
	<-r.done
}

// Wait 等待回放结束，返回导致中止的错误。被Stop取消时返回context.Canceled
func (r *Replayer) Wait() error {
	<-r.done
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Done 回放结束时关闭
func (r *Replayer) Done() <-chan struct{} { return r.done }

// IsPlaying 是否正在回放
func (r *Replayer) IsPlaying() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.playing
}

// IsPaused 是否已暂停
func (r *Replayer) IsPaused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// GetStats 回放统计快照
func (r *Replayer) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := r.stats
	if r.playing {
		stats.Duration = time.Since(stats.StartTime)
	}
	return stats
}
