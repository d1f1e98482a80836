package app

import (
	"context"
	"fmt"
	"time"

	"InterviewMonitor/internal/logger"
	"InterviewMonitor/internal/monitor"
	"InterviewMonitor/internal/store"
)

// DemoInterviewID 演示模式预置的面试
const DemoInterviewID = "demo-interview"

// DemoInterviews 演示用面试记录
func DemoInterviews() []*monitor.Interview {
	scheduled := time.Now().UTC().Truncate(time.Minute)
	return []*monitor.Interview{
		{
			ID:              DemoInterviewID,
			JobPostingID:    "demo-job",
			CandidateID:     "demo-candidate",
			JobTitle:        "Backend Engineer",
			JobRequirements: []string{"Go", "PostgreSQL", "Kubernetes"},
			CandidateName:   "Alex Kim",
			ScheduledAt:     &scheduled,
			InterviewType:   "VIDEO",
			Duration:        60,
			Status:          "SCHEDULED",
		},
	}
}

// SeedDemo 写入演示面试
func SeedDemo(ctx context.Context, w store.InterviewWriter) error {
	for _, iv := range DemoInterviews() {
		if err := w.PutInterview(ctx, iv); err != nil {
			return fmt.Errorf("seed interview %s: %w", iv.ID, err)
		}
	}
	logger.LogInfo(logModule, "", fmt.Sprintf("已预置演示面试 %s", DemoInterviewID))
	return nil
}
