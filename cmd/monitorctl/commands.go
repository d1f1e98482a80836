package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"InterviewMonitor/internal/apiclient"
	"InterviewMonitor/internal/loadtest"
	"InterviewMonitor/internal/monitor"
	"InterviewMonitor/internal/replay"
	"InterviewMonitor/internal/wsclient"
)

// globalOptions 所有子命令共享的连接参数
type globalOptions struct {
	server  string
	token   string
	userID  string
	role    string
	output  string
	timeout time.Duration
}

func (o *globalOptions) client() *apiclient.Client {
	return apiclient.New(apiclient.Config{
		BaseURL: o.server,
		Token:   o.token,
		UserID:  o.userID,
		Role:    strings.ToUpper(o.role),
		Timeout: o.timeout,
	})
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "monitorctl",
		Short:         "Drive live interview monitoring sessions over the HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case outputText, outputJSON, outputYAML:
				return nil
			default:
				return fmt.Errorf("invalid --output %q: want text, json or yaml", opts.output)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("MONITOR_SERVER", "http://127.0.0.1:8080"), "monitoring service base URL")
	flags.StringVar(&opts.token, "token", envOr("MONITOR_TOKEN", "dev-token"), "bearer token")
	flags.StringVar(&opts.userID, "user", envOr("MONITOR_USER", "monitorctl"), "caller user id")
	flags.StringVar(&opts.role, "role", envOr("MONITOR_ROLE", "HR"), "caller role")
	flags.StringVarP(&opts.output, "output", "o", outputText, "output format: text, json or yaml")
	flags.DurationVar(&opts.timeout, "timeout", 60*time.Second, "per request timeout")

	root.AddCommand(
		newStartCmd(opts),
		newIngestCmd(opts),
		newEndCmd(opts),
		newSessionCmd(opts),
		newLiveCmd(opts),
		newWatchCmd(opts),
		newLoadCmd(opts),
		newRecordCmd(opts),
		newReplayCmd(opts),
		newHealthCmd(opts),
	)
	return root
}

func newStartCmd(opts *globalOptions) *cobra.Command {
	var req apiclient.StartMonitoringRequest

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start monitoring an interview",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().StartMonitoring(cmd.Context(), req)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, res, func(p *printer) {
				p.line("Session ID: %s", res.SessionID)
				p.line("Status: %s", res.Status)
				p.line("Platform: %s", res.MeetingPlatform)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.InterviewID, "interview", "", "interview id")
	flags.StringVar(&req.MeetingLink, "link", "", "meeting link")
	flags.StringVar(&req.MeetingPlatform, "platform", "", "meeting platform (detected from link when empty)")
	flags.StringSliceVar(&req.JobRequirements, "requirement", nil, "job requirement override (repeatable)")
	flags.StringVar(&req.CandidateName, "candidate", "", "candidate name override")
	cmd.MarkFlagRequired("interview")
	cmd.MarkFlagRequired("link")
	return cmd
}

func newIngestCmd(opts *globalOptions) *cobra.Command {
	var (
		text      string
		audio     string
		timestamp float64
	)

	cmd := &cobra.Command{
		Use:   "ingest <session-id>",
		Short: "Submit one transcript chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" && audio == "" {
				return errors.New("either --text or --audio is required")
			}
			req := apiclient.ProcessAudioRequest{SessionID: args[0], Transcript: text, AudioData: audio}
			if cmd.Flags().Changed("timestamp") {
				req.Timestamp = &timestamp
			}
			res, err := opts.client().ProcessAudio(cmd.Context(), req)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, res, func(p *printer) {
				p.line("Current: %.2f", res.CurrentScore)
				p.line("Average: %.2f", res.AverageScore)
				p.line("Trend: %s", res.Trend)
				if res.Analysis != nil {
					p.line("Source: %s", res.Analysis.Source)
					p.line("Sentiment: %s (%.2f)", res.Analysis.Sentiment.Label, res.Analysis.Sentiment.Score)
				}
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&text, "text", "", "transcript text")
	flags.StringVar(&audio, "audio", "", "opaque audio payload")
	flags.Float64Var(&timestamp, "timestamp", 0, "chunk timestamp in seconds")
	return cmd
}

func newEndCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "end <session-id>",
		Short: "End monitoring and print the final report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().EndMonitoring(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, res, func(p *printer) {
				p.line("Session ID: %s", res.SessionID)
				p.line("Transcript ID: %s", res.TranscriptID)
				p.report(res.Report)
			})
		},
	}
}

func newSessionCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "session <session-id>",
		Short: "Show the full session record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, res, func(p *printer) {
				s := res.Session
				p.line("Session ID: %s", s.SessionID)
				p.line("Interview ID: %s", s.InterviewID)
				p.line("Status: %s", s.Status)
				p.line("Chunks: %d", len(s.Transcript))
				p.line("Current: %.2f  Average: %.2f  Trend: %s", s.Scores.Current, s.Scores.Average, s.Scores.Trend)
				if s.Scores.Final != nil {
					p.line("Final: %.2f", *s.Scores.Final)
				}
				for _, e := range s.Transcript {
					p.line("  [%7.1fs] %s", e.Timestamp, e.Text)
				}
			})
		},
	}
}

func newLiveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "live <session-id>",
		Short: "Show the live status snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Live(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, res, func(p *printer) {
				p.status(res)
			})
		},
	}
}

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var untilCompleted bool

	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Stream live status updates over WebSocket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			cfg := wsclient.DefaultClientConfig(opts.client().LiveStreamURL(args[0]))
			cfg.CloseOnCompleted = untilCompleted
			sub := wsclient.New(cfg)
			sub.SetStatusHandler(func(s *monitor.LiveStatus) {
				render(out, opts.output, s, func(p *printer) { p.status(s) })
			})
			sub.SetStateChangeHandler(func(oldState, newState wsclient.ClientState) {
				fmt.Fprintf(cmd.ErrOrStderr(), "connection: %s -> %s\n", oldState, newState)
			})

			if err := sub.Connect(ctx); err != nil {
				return err
			}
			defer sub.Close()

			select {
			case <-sub.Done():
			case <-ctx.Done():
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&untilCompleted, "until-completed", true, "exit once the session reports COMPLETED")
	return cmd
}

func newLoadCmd(opts *globalOptions) *cobra.Command {
	cfg := loadtest.DefaultConfig()
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Run concurrent full sessions and report latency percentiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cfg.InterviewIDs) == 0 {
				return errors.New("at least one --interview is required")
			}
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			res, err := loadtest.NewRunner(opts.client(), cfg).Run(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, res, func(p *printer) {
				p.line("Sessions: %d completed, %d failed (of %d)", res.CompletedSessions, res.FailedSessions, res.Sessions)
				p.line("Chunks: %d remote, %d fallback (%.1f/s)", res.RemoteChunks, res.FallbackChunks, res.ChunksPerSecond)
				p.line("Average final score: %.2f", res.AvgFinalScore)
				p.line("Duration: %v", res.Duration)
				for _, op := range []string{loadtest.OpStart, loadtest.OpIngest, loadtest.OpEnd} {
					if s, ok := res.Latency[op]; ok {
						p.line("  %-7s n=%-5d avg=%.1fms p50=%.1fms p95=%.1fms p99=%.1fms max=%.1fms",
							op, s.Count, s.Avg, s.P50, s.P95, s.P99, s.Max)
					}
				}
				for code, n := range res.ErrorsByCode {
					p.line("  error %s: %d", code, n)
				}
			})
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&cfg.InterviewIDs, "interview", nil, "interview ids, used round-robin (repeatable)")
	flags.IntVar(&cfg.Sessions, "sessions", cfg.Sessions, "total sessions")
	flags.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "concurrent sessions")
	flags.IntVar(&cfg.ChunksPerSession, "chunks", cfg.ChunksPerSession, "chunks per session")
	flags.DurationVar(&cfg.ChunkInterval, "interval", 0, "pause between chunks of one session")
	flags.Float64Var(&cfg.ChunkRate, "rate", 0, "overall chunk rate limit per second (0 = unlimited)")
	flags.DurationVar(&duration, "duration", 0, "stop dispatching sessions after this long")
	return cmd
}

func newRecordCmd(opts *globalOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "record <session-id>",
		Short: "Save a session transcript as a replay script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := replay.Record(cmd.Context(), opts.client(), args[0])
			if err != nil {
				return err
			}
			if file == "" {
				data, err := script.Marshal()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := script.Save(file); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d chunks (%v) to %s\n", len(script.Chunks), script.Duration(), file)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "write the script to this file instead of stdout")
	return cmd
}

func newReplayCmd(opts *globalOptions) *cobra.Command {
	var (
		speed       float64
		maxGap      time.Duration
		stopOnError bool
		interviewID string
	)

	cmd := &cobra.Command{
		Use:   "replay <script.yaml>",
		Short: "Replay a recorded script into a new session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := replay.Load(args[0])
			if err != nil {
				return err
			}
			if interviewID != "" {
				script.InterviewID = interviewID
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errOut := cmd.ErrOrStderr()
			cfg := replay.Config{Speed: replay.Speed(speed), MaxGap: maxGap, StopOnError: stopOnError}
			outcome, err := replay.Run(ctx, opts.client(), script, cfg, func(ev *replay.Event, res *monitor.IngestResult) {
				fmt.Fprintf(errOut, "chunk %d/%d current=%.2f average=%.2f trend=%s\n",
					ev.Index+1, len(script.Chunks), res.CurrentScore, res.AverageScore, res.Trend)
			})
			if outcome == nil {
				return err
			}
			if renderErr := render(cmd.OutOrStdout(), opts.output, outcome, func(p *printer) {
				p.line("Session ID: %s", outcome.SessionID)
				p.line("Replayed: %d/%d chunks in %v", outcome.Stats.ReplayedChunks, outcome.Stats.TotalChunks, outcome.Stats.Duration)
				p.report(outcome.End.Report)
			}); renderErr != nil {
				return renderErr
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.Float64Var(&speed, "speed", float64(replay.SpeedNormal), "playback speed multiplier (0 = no waiting)")
	flags.DurationVar(&maxGap, "max-gap", 0, "cap on the wait between chunks")
	flags.BoolVar(&stopOnError, "stop-on-error", false, "abort on the first failed chunk")
	flags.StringVar(&interviewID, "interview", "", "override the interview id from the script")
	return cmd
}

func newHealthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, res, func(p *printer) {
				p.line("Status: %v", res["status"])
				if checks, ok := res["checks"].(map[string]interface{}); ok {
					for name, v := range checks {
						p.line("  %s: %v", name, v)
					}
				}
			})
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
