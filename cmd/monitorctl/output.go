package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"InterviewMonitor/internal/monitor"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// render 按格式输出。yaml先经过JSON转换，保持与API一致的字段名
func render(w io.Writer, format string, v interface{}, text func(p *printer)) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		p := &printer{w: w}
		text(p)
		return p.err
	}
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) status(s *monitor.LiveStatus) {
	p.line("[%s] chunks=%d current=%.2f average=%.2f trend=%s",
		s.Status, s.TranscriptLength, s.CurrentScore, s.AverageScore, s.Trend)
}

func (p *printer) report(r *monitor.Report) {
	if r == nil {
		p.line("Report: none")
		return
	}
	if r.OverallScore != nil {
		p.line("Overall: %.2f", *r.OverallScore)
	} else {
		p.line("Overall: n/a")
	}
	p.line("Source: %s", r.Source)
	p.line("Responses: %d  Analysis points: %d", r.TotalResponses, r.AnalysisPoints)
	p.line("Technical skills: %s", strings.Join(r.TechnicalSkillsMentioned, ", "))
	p.list("Strengths", r.Strengths)
	p.list("Weaknesses", r.Weaknesses)
	p.list("Recommendations", r.Recommendations)
}

func (p *printer) list(title string, items []string) {
	if len(items) == 0 {
		return
	}
	p.line("%s:", title)
	for _, it := range items {
		p.line("  - %s", it)
	}
}
