package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/toolloop/internal/llm"
)

const (
	frameInterval = 100 * time.Millisecond
	// Waits shorter than this pass silently.
	minVisibleWait = 500 * time.Millisecond
)

// Spinner shows rate limit pauses. On a terminal it animates a countdown on
// stderr; otherwise it prints one line per pause.
type Spinner struct {
	output *OutputHandler
}

func NewSpinner(output *OutputHandler) *Spinner {
	return &Spinner{output: output}
}

// RateLimitWait blocks for info.Duration or until ctx is done. It has the
// llm.WaitCallback signature.
func (s *Spinner) RateLimitWait(ctx context.Context, info llm.WaitInfo) error {
	switch {
	case info.Duration < minVisibleWait:
		return pause(ctx, info.Duration)
	case !s.output.IsTTY():
		fmt.Fprintf(s.output.errOut, "%s Rate limited: waiting %s%s\n", iconInfo, formatDuration(info.Duration), waitDetail(info))
		return pause(ctx, info.Duration)
	default:
		return s.animate(ctx, info)
	}
}

func (s *Spinner) animate(ctx context.Context, info llm.WaitInfo) error {
	deadline := time.Now().Add(info.Duration)
	tick := time.NewTicker(frameInterval)
	defer tick.Stop()
	defer s.output.clearStatus()

	for frame := 0; ; frame++ {
		left := max(time.Until(deadline), 0)
		s.output.status(s.statusLine(spinnerFrames[frame%len(spinnerFrames)], info, left))
		if left == 0 {
			return nil
		}
		select {
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// statusLine renders "⠹ Rate limited | Retry 2/5 | API returned 429 | 45s remaining".
func (s *Spinner) statusLine(frame string, info llm.WaitInfo, left time.Duration) string {
	o := s.output
	parts := []string{o.paint(accent, frame) + " " + o.paint(waitStyle, "Rate limited")}
	if info.MaxAttempts > 0 {
		parts = append(parts, fmt.Sprintf("Retry %d/%d", info.Attempt, info.MaxAttempts))
	}
	if info.Reason != "" {
		parts = append(parts, info.Reason)
	}
	parts = append(parts, o.paint(bold, formatDuration(left)+" remaining"))
	return strings.Join(parts, o.paint(dim, " | "))
}

// waitDetail is the parenthesised suffix of the non-terminal line.
func waitDetail(info llm.WaitInfo) string {
	var parts []string
	if info.MaxAttempts > 0 {
		parts = append(parts, fmt.Sprintf("retry %d/%d", info.Attempt, info.MaxAttempts))
	}
	if info.Reason != "" {
		parts = append(parts, info.Reason)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// formatDuration renders whole seconds as "45s" or "1m30s".
func formatDuration(d time.Duration) string {
	secs := int(max(d.Round(time.Second), 0) / time.Second)
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm%02ds", secs/60, secs%60)
}
