package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// LocalCoach produces a canned coaching reply when the gateway is disabled
// via config. It streams in small chunks so client-side delta handling can
// be exercised without an API key.
type LocalCoach struct{}

func (LocalCoach) Stream(ctx context.Context, history []Message, onDelta func(string)) (string, error) {
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			last = strings.TrimSpace(history[i].Content)
			break
		}
	}
	if last == "" {
		last = "your question"
	}

	b := &strings.Builder{}
	fmt.Fprintf(b, "Quick take on: %s\n\n", truncate(last, 60))
	fmt.Fprintln(b, "The coach is offline right now, so here is the general playbook:")
	fmt.Fprintln(b, "1) Train 3-4 days a week with compound lifts; leave 1-2 reps in reserve.")
	fmt.Fprintln(b, "2) Warm up joints for 5-10 minutes before loading them.")
	fmt.Fprintln(b, "3) Sleep and protein drive recovery after 40 more than volume ever will.")
	fmt.Fprintln(b, "\nAsk again later for an answer tailored to your training history.")
	full := b.String()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	i := 0
	for i < len(full) {
		if err := ctx.Err(); err != nil {
			return full[:i], &StreamError{Err: err}
		}
		step := 16 + r.Intn(32)
		if i+step > len(full) {
			step = len(full) - i
		}
		part := full[i : i+step]
		if onDelta != nil {
			onDelta(part)
		}
		i += step
		sleepWithContext(ctx, 40*time.Millisecond)
	}
	return full, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
