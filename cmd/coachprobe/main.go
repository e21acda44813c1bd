package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fortivus/pkg/config"
	"fortivus/pkg/gateway"
)

// coachprobe sends a batch of sample questions through the coaching gateway
// and records latency and failure data per question. Used to sanity-check a
// gateway configuration before pointing the app at it.

type PromptItem struct {
	Q string `json:"q"`
}

type ResultItem struct {
	Query      string `json:"query"`
	Response   string `json:"response"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Deltas     int    `json:"deltas"`
	DurationMs int64  `json:"duration_ms"`
	Model      string `json:"model"`
	Timestamp  string `json:"timestamp"`
}

type RunSummary struct {
	StartedAt    string       `json:"started_at"`
	EndedAt      string       `json:"ended_at"`
	Env          string       `json:"env"`
	GatewayOn    bool         `json:"gateway_enabled"`
	Model        string       `json:"model"`
	TotalQueries int          `json:"total_queries"`
	Failures     int          `json:"failures"`
	Results      []ResultItem `json:"results"`
}

func mustReadPrompts() ([]string, error) {
	// Try multiple relative locations to be robust when called via `go run ./cmd/coachprobe`
	candidates := []string{
		"cmd/coachprobe/prompts.json",
		"prompts.json",
		filepath.Join(filepath.Dir(os.Args[0]), "prompts.json"),
	}

	var data []byte
	var err error
	for _, p := range candidates {
		if b, e := os.ReadFile(p); e == nil {
			data = b
			err = nil
			break
		} else {
			err = e
		}
	}
	if data == nil {
		return nil, fmt.Errorf("cannot read prompts.json: %w", err)
	}

	// prompts.json can be either ["q1", "q2", ...] or [{"q": "..."}, ...]
	var arrAny []any
	if e := json.Unmarshal(data, &arrAny); e != nil {
		return nil, fmt.Errorf("invalid prompts.json: %w", e)
	}
	out := make([]string, 0, len(arrAny))
	for _, v := range arrAny {
		switch t := v.(type) {
		case string:
			out = append(out, strings.TrimSpace(t))
		case map[string]any:
			if qv, ok := t["q"].(string); ok {
				out = append(out, strings.TrimSpace(qv))
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("prompts.json is empty or malformed")
	}
	return out, nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func errorKind(err error) string {
	var gerr *gateway.GatewayError
	var serr *gateway.StreamError
	if errors.As(err, &gerr) {
		return string(gerr.Kind)
	}
	if errors.As(err, &serr) {
		return "stream"
	}
	return "other"
}

func main() {
	prompts, err := mustReadPrompts()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var coach interface {
		Stream(ctx context.Context, history []gateway.Message, onDelta func(string)) (string, error)
	}
	if config.IsGatewayEnabled && config.GatewayAPIKey != "" {
		coach = gateway.NewClient(config.GatewayBaseURL, config.GatewayAPIKey, config.GatewayModel)
	} else {
		fmt.Println("gateway disabled; probing the local fallback coach")
		coach = gateway.LocalCoach{}
	}

	sum := RunSummary{
		StartedAt:    time.Now().Format(time.RFC3339),
		Env:          config.AppEnv,
		GatewayOn:    config.IsGatewayEnabled,
		Model:        config.GatewayModel,
		TotalQueries: len(prompts),
	}

	for i, q := range prompts {
		fmt.Printf("[%d/%d] %s\n", i+1, len(prompts), q)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(config.StreamTimeoutSeconds)*time.Second)
		start := time.Now()
		deltas := 0
		full, err := coach.Stream(ctx, []gateway.Message{{Role: "user", Content: q}}, func(string) { deltas++ })
		cancel()

		item := ResultItem{
			Query:      q,
			Response:   full,
			Deltas:     deltas,
			DurationMs: time.Since(start).Milliseconds(),
			Model:      config.GatewayModel,
			Timestamp:  time.Now().Format(time.RFC3339),
		}
		if err != nil {
			item.Error = err.Error()
			item.ErrorKind = errorKind(err)
			sum.Failures++
		}
		sum.Results = append(sum.Results, item)
	}

	sum.EndedAt = time.Now().Format(time.RFC3339)

	out := fmt.Sprintf("coachprobe_%s.json", time.Now().Format("20060102_150405"))
	if err := writeJSON(out, sum); err != nil {
		fmt.Fprintln(os.Stderr, "write results:", err)
		os.Exit(1)
	}
	fmt.Printf("done: %d queries, %d failures -> %s\n", sum.TotalQueries, sum.Failures, out)
}
