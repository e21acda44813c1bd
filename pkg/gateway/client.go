package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"

	systemPrompt = "You are the Fortivus Coach, an expert strength and conditioning coach for men over 40. " +
		"Give practical, structured advice about training, recovery, nutrition, and joint health. " +
		"Be encouraging and specific, and ask one short clarifying question when the context is not enough."
)

// Message is one turn of coaching context on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client streams coaching replies from an OpenAI-style chat completion
// gateway. One call to Stream is one request; a stream cannot be resumed
// mid-flight, only restarted.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	httpc   *http.Client
}

func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		model:   model,
		httpc:   http.DefaultClient,
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Stream posts the history and invokes onDelta for every content fragment
// as it arrives, in network byte order. It returns the full assembled reply.
// A non-2xx status yields a *GatewayError before any delta; a read failure
// after that yields a *StreamError together with whatever was assembled.
func (c *Client) Stream(ctx context.Context, history []Message, onDelta func(string)) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		log.Printf("[gateway] GATEWAY_API_KEY is not set")
		return "", fmt.Errorf("GATEWAY_API_KEY is not set")
	}

	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, Message{Role: "system", Content: systemPrompt})
	msgs = append(msgs, history...)

	bodyBytes, err := json.Marshal(chatRequest{Model: c.model, Messages: msgs, Stream: true})
	if err != nil {
		return "", err
	}

	url := c.baseURL + "/chat/completions"
	log.Printf("[gateway] streaming model %s", c.model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return "", &GatewayError{
			Kind:   classifyStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(b)),
		}
	}

	return c.readStream(resp.Body, onDelta)
}

// readStream decodes the newline-framed body. Network reads do not align
// with frame boundaries, so bytes after the last newline stay in the pending
// buffer until a later read completes the frame.
func (c *Client) readStream(body io.Reader, onDelta func(string)) (string, error) {
	full := strings.Builder{}
	buf := make([]byte, 4096)
	var pending []byte

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := string(pending[:i])
				pending = pending[i+1:]
				done := c.consumeLine(line, &full, onDelta)
				if done {
					return full.String(), nil
				}
			}
		}
		if rerr == io.EOF {
			// leftover without trailing newline is still a full frame
			if len(pending) > 0 {
				c.consumeLine(string(pending), &full, onDelta)
			}
			return full.String(), nil
		}
		if rerr != nil {
			return full.String(), &StreamError{Err: rerr}
		}
	}
}

// consumeLine handles one complete frame. Returns true on the terminal
// sentinel.
func (c *Client) consumeLine(line string, full *strings.Builder, onDelta func(string)) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	data, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return false
	}
	data = strings.TrimSpace(data)
	if data == doneMarker {
		return true
	}

	var frame struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		log.Printf("[gateway] skipping malformed frame: %v", err)
		return false
	}
	for _, ch := range frame.Choices {
		if ch.Delta.Content == "" {
			continue
		}
		full.WriteString(ch.Delta.Content)
		if onDelta != nil {
			onDelta(ch.Delta.Content)
		}
	}
	return false
}
