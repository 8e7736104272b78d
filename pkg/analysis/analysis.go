// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package analysis formats a transcript window into a prompt for an
// OpenAI-compatible text-generation service and returns the service's
// reply. Failures resolve to displayable diagnostic strings; this call
// never raises to the caller.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Thermoquad/sextant/pkg/hexcodec"
	"github.com/Thermoquad/sextant/pkg/transcript"
)

// PromptWindow is how many of the most recent transcript entries are
// included in the analysis request.
const PromptWindow = 100

// DefaultBaseURL is used when no endpoint root is configured.
const DefaultBaseURL = "https://api.openai.com"

// Config identifies the text-generation provider. The request/response
// wire shape is the provider's concern; only OpenAI-compatible endpoints
// are supported.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

const systemPrompt = "You are a serial communications analyst. The user " +
	"will give you a transcript of a serial session: RX lines are bytes " +
	"received from the device, TX lines are bytes sent to it, INFO and " +
	"ERROR lines are session events. Identify the protocol if possible, " +
	"describe what the exchange is doing, and point out anything unusual. " +
	"Be concise."

// BuildPrompt renders the last PromptWindow entries as one line each,
// "KIND: payload", newline-joined. In hex mode the payload is the hex
// dump; otherwise the text with control characters escaped.
func BuildPrompt(entries []transcript.Entry, hexMode bool) string {
	if len(entries) > PromptWindow {
		entries = entries[len(entries)-PromptWindow:]
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Kind.String())
		b.WriteString(": ")
		if hexMode {
			b.WriteString(e.Hex)
		} else {
			b.WriteString(hexcodec.EscapeControl(e.Text))
		}
	}
	return b.String()
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Summarize sends the transcript window to the configured provider and
// returns the reply text verbatim. Every failure (missing credential,
// transport error, non-success status, malformed body) is converted to a
// user-facing diagnostic string.
func Summarize(ctx context.Context, client *http.Client, cfg Config, entries []transcript.Entry, hexMode bool) string {
	if len(entries) == 0 {
		return "Analysis unavailable: transcript is empty."
	}
	if cfg.APIKey == "" {
		return "Analysis unavailable: no API key configured."
	}
	if cfg.Model == "" {
		return "Analysis unavailable: no model configured."
	}
	if client == nil {
		client = http.DefaultClient
	}

	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}

	body, err := json.Marshal(chatRequest{
		Model: cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(entries, hexMode)},
		},
	})
	if err != nil {
		return fmt.Sprintf("Analysis failed: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		base+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Sprintf("Analysis failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Sprintf("Analysis failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Sprintf("Analysis failed: reading response: %v", err)
	}

	var parsed chatResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return fmt.Sprintf("Analysis failed: %s: %s", resp.Status, parsed.Error.Message)
		}
		return fmt.Sprintf("Analysis failed: %s", resp.Status)
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Sprintf("Analysis failed: malformed response: %v", err)
	}
	if len(parsed.Choices) == 0 {
		return "Analysis failed: response contained no choices."
	}
	return parsed.Choices[0].Message.Content
}
