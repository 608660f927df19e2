package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/radfollowup/wrangler/internal/common"
	"github.com/radfollowup/wrangler/internal/llm"
)

// ExtractFindings implements llm.Extractor using chat/completions.
// HTTP 429, 5xx and timeouts are retried with exponential backoff up to
// the configured budget; anything else, or an exhausted budget, surfaces
// as a fatal extraction error for the caller's section.
func (c *Client) ExtractFindings(ctx context.Context, req llm.ExtractRequest) ([]llm.FindingFields, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"section", req.SectionKind,
		"text_len", len(req.SectionText),
	)

	content, err := c.chat(ctx, rid, llm.BuildSystemPrompt(), llm.BuildUserPrompt(req))
	if err != nil {
		c.log.Error("llm.extract.call_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, nil, err
	}

	items, outcome := llm.DecodeFindings(content, c.log)
	if outcome.Status == llm.OutcomeFailed {
		c.log.Error("llm.extract.decode_failed",
			"req_id", rid, "reason", outcome.Reason,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, content, common.NewAppError(common.CodeExtractionFatal, outcome.Reason, nil)
	}

	if outcome.Status == llm.OutcomeCoerced {
		c.log.Warn("llm.extract.coerced",
			"req_id", rid, "code", common.CodeValidationCoerced, "warnings", len(outcome.Warnings))
	}

	if c.cfg.SelfCheck && len(items) > 0 {
		items = c.selfCheck(ctx, rid, items, req.SectionText)
	}

	c.log.Info("llm.extract.ok",
		"req_id", rid,
		"findings", len(items),
		"outcome", outcome.Status,
		"warnings", len(outcome.Warnings),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return items, content, nil
}

// selfCheck runs the second validation pass. A failed self-check keeps the
// first-pass items: it is a refinement, not a gate.
func (c *Client) selfCheck(ctx context.Context, rid string, items []llm.FindingFields, sectionText string) []llm.FindingFields {
	content, err := c.chat(ctx, rid, "", llm.BuildSelfCheckPrompt(items, sectionText))
	if err != nil {
		c.log.Warn("llm.selfcheck.call_failed", "req_id", rid, "error", err)
		return items
	}
	checked, outcome := llm.DecodeFindings(content, c.log)
	if outcome.Status == llm.OutcomeFailed {
		c.log.Warn("llm.selfcheck.decode_failed", "req_id", rid, "reason", outcome.Reason)
		return items
	}
	c.log.Debug("llm.selfcheck.ok", "req_id", rid, "before", len(items), "after", len(checked))
	return checked
}

// Summarize implements llm.Summarizer for the query engine.
func (c *Client) Summarize(ctx context.Context, question string, contextJSON []byte) (string, error) {
	rid := uuid.New().String()
	content, err := c.chat(ctx, rid, "", llm.BuildSummaryPrompt(question, contextJSON))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(content)), nil
}

// chat sends one completion request and returns the first choice content.
// Retryable failures are re-attempted inside; the returned error is
// already classified.
func (c *Client) chat(ctx context.Context, rid, system, user string) ([]byte, error) {
	messages := []map[string]any{}
	if system != "" {
		messages = append(messages, map[string]any{"role": "system", "content": system})
	}
	messages = append(messages, map[string]any{"role": "user", "content": user})

	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"messages":    messages,
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries)),
		ctx,
	)
	attempt := 0
	var raw []byte
	op := func() error {
		attempt++
		var err error
		raw, err = c.post(ctx, endpoint, body)
		if err == nil {
			return nil
		}
		if common.Retryable(err) {
			c.log.Warn("llm.http.retry", "req_id", rid, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, policy); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		// retry budget exhausted: retryable became fatal for this unit
		return nil, common.NewAppError(common.CodeExtractionFatal, "retry budget exhausted", err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, common.NewAppError(common.CodeExtractionFatal, "decode completion response", err)
	}
	if len(cc.Choices) == 0 {
		return nil, common.NewAppError(common.CodeExtractionFatal, "no choices in completion response", nil)
	}
	return []byte(strings.TrimSpace(cc.Choices[0].Message.Content)), nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, common.NewAppError(common.CodeExtractionRetryable, "request cancelled or timed out", err)
		}
		// transport-level timeouts are retryable
		return nil, common.NewAppError(common.CodeExtractionRetryable, "http send", err)
	}
	defer func(rc io.ReadCloser) {
		if cerr := rc.Close(); cerr != nil {
			c.log.Warn("llm.http.body_close_error", "error", cerr)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5:
		return nil, common.NewAppError(common.CodeExtractionRetryable,
			fmt.Sprintf("status %d", resp.StatusCode), errors.New(truncate(string(raw), 512)))
	case resp.StatusCode/100 != 2:
		return nil, common.NewAppError(common.CodeExtractionFatal,
			fmt.Sprintf("status %d", resp.StatusCode), errors.New(truncate(string(raw), 512)))
	}
	return raw, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
