// Package proxy forwards inference requests across the shared credential
// pool. Each request tries up to pool-size distinct credentials, classifying
// every upstream outcome back into the pool's health state machine. The pool
// lock is only taken inside selection and outcome reporting, never while an
// upstream call is in flight.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"api-farm/internal/keypool"
	"api-farm/internal/model"
	"api-farm/internal/queue"
	queue_publisher "api-farm/internal/service"
)

// ErrUpstreamUnavailable is returned after every attempted credential failed.
// Per-attempt detail is logged, not surfaced to the caller.
var ErrUpstreamUnavailable = errors.New("all upstream attempts failed")

// Message is one role/content pair of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the validated inference request accepted at the boundary.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// Usage carries the upstream token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the normalized response: first-choice content plus usage.
type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// upstreamResponse is the subset of the OpenAI-compatible wire format we read.
type upstreamResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Router selects credentials and forwards chat-completion calls.
type Router struct {
	pool    *keypool.Pool
	client  *http.Client
	timeout time.Duration
}

// New builds a Router with a shared HTTP client. The per-call timeout bounds
// every upstream attempt; there is no other cancellation mechanism.
func New(pool *keypool.Pool, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Router{
		pool:    pool,
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Completion routes one inference request across the pool. It fails fast
// with ErrPoolExhausted when nothing is eligible, and with
// ErrUpstreamUnavailable once every distinct candidate has been tried.
func (r *Router) Completion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	size := r.pool.Size()
	tried := make(map[string]struct{}, size)
	attempted := false

	for len(tried) < size {
		cred, err := r.pool.SelectForUse()
		if err != nil {
			if errors.Is(err, keypool.ErrPoolExhausted) && attempted {
				// Candidates were consumed by failures during this request.
				break
			}
			return nil, err
		}
		if _, seen := tried[cred.ID]; seen {
			// Round-robin wrapped back to a credential this request
			// already used; nothing new left to try.
			break
		}
		tried[cred.ID] = struct{}{}
		attempted = true

		resp, err := r.callUpstream(ctx, cred, req)
		if err == nil {
			if _, rerr := r.pool.ReportOutcome(cred.ID, keypool.OutcomeSuccess); rerr != nil {
				slog.Warn("report success outcome", "credential", cred.ID, "error", rerr)
			}
			return resp, nil
		}

		// A dead caller context means the client went away or its own
		// deadline passed; that says nothing about credential health, so
		// no outcome is recorded. The per-call timeout expires on its
		// derived context only and still counts as transient below.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("inference request aborted: %w", ctx.Err())
		}

		outcome := keypool.OutcomeTransientFailure
		var rejected *rejectedError
		if errors.As(err, &rejected) {
			outcome = keypool.OutcomeDefinitiveFailure
		}
		updated, rerr := r.pool.ReportOutcome(cred.ID, outcome)
		if rerr != nil && !errors.Is(rerr, keypool.ErrNotFound) {
			slog.Warn("report failure outcome", "credential", cred.ID, "error", rerr)
		}
		slog.Warn("upstream attempt failed", "credential", cred.ID, "endpoint", cred.Endpoint, "error", err)

		if rerr == nil && outcome == keypool.OutcomeDefinitiveFailure && updated.Status == model.StatusDisabled {
			_ = queue_publisher.PublishKeyDisabled(ctx, queue.KeyDisabledEvent{
				CredentialID: updated.ID,
				OwnerID:      updated.OwnerID,
				MaskedValue:  maskValue(updated.Value),
				Endpoint:     updated.Endpoint,
				Reason:       err.Error(),
				DisabledAt:   time.Now().UTC(),
			})
		}
	}

	if !attempted {
		return nil, keypool.ErrPoolExhausted
	}
	return nil, ErrUpstreamUnavailable
}

// rejectedError marks an authentication or quota rejection: definitive, the
// credential is done for.
type rejectedError struct {
	status int
	body   string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("upstream rejected credential: status %d: %s", e.status, e.body)
}

// callUpstream performs one bounded chat-completion call with one credential.
func (r *Router) callUpstream(ctx context.Context, cred model.Credential, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	url := strings.TrimRight(cred.Endpoint, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cred.Value)

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		// Timeout or transport failure; the next candidate gets a shot.
		return nil, fmt.Errorf("upstream call: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		switch httpResp.StatusCode {
		case http.StatusUnauthorized, http.StatusPaymentRequired,
			http.StatusForbidden, http.StatusTooManyRequests:
			return nil, &rejectedError{status: httpResp.StatusCode, body: string(snippet)}
		default:
			return nil, fmt.Errorf("upstream status %d: %s", httpResp.StatusCode, snippet)
		}
	}

	var parsed upstreamResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("upstream response has no choices")
	}
	return &ChatResponse{
		Content: parsed.Choices[0].Message.Content,
		Usage:   parsed.Usage,
	}, nil
}

// maskValue keeps just enough of a key for its owner to recognize it.
func maskValue(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}
