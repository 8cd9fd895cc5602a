package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"api-farm/internal/keypool"
	"api-farm/internal/store"
)

func newTestPool(t *testing.T) *keypool.Pool {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	state, err := fs.Load()
	require.NoError(t, err)
	return keypool.New(fs, state.Credentials, keypool.Config{})
}

func okUpstream(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer ")

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Model)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
			"usage": map[string]any{
				"prompt_tokens": 7, "completion_tokens": 5, "total_tokens": 12,
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func statusUpstream(t *testing.T, status int, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		http.Error(w, `{"error":"nope"}`, status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testRequest() ChatRequest {
	return ChatRequest{
		Model:    "meta/llama-3.1-8b-instruct",
		Messages: []Message{{Role: "user", Content: "hello"}},
	}
}

func TestCompletion_Success(t *testing.T) {
	pool := newTestPool(t)
	up := okUpstream(t, "hi there")
	_, err := pool.Add("alice", "sk-a", up.URL)
	require.NoError(t, err)

	r := New(pool, time.Second)
	resp, err := r.Completion(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, 7, resp.Usage.PromptTokens)
	assert.Equal(t, 5, resp.Usage.CompletionTokens)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestCompletion_EmptyPool(t *testing.T) {
	r := New(newTestPool(t), time.Second)
	_, err := r.Completion(context.Background(), testRequest())
	assert.ErrorIs(t, err, keypool.ErrPoolExhausted)
}

func TestCompletion_FailsOverOnDefinitiveRejection(t *testing.T) {
	pool := newTestPool(t)
	var badCalls atomic.Int64
	bad := statusUpstream(t, http.StatusUnauthorized, &badCalls)
	good := okUpstream(t, "served by good key")

	_, err := pool.Add("alice", "sk-bad", bad.URL)
	require.NoError(t, err)
	_, err = pool.Add("alice", "sk-good", good.URL)
	require.NoError(t, err)

	r := New(pool, time.Second)

	// The rejected key is disabled and the request still succeeds.
	resp, err := r.Completion(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "served by good key", resp.Content)
	assert.EqualValues(t, 1, badCalls.Load())

	// The disabled key never gets traffic again.
	for i := 0; i < 5; i++ {
		_, err := r.Completion(context.Background(), testRequest())
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, badCalls.Load())
}

func TestCompletion_AllTransientFailures(t *testing.T) {
	pool := newTestPool(t)
	var calls1, calls2 atomic.Int64
	up1 := statusUpstream(t, http.StatusInternalServerError, &calls1)
	up2 := statusUpstream(t, http.StatusBadGateway, &calls2)

	_, err := pool.Add("alice", "sk-1", up1.URL)
	require.NoError(t, err)
	_, err = pool.Add("alice", "sk-2", up2.URL)
	require.NoError(t, err)

	r := New(pool, time.Second)
	_, err = r.Completion(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrUpstreamUnavailable)

	// Each distinct credential is tried exactly once per request.
	assert.EqualValues(t, 1, calls1.Load())
	assert.EqualValues(t, 1, calls2.Load())
}

func TestCompletion_TimeoutIsTransient(t *testing.T) {
	pool := newTestPool(t)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	t.Cleanup(slow.Close)

	_, err := pool.Add("alice", "sk-slow", slow.URL)
	require.NoError(t, err)

	r := New(pool, 50*time.Millisecond)
	start := time.Now()
	_, err = r.Completion(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Less(t, time.Since(start), 250*time.Millisecond, "call must be bounded by the per-call timeout")
}

func TestCompletion_CallerCancellationChargesNoCredential(t *testing.T) {
	pool := newTestPool(t)
	up := okUpstream(t, "still fine")
	_, err := pool.Add("alice", "sk-a", up.URL)
	require.NoError(t, err)

	r := New(pool, time.Second)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		_, err := r.Completion(cancelled, testRequest())
		require.ErrorIs(t, err, context.Canceled)
	}

	// A hung-up client says nothing about credential health: the key is
	// still active and the next real request succeeds.
	c, err := pool.SelectForUse()
	require.NoError(t, err)
	assert.Equal(t, "sk-a", c.Value)

	resp, err := r.Completion(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "still fine", resp.Content)
}

func TestCompletion_MalformedUpstreamBody(t *testing.T) {
	pool := newTestPool(t)
	garbled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	t.Cleanup(garbled.Close)

	_, err := pool.Add("alice", "sk-garbled", garbled.URL)
	require.NoError(t, err)

	r := New(pool, time.Second)
	_, err = r.Completion(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}
