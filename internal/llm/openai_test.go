package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionJSON = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-3.5-turbo",
	"choices": [{
		"index": 0,
		"message": {"role": "assistant", "content": %q},
		"finish_reason": "stop"
	}]
}`

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// fakeOpenAI answers /v1/chat/completions with handle and counts calls.
func fakeOpenAI(t *testing.T, handle func(w http.ResponseWriter, call int32, req chatRequest)) (*OpenAIProvider, *int32) {
	t.Helper()
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req chatRequest
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)

		w.Header().Set("Content-Type", "application/json")
		handle(w, atomic.AddInt32(&calls, 1), req)
	}))
	t.Cleanup(srv.Close)

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	return p, &calls
}

// reply writes a successful completion. %q matches JSON escaping for ASCII.
func reply(w http.ResponseWriter, content string) {
	_, _ = fmt.Fprintf(w, completionJSON, content)
}

func failWith(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"error","code":"x"}}`)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =========================================================================
// OpenAIProvider
// =========================================================================

func TestOpenAI_Complete(t *testing.T) {
	var seen chatRequest
	p, calls := fakeOpenAI(t, func(w http.ResponseWriter, _ int32, req chatRequest) {
		seen = req
		reply(w, "Hello! How can I help?")
	})

	out, err := p.Complete(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)

	assert.Equal(t, "Hello! How can I help?", out)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
	assert.Equal(t, DefaultModel, seen.Model)
	require.Len(t, seen.Messages, 1)
	assert.Equal(t, "user", seen.Messages[0].Role)
	assert.Equal(t, "hi", seen.Messages[0].Content)
}

func TestOpenAI_SystemPromptGoesFirst(t *testing.T) {
	var seen chatRequest
	p, _ := fakeOpenAI(t, func(w http.ResponseWriter, _ int32, req chatRequest) {
		seen = req
		reply(w, "ok")
	})

	_, err := p.Complete(context.Background(), []Message{SystemMessage("be brief"), UserMessage("hi")})
	require.NoError(t, err)

	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, "user", seen.Messages[1].Role)
}

func TestOpenAI_Model(t *testing.T) {
	assert.Equal(t, DefaultModel, NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"}).Model())
	assert.Equal(t, "gpt-4o-mini", NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o-mini"}).Model())
}

func TestOpenAI_EmptyReply(t *testing.T) {
	p, _ := fakeOpenAI(t, func(w http.ResponseWriter, _ int32, _ chatRequest) {
		reply(w, "   ")
	})

	_, err := p.Complete(context.Background(), []Message{UserMessage("hi")})
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestOpenAI_NoSDKRetries(t *testing.T) {
	p, calls := fakeOpenAI(t, func(w http.ResponseWriter, _ int32, _ chatRequest) {
		failWith(w, http.StatusServiceUnavailable)
	})

	_, err := p.Complete(context.Background(), []Message{UserMessage("hi")})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
	assert.True(t, IsTransient(err))
}

// =========================================================================
// WithRetry
// =========================================================================

func TestRetry_RecoversFromRateLimit(t *testing.T) {
	p, calls := fakeOpenAI(t, func(w http.ResponseWriter, call int32, _ chatRequest) {
		if call <= 2 {
			failWith(w, http.StatusTooManyRequests)
			return
		}
		reply(w, "finally")
	})

	rp := WithRetry(p, RetryConfig{Attempts: 3, BaseDelay: time.Millisecond}, testLogger())
	out, err := rp.Complete(context.Background(), []Message{UserMessage("hi")})

	require.NoError(t, err)
	assert.Equal(t, "finally", out)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
}

func TestRetry_GivesUpAfterAttempts(t *testing.T) {
	p, calls := fakeOpenAI(t, func(w http.ResponseWriter, _ int32, _ chatRequest) {
		failWith(w, http.StatusBadGateway)
	})

	rp := WithRetry(p, RetryConfig{Attempts: 2, BaseDelay: time.Millisecond}, testLogger())
	_, err := rp.Complete(context.Background(), []Message{UserMessage("hi")})

	require.Error(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestRetry_AuthErrorIsNotRetried(t *testing.T) {
	p, calls := fakeOpenAI(t, func(w http.ResponseWriter, _ int32, _ chatRequest) {
		failWith(w, http.StatusUnauthorized)
	})

	rp := WithRetry(p, RetryConfig{Attempts: 5, BaseDelay: time.Millisecond}, testLogger())
	_, err := rp.Complete(context.Background(), []Message{UserMessage("hi")})

	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestRetry_StopsOnContextDeadline(t *testing.T) {
	var calls int32
	slow := ProviderFunc(func(ctx context.Context, _ []Message) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return "", ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	rp := WithRetry(slow, RetryConfig{Attempts: 5, BaseDelay: time.Millisecond}, testLogger())
	_, err := rp.Complete(ctx, []Message{UserMessage("hi")})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"net op error", &netTimeout{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

// netTimeout satisfies net.Error.
type netTimeout struct{}

func (*netTimeout) Error() string   { return "i/o timeout" }
func (*netTimeout) Timeout() bool   { return true }
func (*netTimeout) Temporary() bool { return true }
