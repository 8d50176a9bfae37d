package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carlvebbesen/IntervalInsights/internal/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model", MaxRetries: 1}, logger.NewNop())
}

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	reply := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	require.NoError(t, json.NewEncoder(w).Encode(reply))
}

func TestGenerateJSONDecodesContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_schema", req.ResponseFormat.Type)

		chatReply(t, w, `{"answer": 42}`)
	})

	var out struct {
		Answer int `json:"answer"`
	}
	err := c.GenerateJSON(context.Background(), "sys", "user", "test", map[string]any{"type": "object"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 42, out.Answer)
}

func TestGenerateJSONRateLimitSurfacesImmediately(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": "rate limited, retry in 12.5s"}`))
	})

	var out map[string]any
	err := c.GenerateJSON(context.Background(), "sys", "user", "test", map[string]any{"type": "object"}, &out)
	require.Error(t, err)
	assert.True(t, IsRateLimit(err))
	assert.Equal(t, 1, calls, "rate limits must not be retried by the client")
}

func TestGenerateJSONRetriesServerErrors(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		chatReply(t, w, `{"ok": true}`)
	})

	var out map[string]any
	err := c.GenerateJSON(context.Background(), "sys", "user", "test", map[string]any{"type": "object"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGenerateJSONRefusalIsNoResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "", "refusal": "cannot comply"}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(reply))
	})

	var out map[string]any
	err := c.GenerateJSON(context.Background(), "sys", "user", "test", map[string]any{"type": "object"}, &out)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestIsRateLimit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"status 429", &APIError{StatusCode: 429, Body: "slow down"}, true},
		{"body marker", &APIError{StatusCode: 400, Body: "upstream said 429"}, true},
		{"resource exhausted", &APIError{StatusCode: 503, Body: "RESOURCE_EXHAUSTED"}, true},
		{"plain server error", &APIError{StatusCode: 500, Body: "boom"}, false},
		{"other error", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimit(tt.err))
		})
	}
}
