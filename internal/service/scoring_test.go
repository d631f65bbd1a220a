package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/autograde/internal/domain"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name         string
		reply        string
		wantScore    float64
		wantFeedback string
		wantErr      bool
	}{
		{name: "json object", reply: `{"score": 92, "feedback": "注意空列表"}`, wantScore: 92, wantFeedback: "注意空列表"},
		{name: "json with comment key", reply: `{"score": 88.5, "comment": "ok"}`, wantScore: 88.5, wantFeedback: "ok"},
		{name: "json in fence", reply: "```json\n{\"score\": 95, \"feedback\": \"good\"}\n```", wantScore: 95, wantFeedback: "good"},
		{name: "json surrounded by whitespace", reply: "\n  {\"score\": 100}\n", wantScore: 100},
		{name: "legacy format", reply: "S001-92-注意列表为空时的处理", wantScore: 92, wantFeedback: "注意列表为空时的处理"},
		{name: "legacy feedback with dashes", reply: "S001-90-edge-cases missing", wantScore: 90, wantFeedback: "edge-cases missing"},
		{name: "missing score", reply: `{"feedback": "nice"}`, wantErr: true},
		{name: "null score", reply: `{"score": null}`, wantErr: true},
		{name: "string score", reply: `{"score": "92"}`, wantErr: true},
		{name: "score out of range", reply: `{"score": 120}`, wantErr: true},
		{name: "negative score", reply: `{"score": -1}`, wantErr: true},
		{name: "trailing text", reply: `{"score": 92} I hope this helps`, wantErr: true},
		{name: "leading text", reply: `Here you go: {"score": 92}`, wantErr: true},
		{name: "two objects", reply: `{"score": 92}{"score": 10}`, wantErr: true},
		{name: "non-string feedback", reply: `{"score": 92, "feedback": 3}`, wantErr: true},
		{name: "legacy wrong student", reply: "S002-92-fine", wantErr: true},
		{name: "legacy non-numeric score", reply: "S001-A-fine", wantErr: true},
		{name: "legacy multi-line", reply: "S001-92-fine\nextra", wantErr: true},
		{name: "prose only", reply: "The student did well.", wantErr: true},
		{name: "empty", reply: "   ", wantErr: true},
		{name: "unbalanced fence", reply: "````\n{\"score\": 1}\n```", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, feedback, err := ParseReply("S001", tt.reply, DefaultScoreRange)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedReply))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, score)
			assert.Equal(t, tt.wantFeedback, feedback)
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"nil", nil, ""},
		{"scoring error kind", &ScoringError{Kind: domain.ErrorKindParse, Err: errors.New("x")}, domain.ErrorKindParse},
		{"wrapped scoring error", fmt.Errorf("call: %w", &ScoringError{Kind: domain.ErrorKindTransientScoring, Err: errors.New("x")}), domain.ErrorKindTransientScoring},
		{"deadline", context.DeadlineExceeded, domain.ErrorKindTransientScoring},
		{"canceled", context.Canceled, domain.ErrorKindPermanentScoring},
		{"url canceled", &url.Error{Op: "Post", URL: "http://x", Err: context.Canceled}, domain.ErrorKindPermanentScoring},
		{"net timeout", timeoutErr{}, domain.ErrorKindTransientScoring},
		{"url error", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("connection reset")}, domain.ErrorKindTransientScoring},
		{"plain error", errors.New("bad input"), domain.ErrorKindPermanentScoring},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	transient := []int{408, 425, 429, 500, 502, 503, 504}
	permanent := []int{400, 401, 403, 404, 422}

	for _, code := range transient {
		assert.Equal(t, domain.ErrorKindTransientScoring, ClassifyStatus(code), "status %d", code)
	}
	for _, code := range permanent {
		assert.Equal(t, domain.ErrorKindPermanentScoring, ClassifyStatus(code), "status %d", code)
	}
}

func newTestScorer(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *ChatScorer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewChatScorer(&ScoringConfig{
		BaseURL:  srv.URL,
		APIKey:   "test-key",
		Model:    "test-model",
		Timeout:  timeout,
		ScoreMax: 100,
	})
}

func replyWith(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		})
	}
}

func testTask() domain.GradingTask {
	return domain.GradingTask{
		Submission: domain.Submission{StudentID: "S001", Filename: "S001_hw.py", Content: "print(1)\n"},
		Reference:  "print(1)\n",
	}
}

func TestChatScorer_Score(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq chatRequest
	scorer := newTestScorer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		replyWith(`{"score": 96, "feedback": "很好"}`)(w, r)
	}, time.Second)

	result, err := scorer.Score(context.Background(), testTask())
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "test-model", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Contains(t, gotReq.Messages[1].Content, "S001")

	assert.Equal(t, domain.ProgressStatusSucceeded, result.Status)
	assert.Equal(t, 96.0, result.Score)
	assert.Equal(t, "很好", result.Feedback)
	assert.Nil(t, result.Error)
}

func TestChatScorer_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
		want    domain.ErrorKind
	}{
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit_exceeded"}}`))
			},
			want: domain.ErrorKindTransientScoring,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			want: domain.ErrorKindTransientScoring,
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			want: domain.ErrorKindPermanentScoring,
		},
		{
			name:    "malformed reply",
			handler: replyWith("Score: ninety-two"),
			want:    domain.ErrorKindParse,
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"choices": []}`))
			},
			want: domain.ErrorKindParse,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(time.Second):
				case <-r.Context().Done():
				}
			},
			timeout: 50 * time.Millisecond,
			want:    domain.ErrorKindTransientScoring,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timeout := tt.timeout
			if timeout == 0 {
				timeout = time.Second
			}
			scorer := newTestScorer(t, tt.handler, timeout)

			result, err := scorer.Score(context.Background(), testTask())
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, tt.want, Classify(err))
		})
	}
}
