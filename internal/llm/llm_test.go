package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pavelanni/tutorgate/internal/llm/prompts"
	"github.com/pavelanni/tutorgate/internal/model"
)

// fakeCompletions serves chat completions whose content is produced by reply.
func fakeCompletions(t *testing.T, reply func(prompt string) string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&calls, 1)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		content := reply(req.Messages[0].Content)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestSuggestScore(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  int
		fails bool
	}{
		{"in range", `{"score": 6, "feedback": "Good"}`, 6, false},
		{"fractional", `{"score": 6.5, "feedback": "Good"}`, 7, false},
		{"above max", `{"score": 12, "feedback": "Great"}`, 8, false},
		{"negative", `{"score": -1, "feedback": "No"}`, 0, false},
		{"not json", `six points`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := fakeCompletions(t, func(string) string { return tt.reply })
			c := New(srv.URL+"/v1", "key", "test", prompts.PromptStrict)

			s, err := c.SuggestScore(context.Background(), model.Question{Index: 2, Text: "Explain", Type: model.Essay, Points: 8}, "answer")
			if tt.fails {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("SuggestScore: %v", err)
			}
			if s.Score != tt.want || s.Index != 2 || s.Points != 8 {
				t.Errorf("suggestion = %+v, want score %d", s, tt.want)
			}
		})
	}
}

func TestSuggestForAttempt(t *testing.T) {
	srv, calls := fakeCompletions(t, func(prompt string) string {
		if strings.Contains(prompt, "broken") {
			return "oops"
		}
		return `{"score": 3, "feedback": "ok"}`
	})
	c := New(srv.URL+"/v1", "key", "test", "")

	exam := model.Exam{Questions: []model.Question{
		{Index: 0, Text: "2+2", Type: model.MultipleChoice, Options: []string{"4"}, CorrectAnswer: "4", Points: 1},
		{Index: 1, Text: "Essay one", Type: model.Essay, Points: 5},
		{Index: 2, Text: "Short", Type: model.ShortAnswer, Points: 2},
	}}
	a := model.Attempt{
		ID:      "att-1",
		Answers: map[int]string{0: "4", 1: "words", 2: "broken"},
		Results: []model.QuestionResult{
			{Index: 0, Points: 1, Awarded: 1},
			{Index: 1, Points: 5, Pending: true},
			{Index: 2, Points: 2, Pending: true},
		},
	}

	got := c.SuggestForAttempt(context.Background(), exam, a)
	if len(got) != 1 || got[0].Index != 1 || got[0].Score != 3 {
		t.Errorf("suggestions = %+v", got)
	}
	if n := atomic.LoadInt32(calls); n != 2 {
		t.Errorf("API calls = %d, want 2", n)
	}
}
