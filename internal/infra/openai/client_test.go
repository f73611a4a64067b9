package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCreateChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("неожиданный путь %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("неожиданный Authorization: %q", got)
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("не ожидали ошибку: %v", err)
		}
		if req.Model != "gpt-test" || len(req.Messages) != 2 {
			t.Errorf("неожиданный запрос: %+v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Hello  "}}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`))
	}))
	defer srv.Close()

	client := NewClient("key", srv.URL+"/", time.Second)
	resp, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{
		Model:    "gpt-test",
		Messages: []ChatMessage{{Role: RoleSystem, Content: "s"}, {Role: RoleUser, Content: "u"}},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	text, err := resp.Text()
	if err != nil || text != "Hello" {
		t.Fatalf("ожидали Hello, получили %q (%v)", text, err)
	}
}

func TestCreateChatCompletionAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	_, err := NewClient("key", srv.URL, time.Second).CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("ожидали ошибку API, получили %v", err)
	}
}

func TestCreateChatCompletionWithoutKey(t *testing.T) {
	if _, err := NewClient("", "", 0).CreateChatCompletion(context.Background(), ChatCompletionRequest{}); err == nil {
		t.Fatalf("ожидали ошибку без ключа")
	}
}

func TestTextEmpty(t *testing.T) {
	if _, err := (ChatCompletionResponse{}).Text(); !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("ожидали ErrEmptyCompletion, получили %v", err)
	}
}
