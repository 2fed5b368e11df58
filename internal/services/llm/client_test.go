package llm

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

type linesReply struct {
	Lines []string `json:"lines"`
}

func reply(w http.ResponseWriter, content string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []any{map[string]any{
			"finish_reason": "stop",
			"message":       map[string]any{"content": content},
		}},
	})
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		content string
		wantErr bool
	}{
		{name: "plain", status: http.StatusOK, content: `{"ok":true}`},
		{name: "fenced", status: http.StatusOK, content: "```json\n{\"ok\":true}\n```"},
		{name: "not ok", status: http.StatusOK, content: `{"ok":false}`, wantErr: true},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.status != http.StatusOK {
					w.WriteHeader(tc.status)
					return
				}
				reply(w, tc.content)
			}))
			defer server.Close()

			client := NewClient(Config{APIKey: "key", BaseURL: server.URL, Model: "m"}, WithRetryMaxAttempts(1))
			err := client.HealthCheck(context.Background())
			if (err != nil) != tc.wantErr {
				t.Fatalf("HealthCheck error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestCompleteJSONRequestShape(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer key" {
			t.Errorf("Authorization = %q", auth)
		}
		if title := r.Header.Get("X-Title"); title != "overdub" {
			t.Errorf("X-Title = %q", title)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		reply(w, `{"lines":[]}`)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: " key ", BaseURL: server.URL, Model: "demo", Title: "overdub"})
	if _, err := client.CompleteJSON(context.Background(), "sys", "user"); err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if got["temperature"] != float64(0) {
		t.Fatalf("temperature = %v", got["temperature"])
	}
	if format, _ := got["response_format"].(map[string]any); format["type"] != "json_object" {
		t.Fatalf("response_format = %v", got["response_format"])
	}
	if client.Model() != "demo" {
		t.Fatalf("Model() = %q", client.Model())
	}
}

func TestCompleteJSONRejectsMissingInputs(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", Model: "demo"})
	for _, tc := range []struct{ name, system, user string }{
		{"no system", "", "user"},
		{"no user", "sys", " "},
		{"no key", "sys", "user"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := client.CompleteJSON(context.Background(), tc.system, tc.user); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCompleteIntoRetries(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		fail      func(w http.ResponseWriter)
		wantCalls int
		wantSleep []time.Duration
		wantErr   bool
	}{
		{
			name:     "rate limit honours retry-after",
			failures: 1,
			fail: func(w http.ResponseWriter) {
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantCalls: 2,
			wantSleep: []time.Duration{2 * time.Second},
		},
		{
			name:      "server errors back off",
			failures:  2,
			fail:      func(w http.ResponseWriter) { w.WriteHeader(http.StatusBadGateway) },
			wantCalls: 3,
			wantSleep: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:      "empty content",
			failures:  1,
			fail:      func(w http.ResponseWriter) { reply(w, "") },
			wantCalls: 2,
			wantSleep: []time.Duration{time.Second},
		},
		{
			name:      "bad request is final",
			failures:  5,
			fail:      func(w http.ResponseWriter) { w.WriteHeader(http.StatusBadRequest) },
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "attempts exhausted",
			failures:  5,
			fail:      func(w http.ResponseWriter) { w.WriteHeader(http.StatusServiceUnavailable) },
			wantCalls: 3,
			wantSleep: []time.Duration{time.Second, 2 * time.Second},
			wantErr:   true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				if calls <= tc.failures {
					tc.fail(w)
					return
				}
				reply(w, `{"lines":["olá"]}`)
			}))
			defer server.Close()

			var slept []time.Duration
			client := NewClient(Config{APIKey: "key", BaseURL: server.URL},
				WithRetryMaxAttempts(3),
				WithRetryBackoff(time.Second, 10*time.Second),
				WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
			)
			var out linesReply
			err := client.CompleteInto(context.Background(), "translate", `{"lines":["hello"]}`, &out)
			if (err != nil) != tc.wantErr {
				t.Fatalf("CompleteInto error = %v, wantErr %v", err, tc.wantErr)
			}
			if !tc.wantErr && (len(out.Lines) != 1 || out.Lines[0] != "olá") {
				t.Fatalf("lines = %v", out.Lines)
			}
			if calls != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tc.wantCalls)
			}
			if len(slept) != len(tc.wantSleep) {
				t.Fatalf("slept = %v, want %v", slept, tc.wantSleep)
			}
			for i := range slept {
				if slept[i] != tc.wantSleep[i] {
					t.Fatalf("slept = %v, want %v", slept, tc.wantSleep)
				}
			}
		})
	}
}

func TestUnauthorizedIsAuthError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL}, WithSleeper(func(time.Duration) {}))
	_, err := client.CompleteJSON(context.Background(), "sys", "user")
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if IsAuthError(errors.New("other")) {
		t.Fatal("plain error reported as auth error")
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{name: "direct", content: `{"lines":["a"]}`, want: "a"},
		{name: "fence", content: "```json\n{\"lines\":[\"a\",\"b\"]}\n```", want: "a,b"},
		{name: "prose", content: `Sure: {"lines":["x"]} enjoy`, want: "x"},
		{name: "empty", content: "  ", wantErr: true},
		{name: "garbage", content: "no json here", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out linesReply
			err := DecodeJSON(tc.content, &out)
			if (err != nil) != tc.wantErr {
				t.Fatalf("DecodeJSON error = %v, wantErr %v", err, tc.wantErr)
			}
			if !tc.wantErr && strings.Join(out.Lines, ",") != tc.want {
				t.Fatalf("lines = %v, want %s", out.Lines, tc.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Fatalf("seconds = %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Fatalf("empty = %v", got)
	}
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 0 {
		t.Fatalf("date = %v", got)
	}
}
