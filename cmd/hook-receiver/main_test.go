package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/courseloop/hookrelay/internal/config"
	"github.com/courseloop/hookrelay/internal/signature"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		length   int
		expected string
	}{
		{
			name:     "string shorter than limit",
			input:    "hello",
			length:   10,
			expected: "hello",
		},
		{
			name:     "string equal to limit",
			input:    "hello",
			length:   5,
			expected: "hello",
		},
		{
			name:     "string longer than limit",
			input:    "hello world",
			length:   5,
			expected: "hello...",
		},
		{
			name:     "empty string",
			input:    "",
			length:   5,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncate(tt.input, tt.length)
			if result != tt.expected {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.length, result, tt.expected)
			}
		})
	}
}

func TestHealthzHandler(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("healthz handler status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != `{"ok":true}` {
		t.Errorf("healthz handler body = %q, want %q", w.Body.String(), `{"ok":true}`)
	}
}

func TestHandleHook(t *testing.T) {
	signedHeaders := func(secret, body string) map[string]string {
		sig, err := signature.Sign(signature.SHA256, secret, []byte(body))
		if err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		return map[string]string{signature.DefaultHeader: sig}
	}

	tests := []struct {
		name                 string
		body                 string
		headers              map[string]string
		receiver             config.Receiver
		expectedStatus       int
		expectedBodyContains string
	}{
		{
			name:                 "successful request",
			body:                 "test payload",
			headers:              map[string]string{},
			receiver:             config.Receiver{FailFirstN: 0, Secret: ""},
			expectedStatus:       http.StatusOK,
			expectedBodyContains: "ok",
		},
		{
			name:                 "fail first request",
			body:                 "test payload",
			headers:              map[string]string{},
			receiver:             config.Receiver{FailFirstN: 1, Secret: ""},
			expectedStatus:       http.StatusInternalServerError,
			expectedBodyContains: "temporary failure",
		},
		{
			name:                 "missing signature with secret configured",
			body:                 "test payload",
			headers:              map[string]string{},
			receiver:             config.Receiver{FailFirstN: 0, Secret: "test-secret"},
			expectedStatus:       http.StatusUnauthorized,
			expectedBodyContains: "invalid signature",
		},
		{
			name:                 "valid signature with secret",
			body:                 "test payload",
			headers:              signedHeaders("test-secret", "test payload"),
			receiver:             config.Receiver{FailFirstN: 0, Secret: "test-secret"},
			expectedStatus:       http.StatusOK,
			expectedBodyContains: "ok",
		},
		{
			name:                 "wrong secret",
			body:                 "test payload",
			headers:              signedHeaders("other-secret", "test payload"),
			receiver:             config.Receiver{FailFirstN: 0, Secret: "test-secret"},
			expectedStatus:       http.StatusUnauthorized,
			expectedBodyContains: "invalid signature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqCount.Store(0)

			cfg := &config.Config{Receiver: tt.receiver}

			req := httptest.NewRequest("POST", "/hook", strings.NewReader(tt.body))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			handleHook(w, req, cfg)

			if w.Code != tt.expectedStatus {
				t.Errorf("handleHook() status = %d, want %d", w.Code, tt.expectedStatus)
			}
			if !strings.Contains(w.Body.String(), tt.expectedBodyContains) {
				t.Errorf("handleHook() body = %q, want to contain %q", w.Body.String(), tt.expectedBodyContains)
			}
		})
	}
}

func TestHandleHookChallenge(t *testing.T) {
	tests := []struct {
		name          string
		jsonChallenge bool
	}{
		{name: "raw echo", jsonChallenge: false},
		{name: "json echo", jsonChallenge: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Receiver: config.Receiver{JSONChallenge: tt.jsonChallenge}}

			req := httptest.NewRequest("GET", "/hook?webhook-verify=tok-123", nil)
			w := httptest.NewRecorder()

			handleHook(w, req, cfg)

			if w.Code != http.StatusOK {
				t.Fatalf("handleHook() status = %d, want %d", w.Code, http.StatusOK)
			}
			if tt.jsonChallenge {
				var out map[string]string
				if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
					t.Fatalf("challenge body is not JSON: %v", err)
				}
				if out["challenge"] != "tok-123" {
					t.Errorf("challenge = %q, want %q", out["challenge"], "tok-123")
				}
			} else if strings.TrimSpace(w.Body.String()) != "tok-123" {
				t.Errorf("challenge body = %q, want %q", w.Body.String(), "tok-123")
			}
		})
	}
}
