package taskhub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLocalAIProviderRequestShape(t *testing.T) {
	var got localGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/generate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(localGenerateResponse{Response: `{"comment":"done"}`})
	}))
	t.Cleanup(server.Close)

	provider, err := NewAIProvider(AIConfig{Provider: "local", Host: server.URL, Model: "llama3"}, server.Client())
	if err != nil {
		t.Fatalf("build provider: %v", err)
	}
	out, err := provider.Generate(context.Background(), "the prompt", "the system")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != `{"comment":"done"}` {
		t.Fatalf("unexpected response %q", out)
	}
	if got.Model != "llama3" || got.Prompt != "the prompt" || got.System != "the system" {
		t.Fatalf("unexpected request body %+v", got)
	}
	if got.Stream || got.Format != "json" {
		t.Fatalf("local requests must be non-streaming json, got %+v", got)
	}
}

func TestLocalAIProviderSurfacesHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	provider, err := NewAIProvider(AIConfig{Provider: "local", Host: server.URL, Model: "llama3"}, server.Client())
	if err != nil {
		t.Fatalf("build provider: %v", err)
	}
	if _, err := provider.Generate(context.Background(), "p", ""); err == nil || !strings.Contains(err.Error(), "status=500") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestRemoteAIProviderSendsBearerKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer key, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(remoteGenerateResponse{Text: "hello"})
	}))
	t.Cleanup(server.Close)

	provider, err := NewAIProvider(AIConfig{Provider: "remote", Endpoint: server.URL, Model: "m1", APIKey: "sk-test"}, server.Client())
	if err != nil {
		t.Fatalf("build provider: %v", err)
	}
	out, err := provider.Generate(context.Background(), "p", "s")
	if err != nil || out != "hello" {
		t.Fatalf("generate: %q %v", out, err)
	}
}

func TestNewAIProviderValidation(t *testing.T) {
	if _, err := NewAIProvider(AIConfig{}, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty provider must be rejected, got %v", err)
	}
	if _, err := NewAIProvider(AIConfig{Provider: "remote", Model: "m"}, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("remote without endpoint must be rejected, got %v", err)
	}
	if _, err := NewAIProvider(AIConfig{Provider: "remote", Endpoint: "https://api.example.com"}, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("remote without api key must be rejected, got %v", err)
	}
	if _, err := NewAIProvider(AIConfig{Provider: "quantum"}, nil); err == nil {
		t.Fatalf("unknown provider must be rejected")
	}
	if _, err := NewAIProvider(AIConfig{Provider: "local"}, nil); err != nil {
		t.Fatalf("local provider defaults its host, got %v", err)
	}
}
