package collab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yaxxsin/taskhub/internal/taskhub"
)

func TestOwnerClientPropagate(t *testing.T) {
	var got taskhub.PropagateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/propagate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tkn" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing content type")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "applied"})
	}))
	t.Cleanup(server.Close)

	client := NewOwnerClient(server.URL, "tkn", server.Client())
	req := taskhub.PropagateRequest{OwnerID: "owner-1", Type: "task", Data: json.RawMessage(`{"id":"t1"}`)}
	if err := client.Propagate(context.Background(), req); err != nil {
		t.Fatalf("propagate failed: %v", err)
	}
	if got.OwnerID != "owner-1" || got.Type != "task" {
		t.Fatalf("unexpected pushed request %+v", got)
	}
}

func TestOwnerClientFetchShared(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/shared" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(taskhub.SharedSnapshot{
			Spaces: []taskhub.Space{{ID: "s1", Name: "Team", IsShared: true}},
			Tasks:  []taskhub.Task{{ID: "t1", Name: "remote", SpaceID: "s1"}},
		})
	}))
	t.Cleanup(server.Close)

	client := NewOwnerClient(server.URL, "tkn", server.Client())
	snap, err := client.FetchShared(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(snap.Spaces) != 1 || snap.Spaces[0].ID != "s1" {
		t.Fatalf("unexpected snapshot spaces %+v", snap.Spaces)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].Name != "remote" {
		t.Fatalf("unexpected snapshot tasks %+v", snap.Tasks)
	}
}

func TestOwnerClientDecodesErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"forbidden","message":"scope sync:push required","correlationId":"abc"}`))
	}))
	t.Cleanup(server.Close)

	client := NewOwnerClient(server.URL, "tkn", server.Client())
	err := client.Propagate(context.Background(), taskhub.PropagateRequest{Type: "task"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusForbidden || httpErr.Code != "forbidden" {
		t.Fatalf("unexpected error %+v", httpErr)
	}
	if httpErr.Message != "scope sync:push required" {
		t.Fatalf("unexpected message %q", httpErr.Message)
	}
}

func TestNewOwnerClientNormalizesBaseURL(t *testing.T) {
	client := NewOwnerClient("  http://owner.example/  ", "tkn", nil)
	if client.baseURL != "http://owner.example" {
		t.Fatalf("base url not normalized: %q", client.baseURL)
	}
	fallback := NewOwnerClient("", "tkn", nil)
	if fallback.baseURL != "http://127.0.0.1:8080" {
		t.Fatalf("unexpected default base url %q", fallback.baseURL)
	}
}
