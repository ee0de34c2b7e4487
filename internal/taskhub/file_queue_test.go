package taskhub

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestFileOutboxQueuePersistsAcrossReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	queue, err := NewFileOutboxQueue(path, 8)
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	if !queue.TryEnqueue(OutboxItem{ID: "a", Type: "task", Data: json.RawMessage(`{}`)}) {
		t.Fatalf("enqueue failed")
	}
	if !queue.TryEnqueue(OutboxItem{ID: "b", Type: "task_delete", Data: json.RawMessage(`{}`)}) {
		t.Fatalf("enqueue failed")
	}
	if queue.Depth() != 2 {
		t.Fatalf("expected depth 2, got %d", queue.Depth())
	}

	reloaded, err := NewFileOutboxQueue(path, 8)
	if err != nil {
		t.Fatalf("reload queue: %v", err)
	}
	if reloaded.Depth() != 2 {
		t.Fatalf("expected reload to recover 2 items, got %d", reloaded.Depth())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	item, ok := reloaded.Dequeue(ctx)
	if !ok || item.ID != "a" {
		t.Fatalf("expected FIFO head a, got %+v ok=%v", item, ok)
	}
	item, ok = reloaded.Dequeue(ctx)
	if !ok || item.ID != "b" {
		t.Fatalf("expected b next, got %+v ok=%v", item, ok)
	}
}

func TestFileOutboxQueueCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	queue, err := NewFileOutboxQueue(path, 2)
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	if !queue.TryEnqueue(OutboxItem{ID: "a"}) || !queue.TryEnqueue(OutboxItem{ID: "b"}) {
		t.Fatalf("seed enqueues failed")
	}
	if queue.TryEnqueue(OutboxItem{ID: "c"}) {
		t.Fatalf("enqueue beyond capacity must fail")
	}
	if queue.TryEnqueue(OutboxItem{ID: ""}) {
		t.Fatalf("blank ids must be rejected")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if queue.Enqueue(ctx, OutboxItem{ID: "c"}) {
		t.Fatalf("blocking enqueue must give up when the context expires")
	}
	if queue.Capacity() != 2 {
		t.Fatalf("unexpected capacity %d", queue.Capacity())
	}
}

func TestFileOutboxQueueTruncatesOversizedSnapshots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	big, err := NewFileOutboxQueue(path, 8)
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		if !big.TryEnqueue(OutboxItem{ID: id}) {
			t.Fatalf("enqueue %s failed", id)
		}
	}

	// Reloading with a smaller capacity keeps the newest tail.
	small, err := NewFileOutboxQueue(path, 2)
	if err != nil {
		t.Fatalf("reload queue: %v", err)
	}
	if small.Depth() != 2 {
		t.Fatalf("expected truncation to capacity, got depth %d", small.Depth())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	item, _ := small.Dequeue(ctx)
	if item.ID != "c" {
		t.Fatalf("expected tail item c first, got %q", item.ID)
	}
}

func TestBuildStateBackendFromDSN(t *testing.T) {
	if backend, err := BuildStateBackendFromDSN(""); backend != nil || err != nil {
		t.Fatalf("blank dsn must yield nil backend, got %v %v", backend, err)
	}
	backend, err := BuildStateBackendFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory scheme failed: %v", err)
	}
	if _, ok := backend.(*InMemoryStateBackend); !ok {
		t.Fatalf("expected in-memory backend, got %T", backend)
	}
	path := filepath.Join(t.TempDir(), "state.json")
	backend, err = BuildStateBackendFromDSN("file://" + path)
	if err != nil {
		t.Fatalf("file scheme failed: %v", err)
	}
	fileBackend, ok := backend.(*JSONFileStateBackend)
	if !ok || fileBackend.Path != path {
		t.Fatalf("expected json file backend at %s, got %#v", path, backend)
	}
	if _, err := BuildStateBackendFromDSN("mysql://localhost/db"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for mysql, got %v", err)
	}
	if _, err := BuildStateBackendFromDSN("carrierpigeon://hq"); err == nil {
		t.Fatalf("unknown scheme must error")
	}
}

func TestBuildOutboxQueueFromDSN(t *testing.T) {
	if queue, err := BuildOutboxQueueFromDSN("", 4); queue != nil || err != nil {
		t.Fatalf("blank dsn must yield nil queue, got %v %v", queue, err)
	}
	queue, err := BuildOutboxQueueFromDSN("memory://", 4)
	if err != nil {
		t.Fatalf("memory scheme failed: %v", err)
	}
	if queue.Capacity() != 4 {
		t.Fatalf("capacity not honored, got %d", queue.Capacity())
	}
	path := filepath.Join(t.TempDir(), "outbox.json")
	if _, err := BuildOutboxQueueFromDSN("file://"+path, 4); err != nil {
		t.Fatalf("file scheme failed: %v", err)
	}
	if _, err := BuildOutboxQueueFromDSN("redis://localhost", 4); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for redis, got %v", err)
	}
}

func TestBackendFactoryRegistryOverridesScheme(t *testing.T) {
	marker := NewInMemoryStateBackend()
	RegisterStateBackendFactory("teststate", func(dsn string) (StateBackend, error) {
		if dsn != "teststate://anything" {
			t.Errorf("factory got dsn %q", dsn)
		}
		return marker, nil
	})
	backend, err := BuildStateBackendFromDSN("teststate://anything")
	if err != nil {
		t.Fatalf("registered factory failed: %v", err)
	}
	if backend != StateBackend(marker) {
		t.Fatalf("factory result not returned")
	}

	RegisterOutboxQueueFactory("testqueue", func(dsn string, capacity int) (OutboxQueue, error) {
		return NewInMemoryOutboxQueue(capacity), nil
	})
	queue, err := BuildOutboxQueueFromDSN("testqueue://anything", 3)
	if err != nil {
		t.Fatalf("registered queue factory failed: %v", err)
	}
	if queue.Capacity() != 3 {
		t.Fatalf("queue factory capacity not honored")
	}
}
