package taskhub

import (
	"context"
	"sync"
)

type inMemoryOutboxQueue struct {
	ch    chan OutboxItem
	items map[string]OutboxItem
	mu    sync.Mutex
}

func NewInMemoryOutboxQueue(capacity int) OutboxQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &inMemoryOutboxQueue{
		ch:    make(chan OutboxItem, capacity),
		items: make(map[string]OutboxItem),
	}
}

func (q *inMemoryOutboxQueue) TryEnqueue(item OutboxItem) bool {
	if q == nil || item.ID == "" {
		return false
	}
	select {
	case q.ch <- item:
		q.mu.Lock()
		q.items[item.ID] = item
		q.mu.Unlock()
		return true
	default:
		return false
	}
}

func (q *inMemoryOutboxQueue) Enqueue(ctx context.Context, item OutboxItem) bool {
	if q == nil || item.ID == "" {
		return false
	}
	select {
	case q.ch <- item:
		q.mu.Lock()
		q.items[item.ID] = item
		q.mu.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *inMemoryOutboxQueue) Dequeue(ctx context.Context) (OutboxItem, bool) {
	if q == nil {
		return OutboxItem{}, false
	}
	select {
	case item := <-q.ch:
		q.mu.Lock()
		delete(q.items, item.ID)
		q.mu.Unlock()
		return item, true
	case <-ctx.Done():
		return OutboxItem{}, false
	}
}

func (q *inMemoryOutboxQueue) SnapshotOutbox() []OutboxItem {
	if q == nil {
		return []OutboxItem{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]OutboxItem, 0, len(q.items))
	for _, item := range q.items {
		result = append(result, item)
	}
	return result
}

func (q *inMemoryOutboxQueue) Depth() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}

func (q *inMemoryOutboxQueue) Capacity() int {
	if q == nil {
		return 0
	}
	return cap(q.ch)
}

func (q *inMemoryOutboxQueue) Close() error {
	return nil
}
