package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/yaxxsin/taskhub/internal/taskhub"
)

// SharedFetcher is the remote surface the syncer needs.
type SharedFetcher interface {
	FetchShared(ctx context.Context) (taskhub.SharedSnapshot, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type SyncerOptions struct {
	Interval time.Duration
	Logger   Logger
}

// Syncer periodically pulls the owner's shared snapshot and reconciles it
// into the local store with last-write-wins semantics.
type Syncer struct {
	client   SharedFetcher
	store    *taskhub.Store
	interval time.Duration
	logger   Logger
}

func NewSyncer(client SharedFetcher, store *taskhub.Store, opts SyncerOptions) (*Syncer, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Syncer{
		client:   client,
		store:    store,
		interval: interval,
		logger:   opts.Logger,
	}, nil
}

func (s *Syncer) SyncOnce(ctx context.Context) error {
	snap, err := s.client.FetchShared(ctx)
	if err != nil {
		return err
	}
	s.store.MergeSharedSnapshot(snap)
	return nil
}

// Run reconciles on a fixed interval until ctx is canceled. Pull failures
// are logged; the next tick tries again.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.SyncOnce(ctx); err != nil {
		s.logf("shared sync failed: %v", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				s.logf("shared sync failed: %v", err)
			}
		}
	}
}

func (s *Syncer) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
