package reconcile

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/larder/internal/errs"
	"github.com/and161185/larder/internal/model"
)

// Subscription is a live realtime registration.
type Subscription struct {
	once    sync.Once
	cancel  context.CancelFunc
	onClose func()
	done    chan struct{}
}

// Unsubscribe tears down the stream and clears the registration. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Done is closed once the merge loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// noSubscription is handed to anonymous callers.
var noSubscription = func() *Subscription {
	s := &Subscription{done: make(chan struct{})}
	close(s.done)
	return s
}()

// SubscribeRealtime opens the owner's change stream and calls onChange with
// the owner's full cached snapshot after every applied change.
//
// Anonymous callers get an inert subscription. While a subscription is live,
// further calls return the same handle.
func (c *Coordinator) SubscribeRealtime(ctx context.Context, onChange func([]model.Item)) (*Subscription, error) {
	owner, ok := c.owners.CurrentOwner(ctx)
	if !ok {
		return noSubscription, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return c.sub, nil
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, err := c.remote.Watch(streamCtx, owner)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe: %w: %w", errs.ErrRemoteUnavailable, err)
	}

	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	sub.onClose = func() {
		c.mu.Lock()
		if c.sub == sub {
			c.sub = nil
		}
		c.mu.Unlock()
	}
	c.sub = sub

	go c.mergeLoop(streamCtx, sub, owner, events, onChange)
	c.log.Info("realtime subscribed", zap.String("owner", owner))
	return sub, nil
}

func (c *Coordinator) mergeLoop(ctx context.Context, sub *Subscription, owner string, events <-chan model.Change, onChange func([]model.Item)) {
	defer close(sub.done)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-events:
			if !ok {
				c.log.Info("realtime stream closed", zap.String("owner", owner))
				return
			}
			if !c.applyChange(ctx, owner, ch) {
				continue
			}
			snapshot, err := c.cache.ListByOwner(ctx, owner)
			if err != nil {
				c.log.Warn("realtime snapshot failed", zap.Error(err))
				continue
			}
			if ctx.Err() != nil {
				return
			}
			onChange(snapshot)
		}
	}
}

// applyChange writes one change to the cache. Malformed changes are logged and
// reported as not applied.
func (c *Coordinator) applyChange(ctx context.Context, owner string, ch model.Change) bool {
	if ch.ID == "" && ch.Item != nil {
		ch.ID = ch.Item.ID
	}
	if ch.ID == "" {
		c.log.Warn("realtime change without id skipped", zap.String("kind", string(ch.Kind)))
		return false
	}

	var err error
	switch ch.Kind {
	case model.ChangeDelete:
		err = c.cache.DeleteOwned(ctx, ch.ID, owner)
	case model.ChangeInsert, model.ChangeUpdate:
		if ch.Item == nil {
			c.log.Warn("realtime change without row skipped", zap.String("id", ch.ID), zap.String("kind", string(ch.Kind)))
			return false
		}
		it := withOwner(*ch.Item, owner)
		it.ID = ch.ID
		err = c.cache.Upsert(ctx, it)
	default:
		c.log.Warn("realtime change of unknown kind skipped", zap.String("id", ch.ID), zap.String("kind", string(ch.Kind)))
		return false
	}
	if err != nil {
		c.log.Warn("realtime change not applied", zap.String("id", ch.ID), zap.Error(err))
		return false
	}
	return true
}
