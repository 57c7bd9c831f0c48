package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/conf"
	"github.com/rosschurchill/upnpav/gena"
	"github.com/rosschurchill/upnpav/log"
)

const (
	defaultSubscriptionTimeout = 1801
	defaultRenewalMargin       = 30 * time.Second
	resubscribeRetryDelay      = 5 * time.Second
	maxResubscribeDelay        = 60 * time.Second
)

// subscription is one live GENA subscription: the SID, the granted timeout,
// the callback registration and the goroutines pumping events and renewals.
type subscription struct {
	mu       sync.RWMutex
	sid      string
	granted  int
	lastSeq  uint32
	seenSeq  bool
	eventURL string
	reg      *gena.Registration

	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) currentSID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sid
}

func (s *subscription) update(sid string, granted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sid = sid
	s.granted = granted
}

// Subscribe establishes the GENA subscription for this client's service.
// Any existing subscription is torn down first; concurrent calls are
// serialised.
func (b *Base[A, V]) Subscribe(ctx context.Context) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	if b.sub != nil {
		b.teardownLocked(ctx)
	}

	b.mu.RLock()
	eventURL := b.service.EventSubURL
	b.mu.RUnlock()
	if eventURL == "" {
		return fmt.Errorf("%w: %s has no event URL", upnpav.ErrNoSuchService, b.traits.Kind)
	}
	if b.events == nil {
		return fmt.Errorf("no event server configured for %s", b.traits.Kind)
	}

	reg := b.events.Register()
	requested := conf.Server.Client.SubscriptionTimeout
	if requested == 0 {
		requested = defaultSubscriptionTimeout
	}

	sid, granted, err := b.soap.Subscribe(ctx, eventURL, b.events.CallbackURL(reg.Token), requested)
	if err != nil {
		b.events.Unregister(reg.Token)
		return fmt.Errorf("SUBSCRIBE failed for %s: %w", b.traits.Kind, err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		sid:      sid,
		granted:  granted,
		eventURL: eventURL,
		reg:      reg,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	b.sub = sub

	go b.pumpEvents(sub)
	go b.renewLoop(subCtx, sub)

	log.Debug(ctx, "Subscribed to service", "service", b.traits.Kind, "sid", sid, "timeout", granted)
	return nil
}

// Unsubscribe releases the subscription. Succeeds silently when none exists.
func (b *Base[A, V]) Unsubscribe(ctx context.Context) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	return b.teardownLocked(ctx)
}

// Subscribed reports whether a live subscription exists.
func (b *Base[A, V]) Subscribed() bool {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	return b.sub != nil
}

func (b *Base[A, V]) teardownLocked(ctx context.Context) error {
	sub := b.sub
	if sub == nil {
		return nil
	}
	b.sub = nil

	sub.cancel()
	err := b.soap.Unsubscribe(ctx, sub.eventURL, sub.currentSID())
	b.events.Unregister(sub.reg.Token)
	<-sub.done

	if err != nil {
		log.Warn(ctx, "UNSUBSCRIBE failed", "service", b.traits.Kind, err)
		return err
	}
	log.Debug(ctx, "Unsubscribed from service", "service", b.traits.Kind)
	return nil
}

// pumpEvents consumes the subscription's channel until it is closed,
// dispatching events in arrival order.
func (b *Base[A, V]) pumpEvents(sub *subscription) {
	defer close(sub.done)
	for event := range sub.reg.Events {
		if event.SID != sub.currentSID() {
			log.Debug("Dropping event with unknown SID", "service", b.traits.Kind, "sid", event.SID)
			continue
		}
		sub.mu.Lock()
		if sub.seenSeq && event.Seq != 0 && event.Seq <= sub.lastSeq {
			log.Warn("Out-of-order event sequence", "service", b.traits.Kind,
				"seq", event.Seq, "last", sub.lastSeq)
		}
		sub.lastSeq = event.Seq
		sub.seenSeq = true
		sub.mu.Unlock()

		b.dispatch(event.Body)
	}
}

// renewLoop renews the subscription before it expires. A failed renewal
// falls back to a fresh SUBSCRIBE, retried indefinitely with backoff.
func (b *Base[A, V]) renewLoop(ctx context.Context, sub *subscription) {
	margin := conf.Server.Client.RenewalMargin
	if margin == 0 {
		margin = defaultRenewalMargin
	}

	for {
		sub.mu.RLock()
		granted := sub.granted
		sub.mu.RUnlock()

		wait := time.Duration(granted)*time.Second - margin
		if wait < time.Second {
			wait = time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		granted, err := b.soap.Renew(ctx, sub.eventURL, sub.currentSID(), requestedTimeout())
		if err == nil {
			sub.mu.Lock()
			sub.granted = granted
			sub.mu.Unlock()
			log.Trace("Renewed subscription", "service", b.traits.Kind, "timeout", granted)
			continue
		}
		if ctx.Err() != nil {
			return
		}

		log.Warn("Subscription renewal failed, resubscribing", "service", b.traits.Kind, err)
		if !b.resubscribe(ctx, sub) {
			return
		}
	}
}

// resubscribe attempts a fresh SUBSCRIBE with the existing callback URL,
// retrying until it succeeds or the subscription is cancelled.
func (b *Base[A, V]) resubscribe(ctx context.Context, sub *subscription) bool {
	delay := resubscribeRetryDelay
	for {
		sid, granted, err := b.soap.Subscribe(ctx, sub.eventURL,
			b.events.CallbackURL(sub.reg.Token), requestedTimeout())
		if err == nil {
			sub.update(sid, granted)
			log.Info("Resubscribed to service", "service", b.traits.Kind, "sid", sid)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.Warn("Resubscribe failed, retrying", "service", b.traits.Kind, "delay", delay, err)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxResubscribeDelay {
			delay = maxResubscribeDelay
		}
	}
}

func requestedTimeout() int {
	if t := conf.Server.Client.SubscriptionTimeout; t != 0 {
		return t
	}
	return defaultSubscriptionTimeout
}
