package runtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/akiles-app/akiles"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type SessionEventKind string

const (
	SessionAdded   SessionEventKind = "session_added"
	SessionRemoved SessionEventKind = "session_removed"
)

// SessionEvent reports a change in the native session store seen between two polls.
type SessionEvent struct {
	Kind       SessionEventKind `json:"kind"`
	SessionID  string           `json:"sessionId"`
	OccurredAt time.Time        `json:"occurredAt"`
}

// EventSubscription delivers session events until closed.
type EventSubscription interface {
	C() <-chan SessionEvent
	Close() error
}

// SessionLister is the part of akiles.Client the poller needs.
type SessionLister interface {
	GetSessionIDs(ctx context.Context) ([]string, error)
}

var _ SessionLister = (*akiles.Client)(nil)

// SessionPoller polls the session IDs of a client and emits synthetic added/removed
// events. Slow subscribers miss events rather than stall the poller.
type SessionPoller struct {
	client SessionLister
	log    zerolog.Logger
	sfg    singleflight.Group

	mu        sync.RWMutex
	lastIDs   map[string]struct{}
	listeners map[*eventSub]struct{}
	lastPoll  time.Time
}

func NewSessionPoller(client SessionLister, log zerolog.Logger) *SessionPoller {
	return &SessionPoller{
		client:    client,
		log:       log.With().Str("component", "session-poller").Logger(),
		lastIDs:   make(map[string]struct{}),
		listeners: make(map[*eventSub]struct{}),
	}
}

// pollTimeout bounds a shared poll, which no single caller's context controls.
const pollTimeout = 15 * time.Second

// PollOnce fetches the current sessions and emits the difference to the previous poll.
// Concurrent callers share one request; a caller whose ctx ends stops waiting without
// failing the others.
func (p *SessionPoller) PollOnce(ctx context.Context) ([]string, error) {
	ch := p.sfg.DoChan("poll", func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pollTimeout)
		defer cancel()
		ids, err := p.client.GetSessionIDs(pctx)
		if err != nil {
			return nil, err
		}
		p.emitDiff(ids)
		return ids, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]string), nil
	}
}

// Run polls every interval until ctx is done. Failed polls are logged and retried on
// the next tick.
func (p *SessionPoller) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn().Err(err).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (p *SessionPoller) emitDiff(current []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	currSet := make(map[string]struct{}, len(current))
	for _, id := range current {
		currSet[id] = struct{}{}
	}
	now := time.Now()
	p.lastPoll = now
	for id := range currSet {
		if _, existed := p.lastIDs[id]; !existed {
			p.broadcast(SessionEvent{Kind: SessionAdded, SessionID: id, OccurredAt: now})
		}
	}
	for id := range p.lastIDs {
		if _, still := currSet[id]; !still {
			p.broadcast(SessionEvent{Kind: SessionRemoved, SessionID: id, OccurredAt: now})
		}
	}
	p.lastIDs = currSet
}

// broadcast must be called with mu held.
func (p *SessionPoller) broadcast(e SessionEvent) {
	for sub := range p.listeners {
		select {
		case sub.ch <- e:
		default:
			p.log.Debug().Str("session", e.SessionID).Msg("subscriber slow, event dropped")
		}
	}
}

// Snapshot returns the session IDs of the last poll, sorted, plus its time.
func (p *SessionPoller) Snapshot() (ids []string, lastPoll time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids = make([]string, 0, len(p.lastIDs))
	for id := range p.lastIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, p.lastPoll
}

// Subscribe returns an event subscription channel.
func (p *SessionPoller) Subscribe(buffer int) EventSubscription {
	sub := &eventSub{ch: make(chan SessionEvent, buffer), p: p}
	p.mu.Lock()
	p.listeners[sub] = struct{}{}
	p.mu.Unlock()
	return sub
}

type eventSub struct {
	ch   chan SessionEvent
	p    *SessionPoller
	once sync.Once
}

func (e *eventSub) C() <-chan SessionEvent { return e.ch }

func (e *eventSub) Close() error {
	e.once.Do(func() {
		e.p.mu.Lock()
		delete(e.p.listeners, e)
		e.p.mu.Unlock()
		close(e.ch)
	})
	return nil
}
