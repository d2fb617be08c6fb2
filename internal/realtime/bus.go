// Package realtime fans out newly created tracks to live subscribers
// such as SSE clients.
package realtime

import (
	"context"
	"sync/atomic"

	"github.com/neptunmap/neptun/internal/models"
)

// Event is one published track.
type Event struct {
	Type  string          `json:"type"`
	Track models.APITrack `json:"track"`
}

// Filter selects events for a subscriber; nil accepts everything.
type Filter func(models.APITrack) bool

// Bus broadcasts events from a single goroutine. Slow subscribers miss
// events instead of blocking publishers.
type Bus struct {
	publish     chan Event
	subscribe   chan *subscription
	unsubscribe chan *subscription
	done        chan struct{}
	stopped     chan struct{}
	closed      atomic.Bool

	subscribers atomic.Int64
	dropped     atomic.Int64
}

type subscription struct {
	ch     chan Event
	filter Filter
}

// NewBus starts the broadcaster. buffer sizes the publish queue.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	b := &Bus{
		publish:     make(chan Event, buffer),
		subscribe:   make(chan *subscription),
		unsubscribe: make(chan *subscription),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go b.run()
	return b
}

// PublishTrack publishes t when it can be shown on the map.
func (b *Bus) PublishTrack(t *models.Track) {
	api, ok := t.ToAPI()
	if !ok {
		return
	}
	b.Publish(Event{Type: "track", Track: api})
}

// Publish queues e without blocking.
func (b *Bus) Publish(e Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publish <- e:
	default:
		b.dropped.Add(1)
	}
}

// Subscribe registers a listener. The returned channel closes when ctx
// ends or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, buffer int, filter Filter) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscription{ch: make(chan Event, buffer), filter: filter}
	select {
	case b.subscribe <- sub:
	case <-b.stopped:
		close(sub.ch)
		return sub.ch
	}

	// sub.ch is closed only once run can no longer send to it
	go func() {
		select {
		case <-ctx.Done():
			select {
			case b.unsubscribe <- sub:
			case <-b.stopped:
			}
		case <-b.stopped:
		}
		close(sub.ch)
	}()
	return sub.ch
}

// Subscribers returns the number of active listeners.
func (b *Bus) Subscribers() int { return int(b.subscribers.Load()) }

// Dropped returns how many events were discarded on a full queue or a
// full subscriber buffer.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close stops the broadcaster and closes every subscriber channel.
func (b *Bus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.done)
	}
}

func (b *Bus) run() {
	defer close(b.stopped)
	subs := make(map[*subscription]struct{})
	for {
		select {
		case <-b.done:
			return
		case s := <-b.subscribe:
			subs[s] = struct{}{}
			b.subscribers.Store(int64(len(subs)))
		case s := <-b.unsubscribe:
			delete(subs, s)
			b.subscribers.Store(int64(len(subs)))
		case e := <-b.publish:
			for s := range subs {
				if s.filter != nil && !s.filter(e.Track) {
					continue
				}
				select {
				case s.ch <- e:
				default:
					b.dropped.Add(1)
				}
			}
		}
	}
}
