// Package events carries the per-run push channels between the process
// manager, session controllers and the registry. Subscriptions are the only
// teardown path and cancelling one is always idempotent.
package events

import (
	"strings"
	"sync"
)

const (
	// Channel name prefixes, one set per run id.
	prefixOutput    = "agent-output:"
	prefixError     = "agent-error:"
	prefixComplete  = "agent-complete:"
	prefixCancelled = "agent-cancelled:"

	// RunUpdateChannel carries registry push updates for all runs.
	RunUpdateChannel = "run-update"
)

const defaultQueueSize = 256

func OutputChannel(runID string) string    { return prefixOutput + runID }
func ErrorChannel(runID string) string     { return prefixError + runID }
func CompleteChannel(runID string) string  { return prefixComplete + runID }
func CancelledChannel(runID string) string { return prefixCancelled + runID }

// Event is one delivery on a named channel. Data is a raw JSON line for
// output channels, a string for error channels, a bool success flag for
// complete channels and nil for cancelled channels.
type Event struct {
	Channel string
	Data    any
}

// Subscription is the handle returned by Subscribe. C closes after Cancel,
// which removes the subscription from the bus; both may be called in any
// order, any number of times.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	bus     *Bus
	channel string
	once    sync.Once
}

func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

func (s *Subscription) Channel() string {
	if s == nil {
		return ""
	}
	return s.channel
}

// Bus is an in-process fan-out. Publish never blocks: a slow subscriber's
// queue drops its oldest entry to make room.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*Subscription
	taps []func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*Subscription)}
}

func (b *Bus) Subscribe(channel string) *Subscription {
	name := strings.TrimSpace(channel)
	sub := &Subscription{
		ch:      make(chan Event, defaultQueueSize),
		bus:     b,
		channel: name,
	}
	sub.C = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[name] = append(b.subs[name], sub)
	return sub
}

func (b *Bus) Publish(channel string, data any) {
	b.publish(channel, data, true)
}

// PublishRemote delivers an event that originated on another process; taps
// are skipped so bridges never re-mirror remote traffic.
func (b *Bus) PublishRemote(channel string, data any) {
	b.publish(channel, data, false)
}

func (b *Bus) publish(channel string, data any, tapped bool) {
	if b == nil {
		return
	}
	evt := Event{Channel: strings.TrimSpace(channel), Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[evt.Channel] {
		select {
		case sub.ch <- evt:
		default:
			// Full queue: drop the oldest entry, keep the newest.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
	if tapped {
		for _, tap := range b.taps {
			tap(evt)
		}
	}
}

// Tap registers fn to observe every publish, used by cross-process bridges.
// Taps run under the bus lock and must not publish back synchronously.
func (b *Bus) Tap(fn func(Event)) {
	if b == nil || fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taps = append(b.taps, fn)
}

// remove detaches sub and closes its channel. Publishing holds the same lock
// and sends non-blocking, so no send can race the close.
func (b *Bus) remove(sub *Subscription) {
	if b == nil {
		close(sub.ch)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.channel]
	for i, s := range list {
		if s == sub {
			b.subs[sub.channel] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.channel]) == 0 {
		delete(b.subs, sub.channel)
	}
	close(sub.ch)
}

// SubscriberCount reports the live subscriptions for a channel.
func (b *Bus) SubscriberCount(channel string) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[strings.TrimSpace(channel)])
}
