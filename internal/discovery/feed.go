package discovery

import (
	"sync"

	"github.com/muurk/discovery/internal/ssdp"
)

// Event is one notification from the engine.
// Exactly one of Record and Err is meaningful: Err is set only when a receive
// loop failed, otherwise Record holds a newly discovered service.
type Event struct {
	Session string
	Record  ssdp.ServiceRecord
	Err     error
}

// IsError reports whether the event carries a receive failure
func (e Event) IsError() bool {
	return e.Err != nil
}

// Subscription delivers events to one observer.
//
// Each subscription has its own unbounded queue, drained into C by a pump
// goroutine, so a slow observer never blocks the receive loop and never
// loses an event.
type Subscription struct {
	out  chan Event
	done chan struct{}
	wake chan struct{}

	mu       sync.Mutex
	queue    []Event
	closing  bool // no more events will be queued
	stopOnce sync.Once

	feed *feed
}

// C returns the event channel. It is closed after Close, or after the engine
// shuts down and every queued event has been delivered.
func (s *Subscription) C() <-chan Event {
	return s.out
}

// Close detaches the subscription. Undelivered events are discarded.
func (s *Subscription) Close() {
	if s.feed != nil {
		s.feed.remove(s)
	}
	s.stop()
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

// finish lets the pump exit once the queue is empty
func (s *Subscription) finish() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

// feed fans events out to subscriptions
type feed struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newFeed() *feed {
	return &feed{subs: make(map[*Subscription]struct{})}
}

func (f *feed) subscribe() *Subscription {
	s := &Subscription{
		out:  make(chan Event),
		done: make(chan struct{}),
		wake: make(chan struct{}, 1),
		feed: f,
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		s.closing = true
	} else {
		f.subs[s] = struct{}{}
		metricSubscribers.Inc()
	}
	go s.pump()
	return s
}

func (f *feed) remove(s *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[s]; ok {
		delete(f.subs, s)
		metricSubscribers.Dec()
	}
}

func (f *feed) publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	for s := range f.subs {
		s.push(ev)
	}
}

// close ends every subscription after its queued events are delivered
func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	metricSubscribers.Sub(float64(len(f.subs)))
	for s := range f.subs {
		s.finish()
	}
	f.subs = nil
}
