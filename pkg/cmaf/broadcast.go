package cmaf

import "sync"

// defaultBacklogCapacity is used when NewBroadcaster is given a
// non-positive capacity.
const defaultBacklogCapacity = 64

// Init is the most recently published initialization segment together
// with the RFC 6381 codec string for it.
type Init struct {
	Bytes []byte
	Codec string
}

// Broadcaster fans out CMAF fragments (styp+moof+mdat) and init-segment
// updates to any number of subscribers, typically WebSocket push
// connections. New subscribers immediately receive a bounded backlog of
// recent fragments so they can start rendering without waiting on the
// next IDR-aligned part; the current init segment is read separately
// through CurrentInit.
type Broadcaster struct {
	mu          sync.Mutex
	init        *Init
	backlog     [][]byte
	capacity    int
	subscribers map[*Subscription]struct{}
}

// Subscription is a single subscriber's inbound channel. Fragments is
// unbuffered-logical but backed by a bounded channel internally; a slow
// subscriber that falls behind has its oldest pending fragment dropped
// rather than blocking the broadcaster.
type Subscription struct {
	Fragments chan []byte
	broadcaster *Broadcaster
}

// NewBroadcaster returns an empty broadcaster with no init segment and
// no history. capacity bounds both the replay backlog and each
// subscriber's pending-fragment buffer; a non-positive value falls back
// to defaultBacklogCapacity.
func NewBroadcaster(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = defaultBacklogCapacity
	}
	return &Broadcaster{
		capacity:    capacity,
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber and queues the fragment backlog
// on its channel before returning. The init segment is not sent on the
// channel; callers fetch it with CurrentInit.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		Fragments:   make(chan []byte, b.capacity),
		broadcaster: b,
	}
	for _, frag := range b.backlog {
		sub.Fragments <- frag
	}
	b.subscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.Fragments)
}

// SubscriberCount returns the number of currently active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// CurrentInit returns the most recently published init segment, or nil
// if none has been published yet.
func (b *Broadcaster) CurrentInit() *Init {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.init
}

// UpdateInit publishes a new init segment, replacing any previous one.
func (b *Broadcaster) UpdateInit(init Init) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.init = &init
}

// SendFragment publishes one CMAF fragment to every current subscriber
// and appends it to the replay backlog. A subscriber whose channel is
// full has its oldest buffered fragment discarded to make room — a slow
// reader falls behind rather than stalling the whole segmenter.
func (b *Broadcaster) SendFragment(fragment []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.backlog = append(b.backlog, fragment)
	if len(b.backlog) > b.capacity {
		b.backlog = b.backlog[len(b.backlog)-b.capacity:]
	}

	for sub := range b.subscribers {
		select {
		case sub.Fragments <- fragment:
		default:
			select {
			case <-sub.Fragments:
			default:
			}
			select {
			case sub.Fragments <- fragment:
			default:
			}
		}
	}
}
