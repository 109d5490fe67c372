// Package bus provides the in-process publish/subscribe EventBus that
// carries Engine Worker output events (actor_speech_generated,
// scene_description_generated, analysis_checkpoint_generated) from
// workers to the Engine Manager's single reader.
//
// Publishing is channel-based with a non-blocking send (drop + log on a
// full buffer), so a slow subscriber never blocks a publisher, and a
// panicking subscriber is recovered without breaking delivery to the
// others. Subscribers run one after another on the dispatch goroutine, so
// a slow one delays the subscribers after it.
package bus

import (
	"sync"

	"orchestrator/pkg/logx"
)

// Message is one published engine output, tagged with the producing agent.
type Message struct {
	AgentID   string
	EventType string
	Payload   map[string]any
}

// Handler receives published messages. It must not block for long; the
// bus invokes handlers synchronously within its dispatch loop, matching
// the Manager's single-reader design (no concurrent Scenario Context
// access without the scenario lock).
type Handler func(Message)

// EventBus is a topic-less pub/sub: every Subscribe call sees every
// Publish call. The Engine Manager is expected to be the sole subscriber
// in-process; pkg/bus/redisbus provides the cross-process alternative.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []Handler
	queue       chan Message
	done        chan struct{}
	wg          sync.WaitGroup
	log         *logx.Logger
}

// New creates an EventBus with the given publish buffer size. A full
// buffer causes Publish to drop the message and log a warning rather than
// block the publishing worker.
func New(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventBus{
		queue: make(chan Message, bufferSize),
		done:  make(chan struct{}),
		log:   logx.NewLogger("bus"),
	}
}

// Subscribe registers h to receive every future published message.
func (b *EventBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, h)
}

// Publish enqueues msg for dispatch. Non-blocking: if the internal queue
// is full, the message is dropped and logged rather than stalling the
// caller (the Engine Worker producing it).
func (b *EventBus) Publish(msg Message) {
	select {
	case b.queue <- msg:
	default:
		b.log.Warn("event bus queue full, dropping message from agent %s type %s", msg.AgentID, msg.EventType)
	}
}

// Start launches the dispatch loop. Stop waits for it, so Start must be
// called exactly once before Stop.
func (b *EventBus) Start() {
	b.wg.Add(1)
	go b.run()
}

// run drains the queue and fans each message out to every subscriber,
// copying the subscriber list under the read lock so Subscribe can be
// called concurrently. A panicking or erroring subscriber is recovered and
// logged; it never blocks or drops delivery to other subscribers.
func (b *EventBus) run() {
	defer b.wg.Done()
	for {
		select {
		case msg := <-b.queue:
			b.dispatch(msg)
		case <-b.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case msg := <-b.queue:
					b.dispatch(msg)
				default:
					return
				}
			}
		}
	}
}

func (b *EventBus) dispatch(msg Message) {
	b.mu.RLock()
	subs := append([]Handler{}, b.subscribers...)
	b.mu.RUnlock()

	for _, h := range subs {
		b.safeInvoke(h, msg)
	}
}

func (b *EventBus) safeInvoke(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event bus subscriber panicked for agent %s type %s: %v", msg.AgentID, msg.EventType, r)
		}
	}()
	h(msg)
}

// Stop signals the dispatch loop to drain and exit, then waits for it to
// finish.
func (b *EventBus) Stop() {
	close(b.done)
	b.wg.Wait()
}
