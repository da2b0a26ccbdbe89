// internal/messaging/bus.go

// Package messaging carries typed action messages between the page-side
// scanner and the privileged broker. It offers two delivery shapes:
// fire-and-forget broadcast (Post/Subscribe) for mode commands and
// notifications, and correlated request/response (Request) for the
// broker-backed operations.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownAction is returned for a Request naming an action no
// handler was registered for. Dispatch is exhaustive; silence is never
// an acceptable answer to a request.
var ErrUnknownAction = errors.New("unknown action")

// Envelope is the unit of broadcast traffic on the bus.
type Envelope struct {
	ID        string
	Timestamp time.Time
	Action    schemas.Action
	Payload   []byte
}

// Decode unmarshals the envelope payload into out.
func (e Envelope) Decode(out any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, out)
}

// HandlerFunc answers one request action. The returned value is
// serialized back across the bus boundary.
type HandlerFunc func(ctx context.Context, payload []byte) (any, error)

// Bus is the cross-context channel. Payloads are serialized on entry so
// both sides only ever share bytes, never live objects.
type Bus struct {
	logger *zap.Logger

	handlersMu sync.RWMutex
	handlers   map[schemas.Action]HandlerFunc

	// Map of action to subscriber channels.
	subscribersMu sync.RWMutex
	subscribers   map[schemas.Action][]chan Envelope
	// Channels whose consumer unsubscribed. Shutdown still closes and
	// drains them so racing Posts cannot strand an acknowledgement.
	detached   []chan Envelope
	bufferSize int

	// processingWg tracks envelopes delivered but not yet acknowledged.
	processingWg sync.WaitGroup
	// activeOpsWg tracks in-flight Post and Request calls.
	activeOpsWg sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	isShutdown   bool
	shutdownMu   sync.Mutex
}

// New initializes the bus. bufferSize sets subscriber channel depth.
func New(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Bus{
		logger:       logger.Named("bus"),
		handlers:     make(map[schemas.Action]HandlerFunc),
		subscribers:  make(map[schemas.Action][]chan Envelope),
		bufferSize:   bufferSize,
		shutdownChan: make(chan struct{}),
	}
}

// Handle registers the responder for a request action. Registering the
// same action twice is a programming error.
func (b *Bus) Handle(action schemas.Action, fn HandlerFunc) error {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	if _, exists := b.handlers[action]; exists {
		return fmt.Errorf("handler already registered for action %s", action)
	}
	b.handlers[action] = fn
	return nil
}

// Request sends a correlated request and decodes the reply into out.
// Out may be nil when the caller only cares about success. The handler
// runs concurrently; cancellation abandons the wait, not the handler.
func (b *Bus) Request(ctx context.Context, action schemas.Action, payload any, out any) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.activeOpsWg.Done()

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", action, err)
	}

	b.handlersMu.RLock()
	handler, ok := b.handlers[action]
	b.handlersMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	id := uuid.New().String()
	b.logger.Debug("Dispatching request", zap.String("action", string(action)), zap.String("id", id))

	type result struct {
		value any
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		value, err := handler(ctx, raw)
		resultCh <- result{value: value, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return res.err
		}
		if out == nil || res.value == nil {
			return nil
		}
		// Round-trip through bytes mirrors the context boundary.
		encoded, err := json.Marshal(res.value)
		if err != nil {
			return fmt.Errorf("encoding %s reply: %w", action, err)
		}
		return json.Unmarshal(encoded, out)
	case <-ctx.Done():
		return ctx.Err()
	case <-b.shutdownChan:
		return fmt.Errorf("request %s abandoned: bus is shutting down", action)
	}
}

// Post broadcasts a message to all subscribers of the action. Blocks if
// subscriber buffers are full.
func (b *Bus) Post(ctx context.Context, action schemas.Action, payload any) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.activeOpsWg.Done()

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s broadcast: %w", action, err)
	}

	msg := Envelope{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Payload:   raw,
	}

	b.subscribersMu.RLock()
	subs, ok := b.subscribers[action]
	if !ok || len(subs) == 0 {
		b.subscribersMu.RUnlock()
		return nil // No one is listening.
	}
	subsCopy := make([]chan Envelope, len(subs))
	copy(subsCopy, subs)
	b.subscribersMu.RUnlock()

	for _, ch := range subsCopy {
		b.processingWg.Add(1)
		select {
		case ch <- msg:
			// Delivered. The consumer must call Acknowledge.
		case <-ctx.Done():
			b.processingWg.Done()
			return ctx.Err()
		case <-b.shutdownChan:
			b.processingWg.Done()
			return fmt.Errorf("failed to post %s: bus is shutting down", action)
		}
	}
	return nil
}

// Subscribe returns a channel receiving every broadcast of the given
// actions, plus an unsubscribe func. The bus closes the channel during
// Shutdown; unsubscribe detaches it and drops anything still queued.
func (b *Bus) Subscribe(actions ...schemas.Action) (<-chan Envelope, func()) {
	if len(actions) == 0 {
		panic("must subscribe to at least one action")
	}

	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()

	b.shutdownMu.Lock()
	down := b.isShutdown
	b.shutdownMu.Unlock()
	if down {
		closedCh := make(chan Envelope)
		close(closedCh)
		return closedCh, func() {}
	}

	ch := make(chan Envelope, b.bufferSize)
	subscribed := make([]schemas.Action, len(actions))
	copy(subscribed, actions)

	for _, action := range subscribed {
		b.subscribers[action] = append(b.subscribers[action], ch)
	}

	unsubscribe := func() {
		b.subscribersMu.Lock()
		defer b.subscribersMu.Unlock()
		for _, action := range subscribed {
			subs, exists := b.subscribers[action]
			if !exists {
				continue
			}
			for i, subscriberCh := range subs {
				if subscriberCh == ch {
					copy(subs[i:], subs[i+1:])
					b.subscribers[action] = subs[:len(subs)-1]
					if len(b.subscribers[action]) == 0 {
						delete(b.subscribers, action)
					}
					break
				}
			}
		}

		// Queued envelopes will never be acknowledged once the consumer
		// detaches; release them or Shutdown waits forever.
		dropped := 0
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return // Shutdown already closed and drained it.
				}
				dropped++
				b.processingWg.Done()
				continue
			default:
			}
			break
		}
		// A Post racing this detach can still land in the buffer;
		// Shutdown closes and drains detached channels as well.
		b.detached = append(b.detached, ch)
		if dropped > 0 {
			b.logger.Debug("Dropped buffered envelopes on unsubscribe.", zap.Int("count", dropped))
		}
	}

	return ch, unsubscribe
}

// Acknowledge signals that a delivered envelope has been processed.
func (b *Bus) Acknowledge(Envelope) {
	b.processingWg.Done()
}

// enter records the start of a Post or Request, failing when the bus is
// already down.
func (b *Bus) enter() error {
	b.shutdownMu.Lock()
	defer b.shutdownMu.Unlock()
	if b.isShutdown {
		return fmt.Errorf("bus is shut down")
	}
	b.activeOpsWg.Add(1)
	return nil
}

// Shutdown gracefully closes the bus: refuses new traffic, waits for
// in-flight operations, closes and drains subscriber channels, then
// waits for outstanding acknowledgements.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.logger.Info("Shutting down message bus...")

		b.shutdownMu.Lock()
		b.isShutdown = true
		b.shutdownMu.Unlock()

		close(b.shutdownChan)
		b.activeOpsWg.Wait()

		b.subscribersMu.Lock()
		uniqueChannels := make(map[chan Envelope]struct{})
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				uniqueChannels[ch] = struct{}{}
			}
		}
		for _, ch := range b.detached {
			uniqueChannels[ch] = struct{}{}
		}
		// No sender remains after activeOpsWg.Wait, so closing is safe.
		for ch := range uniqueChannels {
			close(ch)
		}
		// Drain buffered envelopes that will never be acknowledged.
		drained := 0
		for ch := range uniqueChannels {
			for range ch {
				drained++
				b.processingWg.Done()
			}
		}
		b.subscribers = make(map[schemas.Action][]chan Envelope)
		b.detached = nil
		b.subscribersMu.Unlock()

		if drained > 0 {
			b.logger.Debug("Drained buffered envelopes during shutdown.", zap.Int("count", drained))
		}

		b.processingWg.Wait()
		b.logger.Info("Message bus shut down gracefully.")
	})
}
