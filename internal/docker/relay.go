package docker

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// Sink receives relayed notifications. The websocket connection implements
// it; tests use an in-memory recorder.
type Sink interface {
	Send(event string, payload any) error
}

// SubState tracks a subscription through its lifetime.
type SubState int32

const (
	SubSubscribing SubState = iota
	SubActive
	SubCompleted
	SubFailed
)

func (s SubState) String() string {
	switch s {
	case SubSubscribing:
		return "subscribing"
	case SubActive:
		return "active"
	case SubCompleted:
		return "completed"
	case SubFailed:
		return "failed"
	}
	return "unknown"
}

// Subscription is one live relay from an engine stream to a sink.
type Subscription struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32
}

// State returns the subscription's current lifecycle state.
func (s *Subscription) State() SubState {
	return SubState(s.state.Load())
}

// Cancel closes the underlying stream deterministically. The forwarding
// goroutine drains out and Done closes shortly after.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Done closes when forwarding has fully stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// StreamFunc opens an engine stream bound to ctx. Cancelling ctx must
// terminate the stream and eventually close both channels.
type StreamFunc[T any] func(ctx context.Context) (<-chan T, <-chan error, error)

// Relay owns the forwarding tasks. Each subscription runs on its own
// goroutine so items reach the sink in arrival order; separate subscriptions
// share no ordering.
type Relay struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func NewRelay() *Relay {
	return &Relay{subs: make(map[string]*Subscription)}
}

// Subscribe opens stream and forwards every item to sink under dataEvent.
// The call returns as soon as the stream is open; relaying happens on an
// independent goroutine. A stream-level failure sends the error text once
// under errEvent and ends the subscription as Failed; there is no automatic
// resubscribe. A prior subscription with the same name is cancelled first.
func Subscribe[T any](ctx context.Context, r *Relay, name string, stream StreamFunc[T], sink Sink, dataEvent, errEvent string) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	items, errs, err := stream(subCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &Subscription{name: name, cancel: cancel, done: make(chan struct{})}
	sub.state.Store(int32(SubSubscribing))
	r.replace(name, sub)

	go func() {
		defer close(sub.done)
		defer cancel()
		defer r.drop(name, sub)

		sub.state.Store(int32(SubActive))
		for {
			select {
			case <-subCtx.Done():
				sub.state.Store(int32(SubCompleted))
				return

			case item, ok := <-items:
				if !ok {
					// Stream over. Surface a trailing error if one is
					// already pending, otherwise it ended cleanly.
					select {
					case err, ok := <-errs:
						if ok && subCtx.Err() == nil {
							relayFail(sub, sink, errEvent, err)
							return
						}
					default:
					}
					sub.state.Store(int32(SubCompleted))
					return
				}
				if err := sink.Send(dataEvent, item); err != nil {
					// Sink gone, usually a client disconnect.
					slog.Debug("relay sink closed", "subscription", name, "err", err)
					sub.state.Store(int32(SubCompleted))
					return
				}

			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				if subCtx.Err() != nil {
					sub.state.Store(int32(SubCompleted))
					return
				}
				relayFail(sub, sink, errEvent, err)
				return
			}
		}
	}()

	return sub, nil
}

func relayFail(sub *Subscription, sink Sink, errEvent string, err error) {
	slog.Warn("stream relay failed", "subscription", sub.name, "err", err)
	if sendErr := sink.Send(errEvent, err.Error()); sendErr != nil {
		slog.Debug("relay error notification dropped", "subscription", sub.name, "err", sendErr)
	}
	sub.state.Store(int32(SubFailed))
}

// replace installs sub under name, cancelling any previous holder.
func (r *Relay) replace(name string, sub *Subscription) {
	r.mu.Lock()
	old := r.subs[name]
	r.subs[name] = sub
	r.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
}

// drop removes sub from the registry unless it was already replaced.
func (r *Relay) drop(name string, sub *Subscription) {
	r.mu.Lock()
	if r.subs[name] == sub {
		delete(r.subs, name)
	}
	r.mu.Unlock()
}

// Get returns the named subscription, or nil.
func (r *Relay) Get(name string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[name]
}

// Cancel stops the named subscription, reporting whether one existed.
func (r *Relay) Cancel(name string) bool {
	r.mu.Lock()
	sub := r.subs[name]
	r.mu.Unlock()

	if sub == nil {
		return false
	}
	sub.Cancel()
	return true
}

// CancelPrefix stops every subscription whose name starts with prefix. Used
// on websocket disconnect to tear down that connection's streams.
func (r *Relay) CancelPrefix(prefix string) {
	r.mu.Lock()
	victims := make([]*Subscription, 0, len(r.subs))
	for name, sub := range r.subs {
		if strings.HasPrefix(name, prefix) {
			victims = append(victims, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range victims {
		sub.Cancel()
	}
}
