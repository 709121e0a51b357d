package eventbus

import (
	"sync"

	"github.com/cskr/pubsub/v2"
)

// EventID describes an identifier for a published event.
type EventID interface {
	Value() uint
	String() string
}

// nilEventHandler represents a disabled event handler.
type nilEventHandler struct{}

// defaultEventHandler represents an internal event handler.
type defaultEventHandler struct {
	*pubsub.PubSub[uint, any]
}

// EventPublisher represents an interface that provides an event publisher.
type EventPublisher interface {
	// Publish publishes an event to the event stream.
	Publish(id uint, name string, data any)
}

// EventSubscriber represents an interface that provides an event subscriber.
type EventSubscriber interface {
	// Subscribe subscribes to an event from the event stream.
	Subscribe(id uint, name string) SubscriberID
}

// EventHandler represents an interface that provides an event publisher and subscriber.
type EventHandler interface {
	EventPublisher
	EventSubscriber
}

// Emitter dispatches events to the registered publisher and subscriber.
// An Emitter is owned by whoever constructs the engine, so independent
// engines (and tests) never share an event stream.
type Emitter struct {
	p EventPublisher
	s EventSubscriber

	mu sync.RWMutex
}

// New returns an emitter using the provided handler.
// If eh is nil, the default handler is used.
func New(eh EventHandler) *Emitter {
	if eh == nil {
		eh = DefaultHandler()
	}

	e := &Emitter{}
	e.RegisterEventHandler(eh)

	return e
}

// RegisterEventHandler registers the event handler interface.
func (e *Emitter) RegisterEventHandler(eh EventHandler) {
	if eh == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.p = eh.(EventPublisher)
	e.s = eh.(EventSubscriber)
}

// RegisterEventHandlers registers the event publisher and subscriber interfaces separately.
// To disable an EventPublisher or EventSubscriber, pass 'nil' as the parameter.
func (e *Emitter) RegisterEventHandlers(p EventPublisher, s EventSubscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p == nil {
		p = &nilEventHandler{}
	}
	if s == nil {
		s = &nilEventHandler{}
	}

	e.p = p
	e.s = s
}

// DisableEvents unregisters the event handler.
func (e *Emitter) DisableEvents() {
	e.RegisterEventHandler(&nilEventHandler{})
}

// Publish calls the registered publisher handler.
func (e *Emitter) Publish(id EventID, data any) {
	if e == nil || id == nil {
		return
	}

	e.mu.RLock()
	p := e.p
	e.mu.RUnlock()

	p.Publish(id.Value(), id.String(), data)
}

// Subscribe calls the registered subscriber handler.
func (e *Emitter) Subscribe(id EventID) SubscriberID {
	if e == nil || id == nil {
		return (&nilEventHandler{}).Subscribe(0, "")
	}

	e.mu.RLock()
	s := e.s
	e.mu.RUnlock()

	return s.Subscribe(id.Value(), id.String())
}

// DefaultHandler returns the default event handler.
func DefaultHandler() *defaultEventHandler {
	return &defaultEventHandler{PubSub: pubsub.New[uint, any](10)}
}

// NilHandler returns a disabled event handler.
func NilHandler() *nilEventHandler {
	return &nilEventHandler{}
}

// Publish publishes an event to the event stream.
func (d *defaultEventHandler) Publish(id uint, name string, data any) {
	d.TryPub(data, id)
}

// Subscribe subscribes to an event from the event stream.
func (d *defaultEventHandler) Subscribe(id uint, name string) SubscriberID {
	ch := d.Sub(id)
	return SubscriberID{
		C:      ch,
		active: true,
		unsub: func() {
			go d.Unsub(ch, id)
		},
	}
}

// Publish does not do anything.
func (n *nilEventHandler) Publish(uint, string, any) {
}

// Subscribe does not do anything.
func (n *nilEventHandler) Subscribe(uint, string) SubscriberID {
	ch := make(chan any)
	close(ch)
	return SubscriberID{C: ch}
}
