package eventbus

// SubscriberID holds a subscription to one event kind.
type SubscriberID struct {
	// C receives the published event payloads.
	C <-chan any

	active bool
	unsub  func()
}

// Active reports whether the subscription is receiving events.
func (s *SubscriberID) Active() bool {
	return s.active
}

// Unsubscribe stops the subscription. The channel is closed asynchronously.
func (s *SubscriberID) Unsubscribe() {
	if !s.active || s.unsub == nil {
		return
	}

	s.active = false
	s.unsub()
}
