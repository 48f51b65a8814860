package alerts

// subBufSize is the per-subscriber notification buffer depth. Publishing
// never blocks: when a subscriber's buffer is full the notification is
// dropped for that subscriber only.
const subBufSize = 16

// Subscribe registers a broadcast listener. Every subscriber receives every
// notification independently. The returned cancel func unregisters the
// subscriber and closes its channel; the channel is also closed by Close.
func (e *Engine) Subscribe() (<-chan *Notification, func()) {
	ch := make(chan *Notification, subBufSize)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	e.subs[ch] = struct{}{}
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Subscribers returns the number of registered notification listeners.
func (e *Engine) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}
