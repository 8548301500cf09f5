package telemetry

import "sync"

// Handler receives observations for a subscription. Handlers for the
// same entity are invoked one at a time, in the order the observations
// were published for that entity.
type Handler func(obs Observation, ev Event)

// Token identifies a subscription for later removal.
type Token int64

type subscription struct {
	token   Token
	entity  Entity
	signal  Signal
	mask    Event
	handler Handler
}

// Bus routes observations to subscribers and keeps the latest
// observation per (entity, signal) so reconcilers can read current
// state without waiting for the next report.
type Bus struct {
	mu      sync.RWMutex
	next    Token
	subs    map[string][]subscription // keyed by entity ID
	current map[string]map[Signal]Observation

	// dispatch serializes delivery per entity so a slow handler for
	// one vehicle never reorders observations for that vehicle.
	dispatch sync.Map // entity ID -> *sync.Mutex
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string][]subscription),
		current: make(map[string]map[Signal]Observation),
	}
}

// Subscribe registers handler for observations of signal on entity
// whose event kind intersects mask. The returned token cancels the
// subscription via Unsubscribe.
func (b *Bus) Subscribe(entity Entity, signal Signal, mask Event, handler Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	tok := b.next
	key := entity.ID()
	b.subs[key] = append(b.subs[key], subscription{
		token:   tok,
		entity:  entity,
		signal:  signal,
		mask:    mask,
		handler: handler,
	})
	return tok
}

// Unsubscribe removes the subscription identified by tok. Unknown
// tokens are ignored.
func (b *Bus) Unsubscribe(tok Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, subs := range b.subs {
		for i, s := range subs {
			if s.token == tok {
				b.subs[key] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish records obs as the current value for its (entity, signal) and
// delivers it to matching subscribers. The event kind is EventChanged
// when the value or enabled flag differs from the previous observation,
// EventRefreshed otherwise.
func (b *Bus) Publish(obs Observation) {
	key := obs.Entity.ID()

	mu, _ := b.dispatch.LoadOrStore(key, &sync.Mutex{})
	lock := mu.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	b.mu.Lock()
	ev := EventChanged
	if prev, ok := b.current[key][obs.Signal]; ok &&
		prev.Enabled == obs.Enabled && prev.Value.Equal(obs.Value) {
		ev = EventRefreshed
	}
	if b.current[key] == nil {
		b.current[key] = make(map[Signal]Observation)
	}
	b.current[key][obs.Signal] = obs

	var targets []Handler
	for _, s := range b.subs[key] {
		if s.signal == obs.Signal && s.mask&ev != 0 {
			targets = append(targets, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range targets {
		h(obs, ev)
	}
}

// Current returns the latest observation for (entity, signal), if any.
func (b *Bus) Current(entity Entity, signal Signal) (Observation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obs, ok := b.current[entity.ID()][signal]
	return obs, ok
}

// CurrentNumber returns the latest enabled numeric value for
// (entity, signal), if one exists.
func (b *Bus) CurrentNumber(entity Entity, signal Signal) (float64, bool) {
	obs, ok := b.Current(entity, signal)
	if !ok || !obs.Enabled || obs.Value.Kind != KindNumber {
		return 0, false
	}
	return obs.Value.Number, true
}

// CurrentText returns the latest enabled text value for
// (entity, signal), if one exists.
func (b *Bus) CurrentText(entity Entity, signal Signal) (string, bool) {
	obs, ok := b.Current(entity, signal)
	if !ok || !obs.Enabled || obs.Value.Kind != KindText {
		return "", false
	}
	return obs.Value.Text, true
}
