package vpn

import (
	"context"
	"sync"
)

// FakeBackend is an in-process Backend for tests. By default every Connect
// reports EventUp and every Disconnect reports EventDisconnected; tests can
// script failures through ConnectEvent or inject arbitrary events with Emit.
type FakeBackend struct {
	mu sync.Mutex
	// ConnectErr, when set, is returned by Connect before any event fires.
	ConnectErr error
	// ConnectEvent, when set, is emitted instead of EventUp.
	ConnectEvent *Event

	events     chan Event
	lastParams Params
	connects   int
}

// NewFakeBackend returns a fake backend with a buffered event channel.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{events: make(chan Event, 16)}
}

func (f *FakeBackend) Connect(_ context.Context, params Params) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.lastParams = params
	f.connects++

	event := Event{Kind: EventUp}
	if f.ConnectEvent != nil {
		event = *f.ConnectEvent
	}
	f.events <- event
	return nil
}

func (f *FakeBackend) Disconnect(context.Context) error {
	f.events <- Event{Kind: EventDisconnected}
	return nil
}

func (f *FakeBackend) Events() <-chan Event {
	return f.events
}

// Emit injects an event as if the tunnel had reported it.
func (f *FakeBackend) Emit(event Event) {
	f.events <- event
}

// LastParams returns the params of the most recent Connect call.
func (f *FakeBackend) LastParams() Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastParams
}

// Connects returns how many Connect calls succeeded.
func (f *FakeBackend) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}
