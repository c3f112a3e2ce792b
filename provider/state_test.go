package provider

import (
	"errors"
	"sync"
	"testing"
)

func TestConnectivityDrivesState(t *testing.T) {
	client := &notifyingClient{}
	p := New(client)

	var events []string
	var disconnectCause any
	p.On(EventConnected, func(any) { events = append(events, "connected") })
	p.On(EventDisconnected, func(data any) {
		events = append(events, "disconnected")
		disconnectCause = data
	})
	p.On(EventError, func(any) { events = append(events, "error") })

	if p.State() != StateConnected {
		t.Fatalf("initial state = %v", p.State())
	}

	lost := errors.New("connection reset")
	client.signal(ConnectivityEvent{State: StateDisconnected, Err: lost})
	if p.State() != StateDisconnected || p.IsConnected() {
		t.Errorf("after disconnect: state = %v", p.State())
	}
	if disconnectCause != lost {
		t.Errorf("disconnected payload = %v, want %v", disconnectCause, lost)
	}

	client.signal(ConnectivityEvent{State: StateReconnecting})
	if p.State() != StateReconnecting {
		t.Errorf("state = %v, want reconnecting", p.State())
	}

	client.signal(ConnectivityEvent{State: StateConnected})
	if !p.IsConnected() {
		t.Errorf("state = %v, want connected", p.State())
	}

	want := []string{"disconnected", "error", "connected"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events = %v, want %v", events, want)
			break
		}
	}
}

func TestDuplicateSignalsEmitOnce(t *testing.T) {
	client := &notifyingClient{}
	p := New(client)

	connected, disconnected := 0, 0
	p.On(EventConnected, func(any) { connected++ })
	p.On(EventDisconnected, func(any) { disconnected++ })

	client.signal(ConnectivityEvent{State: StateConnected})
	client.signal(ConnectivityEvent{State: StateDisconnected})
	client.signal(ConnectivityEvent{State: StateDisconnected})

	if connected != 0 {
		t.Errorf("connected fired %d times for an already connected adapter", connected)
	}
	if disconnected != 1 {
		t.Errorf("disconnected fired %d times, want 1", disconnected)
	}
}

func TestDisconnectDoesNotOverrideSignals(t *testing.T) {
	client := &notifyingClient{}
	p := New(client)

	client.signal(ConnectivityEvent{State: StateDisconnected})
	_ = p.Disconnect()
	client.signal(ConnectivityEvent{State: StateConnected})

	if !p.IsConnected() {
		t.Error("adapter stuck disconnected")
	}
}

func TestOnIgnoresUnknownEventsAndOffClears(t *testing.T) {
	client := &notifyingClient{}
	p := New(client)

	fired := 0
	p.On(Event("message"), func(any) { fired++ })
	p.On(EventError, nil)
	p.On(EventError, func(any) { fired++ })
	p.Off(EventError)

	client.signal(ConnectivityEvent{State: StateConnected, Err: errors.New("late")})
	if fired != 0 {
		t.Errorf("fired = %d, want 0", fired)
	}
}

func TestConnectedListenerNotReplayed(t *testing.T) {
	p := New(&fakeClient{})

	fired := false
	p.On(EventConnected, func(any) { fired = true })
	if fired {
		t.Error("connected listener invoked at registration")
	}
	if !p.IsConnected() {
		t.Error("IsConnected() must report the initial state")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateConnected:    "connected",
		StateDisconnected: "disconnected",
		StateReconnecting: "reconnecting",
		State(42):         "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

func TestConcurrentSignalsMatchState(t *testing.T) {
	client := &notifyingClient{}
	p := New(client)

	var mu sync.Mutex
	var mismatches int
	var last Event
	check := func(ev Event, want State) Listener {
		return func(any) {
			got := p.State()
			mu.Lock()
			defer mu.Unlock()
			if got != want {
				mismatches++
			}
			last = ev
		}
	}
	p.On(EventConnected, check(EventConnected, StateConnected))
	p.On(EventDisconnected, check(EventDisconnected, StateDisconnected))

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		state := StateConnected
		if i%2 == 0 {
			state = StateDisconnected
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.signal(ConnectivityEvent{State: state})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if mismatches != 0 {
		t.Errorf("%d listener calls saw a state other than their event's", mismatches)
	}
	want := EventDisconnected
	if p.State() == StateConnected {
		want = EventConnected
	}
	if last != "" && last != want {
		t.Errorf("last event = %s but State() = %v", last, p.State())
	}
}
