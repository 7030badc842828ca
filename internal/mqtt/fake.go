package mqtt

import "sync"

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Laps contains all lap events that were published.
	Laps []LapEvent

	// Races contains all race transitions that were published.
	Races []RaceEvent

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// Payloads contains the JSON payloads that were published, in order.
	Payloads [][]byte

	// PublishError, if set, will be returned by every Publish method.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishLap records the lap event.
func (f *FakePublisher) PublishLap(event LapEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatLapPayload(event)
	if err != nil {
		return err
	}
	f.Laps = append(f.Laps, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishRace records the race event.
func (f *FakePublisher) PublishRace(event RaceEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatRacePayload(event)
	if err != nil {
		return err
	}
	f.Races = append(f.Races, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// LapEvents returns a copy of the recorded laps.
func (f *FakePublisher) LapEvents() []LapEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LapEvent(nil), f.Laps...)
}

// RaceEvents returns a copy of the recorded race transitions.
func (f *FakePublisher) RaceEvents() []RaceEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RaceEvent(nil), f.Races...)
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Laps = nil
	f.Races = nil
	f.SystemEvents = nil
	f.Payloads = nil
	f.Closed = false
	f.PublishError = nil
	f.Connected = false
}
