package chrono

import (
	"context"
	"sync"
	"time"
)

// API is the interface that anything depending on the system clock should use.
type API interface {
	// Now returns the current time with its monotonic reading, so durations measured with Sub
	// are immune to wall clock steps. Convert with In(Location()) before formatting.
	Now() time.Time
	// Sleep blocks for d or until ctx is done, in which case it returns ctx.Err().
	Sleep(ctx context.Context, d time.Duration) error
	Location() *time.Location
}

// StandardImpl is the implementation of API using the standard library clock.
type StandardImpl struct {
	location *time.Location
}

// NewStandardImpl creates a StandardImpl whose Location is America/Toronto since that is
// where every ticket we look up was issued.
func NewStandardImpl() (StandardImpl, error) {
	location, err := time.LoadLocation("America/Toronto")
	if err != nil {
		return StandardImpl{}, err
	}
	return StandardImpl{location: location}, nil
}

func (s StandardImpl) Now() time.Time {
	return time.Now()
}

func (s StandardImpl) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s StandardImpl) Location() *time.Location {
	if s.location == nil {
		return time.Local
	}
	return s.location
}

// FakeImpl is a manually advanced clock. Sleep returns immediately after moving the clock
// forward, so code that backs off can be tested without waiting.
type FakeImpl struct {
	mutex  sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func NewFakeImpl(start time.Time) *FakeImpl {
	return &FakeImpl{now: start}
}

func (f *FakeImpl) Now() time.Time {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.now
}

func (f *FakeImpl) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.now = f.now.Add(d)
	f.sleeps = append(f.sleeps, d)
	return nil
}

func (f *FakeImpl) Location() *time.Location {
	return f.now.Location()
}

// Advance moves the clock forward without counting as a sleep.
func (f *FakeImpl) Advance(d time.Duration) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.now = f.now.Add(d)
}

// Sleeps returns every duration passed to Sleep so far.
func (f *FakeImpl) Sleeps() []time.Duration {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}
