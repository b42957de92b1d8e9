package core

import "time"

// Observer receives relay instrumentation callbacks. Calls come from the
// relay goroutines and must not block.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed(evicted bool)
	RoomsChanged(active int)
	EventEmitted(kind EventKind)
	JobFinished(kind string, err error, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened() {}
func (nopObserver) ConnectionClosed(bool) {}
func (nopObserver) RoomsChanged(int) {}
func (nopObserver) EventEmitted(EventKind) {}
func (nopObserver) JobFinished(string, error, time.Duration) {}
