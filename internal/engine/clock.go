package engine

import "time"

// Clock supplies the current time. The engine never calls time.Now directly
// so funding intervals are fully deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
