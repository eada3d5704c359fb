package location

import "github.com/jonboulle/clockwork"

// Clock is the time source used for freshness checks and the timeout timer.
type Clock = clockwork.Clock

func realClock() Clock {
	return clockwork.NewRealClock()
}
