package location

// Provider is the external source of raw positions.
//
// Start begins delivering zero or more updates and errors, from any goroutine, until Stop
// is called. Start must not block on the first reading. Stop is idempotent, safe before
// Start, and may be called from inside onUpdate or onError.
type Provider interface {
	Start(onUpdate func(Position), onError func(error)) error
	Stop()
}
