package bus

import "context"

// FilterResult reports whether a message filter consumed a signal.
// Filters that only observe traffic return NotHandled so delivery
// continues to the remaining filters on the connection.
type FilterResult int

const (
	NotHandled FilterResult = iota
	Handled
)

// MessageFilter observes every incoming signal on a connection.
// Implementations must not block; they run inside the connection's
// message pump.
type MessageFilter func(sig *Signal) FilterResult

// Connection is the minimal, tech-agnostic surface of a message bus
// connection: a standing filter chain plus match-rule management.
// Library users provide an implementation backed by their transport
// (NATS, RabbitMQ, Kafka, in-memory, etc.).
//
// AddMatch and RemoveMatch are the only blocking operations; they carry
// a context and report transport failures synchronously.
type Connection interface {
	// AddFilter appends a standing filter offered every incoming signal.
	// Filters cannot be detached; they live for the connection lifetime.
	AddFilter(f MessageFilter) error

	// AddMatch installs a match rule so signals selected by the rule are
	// delivered to this connection.
	AddMatch(ctx context.Context, rule MatchRule) error

	// RemoveMatch uninstalls a previously installed match rule.
	RemoveMatch(ctx context.Context, rule MatchRule) error
}
