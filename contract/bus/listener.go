package bus

// OwnerLostFunc is invoked when a watched service name loses its owner.
// data is the opaque value supplied at registration time, handed back
// untouched.
//
// The callback runs synchronously inside the connection's message pump
// and may call back into the registry that invoked it (for example to
// re-subscribe to the same name).
type OwnerLostFunc func(name string, data any)
