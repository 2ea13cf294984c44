package ownerwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	cbus "github.com/next-trace/scg-owner-watch/contract/bus"
	werr "github.com/next-trace/scg-owner-watch/contract/errors"
)

// registration is one caller's interest in a name: the callback plus the
// opaque data handed back on invocation. Identity is the pair — function
// compared by code pointer, data by equality — and registrations are never
// de-duplicated: registering the identical pair twice yields two entries.
type registration struct {
	fn   cbus.OwnerLostFunc
	data any
}

func (r registration) is(fn cbus.OwnerLostFunc, data any) bool {
	return reflect.ValueOf(r.fn).Pointer() == reflect.ValueOf(fn).Pointer() && sameData(r.data, data)
}

// sameData compares opaque registration data without panicking on
// uncomparable dynamic types; such values never match anything.
func sameData(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}

	if ta != nil && !ta.Comparable() {
		return false
	}

	return a == b
}

// subscription is the per-name entry, holding registrations in insertion
// order. It exists iff at least one registration references the name.
type subscription struct {
	name          string
	registrations []registration
}

// Registry maps watched service names to their registered callbacks and
// owns the lifetime of the per-name match rules on a borrowed connection.
//
// Registry holds no lock: one logical goroutine must drive both the
// connection's message pump and AddListener/RemoveListener. Callbacks run
// synchronously inside dispatch and may re-enter the Registry; that
// re-entrancy is supported, concurrent use from multiple goroutines is not.
type Registry struct {
	conn   cbus.Connection
	logger *slog.Logger
	names  map[string]*subscription

	// dispatch filter installed on conn; set once, never cleared
	attached bool
}

// New constructs a Registry over conn. The logger may be nil, in which
// case diagnostics are discarded.
func New(conn cbus.Connection, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Registry{
		conn:   conn,
		logger: logger,
		names:  make(map[string]*subscription),
	}
}

// AddListener registers fn to be invoked once when name loses its owner.
// The first registration for a name installs the match rule selecting
// ownership notifications for exactly that name; later registrations for
// the same name share it. Registering the identical (name, fn, data) tuple
// twice creates two independent registrations; RemoveListener deletes one.
//
// The very first registration on this Registry also attaches the dispatch
// filter to the connection, before any match rule is installed.
//
// If installing the match rule fails, the registration (and the
// subscription, if this call created it) is rolled back and the failure is
// returned; no partial state is retained.
func (r *Registry) AddListener(ctx context.Context, name string, fn cbus.OwnerLostFunc, data any) error {
	r.logger.Debug("add listener", "name", name)

	if fn == nil {
		return fmt.Errorf("add listener %q: %w", name, werr.ErrNilCallback)
	}

	if !r.attached {
		if err := r.conn.AddFilter(r.dispatch); err != nil {
			r.logger.Error("attaching dispatch filter failed", "err", err)
			return fmt.Errorf("add listener %q: %w", name, errors.Join(werr.ErrFilterAttachFailed, err))
		}

		r.attached = true
	}

	first := r.subscribe(name, fn, data)
	// The rule is already installed if this is not the first registration
	// for the name.
	if !first {
		return nil
	}

	if err := r.conn.AddMatch(ctx, cbus.OwnerChangeRule(name)); err != nil {
		r.logger.Error("adding owner match rule failed", "name", name, "err", err)
		// This call created the subscription, so dropping the whole entry
		// is the rollback.
		delete(r.names, name)

		return fmt.Errorf("add listener %q: %w", name, errors.Join(werr.ErrMatchAddFailed, err))
	}

	return nil
}

// RemoveListener deletes one registration matching (fn, data) for name.
// While other registrations remain, the shared match rule and subscription
// stay alive. Removing the last registration destroys the subscription and
// uninstalls the match rule.
//
// The local entry is dropped before the bus call: the caller's unsubscribe
// always takes effect even when the bus-side removal fails, in which case
// the failure is still returned for reporting.
func (r *Registry) RemoveListener(ctx context.Context, name string, fn cbus.OwnerLostFunc, data any) error {
	r.logger.Debug("remove listener", "name", name)

	sub := r.names[name]
	if sub == nil {
		r.logger.Error("no listener registered", "name", name)
		return fmt.Errorf("remove listener %q: %w", name, werr.ErrNoListener)
	}

	i := slices.IndexFunc(sub.registrations, func(reg registration) bool { return reg.is(fn, data) })
	if i < 0 {
		r.logger.Error("no matching callback", "name", name)
		return fmt.Errorf("remove listener %q: %w", name, werr.ErrNoMatchingCallback)
	}

	sub.registrations = append(sub.registrations[:i], sub.registrations[i+1:]...)

	// Others still share the rule.
	if len(sub.registrations) > 0 {
		return nil
	}

	delete(r.names, name)

	if err := r.conn.RemoveMatch(ctx, cbus.OwnerChangeRule(name)); err != nil {
		r.logger.Error("removing owner match rule failed", "name", name, "err", err)
		return fmt.Errorf("remove listener %q: %w", name, errors.Join(werr.ErrMatchRemoveFailed, err))
	}

	return nil
}

// subscribe appends a registration for name, creating the per-name entry
// when absent, and reports whether this call created it.
func (r *Registry) subscribe(name string, fn cbus.OwnerLostFunc, data any) (first bool) {
	sub := r.names[name]
	if sub == nil {
		sub = &subscription{name: name}
		r.names[name] = sub
		first = true
	}

	sub.registrations = append(sub.registrations, registration{fn: fn, data: data})

	return first
}
