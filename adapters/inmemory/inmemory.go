package inmemory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	cbus "github.com/next-trace/scg-owner-watch/contract/bus"
	werr "github.com/next-trace/scg-owner-watch/contract/errors"
)

// Bus is an in-process implementation of bus.Connection for tests and
// examples. It tracks installed match rules with their install counts,
// delivers injected signals through the filter chain, and supports failure
// injection for the connection operations.
type Bus struct {
	mu      sync.Mutex
	filters []cbus.MessageFilter
	rules   map[string]int

	// Injectable failures, returned verbatim while set.
	AddFilterErr   error
	AddMatchErr    error
	RemoveMatchErr error
}

// Ensure Bus implements the connection contract.
var _ cbus.Connection = (*Bus)(nil)

// New creates a new in-memory bus instance.
func New() *Bus { return &Bus{rules: make(map[string]int)} }

func (b *Bus) AddFilter(f cbus.MessageFilter) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.AddFilterErr != nil {
		return b.AddFilterErr
	}

	b.filters = append(b.filters, f)

	return nil
}

func (b *Bus) AddMatch(ctx context.Context, rule cbus.MatchRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.AddMatchErr != nil {
		return b.AddMatchErr
	}

	// The bus permits duplicate rules; track the count so removal is
	// symmetric.
	b.rules[rule.String()]++

	return nil
}

func (b *Bus) RemoveMatch(ctx context.Context, rule cbus.MatchRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.RemoveMatchErr != nil {
		return b.RemoveMatchErr
	}

	key := rule.String()
	if b.rules[key] == 0 {
		return fmt.Errorf("inmemory remove match %q: %w", key, werr.ErrUnknownMatch)
	}

	b.rules[key]--
	if b.rules[key] == 0 {
		delete(b.rules, key)
	}

	return nil
}

// Emit offers sig to every filter in attach order until one consumes it.
// The chain is snapshotted first so a filter attached from inside a
// callback only sees later signals.
func (b *Bus) Emit(sig *cbus.Signal) {
	b.mu.Lock()
	filters := slices.Clone(b.filters)
	b.mu.Unlock()

	for _, f := range filters {
		if f(sig) == cbus.Handled {
			return
		}
	}
}

// EmitOwnerChange announces that ownership of name moved from previous to
// current. An empty current marks a loss.
func (b *Bus) EmitOwnerChange(name, previous, current string) {
	b.Emit(cbus.NameOwnerChanged(name, previous, current))
}

// Matched reports how many installs of rule are currently live.
func (b *Bus) Matched(rule cbus.MatchRule) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.rules[rule.String()]
}

// Rules returns the currently installed rule strings, sorted.
func (b *Bus) Rules() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.rules))
	for k := range b.rules {
		out = append(out, k)
	}

	slices.Sort(out)

	return out
}
