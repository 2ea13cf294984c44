package ownerwatch_test

import (
	"errors"
	"strings"
	"testing"

	cbus "github.com/next-trace/scg-owner-watch/contract/bus"
	werr "github.com/next-trace/scg-owner-watch/contract/errors"
	"github.com/next-trace/scg-owner-watch/ownerwatch"
)

// fakeConn records every bus-side call in order and supports failure
// injection for each operation.
type fakeConn struct {
	filters []cbus.MessageFilter
	calls   []string // "filter", "add:<rule>", "remove:<rule>"

	filterErr error
	addErr    error
	removeErr error
}

func (c *fakeConn) AddFilter(f cbus.MessageFilter) error {
	if c.filterErr != nil {
		return c.filterErr
	}

	c.filters = append(c.filters, f)
	c.calls = append(c.calls, "filter")

	return nil
}

func (c *fakeConn) AddMatch(_ cbus.Context, rule cbus.MatchRule) error {
	if c.addErr != nil {
		return c.addErr
	}

	c.calls = append(c.calls, "add:"+rule.String())

	return nil
}

func (c *fakeConn) RemoveMatch(_ cbus.Context, rule cbus.MatchRule) error {
	if c.removeErr != nil {
		return c.removeErr
	}

	c.calls = append(c.calls, "remove:"+rule.String())

	return nil
}

func (c *fakeConn) emit(sig *cbus.Signal) {
	for _, f := range c.filters {
		if f(sig) == cbus.Handled {
			return
		}
	}
}

func (c *fakeConn) matchCalls(prefix string) int {
	n := 0

	for _, call := range c.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}

	return n
}

func lost(name string) *cbus.Signal { return cbus.NameOwnerChanged(name, ":1.7", "") }

func Test_SingleRuleAcrossRepeatedAdds(t *testing.T) {
	conn := &fakeConn{}
	reg := ownerwatch.New(conn, nil)

	cb := func(name string, data any) {}

	for i := 0; i < 4; i++ {
		if err := reg.AddListener(t.Context(), "org.example.Svc", cb, i); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	if got := conn.matchCalls("add:"); got != 1 {
		t.Fatalf("want 1 match install, got %d (calls=%v)", got, conn.calls)
	}

	want := "add:interface=org.freedesktop.DBus,member=NameOwnerChanged,arg0=org.example.Svc"
	if conn.calls[1] != want {
		t.Fatalf("rule mismatch: %s", conn.calls[1])
	}
}

func Test_FilterAttachedOnce_BeforeFirstRule(t *testing.T) {
	conn := &fakeConn{}
	reg := ownerwatch.New(conn, nil)

	cb := func(name string, data any) {}

	_ = reg.AddListener(t.Context(), "a.b", cb, nil)
	_ = reg.AddListener(t.Context(), "c.d", cb, nil)

	if len(conn.filters) != 1 {
		t.Fatalf("want 1 filter, got %d", len(conn.filters))
	}

	if conn.calls[0] != "filter" {
		t.Fatalf("filter must be attached before any rule: %v", conn.calls)
	}
}

func Test_FilterAttachFailure(t *testing.T) {
	conn := &fakeConn{filterErr: errors.New("refused")}
	reg := ownerwatch.New(conn, nil)

	err := reg.AddListener(t.Context(), "a.b", func(string, any) {}, nil)
	if !errors.Is(err, werr.ErrFilterAttachFailed) {
		t.Fatalf("want ErrFilterAttachFailed, got %v", err)
	}

	if len(conn.calls) != 0 {
		t.Fatalf("no bus state expected, got %v", conn.calls)
	}

	// A later add must retry the attach once the connection recovers.
	conn.filterErr = nil
	if err := reg.AddListener(t.Context(), "a.b", func(string, any) {}, nil); err != nil {
		t.Fatalf("add after recovery: %v", err)
	}

	if len(conn.filters) != 1 {
		t.Fatalf("want 1 filter, got %d", len(conn.filters))
	}
}

func Test_AddThenRemove_SingleRuleRemoval(t *testing.T) {
	conn := &fakeConn{}
	reg := ownerwatch.New(conn, nil)

	cb := func(name string, data any) {}

	if err := reg.AddListener(t.Context(), "org.example.Svc", cb, "d"); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := reg.RemoveListener(t.Context(), "org.example.Svc", cb, "d"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if got := conn.matchCalls("remove:"); got != 1 {
		t.Fatalf("want 1 match removal, got %d", got)
	}

	// Nothing left behind.
	if err := reg.RemoveListener(t.Context(), "org.example.Svc", cb, "d"); !errors.Is(err, werr.ErrNoListener) {
		t.Fatalf("want ErrNoListener, got %v", err)
	}
}

func Test_DuplicateRegistrationsAreIndependent(t *testing.T) {
	conn := &fakeConn{}
	reg := ownerwatch.New(conn, nil)

	calls := 0
	cb := func(name string, data any) { calls++ }

	_ = reg.AddListener(t.Context(), "a.b", cb, "x")
	_ = reg.AddListener(t.Context(), "a.b", cb, "x")

	// One remove deletes exactly one of the two; rule and entry survive.
	if err := reg.RemoveListener(t.Context(), "a.b", cb, "x"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if got := conn.matchCalls("remove:"); got != 0 {
		t.Fatalf("rule must stay installed, got %d removals", got)
	}

	conn.emit(lost("a.b"))

	if calls != 1 {
		t.Fatalf("want remaining registration invoked once, got %d", calls)
	}
}

func Test_RemoveUnknown(t *testing.T) {
	conn := &fakeConn{}
	reg := ownerwatch.New(conn, nil)

	cb := func(name string, data any) {}

	// Never-registered name: failure, no bus call.
	if err := reg.RemoveListener(t.Context(), "no.such", cb, nil); !errors.Is(err, werr.ErrNoListener) {
		t.Fatalf("want ErrNoListener, got %v", err)
	}

	if len(conn.calls) != 0 {
		t.Fatalf("no bus calls expected, got %v", conn.calls)
	}

	// Known name, unknown callback identity.
	_ = reg.AddListener(t.Context(), "a.b", cb, "x")

	if err := reg.RemoveListener(t.Context(), "a.b", cb, "y"); !errors.Is(err, werr.ErrNoMatchingCallback) {
		t.Fatalf("want ErrNoMatchingCallback, got %v", err)
	}
}

func Test_NilCallbackRejected(t *testing.T) {
	reg := ownerwatch.New(&fakeConn{}, nil)

	if err := reg.AddListener(t.Context(), "a.b", nil, nil); !errors.Is(err, werr.ErrNilCallback) {
		t.Fatalf("want ErrNilCallback, got %v", err)
	}
}

func Test_AddMatchFailure_RollsBack(t *testing.T) {
	conn := &fakeConn{addErr: errors.New("bus rejected")}
	reg := ownerwatch.New(conn, nil)

	calls := 0
	cb := func(name string, data any) { calls++ }

	err := reg.AddListener(t.Context(), "a.b", cb, nil)
	if !errors.Is(err, werr.ErrMatchAddFailed) {
		t.Fatalf("want ErrMatchAddFailed, got %v", err)
	}

	// No partial state: a loss notification finds no listeners and a
	// remove reports none.
	conn.emit(lost("a.b"))

	if calls != 0 {
		t.Fatalf("rolled-back callback invoked %d times", calls)
	}

	if err := reg.RemoveListener(t.Context(), "a.b", cb, nil); !errors.Is(err, werr.ErrNoListener) {
		t.Fatalf("want ErrNoListener, got %v", err)
	}

	// A retry installs the rule normally.
	conn.addErr = nil
	if err := reg.AddListener(t.Context(), "a.b", cb, nil); err != nil {
		t.Fatalf("retry add: %v", err)
	}

	if got := conn.matchCalls("add:"); got != 1 {
		t.Fatalf("want 1 install after retry, got %d", got)
	}
}

func Test_RemoveMatchFailure_LocalEntryStillDropped(t *testing.T) {
	conn := &fakeConn{}
	reg := ownerwatch.New(conn, nil)

	cb := func(name string, data any) {}

	_ = reg.AddListener(t.Context(), "a.b", cb, nil)

	conn.removeErr = errors.New("bus gone")

	err := reg.RemoveListener(t.Context(), "a.b", cb, nil)
	if !errors.Is(err, werr.ErrMatchRemoveFailed) {
		t.Fatalf("want ErrMatchRemoveFailed, got %v", err)
	}

	// The unsubscribe took effect locally regardless of the bus failure.
	if err := reg.RemoveListener(t.Context(), "a.b", cb, nil); !errors.Is(err, werr.ErrNoListener) {
		t.Fatalf("want ErrNoListener after forced drop, got %v", err)
	}

	// Re-watching installs a fresh rule.
	conn.removeErr = nil
	if err := reg.AddListener(t.Context(), "a.b", cb, nil); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	if got := conn.matchCalls("add:"); got != 2 {
		t.Fatalf("want 2 installs, got %d", got)
	}
}
