package inmemory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/next-trace/scg-owner-watch/adapters/inmemory"
	cbus "github.com/next-trace/scg-owner-watch/contract/bus"
	werr "github.com/next-trace/scg-owner-watch/contract/errors"
)

func Test_RuleBookkeeping(t *testing.T) {
	b := inmemory.New()
	rule := cbus.OwnerChangeRule("a.b")

	if err := b.AddMatch(t.Context(), rule); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := b.AddMatch(t.Context(), rule); err != nil {
		t.Fatalf("add dup: %v", err)
	}

	if got := b.Matched(rule); got != 2 {
		t.Fatalf("want 2 installs, got %d", got)
	}

	if err := b.RemoveMatch(t.Context(), rule); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if err := b.RemoveMatch(t.Context(), rule); err != nil {
		t.Fatalf("remove second: %v", err)
	}

	if err := b.RemoveMatch(t.Context(), rule); !errors.Is(err, werr.ErrUnknownMatch) {
		t.Fatalf("want ErrUnknownMatch, got %v", err)
	}

	if got := len(b.Rules()); got != 0 {
		t.Fatalf("rules left behind: %v", b.Rules())
	}
}

func Test_EmitDelivery_And_Consumption(t *testing.T) {
	b := inmemory.New()

	var first, second []string

	_ = b.AddFilter(func(sig *cbus.Signal) cbus.FilterResult {
		first = append(first, sig.Member)
		if sig.Member == "Consumed" {
			return cbus.Handled
		}

		return cbus.NotHandled
	})
	_ = b.AddFilter(func(sig *cbus.Signal) cbus.FilterResult {
		second = append(second, sig.Member)
		return cbus.NotHandled
	})

	b.EmitOwnerChange("a.b", ":1.2", "")
	b.Emit(&cbus.Signal{Interface: "x", Member: "Consumed"})

	if len(first) != 2 {
		t.Fatalf("first filter saw %v", first)
	}

	// The consumed signal must not reach the second filter.
	if len(second) != 1 || second[0] != cbus.MemberNameOwnerChanged {
		t.Fatalf("second filter saw %v", second)
	}
}

func Test_ContextAndInjectedErrors(t *testing.T) {
	b := inmemory.New()
	rule := cbus.OwnerChangeRule("a.b")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if err := b.AddMatch(ctx, rule); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}

	b.AddMatchErr = errors.New("boom")
	if err := b.AddMatch(t.Context(), rule); err == nil {
		t.Fatalf("expected injected error")
	}

	b.AddFilterErr = errors.New("no filters")
	if err := b.AddFilter(func(*cbus.Signal) cbus.FilterResult { return cbus.NotHandled }); err == nil {
		t.Fatalf("expected injected filter error")
	}
}
