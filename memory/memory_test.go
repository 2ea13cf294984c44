package memory_test

import (
	"testing"

	cbus "github.com/next-trace/scg-owner-watch/contract/bus"
	"github.com/next-trace/scg-owner-watch/memory"
)

func Test_FacadeWiring(t *testing.T) {
	reg, b := memory.New(nil)

	var lost []string

	cb := func(name string, data any) { lost = append(lost, name) }

	if err := reg.AddListener(t.Context(), "a.b", cb, nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	if got := b.Matched(cbus.OwnerChangeRule("a.b")); got != 1 {
		t.Fatalf("want rule installed once, got %d", got)
	}

	b.EmitOwnerChange("a.b", ":1.1", "")

	if len(lost) != 1 || lost[0] != "a.b" {
		t.Fatalf("loss not dispatched: %v", lost)
	}
}
