package memory

import (
	"log/slog"

	"github.com/next-trace/scg-owner-watch/adapters/inmemory"
	"github.com/next-trace/scg-owner-watch/ownerwatch"
)

// New constructs an owner-watch registry backed by the in-memory bus and
// returns both, so tests and examples can emit ownership changes directly.
// The logger may be nil.
func New(logger *slog.Logger) (*ownerwatch.Registry, *inmemory.Bus) {
	b := inmemory.New()
	return ownerwatch.New(b, logger), b
}
