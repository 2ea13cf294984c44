package nats_test

import (
	"errors"
	"testing"

	"github.com/next-trace/scg-owner-watch/adapters/nats"
	werr "github.com/next-trace/scg-owner-watch/contract/errors"
)

func Test_NewWithNATS_RequiresURL(t *testing.T) {
	conn, cleanup, err := nats.NewWithNATS(nats.Config{})
	if !errors.Is(err, werr.ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}

	if conn != nil || cleanup != nil {
		t.Fatalf("expected nil conn and cleanup on error")
	}
}
