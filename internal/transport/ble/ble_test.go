package ble

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/atmosphere-mesh/corenode/internal/atmoerr"
	"github.com/atmosphere-mesh/corenode/internal/transport"
)

func TestTransport_StartReportsUnavailable(t *testing.T) {
	tr := New(nil)
	if err := tr.Start(context.Background()); !errors.Is(err, atmoerr.ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestTransport_SendReportsUnavailable(t *testing.T) {
	tr := New(nil)
	f := transport.NewFrame(uuid.New(), 1, nil)
	if err := tr.Send("peer", f); !errors.Is(err, atmoerr.ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
}
