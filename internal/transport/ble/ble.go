// Package ble models the local-radio carrier described by the spec:
// out of scope except as an interface. A real implementation would
// discover peers via a GATT service and exchange short payloads; this
// stub satisfies transport.Transport so the supervisor can always hold
// one of each carrier, and reports itself unavailable rather than
// silently doing nothing.
package ble

import (
	"context"
	"log/slog"

	"github.com/atmosphere-mesh/corenode/internal/atmoerr"
	"github.com/atmosphere-mesh/corenode/internal/transport"
)

// Transport is a compile-time stand-in for a BLE GATT carrier. Every
// operation but Name, Stop and Inbound reports
// atmoerr.ErrTransportUnavailable; Stop is a no-op that returns nil.
type Transport struct {
	logger  *slog.Logger
	inbound chan transport.InboundFrame
}

// New builds the BLE stub. No real radio I/O is performed.
func New(logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{logger: logger, inbound: make(chan transport.InboundFrame)}
}

func (t *Transport) Name() string { return "ble" }

func (t *Transport) Start(ctx context.Context) error {
	t.logger.Debug("ble: not implemented, transport remains unavailable")
	return atmoerr.ErrTransportUnavailable
}

func (t *Transport) Stop() error { return nil }

func (t *Transport) Send(peerID string, f transport.Frame) error {
	return atmoerr.ErrTransportUnavailable
}

func (t *Transport) Broadcast(f transport.Frame) error {
	return atmoerr.ErrTransportUnavailable
}

func (t *Transport) Inbound() <-chan transport.InboundFrame { return t.inbound }
