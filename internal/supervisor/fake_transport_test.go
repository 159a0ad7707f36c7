package supervisor

import (
	"context"
	"sync"

	"github.com/atmosphere-mesh/corenode/internal/transport"
)

type sentFrame struct {
	peerID string
	frame  transport.Frame
}

// fakeTransport is a minimal in-memory transport.Transport for exercising
// the supervisor's lifecycle and frame-routing logic without any real
// network carrier.
type fakeTransport struct {
	name string

	mu         sync.Mutex
	startErr   error
	startCalls int
	stopped    bool
	sent       []sentFrame
	broadcasts []transport.Frame
	inbound    chan transport.InboundFrame
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{name: name, inbound: make(chan transport.InboundFrame, 16)}
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		err := f.startErr
		f.startErr = nil
		return err
	}
	return nil
}

func (f *fakeTransport) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeTransport) Send(peerID string, fr transport.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentFrame{peerID, fr})
	return nil
}

func (f *fakeTransport) Broadcast(fr transport.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, fr)
	return nil
}

func (f *fakeTransport) Inbound() <-chan transport.InboundFrame { return f.inbound }

func (f *fakeTransport) deliver(ibf transport.InboundFrame) {
	f.inbound <- ibf
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

func (f *fakeTransport) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls
}
