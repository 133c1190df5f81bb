package bus

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-ebus/ebus"
)

// wirePort is an in-memory bus wire. Everything written to it is read back,
// and a remote driver attached to the wire sees every byte at write time.
type wirePort struct {
	mu       sync.Mutex
	readable []byte
	pending  []byte
	remote   *ebus.Driver
	results  []ebus.ProcessResult
	// onResult runs with mu held, e.g. to answer requests of the bus node.
	onResult func(res ebus.ProcessResult, tx ebus.Transmitter)

	signal    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	timeout   atomic.Int64
}

func newWirePort(remote *ebus.Driver) *wirePort {
	return &wirePort{
		remote: remote,
		signal: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (p *wirePort) Read(buf []byte) (int, error) {
	timeout := time.Duration(p.timeout.Load())
	if timeout <= 0 {
		timeout = time.Second
	}
	deadline := time.After(timeout)

	for {
		p.mu.Lock()
		if len(p.readable) > 0 {
			n := copy(buf, p.readable)
			p.readable = p.readable[n:]
			p.mu.Unlock()

			return n, nil
		}
		p.mu.Unlock()

		select {
		case <-p.closed:
			return 0, io.EOF
		case <-p.signal:
		case <-deadline:
			return 0, nil
		}
	}
}

func (p *wirePort) Write(buf []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	p.inject(buf...)

	return len(buf), nil
}

func (p *wirePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *wirePort) SetReadTimeout(timeout time.Duration) error {
	p.timeout.Store(int64(timeout))
	return nil
}

// inject puts bytes on the wire as if sent by a node outside the test.
func (p *wirePort) inject(bs ...byte) {
	p.mu.Lock()
	p.pending = append(p.pending, bs...)
	p.pump()
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// submit queues a telegram on the remote driver.
func (p *wirePort) submit(t *testing.T, mt ebus.MasterTelegram) {
	t.Helper()

	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.remote.Submit(mt)
	require.NoError(t, err)
}

func (p *wirePort) remoteKinds() []ebus.ResultKind {
	p.mu.Lock()
	defer p.mu.Unlock()

	kinds := make([]ebus.ResultKind, 0, len(p.results))
	for _, r := range p.results {
		kinds = append(kinds, r.Kind)
	}

	return kinds
}

func (p *wirePort) remoteResult(kind ebus.ResultKind) (ebus.ProcessResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range p.results {
		if r.Kind == kind {
			return r, true
		}
	}

	return ebus.ProcessResult{}, false
}

// pump must be called with mu held.
func (p *wirePort) pump() {
	tx := ebus.TransmitterFunc(func(b []byte) error {
		p.pending = append(p.pending, b...)
		return nil
	})

	for len(p.pending) > 0 {
		b := p.pending[0]
		p.pending = p.pending[1:]
		p.readable = append(p.readable, b)

		if p.remote == nil {
			continue
		}

		res, err := p.remote.Process(b, tx)
		if err != nil || res.IsNone() {
			continue
		}
		p.results = append(p.results, res)
		if p.onResult != nil {
			p.onResult(res, tx)
		}
	}
}

func newTestRemote(t *testing.T, addr byte) *ebus.Driver {
	t.Helper()

	d, err := ebus.NewDriver(addr)
	require.NoError(t, err)

	return d
}

// newTestBus creates and opens a bus with short timeouts. The bus is closed
// when the test ends.
func newTestBus(t *testing.T, port Port, addr byte, opts ...Option) *Bus {
	t.Helper()

	defaults := []Option{
		WithIdleTimeout(MinIdleTimeout),
		WithSendTimeout(time.Second),
	}

	b, err := New(t.Context(), port, addr, append(defaults, opts...)...)
	require.NoError(t, err)
	require.NoError(t, b.Open())

	t.Cleanup(func() { _ = b.Close() })

	return b
}

// waitEvent returns the first event matching fn, failing after a second.
func waitEvent(t *testing.T, ch <-chan Event, fn func(Event) bool) Event {
	t.Helper()

	deadline := time.After(time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "event channel closed")
			if fn(ev) {
				return ev
			}
		case <-deadline:
			require.FailNow(t, "timeout waiting for event")
			return Event{}
		}
	}
}
