package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-ebus/ebus"
	"github.com/arloliu/go-ebus/internal/queue"
	"github.com/arloliu/go-ebus/internal/task"
	"github.com/arloliu/go-ebus/logger"
)

// Sentinel errors of the bus runtime.
var (
	ErrBusClosed = errors.New("bus: bus is closed")
	ErrBusOpened = errors.New("bus: bus is already open")
)

// Bus runs a protocol driver on a Port.
//
// A single goroutine owns the driver: it reads the port, feeds every byte to
// the driver, hands queued telegrams to it and answers slave requests through
// the RequestHandler. Send, Subscribe and the accessors are safe for
// concurrent use.
type Bus struct {
	port    Port
	addr    byte
	cfg     *config
	logger  logger.Logger
	driver  *ebus.Driver
	tx      *portTransmitter
	taskMgr *task.Manager

	opened    atomic.Bool
	closed    atomic.Bool
	stopped   chan struct{}
	stopOnce  sync.Once
	closeErr  error
	closeOnce sync.Once

	// submitQ carries Send requests to the bus goroutine.
	submitQ queue.Queue[*sendRequest]
	waiters *xsync.MapOf[ebus.RequestToken, *sendRequest]
	events  *eventHub

	metrics Metrics

	// owned by the bus goroutine
	readBuf  [64]byte
	lastRecv time.Time
	idle     bool
}

type sendResult struct {
	res ebus.ProcessResult
	err error
}

type sendRequest struct {
	ctx  context.Context
	mt   ebus.MasterTelegram
	done chan sendResult
}

// New creates a Bus for the master address addr on port.
//
// The bus does not touch the port before Open. ctx bounds the lifetime of the
// bus goroutine.
func New(ctx context.Context, port Port, addr byte, opts ...Option) (*Bus, error) {
	if port == nil {
		return nil, errors.New("bus: port is nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	b := &Bus{
		port:    port,
		addr:    addr,
		cfg:     cfg,
		logger:  cfg.logger,
		stopped: make(chan struct{}),
		submitQ: queue.NewLockFreeQueue[*sendRequest](),
		waiters: xsync.NewMapOf[ebus.RequestToken, *sendRequest](),
		taskMgr: task.NewManager(ctx, cfg.logger),
	}
	b.events = newEventHub(&b.metrics)
	b.tx = &portTransmitter{port: port, metrics: &b.metrics}

	driverOpts := make([]ebus.Option, 0, len(cfg.driverOpts)+2)
	driverOpts = append(driverOpts, ebus.WithLogger(cfg.logger))
	driverOpts = append(driverOpts, cfg.driverOpts...)
	driverOpts = append(driverOpts, ebus.WithTelegramObserver(b.observe))

	driver, err := ebus.NewDriver(addr, driverOpts...)
	if err != nil {
		return nil, err
	}
	b.driver = driver

	return b, nil
}

// Address returns the master address of the bus node.
func (b *Bus) Address() byte { return b.addr }

// SlaveAddress returns the slave address of the bus node.
func (b *Bus) SlaveAddress() byte { return ebus.SlaveAddrOf(b.addr) }

// Metrics returns the runtime metrics.
func (b *Bus) Metrics() *Metrics { return &b.metrics }

// DriverMetrics returns the protocol metrics of the driver.
func (b *Bus) DriverMetrics() *ebus.DriverMetrics { return b.driver.Metrics() }

// Open starts the bus goroutine.
func (b *Bus) Open() error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if !b.opened.CompareAndSwap(false, true) {
		return ErrBusOpened
	}

	if err := b.port.SetReadTimeout(pollTimeout); err != nil {
		return fmt.Errorf("bus: set read timeout: %w", err)
	}

	b.lastRecv = time.Now()
	b.logger.Info("bus: open",
		"addr", fmt.Sprintf("0x%02X", b.addr),
		"autoSyn", b.cfg.autoSyn,
		"idleTimeout", b.cfg.idleTimeout,
	)

	return b.taskMgr.Start("busLoop", b.loopIteration)
}

// Close stops the bus goroutine, closes the port and fails pending Sends with
// ErrBusClosed. It is safe to call Close more than once.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.markStopped()

		b.taskMgr.Stop()
		if err := b.port.Close(); err != nil {
			b.logger.Error("bus: failed to close port", "error", err)
			b.closeErr = err
		}
		b.taskMgr.Wait()

		b.failPending()
		b.events.closeAll()
		b.logger.Info("bus: closed")
	})

	return b.closeErr
}

// NewRequest builds a telegram from this node to dest. A reply is expected
// when dest is a slave address.
func (b *Bus) NewRequest(dest byte, service uint16, data []byte) (ebus.MasterTelegram, error) {
	return ebus.NewMasterTelegram(b.addr, dest, service, data, ebus.TelegramFlags{
		ExpectReply: ebus.IsSlaveAddr(dest),
	})
}

// Send queues mt and waits for its outcome.
//
// The returned result is the final outcome of the exchange: ResultReply,
// ResultMasterAckOk or one of the error kinds, in which case the error is
// ProcessResult.Err(). If ctx has no deadline, the send timeout applies.
func (b *Bus) Send(ctx context.Context, mt ebus.MasterTelegram) (ebus.ProcessResult, error) {
	if b.closed.Load() {
		return ebus.ProcessResult{}, ErrBusClosed
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.sendTimeout)
		defer cancel()
	}

	req := &sendRequest{ctx: ctx, mt: mt, done: make(chan sendResult, 1)}
	b.submitQ.Enqueue(req)

	b.metrics.incRequestInflightCount()
	defer b.metrics.decRequestInflightCount()

	select {
	case <-ctx.Done():
		return ebus.ProcessResult{}, ctx.Err()

	case <-b.stopped:
		return ebus.ProcessResult{}, ErrBusClosed

	case r := <-req.done:
		if r.err != nil {
			b.metrics.incRequestErrCount()
			return r.res, r.err
		}
		if err := r.res.Err(); err != nil {
			b.metrics.incRequestErrCount()
			return r.res, err
		}

		return r.res, nil
	}
}

// Subscribe returns a channel receiving bus events, and a function ending
// the subscription. Events are dropped while the channel is full.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	return b.events.subscribe(b.cfg.eventBuffer)
}

// --- bus goroutine ---

func (b *Bus) loopIteration() bool {
	b.submitPending()

	n, err := b.port.Read(b.readBuf[:])
	if err != nil {
		if !b.closed.Load() {
			if isClosedError(err) {
				b.logger.Warn("bus: port closed", "error", err)
			} else {
				b.logger.Error("bus: read failed", "error", err)
			}
		}
		b.markStopped()

		return false
	}

	if n == 0 {
		b.checkIdle()
		return true
	}

	b.metrics.incByteRecvCount(n)
	b.lastRecv = time.Now()
	b.idle = false

	for _, c := range b.readBuf[:n] {
		res, err := b.driver.Process(c, b.tx)
		if err != nil {
			b.logger.Error("bus: transmit failed", "state", b.driver.State().String(), "error", err)
		}
		b.handle(res)
	}

	return true
}

func (b *Bus) submitPending() {
	for {
		req, ok := b.submitQ.Dequeue()
		if !ok {
			return
		}
		if req.ctx.Err() != nil {
			continue
		}

		token, err := b.driver.Submit(req.mt)
		if err != nil {
			req.done <- sendResult{err: err}
			continue
		}

		b.metrics.incRequestSendCount()
		b.waiters.Store(token, req)
	}
}

func (b *Bus) handle(res ebus.ProcessResult) {
	if res.IsNone() {
		return
	}

	b.events.publish(Event{Type: EventResult, Time: time.Now(), Result: res})

	switch res.Kind { //nolint:exhaustive
	case ebus.ResultRequest:
		b.onRequest(res)
	case ebus.ResultTelegramCrcError, ebus.ResultSlaveAckOk, ebus.ResultSlaveAckErr:
	default:
		if req, ok := b.waiters.LoadAndDelete(res.Token); ok {
			req.done <- sendResult{res: res}
		}
	}
}

func (b *Bus) onRequest(res ebus.ProcessResult) {
	mt, _ := res.AsRequest()
	if mt.Dest != b.SlaveAddress() || b.cfg.handler == nil {
		return
	}

	data, err := b.callHandler(mt)
	if err != nil {
		b.logger.Debug("bus: request handler declined", "telegram", mt.String(), "error", err)
		return
	}

	if err := b.driver.ReplyAsSlave(res.Token, data, b.tx); err != nil {
		b.logger.Error("bus: failed to send slave reply", "telegram", mt.String(), "error", err)
		return
	}
	b.metrics.incSlaveRequestCount()
}

func (b *Bus) callHandler(mt ebus.MasterTelegram) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: request handler panic: %v", r)
		}
	}()

	return b.cfg.handler(mt)
}

func (b *Bus) checkIdle() {
	if time.Since(b.lastRecv) < b.cfg.idleTimeout {
		return
	}

	if !b.idle {
		b.idle = true
		b.handle(b.driver.ResetWaitSyn())
	}

	if b.cfg.autoSyn {
		if err := b.driver.TransmitSyn(b.tx); err != nil {
			b.logger.Debug("bus: auto-SYN failed", "error", err)
		} else {
			b.metrics.incAutoSynCount()
		}
		b.lastRecv = time.Now()
	}
}

func (b *Bus) observe(t ebus.Telegram, crcOK bool) {
	b.events.publish(Event{Type: EventTelegram, Time: time.Now(), Telegram: t, CrcOK: crcOK})
}

func (b *Bus) markStopped() {
	b.stopOnce.Do(func() { close(b.stopped) })
}

func (b *Bus) failPending() {
	b.waiters.Range(func(token ebus.RequestToken, _ *sendRequest) bool {
		if req, ok := b.waiters.LoadAndDelete(token); ok {
			req.done <- sendResult{err: ErrBusClosed}
		}

		return true
	})

	for {
		req, ok := b.submitQ.Dequeue()
		if !ok {
			return
		}
		req.done <- sendResult{err: ErrBusClosed}
	}
}

// portTransmitter writes driver output to the port.
type portTransmitter struct {
	port    Port
	metrics *Metrics
}

func (t *portTransmitter) Transmit(p []byte) error {
	for written := 0; written < len(p); {
		n, err := t.port.Write(p[written:])
		written += n

		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	t.metrics.incByteSendCount(len(p))

	return nil
}
