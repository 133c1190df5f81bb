package ebus

import (
	"fmt"

	"github.com/arloliu/go-ebus/internal/queue"
	"github.com/arloliu/go-ebus/logger"
)

// echoCapacity bounds the number of transmitted bytes whose echo is outstanding.
// The largest single transmission is a full telegram followed by a SYN.
const echoCapacity = 2 * maxWireLen

// outbound is a telegram queued by Submit.
type outbound struct {
	mt    MasterTelegram
	token RequestToken
	// lost counts lost arbitrations and collisions of this telegram.
	lost int
}

// Driver is the byte level protocol engine of one bus node.
//
// A Driver is fed every byte received from the bus through Process, including
// the echo of the bytes it transmitted itself. It frames telegrams, answers
// with ACK/NACK/SYN where the protocol requires it, arbitrates for the bus
// when a telegram is queued with Submit, and reports outcomes as
// ProcessResult values.
//
// A Driver is not goroutine-safe. It never blocks and never retries a failed
// Transmit.
type Driver struct {
	addr      byte
	slaveAddr byte
	cfg       driverConfig
	logger    logger.Logger
	metrics   DriverMetrics

	state   State
	escaped bool
	crc     Crc
	hdr     [headerLen]byte
	hdrLen  int
	nn      int
	data    Buffer
	// repeat is set after we NACKed a telegram and wait for the sender to repeat it.
	repeat bool
	// retried is set once the exchange in flight used its single repeat.
	retried bool

	echo queue.Queue[byte]

	seq     uint64
	pending queue.Queue[outbound]
	cur     outbound
	hasCur  bool
	lock    int

	inbound      MasterTelegram
	inboundToken RequestToken
	reply        MasterTelegram

	wireBuf [maxWireLen]byte
	wire    []byte
	ctrl    [2]byte
}

// NewDriver creates a driver for the master address addr. The driver also
// answers requests sent to SlaveAddrOf(addr).
//
// The driver starts in StateWaitSyn with a cleared CRC and no outstanding token.
func NewDriver(addr byte, opts ...Option) (*Driver, error) {
	if !IsMasterAddr(addr) {
		return nil, fmt.Errorf("%w: 0x%02X is not a master address", ErrInvalidAddress, addr)
	}

	cfg := defaultDriverConfig()
	for _, opt := range opts {
		if err := opt.apply(&cfg); err != nil {
			return nil, err
		}
	}

	d := &Driver{
		addr:      addr,
		slaveAddr: SlaveAddrOf(addr),
		cfg:       cfg,
		logger:    cfg.logger.With("addr", fmt.Sprintf("0x%02X", addr)),
		state:     StateWaitSyn,
		echo:      queue.NewRingQueue[byte](echoCapacity),
		pending:   queue.NewRingQueue[outbound](cfg.queueSize),
	}
	d.resetFrame()

	return d, nil
}

// Address returns the master address of the driver.
func (d *Driver) Address() byte { return d.addr }

// SlaveAddress returns the slave address of the driver.
func (d *Driver) SlaveAddress() byte { return d.slaveAddr }

// State returns the current parse state.
func (d *Driver) State() State { return d.state }

// Pending returns the number of submitted telegrams without an outcome yet.
func (d *Driver) Pending() int {
	n := d.pending.Length()
	if d.hasCur {
		n++
	}

	return n
}

// Metrics returns the counters of the driver.
func (d *Driver) Metrics() *DriverMetrics { return &d.metrics }

// Submit queues a master telegram for transmission at the next SYN this node
// may use, and returns the token its outcome will carry.
func (d *Driver) Submit(mt MasterTelegram) (RequestToken, error) {
	req, ok := mt.AsRequest()
	if !ok {
		return RequestToken{}, fmt.Errorf("%w: cannot submit a %s", ErrInvalidRole, mt.Role())
	}
	if req.Src != d.addr {
		return RequestToken{}, fmt.Errorf("%w: 0x%02X", ErrSourceMismatch, req.Src)
	}

	token := RequestToken{seq: d.seq}
	if !d.pending.Enqueue(outbound{mt: mt, token: token}) {
		return RequestToken{}, ErrQueueFull
	}
	d.seq++

	return token, nil
}

// Process advances the driver by one received byte.
//
// It returns the zero result unless the byte completes an exchange or a
// telegram addressed to this node. Bytes required by the protocol are written
// to tx before Process returns; a Transmit error is returned as is and leaves
// the driver waiting for the next SYN.
func (d *Driver) Process(b byte, tx Transmitter) (ProcessResult, error) {
	d.metrics.incByteRecvCount()

	if head, ok := d.echo.Peek(); ok {
		if head != b {
			return d.onEchoMismatch(b, tx)
		}
		_, _ = d.echo.Dequeue()

		return d.onEcho(b, tx)
	}

	if b == SYN {
		return d.onSyn(tx)
	}

	switch d.state {
	case StateReceivingHeader, StateReceivingData:
		return d.receive(b, tx)
	case StateAwaitAck:
		return d.onMasterAck(b, tx)
	case StateAwaitReply:
		return d.receiveReply(b, tx)
	case StateAwaitSlaveReply:
		d.logger.Debug("ebus: bus continued before slave reply", "byte", fmt.Sprintf("0x%02X", b))
		d.metrics.incTimeoutCount()
		res := resultOf(ResultTimeout, d.inboundToken, d.slaveTelegram())
		d.toWaitSyn()

		return res, nil
	case StateAwaitReplyAck:
		return d.onSlaveAck(b, tx)
	default:
		return ProcessResult{}, nil
	}
}

// ReplyAsSlave transmits the reply to the inbound request identified by token.
// It must be called after Process reported that request and before the next
// byte is processed.
func (d *Driver) ReplyAsSlave(token RequestToken, data []byte, tx Transmitter) error {
	if d.state != StateAwaitSlaveReply || token != d.inboundToken {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}

	reply, err := d.inbound.ReplyAsSlave(data)
	if err != nil {
		return err
	}
	d.reply = reply
	d.wire = d.reply.AppendWire(d.wireBuf[:0])
	d.retried = false
	d.state = StateAwaitReplyAck

	return d.send(tx, d.wire)
}

// ResetSyn forces the bus-free state, as if a SYN had been received, and
// returns the outcome of the exchange it interrupted.
func (d *Driver) ResetSyn() ProcessResult {
	res := d.collapse()
	d.echo.Reset()
	d.resetFrame()
	d.state = StateReceivingHeader

	return res
}

// ResetWaitSyn discards everything up to the next SYN and returns the outcome
// of the exchange it interrupted.
func (d *Driver) ResetWaitSyn() ProcessResult {
	res := d.collapse()
	d.echo.Reset()
	d.toWaitSyn()

	return res
}

// TransmitRaw writes p to the bus if the bus is free, then waits for the next SYN.
func (d *Driver) TransmitRaw(p []byte, tx Transmitter) error {
	if !d.busFree() {
		return fmt.Errorf("%w: state %s", ErrBusBusy, d.state)
	}
	if len(p) == 0 {
		return nil
	}
	d.toWaitSyn()

	return d.send(tx, p)
}

// TransmitSyn writes a SYN if neither this node nor anybody else is in the
// middle of an exchange as far as the driver can tell.
func (d *Driver) TransmitSyn(tx Transmitter) error {
	if d.state != StateWaitSyn && !d.busFree() {
		return fmt.Errorf("%w: state %s", ErrBusBusy, d.state)
	}
	if !d.echo.IsEmpty() {
		return fmt.Errorf("%w: transmission in progress", ErrBusBusy)
	}

	return d.sendCtrl(tx, SYN)
}

func (d *Driver) busFree() bool {
	return d.state == StateReceivingHeader && d.hdrLen == 0 && !d.repeat && d.echo.IsEmpty()
}

// --- SYN and echo ---

func (d *Driver) onSyn(tx Transmitter) (ProcessResult, error) {
	d.metrics.incSynRecvCount()

	res := d.collapse()
	d.resetFrame()
	d.state = StateReceivingHeader

	if d.lock > 0 {
		d.lock--
		return res, nil
	}

	if !d.hasCur {
		d.cur, d.hasCur = d.pending.Dequeue()
	}
	if !d.hasCur {
		return res, nil
	}

	d.wire = d.cur.mt.AppendWire(d.wireBuf[:0])
	d.state = StateArbitration

	return res, d.send(tx, d.wire[:1])
}

// collapse ends the exchange in flight and returns its outcome.
func (d *Driver) collapse() ProcessResult {
	var res ProcessResult

	switch {
	case d.state.isMasterExchange() && d.hasCur:
		d.logger.Debug("ebus: AUTO-SYN during master exchange", "state", d.state.String(), "token", d.cur.token)
		d.metrics.incTimeoutCount()
		res = resultOf(ResultTimeout, d.cur.token, d.cur.mt)
		d.finish()
	case d.state.isSlaveExchange():
		d.logger.Debug("ebus: AUTO-SYN during slave exchange", "state", d.state.String(), "token", d.inboundToken)
		d.metrics.incTimeoutCount()
		res = resultOf(ResultTimeout, d.inboundToken, d.slaveTelegram())
	case d.state == StateReceivingData || (d.state == StateReceivingHeader && d.hdrLen > 0):
		d.logger.Debug("ebus: telegram truncated by SYN", "headerLen", d.hdrLen, "dataLen", d.data.Len())
		d.metrics.incTelegramErrCount()
		res = ProcessResult{Kind: ResultTelegramCrcError}
	}

	d.repeat = false
	d.retried = false

	return res
}

func (d *Driver) onEcho(b byte, tx Transmitter) (ProcessResult, error) {
	if b == SYN {
		return d.onSyn(tx)
	}

	switch d.state { //nolint:exhaustive
	case StateArbitration:
		d.metrics.incArbitrationWonCount()
		d.state = StateSending

		return ProcessResult{}, d.send(tx, d.wire[1:])
	case StateSending:
		if !d.echo.IsEmpty() {
			return ProcessResult{}, nil
		}
		if d.cur.mt.Kind() == KindBroadcast {
			res := resultOf(ResultMasterAckOk, d.cur.token, d.cur.mt)
			d.finish()
			d.state = StateWaitSyn

			return res, d.sendCtrl(tx, SYN)
		}
		d.state = StateAwaitAck
	}

	return ProcessResult{}, nil
}

func (d *Driver) onEchoMismatch(b byte, tx Transmitter) (ProcessResult, error) {
	d.echo.Reset()

	var res ProcessResult
	if d.state == StateArbitration {
		res = d.lostArbitration(b)
		if b != SYN {
			// the winner's QQ starts a telegram like any other
			d.resetFrame()
			d.state = StateReceivingHeader

			_, err := d.receive(b, tx)

			return res, err
		}
	} else {
		res = d.collision(b)
	}

	if b == SYN {
		r, err := d.onSyn(tx)
		if res.IsNone() {
			res = r
		}

		return res, err
	}

	return res, nil
}

func (d *Driver) lostArbitration(winner byte) ProcessResult {
	d.metrics.incArbitrationLostCount()
	d.cur.lost++
	d.logger.Debug("ebus: arbitration lost",
		"winner", fmt.Sprintf("0x%02X", winner),
		"token", d.cur.token,
		"attempts", d.cur.lost,
	)

	if d.cur.lost >= d.cfg.retryLimit {
		res := resultOf(ResultArbitrationLost, d.cur.token, d.cur.mt)
		d.finish()
		d.state = StateWaitSyn

		return res
	}

	if PriorityClass(winner) == PriorityClass(d.addr) {
		d.lock = 0
	} else {
		d.lock = d.cfg.fairness
	}
	d.state = StateWaitSyn

	return ProcessResult{}
}

func (d *Driver) collision(b byte) ProcessResult {
	d.metrics.incCollisionCount()
	d.logger.Debug("ebus: collision", "state", d.state.String(), "byte", fmt.Sprintf("0x%02X", b))

	var res ProcessResult
	switch {
	case d.state.isMasterExchange() && d.hasCur:
		d.cur.lost++
		if d.cur.lost >= d.cfg.retryLimit {
			res = resultOf(ResultArbitrationLost, d.cur.token, d.cur.mt)
			d.finish()
		}
	case d.state.isSlaveExchange():
		res = resultOf(ResultSlaveAckErr, d.inboundToken, d.slaveTelegram())
	}
	d.toWaitSyn()

	return res
}

// --- receiving master telegrams ---

// unescape runs one raw byte through the escape decoder and the running CRC.
// The CRC byte itself is not added to the CRC. It reports false while an
// escape sequence is incomplete.
func (d *Driver) unescape(b byte, atCrc bool) (byte, bool, error) {
	if !atCrc {
		d.crc = d.crc.Add(b)
	}

	if d.escaped {
		d.escaped = false
		v, err := Unescape(b)

		return v, err == nil, err
	}
	if b == ESC {
		d.escaped = true
		return 0, false, nil
	}

	return b, true, nil
}

func (d *Driver) atTelegramCrc() bool {
	return d.hdrLen == headerLen && d.data.Len() == d.nn
}

func (d *Driver) receive(b byte, tx Transmitter) (ProcessResult, error) {
	if d.hdrLen == 0 && !d.escaped && !IsMasterAddr(b) {
		d.logger.Debug("ebus: invalid source address", "byte", fmt.Sprintf("0x%02X", b))
		d.repeat = false
		d.toWaitSyn()

		return ProcessResult{}, nil
	}

	v, ok, err := d.unescape(b, d.atTelegramCrc())
	if err != nil {
		return d.frameError("invalid escape", err), nil
	}
	if !ok {
		return ProcessResult{}, nil
	}

	if d.hdrLen < headerLen {
		d.hdr[d.hdrLen] = v
		d.hdrLen++

		switch d.hdrLen {
		case 2:
			if !IsValidAddr(v) {
				return d.frameError("invalid destination address", nil), nil
			}
		case headerLen:
			if int(v) > MaxDataLen {
				return d.frameError("data length out of range", nil), nil
			}
			d.nn = int(v)
			d.state = StateReceivingData
		}

		return ProcessResult{}, nil
	}

	if d.data.Len() < d.nn {
		return ProcessResult{}, d.data.Add(v)
	}

	return d.telegramComplete(v, tx)
}

func (d *Driver) frameError(reason string, err error) ProcessResult {
	d.logger.Debug("ebus: telegram framing error", "reason", reason, "error", err)
	d.metrics.incTelegramErrCount()
	d.repeat = false
	d.toWaitSyn()

	return ProcessResult{Kind: ResultTelegramCrcError}
}

func (d *Driver) telegramComplete(crc byte, tx Transmitter) (ProcessResult, error) {
	mt := newReceivedTelegram(Telegram{
		Src:     d.hdr[0],
		Dest:    d.hdr[1],
		Service: uint16(d.hdr[2])<<8 | uint16(d.hdr[3]),
		Data:    d.data,
		CRC:     crc,
	})
	valid := crc == d.crc.Value()
	if d.cfg.observer != nil {
		d.cfg.observer(mt.Telegram, valid)
	}

	forUs := mt.Dest == d.addr || mt.Dest == d.slaveAddr

	if !valid {
		d.metrics.incTelegramErrCount()
		d.logger.Debug("ebus: telegram CRC mismatch",
			"telegram", mt.String(),
			"expected", fmt.Sprintf("0x%02X", d.crc.Value()),
		)
		res := resultOf(ResultTelegramCrcError, RequestToken{}, mt)
		if !forUs {
			d.toWaitSyn()
			return res, nil
		}

		if d.repeat {
			d.repeat = false
			d.toWaitSyn()
		} else {
			d.repeat = true
			d.resetFrame()
			d.state = StateReceivingHeader
		}

		return res, d.sendCtrl(tx, NACK)
	}

	d.metrics.incTelegramRecvCount()
	d.repeat = false

	switch mt.Dest {
	case BroadcastAddr:
		d.metrics.incRequestCount()
		res := resultOf(ResultRequest, d.nextToken(), mt)
		d.toWaitSyn()

		return res, nil
	case d.addr:
		d.metrics.incRequestCount()
		res := resultOf(ResultRequest, d.nextToken(), mt)
		d.toWaitSyn()

		return res, d.sendCtrl(tx, ACK)
	case d.slaveAddr:
		d.metrics.incRequestCount()
		d.inbound = mt
		d.inboundToken = d.nextToken()
		d.reply = MasterTelegram{}
		d.retried = false
		d.resetFrame()
		d.state = StateAwaitSlaveReply

		return resultOf(ResultRequest, d.inboundToken, mt), d.sendCtrl(tx, ACK)
	default:
		d.toWaitSyn()
		return ProcessResult{}, nil
	}
}

// --- master side ---

func (d *Driver) onMasterAck(b byte, tx Transmitter) (ProcessResult, error) {
	if b == ACK {
		if d.cur.mt.Flags.ExpectReply {
			d.retried = false
			d.resetFrame()
			d.state = StateAwaitReply

			return ProcessResult{}, nil
		}

		res := resultOf(ResultMasterAckOk, d.cur.token, d.cur.mt)
		d.finish()
		d.state = StateWaitSyn

		return res, d.sendCtrl(tx, SYN)
	}

	if !d.retried {
		d.logger.Debug("ebus: telegram not acknowledged, repeating",
			"byte", fmt.Sprintf("0x%02X", b),
			"token", d.cur.token,
		)
		d.metrics.incRepeatCount()
		d.retried = true
		d.state = StateSending

		return ProcessResult{}, d.send(tx, d.wire)
	}

	res := resultOf(ResultMasterAckErr, d.cur.token, d.cur.mt)
	d.finish()
	d.state = StateWaitSyn

	return res, d.sendCtrl(tx, SYN)
}

func (d *Driver) receiveReply(b byte, tx Transmitter) (ProcessResult, error) {
	v, ok, err := d.unescape(b, d.nn >= 0 && d.data.Len() == d.nn)
	if err != nil {
		return d.badReply(tx)
	}
	if !ok {
		return ProcessResult{}, nil
	}

	if d.nn < 0 {
		if int(v) > MaxDataLen {
			return d.badReply(tx)
		}
		d.nn = int(v)

		return ProcessResult{}, nil
	}
	if d.data.Len() < d.nn {
		return ProcessResult{}, d.data.Add(v)
	}

	if v != d.crc.Value() {
		return d.badReply(tx)
	}

	d.metrics.incTelegramRecvCount()
	res := ProcessResult{Kind: ResultReply, Token: d.cur.token, Telegram: d.cur.mt, Data: d.data}
	d.finish()
	d.state = StateWaitSyn

	return res, d.sendCtrl(tx, ACK, SYN)
}

func (d *Driver) badReply(tx Transmitter) (ProcessResult, error) {
	d.metrics.incTelegramErrCount()
	d.logger.Debug("ebus: reply CRC mismatch", "token", d.cur.token, "repeated", d.retried)

	if !d.retried {
		d.metrics.incRepeatCount()
		d.retried = true
		d.resetFrame()

		return ProcessResult{}, d.sendCtrl(tx, NACK)
	}

	res := resultOf(ResultReplyCrcError, d.cur.token, d.cur.mt)
	d.finish()
	d.state = StateWaitSyn

	return res, d.sendCtrl(tx, NACK, SYN)
}

// finish removes the telegram in flight and lets the other masters use the
// next SYNs.
func (d *Driver) finish() {
	d.cur = outbound{}
	d.hasCur = false
	d.retried = false
	d.lock = d.cfg.fairness
}

// --- slave side ---

func (d *Driver) onSlaveAck(b byte, tx Transmitter) (ProcessResult, error) {
	if b == ACK {
		res := resultOf(ResultSlaveAckOk, d.inboundToken, d.reply)
		d.toWaitSyn()

		return res, nil
	}

	if !d.retried {
		d.logger.Debug("ebus: reply not acknowledged, repeating",
			"byte", fmt.Sprintf("0x%02X", b),
			"token", d.inboundToken,
		)
		d.metrics.incRepeatCount()
		d.retried = true

		return ProcessResult{}, d.send(tx, d.wire)
	}

	res := resultOf(ResultSlaveAckErr, d.inboundToken, d.reply)
	d.toWaitSyn()

	return res, nil
}

// --- helpers ---

func (d *Driver) nextToken() RequestToken {
	t := RequestToken{seq: d.seq}
	d.seq++

	return t
}

func (d *Driver) resetFrame() {
	d.escaped = false
	d.crc = NewCrc(TelegramPolynomial)
	d.hdrLen = 0
	d.nn = -1
	d.data.Reset()
}

func (d *Driver) toWaitSyn() {
	d.resetFrame()
	d.retried = false
	d.state = StateWaitSyn
}

// send transmits p and records it for echo matching.
func (d *Driver) send(tx Transmitter, p []byte) error {
	for _, b := range p {
		if !d.echo.Enqueue(b) {
			d.logger.Warn("ebus: echo buffer overflow", "len", d.echo.Length())
			d.echo.Reset()

			break
		}
	}

	if err := tx.Transmit(p); err != nil {
		d.logger.Debug("ebus: transmit failed", "state", d.state.String(), "error", err)
		d.echo.Reset()
		d.resetFrame()
		d.state = StateWaitSyn

		return err
	}

	return nil
}

func (d *Driver) sendCtrl(tx Transmitter, b ...byte) error {
	n := copy(d.ctrl[:], b)
	return d.send(tx, d.ctrl[:n])
}

// slaveTelegram returns the reply we sent, or the request we are answering
// if the reply was not sent yet.
func (d *Driver) slaveTelegram() MasterTelegram {
	if d.reply.IsNone() {
		return d.inbound
	}

	return d.reply
}
