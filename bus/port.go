package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// BaudRate is the fixed line speed of the bus.
const BaudRate = 2400

// Port is the byte stream of a bus interface.
//
// Read returns (0, nil) when no byte arrived within the read timeout. Every
// byte written to the port is also read back from it, as on the physical
// single-wire bus.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(timeout time.Duration) error
}

// OpenSerial opens a UART bus interface such as /dev/ttyUSB0 at 2400 8N1.
func OpenSerial(name string) (Port, error) {
	mode := &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("bus: open serial port %s: %w", name, err)
	}

	return port, nil
}

// SerialPorts lists the serial ports of the host.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

// DialTCP connects to a network bus adapter that relays the raw byte stream,
// e.g. a ser2net style bridge.
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (Port, error) {
	dialer := &net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s: %w", addr, err)
	}

	return NewConnPort(conn), nil
}

// NewConnPort adapts a net.Conn to the Port interface.
func NewConnPort(conn net.Conn) Port {
	return &connPort{conn: conn}
}

type connPort struct {
	conn    net.Conn
	timeout atomic.Int64
}

func (p *connPort) Read(buf []byte) (int, error) {
	if timeout := time.Duration(p.timeout.Load()); timeout > 0 {
		if err := p.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
	}

	n, err := p.conn.Read(buf)
	if err != nil && isTimeout(err) {
		return n, nil
	}

	return n, err
}

func (p *connPort) Write(buf []byte) (int, error) { return p.conn.Write(buf) }

func (p *connPort) Close() error { return p.conn.Close() }

func (p *connPort) SetReadTimeout(timeout time.Duration) error {
	p.timeout.Store(int64(timeout))
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

func isClosedError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed)
}
