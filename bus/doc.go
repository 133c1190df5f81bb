// Package bus runs the eBUS protocol driver on a serial line or a network
// bus adapter.
//
// A Bus owns one ebus.Driver and a single goroutine that reads the Port,
// feeds every received byte to the driver and writes whatever the driver
// transmits. Applications interact with the bus through:
//   - Send: queue a master telegram and wait for its outcome.
//   - RequestHandler: answer requests addressed to the slave address of the node.
//   - Subscribe: observe every driver outcome and every telegram framed on the bus.
//
// Ports:
//   - OpenSerial opens a UART interface at 2400 baud, 8N1.
//   - DialTCP connects to an adapter relaying the raw byte stream over TCP.
//   - NewConnPort adapts any net.Conn.
//
// Exactly one node of a bus generates SYN bytes while the bus is idle. Enable
// WithAutoSyn on that node only.
package bus
