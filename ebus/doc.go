// Package ebus implements the byte-level protocol engine of the eBUS field bus.
//
// eBUS is a half-duplex, single-wire serial bus (2400 baud, 8N1). Every node
// sees every byte, including the ones it sends itself. Access to the bus is
// arbitrated after each SYN byte, and a telegram exchange is built from a small
// set of single-byte control characters:
//
//   - SYN (0xAA): bus idle / arbitration window
//   - ACK (0x00): correct reception
//   - NACK (0xFF): incorrect reception
//
// Payload bytes that collide with SYN or the escape prefix (0xA9) are sent as
// a two-byte escape sequence.
//
// # Telegram Layout
//
// A master telegram on the wire is:
//
//	QQ ZZ PB SB NN [DCRC] D0..Dn CRC
//
// where QQ is the source master address, ZZ the destination, PB/SB the service
// code, NN the payload length and CRC an 8-bit checksum (polynomial 0x9B) over
// the escaped bytes. A slave answering a request sends ACK followed by
//
//	NN D0..Dn CRC
//
// and the master acknowledges the reply before releasing the bus with SYN.
//
// # Driver
//
// [Driver] consumes one received byte per [Driver.Process] call and never
// blocks. Protocol-mandated responses (ACK, NACK, SYN and the bytes of the
// driver's own telegrams) are written synchronously through a [Transmitter].
// Outcomes are reported as [ProcessResult] values; bus noise and collisions are
// expected conditions and are reported as result kinds, not as errors.
//
// The Driver is NOT goroutine-safe. See package bus for a runtime that owns a
// Driver and exposes a concurrent request API.
package ebus
