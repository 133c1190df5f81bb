package ebus

import (
	"bytes"
	"fmt"
)

// MaxDataLen is the maximum number of payload bytes in a telegram or reply.
const MaxDataLen = 16

// Wire control bytes.
const (
	// SYN marks an idle bus and opens the arbitration window.
	SYN byte = 0xAA
	// ESC prefixes the escaped form of SYN and ESC inside a telegram.
	ESC byte = 0xA9
	// ACK is sent after a telegram or reply is received correctly.
	ACK byte = 0x00
	// NACK is sent after a telegram or reply failed the CRC check.
	NACK byte = 0xFF
)

// Escape codes following ESC on the wire.
const (
	escCodeESC byte = 0x00
	escCodeSYN byte = 0x01
)

// Buffer holds up to MaxDataLen payload bytes without allocating.
type Buffer struct {
	data [MaxDataLen]byte
	n    uint8
}

// BufferFromSlice copies b into a new Buffer.
// It fails with ErrBufferOverflow when len(b) > MaxDataLen; it never truncates.
func BufferFromSlice(b []byte) (Buffer, error) {
	var buf Buffer
	if len(b) > MaxDataLen {
		return buf, fmt.Errorf("%w: got %d bytes", ErrBufferOverflow, len(b))
	}
	buf.n = uint8(copy(buf.data[:], b)) //nolint:gosec // bounded by MaxDataLen

	return buf, nil
}

// MustBuffer is like BufferFromSlice but panics on error.
// It simplifies building constant payloads.
func MustBuffer(b []byte) Buffer {
	buf, err := BufferFromSlice(b)
	if err != nil {
		panic(err)
	}

	return buf
}

// Add appends b as is.
func (b *Buffer) Add(v byte) error {
	if int(b.n) >= MaxDataLen {
		return ErrBufferOverflow
	}
	b.data[b.n] = v
	b.n++

	return nil
}

// AddDecoded appends the byte encoded by the escape code that followed an ESC
// prefix on the wire.
func (b *Buffer) AddDecoded(code byte) error {
	v, err := Unescape(code)
	if err != nil {
		return err
	}

	return b.Add(v)
}

// Bytes returns the stored bytes. The slice aliases the buffer storage.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

// Len returns the number of stored bytes.
func (b *Buffer) Len() int { return int(b.n) }

// IsFull reports whether no further byte can be added.
func (b *Buffer) IsFull() bool { return int(b.n) == MaxDataLen }

// Reset empties the buffer.
func (b *Buffer) Reset() { b.n = 0 }

// Equal reports whether both buffers hold the same bytes.
func (b Buffer) Equal(other Buffer) bool {
	return bytes.Equal(b.data[:b.n], other.data[:other.n])
}

// String returns the payload in hex.
func (b Buffer) String() string { return fmt.Sprintf("% X", b.data[:b.n]) }

// --- Escape codec ---

// NeedsEscape reports whether b must be escaped on the wire.
func NeedsEscape(b byte) bool { return b == SYN || b == ESC }

// AppendEscaped appends the wire encoding of b to dst.
func AppendEscaped(dst []byte, b byte) []byte {
	switch b {
	case ESC:
		return append(dst, ESC, escCodeESC)
	case SYN:
		return append(dst, ESC, escCodeSYN)
	default:
		return append(dst, b)
	}
}

// AppendEscapedBytes appends the wire encoding of every byte of src to dst.
func AppendEscapedBytes(dst []byte, src []byte) []byte {
	for _, b := range src {
		dst = AppendEscaped(dst, b)
	}

	return dst
}

// Unescape returns the byte encoded by the escape code following ESC.
func Unescape(code byte) (byte, error) {
	switch code {
	case escCodeESC:
		return ESC, nil
	case escCodeSYN:
		return SYN, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X after 0x%02X", ErrInvalidEscape, code, ESC)
	}
}
