package ebus

// CRC polynomials used on the bus.
const (
	// TelegramPolynomial protects telegrams and replies.
	TelegramPolynomial byte = 0x9B
	// DataPolynomial protects the payload of telegrams flagged with NeedsDataCrc.
	DataPolynomial byte = 0x5C
)

const crcInit byte = 0x00

// Crc is an 8-bit CRC accumulator.
//
// Crc is a value type: Add returns the updated accumulator and leaves the
// receiver untouched, so a checksum can be forked or rolled back for free.
type Crc struct {
	value byte
	poly  byte
}

// NewCrc returns a cleared accumulator for the given generator polynomial.
func NewCrc(poly byte) Crc {
	return Crc{value: crcInit, poly: poly}
}

// Add shifts one byte, MSB first, into the accumulator.
func (c Crc) Add(b byte) Crc {
	for range 8 {
		var poly byte
		if c.value&0x80 != 0 {
			poly = c.poly
		}

		c.value <<= 1
		if b&0x80 != 0 {
			c.value |= 1
		}
		c.value ^= poly
		b <<= 1
	}

	return c
}

// AddMultiple folds Add over bs.
func (c Crc) AddMultiple(bs []byte) Crc {
	for _, b := range bs {
		c = c.Add(b)
	}

	return c
}

// Value returns the checksum of the bytes added so far.
func (c Crc) Value() byte { return c.value }

// Polynomial returns the generator polynomial.
func (c Crc) Polynomial() byte { return c.poly }

// Reset returns a cleared accumulator with the same polynomial.
func (c Crc) Reset() Crc { return NewCrc(c.poly) }

// CalcCrc returns the checksum of the concatenation of spans.
func CalcCrc(poly byte, spans ...[]byte) byte {
	c := NewCrc(poly)
	for _, span := range spans {
		c = c.AddMultiple(span)
	}

	return c.Value()
}
