package ebus

// Transmitter writes raw bytes to the bus.
//
// Transmit is called synchronously from Driver methods and must not block
// beyond the time the bytes need to enter the UART. The Driver never retries
// a failed Transmit; the error is returned to the caller of the Driver method.
type Transmitter interface {
	Transmit(p []byte) error
}

// TransmitterFunc adapts a function to the Transmitter interface.
type TransmitterFunc func(p []byte) error

// Transmit calls f(p).
func (f TransmitterFunc) Transmit(p []byte) error { return f(p) }
