package ebus

import "errors"

// Construction and validation errors.
var (
	ErrBufferOverflow  = errors.New("ebus: payload exceeds 16 bytes")
	ErrInvalidEscape   = errors.New("ebus: invalid escape sequence")
	ErrInvalidAddress  = errors.New("ebus: invalid address")
	ErrInvalidFlags    = errors.New("ebus: invalid telegram flags")
	ErrInvalidRole     = errors.New("ebus: telegram has the wrong role")
	ErrSourceMismatch  = errors.New("ebus: telegram source is not the driver address")
	ErrInvalidArgument = errors.New("ebus: invalid argument")
)

// Operational errors returned by Driver methods.
var (
	ErrBusBusy      = errors.New("ebus: bus is busy")
	ErrUnknownToken = errors.New("ebus: no pending request for token")
	ErrQueueFull    = errors.New("ebus: outbound queue is full")
)

// Bus outcome errors, see ProcessResult.Err.
var (
	// ErrTelegramCrc indicates that a received master telegram failed the CRC check.
	ErrTelegramCrc = errors.New("ebus: telegram CRC error")
	// ErrReplyCrc indicates that the reply to our own request failed the CRC check.
	ErrReplyCrc = errors.New("ebus: reply CRC error")
	// ErrMasterAck indicates that the recipient did not acknowledge our telegram.
	ErrMasterAck = errors.New("ebus: telegram not acknowledged")
	// ErrSlaveAck indicates that the master did not acknowledge our slave reply.
	ErrSlaveAck = errors.New("ebus: reply not acknowledged")
	// ErrTimeout indicates that a SYN (AUTO-SYN) ended an exchange that was still pending.
	ErrTimeout = errors.New("ebus: AUTO-SYN timeout")
	// ErrArbitrationLost indicates that the telegram could not win bus arbitration.
	ErrArbitrationLost = errors.New("ebus: arbitration lost")
)
