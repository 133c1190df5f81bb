package ebus

// State is the parse state of a Driver.
type State uint8

const (
	// StateWaitSyn ignores bytes until the next SYN.
	StateWaitSyn State = iota
	// StateReceivingHeader accumulates QQ ZZ PB SB NN. With nothing received
	// yet it also means the bus is free.
	StateReceivingHeader
	// StateReceivingData accumulates the payload and the trailing CRC.
	StateReceivingData
	// StateArbitration waits for the echo of our source address.
	StateArbitration
	// StateSending waits for the echo of our telegram to drain.
	StateSending
	// StateAwaitAck waits for the recipient's ACK/NACK of our telegram.
	StateAwaitAck
	// StateAwaitReply receives the slave reply to our request.
	StateAwaitReply
	// StateAwaitSlaveReply waits for the application to answer a request
	// addressed to our slave address.
	StateAwaitSlaveReply
	// StateAwaitReplyAck waits for the master's ACK/NACK of our slave reply.
	StateAwaitReplyAck
)

// String returns string representation of the state.
func (s State) String() string {
	switch s {
	case StateWaitSyn:
		return "wait-syn"
	case StateReceivingHeader:
		return "receiving-header"
	case StateReceivingData:
		return "receiving-data"
	case StateArbitration:
		return "arbitration"
	case StateSending:
		return "sending"
	case StateAwaitAck:
		return "await-ack"
	case StateAwaitReply:
		return "await-reply"
	case StateAwaitSlaveReply:
		return "await-slave-reply"
	case StateAwaitReplyAck:
		return "await-reply-ack"
	default:
		return "unknown"
	}
}

// isMasterExchange reports whether the state belongs to an exchange we initiated.
func (s State) isMasterExchange() bool {
	return s == StateArbitration || s == StateSending || s == StateAwaitAck || s == StateAwaitReply
}

// isSlaveExchange reports whether the state belongs to an exchange in which we answer as slave.
func (s State) isSlaveExchange() bool {
	return s == StateAwaitSlaveReply || s == StateAwaitReplyAck
}
