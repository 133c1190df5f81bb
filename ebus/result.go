package ebus

import "fmt"

// RequestToken correlates a request with its eventual outcome.
//
// Tokens are issued by a Driver from a monotonic sequence and are never
// reused by that Driver. Two tokens are equal iff their sequence values are.
// The zero value is a valid token (the first one issued).
type RequestToken struct {
	seq uint64
}

// Seq returns the sequence value of the token.
func (t RequestToken) Seq() uint64 { return t.seq }

// String implements fmt.Stringer.
func (t RequestToken) String() string { return fmt.Sprintf("#%d", t.seq) }

// ResultKind identifies the outcome reported by Driver.Process.
type ResultKind uint8

const (
	// ResultNone means the byte did not complete anything.
	ResultNone ResultKind = iota
	// ResultRequest reports a valid telegram addressed to this node.
	ResultRequest
	// ResultReply reports the valid reply to one of our requests.
	ResultReply
	// ResultMasterAckOk reports that our telegram (without reply) was acknowledged,
	// or that our broadcast was sent.
	ResultMasterAckOk
	// ResultMasterAckErr reports that our telegram was not acknowledged, even after the repeat.
	ResultMasterAckErr
	// ResultSlaveAckOk reports that the master acknowledged our slave reply.
	ResultSlaveAckOk
	// ResultSlaveAckErr reports that the master rejected our slave reply, even after the repeat.
	ResultSlaveAckErr
	// ResultTelegramCrcError reports a received telegram that failed the CRC check.
	ResultTelegramCrcError
	// ResultReplyCrcError reports that the reply to our request failed the CRC check twice.
	ResultReplyCrcError
	// ResultTimeout reports an exchange ended by a SYN while a reply or ACK was outstanding.
	ResultTimeout
	// ResultArbitrationLost reports a telegram dropped after too many lost
	// arbitrations or collisions.
	ResultArbitrationLost
)

// String implements fmt.Stringer.
func (k ResultKind) String() string {
	switch k {
	case ResultNone:
		return "none"
	case ResultRequest:
		return "request"
	case ResultReply:
		return "reply"
	case ResultMasterAckOk:
		return "master-ack-ok"
	case ResultMasterAckErr:
		return "master-ack-err"
	case ResultSlaveAckOk:
		return "slave-ack-ok"
	case ResultSlaveAckErr:
		return "slave-ack-err"
	case ResultTelegramCrcError:
		return "telegram-crc-error"
	case ResultReplyCrcError:
		return "reply-crc-error"
	case ResultTimeout:
		return "timeout"
	case ResultArbitrationLost:
		return "arbitration-lost"
	default:
		return "unknown"
	}
}

// ProcessResult is the one-shot outcome of a Driver.Process call.
//
// The zero value is the None result.
type ProcessResult struct {
	Kind ResultKind
	// Token identifies the exchange. It is meaningful for every kind except
	// ResultNone and ResultTelegramCrcError.
	Token RequestToken
	// Telegram is the received request for ResultRequest and
	// ResultTelegramCrcError, the request we sent for ResultReply and the
	// master-side outcomes, and the reply we sent for the slave-side outcomes.
	Telegram MasterTelegram
	// Data is the reply payload for ResultReply.
	Data Buffer
}

// IsNone reports whether the result carries no outcome.
func (r ProcessResult) IsNone() bool { return r.Kind == ResultNone }

// AsRequest returns the received telegram of a ResultRequest.
func (r ProcessResult) AsRequest() (MasterTelegram, bool) {
	if r.Kind != ResultRequest {
		return MasterTelegram{}, false
	}

	return r.Telegram, true
}

// AsReply returns the reply payload of a ResultReply.
func (r ProcessResult) AsReply() ([]byte, bool) {
	if r.Kind != ResultReply {
		return nil, false
	}

	return r.Data.Bytes(), true
}

// Err maps failure kinds to their sentinel error and returns nil otherwise.
func (r ProcessResult) Err() error {
	switch r.Kind { //nolint:exhaustive
	case ResultTelegramCrcError:
		return ErrTelegramCrc
	case ResultReplyCrcError:
		return ErrReplyCrc
	case ResultMasterAckErr:
		return ErrMasterAck
	case ResultSlaveAckErr:
		return ErrSlaveAck
	case ResultTimeout:
		return ErrTimeout
	case ResultArbitrationLost:
		return ErrArbitrationLost
	default:
		return nil
	}
}

// String implements fmt.Stringer.
func (r ProcessResult) String() string {
	switch r.Kind { //nolint:exhaustive
	case ResultNone, ResultTelegramCrcError:
		return r.Kind.String()
	case ResultReply:
		return fmt.Sprintf("%s %s [%s]", r.Kind, r.Token, r.Data)
	default:
		return fmt.Sprintf("%s %s", r.Kind, r.Token)
	}
}

func resultOf(kind ResultKind, token RequestToken, mt MasterTelegram) ProcessResult {
	return ProcessResult{Kind: kind, Token: token, Telegram: mt}
}
