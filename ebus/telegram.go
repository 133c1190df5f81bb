package ebus

import (
	"fmt"
)

// headerLen is the number of envelope bytes before the payload: QQ ZZ PB SB NN.
const headerLen = 5

// maxWireLen bounds the escaped wire size of a single telegram: an unescaped QQ,
// up to 21 escapable bytes (ZZ PB SB NN DCRC and 16 payload bytes) and the CRC.
const maxWireLen = 1 + 2*(headerLen-1+1+MaxDataLen) + 2

// TelegramFlags holds the per-telegram behavior switches.
//
// Both facets are set explicitly by the sender; neither is inferred from the
// addresses or the payload.
type TelegramFlags struct {
	// ExpectReply requests a slave reply after the ACK.
	ExpectReply bool
	// NeedsDataCrc prefixes the payload with a CRC over the payload bytes
	// (polynomial DataPolynomial). The prefix is counted in NN.
	NeedsDataCrc bool
}

// String implements fmt.Stringer.
func (f TelegramFlags) String() string {
	return fmt.Sprintf("{expectReply:%t needsDataCrc:%t}", f.ExpectReply, f.NeedsDataCrc)
}

// Kind classifies a telegram by its destination.
type Kind uint8

const (
	// KindNone is the kind of the none sentinel.
	KindNone Kind = iota
	// KindBroadcast telegrams are addressed to all nodes and never acknowledged.
	KindBroadcast
	// KindMasterMaster telegrams are acknowledged but never answered.
	KindMasterMaster
	// KindMasterSlave telegrams are acknowledged and may be answered with a reply.
	KindMasterSlave
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBroadcast:
		return "broadcast"
	case KindMasterMaster:
		return "master-master"
	case KindMasterSlave:
		return "master-slave"
	default:
		return "unknown"
	}
}

// Telegram is the wire envelope of a master telegram or slave reply.
//
// The zero value is the none sentinel: it stands for "no telegram" and reports
// IsNone() == true.
type Telegram struct {
	Src  byte
	Dest byte
	// Service holds PB in the high byte and SB in the low byte, so 0xB509
	// is sent as B5 09. PB is always sent first.
	Service uint16
	Data    Buffer
	// CRC is the trailing checksum as received, or as computed by AppendWire.
	CRC   byte
	Flags TelegramFlags

	valid bool
}

// NewTelegram validates the envelope and returns a Telegram.
func NewTelegram(src, dest byte, service uint16, data []byte, flags TelegramFlags) (Telegram, error) {
	if !IsValidAddr(src) {
		return Telegram{}, fmt.Errorf("%w: source 0x%02X", ErrInvalidAddress, src)
	}
	if !IsValidAddr(dest) {
		return Telegram{}, fmt.Errorf("%w: destination 0x%02X", ErrInvalidAddress, dest)
	}

	buf, err := BufferFromSlice(data)
	if err != nil {
		return Telegram{}, err
	}

	return Telegram{
		Src:     src,
		Dest:    dest,
		Service: service,
		Data:    buf,
		Flags:   flags,
		valid:   true,
	}, nil
}

// NoneTelegram returns the none sentinel.
func NoneTelegram() Telegram { return Telegram{} }

// IsNone reports whether t is the none sentinel.
func (t Telegram) IsNone() bool { return !t.valid }

// PB returns the primary service byte.
func (t Telegram) PB() byte { return byte(t.Service >> 8) }

// SB returns the secondary service byte.
func (t Telegram) SB() byte { return byte(t.Service) }

// Kind classifies the telegram by its destination address.
func (t Telegram) Kind() Kind {
	switch {
	case !t.valid:
		return KindNone
	case t.Dest == BroadcastAddr:
		return KindBroadcast
	case IsMasterAddr(t.Dest):
		return KindMasterMaster
	default:
		return KindMasterSlave
	}
}

// String implements fmt.Stringer.
func (t Telegram) String() string {
	if !t.valid {
		return "<none>"
	}

	return fmt.Sprintf("%02X->%02X %04X [%s] crc=%02X", t.Src, t.Dest, t.Service, t.Data, t.CRC)
}

// dataLen returns NN, the payload length as it appears on the wire.
func (t Telegram) dataLen() int {
	n := t.Data.Len()
	if t.Flags.NeedsDataCrc {
		n++
	}

	return n
}

// appendPayload appends the escaped NN [DCRC] D0..Dn bytes to dst.
func (t *Telegram) appendPayload(dst []byte) []byte {
	dst = AppendEscaped(dst, byte(t.dataLen())) //nolint:gosec // bounded by MaxDataLen
	if t.Flags.NeedsDataCrc {
		dst = AppendEscaped(dst, CalcCrc(DataPolynomial, t.Data.Bytes()))
	}

	return AppendEscapedBytes(dst, t.Data.Bytes())
}

// --- Role ---

// Role tells which side of an exchange a MasterTelegram belongs to.
type Role uint8

const (
	// RoleNone is the role of the none sentinel.
	RoleNone Role = iota
	// RoleRequest is a telegram issued by a master.
	RoleRequest
	// RoleReply is a reply this node sends as a slave.
	RoleReply
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleRequest:
		return "request"
	case RoleReply:
		return "reply"
	default:
		return "none"
	}
}

// MasterTelegram is a Telegram together with the role it plays in an exchange.
//
// The envelope, its wire layout and its checksum are shared by both roles; the
// role decides which part of the envelope goes on the wire.
type MasterTelegram struct {
	Telegram

	role Role
}

// NewMasterTelegram validates a telegram issued by the master src.
//
// The source must be a master address and the destination any other valid
// address. The payload holds at most MaxDataLen bytes, one less when the data
// CRC is requested. ExpectReply is only valid towards slave addresses.
func NewMasterTelegram(src, dest byte, service uint16, data []byte, flags TelegramFlags) (MasterTelegram, error) {
	if !IsMasterAddr(src) {
		return MasterTelegram{}, fmt.Errorf("%w: source 0x%02X is not a master address", ErrInvalidAddress, src)
	}
	if dest == src {
		return MasterTelegram{}, fmt.Errorf("%w: destination equals source 0x%02X", ErrInvalidAddress, src)
	}
	if flags.NeedsDataCrc && len(data) > MaxDataLen-1 {
		return MasterTelegram{}, fmt.Errorf("%w: got %d bytes plus data CRC", ErrBufferOverflow, len(data))
	}

	t, err := NewTelegram(src, dest, service, data, flags)
	if err != nil {
		return MasterTelegram{}, err
	}
	if flags.ExpectReply && t.Kind() != KindMasterSlave {
		return MasterTelegram{}, fmt.Errorf("%w: %s telegram cannot expect a reply", ErrInvalidFlags, t.Kind())
	}

	return MasterTelegram{Telegram: t, role: RoleRequest}, nil
}

// newReceivedTelegram wraps an envelope framed off the wire.
func newReceivedTelegram(t Telegram) MasterTelegram {
	t.valid = true
	t.Flags.ExpectReply = t.Kind() == KindMasterSlave

	return MasterTelegram{Telegram: t, role: RoleRequest}
}

// Role returns the role of the telegram.
func (m MasterTelegram) Role() Role { return m.role }

// AsRequest returns the envelope if m is a master request, and the none
// sentinel and false otherwise.
func (m MasterTelegram) AsRequest() (Telegram, bool) {
	if m.role != RoleRequest || !m.valid {
		return NoneTelegram(), false
	}

	return m.Telegram, true
}

// AsReply returns the envelope if m is a slave reply, and the none sentinel
// and false otherwise.
func (m MasterTelegram) AsReply() (Telegram, bool) {
	if m.role != RoleReply || !m.valid {
		return NoneTelegram(), false
	}

	return m.Telegram, true
}

// ReplyAsSlave builds the reply a slave sends in answer to the request m.
//
// The reply travels from the request destination back to its source and
// carries the same service code.
func (m MasterTelegram) ReplyAsSlave(data []byte) (MasterTelegram, error) {
	req, ok := m.AsRequest()
	if !ok {
		return MasterTelegram{}, fmt.Errorf("%w: cannot reply to a %s", ErrInvalidRole, m.role)
	}
	if req.Kind() != KindMasterSlave {
		return MasterTelegram{}, fmt.Errorf("%w: %s telegram has no reply", ErrInvalidRole, req.Kind())
	}

	t, err := NewTelegram(req.Dest, req.Src, req.Service, data, TelegramFlags{})
	if err != nil {
		return MasterTelegram{}, err
	}

	return MasterTelegram{Telegram: t, role: RoleReply}, nil
}

// AppendWire appends the escaped wire encoding of m to dst, including the
// trailing CRC, and records the CRC in m.
//
// A request is encoded as QQ ZZ PB SB NN [DCRC] D0..Dn CRC, a reply as
// NN D0..Dn CRC. The CRC covers the escaped bytes preceding it.
func (m *MasterTelegram) AppendWire(dst []byte) []byte {
	start := len(dst)

	switch m.role {
	case RoleRequest:
		dst = append(dst, m.Src)
		dst = AppendEscaped(dst, m.Dest)
		dst = AppendEscaped(dst, m.PB())
		dst = AppendEscaped(dst, m.SB())
		dst = m.appendPayload(dst)
	case RoleReply:
		dst = m.appendPayload(dst)
	default:
		return dst
	}

	m.CRC = CalcCrc(TelegramPolynomial, dst[start:])

	return AppendEscaped(dst, m.CRC)
}

// String implements fmt.Stringer.
func (m MasterTelegram) String() string {
	return m.role.String() + " " + m.Telegram.String()
}
