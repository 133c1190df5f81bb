package monitor

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/arloliu/go-ebus/bus"
	"github.com/arloliu/go-ebus/ebus"
)

// Format is the encoding of the frames sent to a client.
type Format uint8

const (
	// FormatJSON sends every frame as a JSON text message.
	FormatJSON Format = iota
	// FormatCBOR sends every frame as a CBOR binary message.
	FormatCBOR
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCBOR:
		return "cbor"
	default:
		return "unknown"
	}
}

// ParseFormat parses the value of the format query parameter.
// An empty string selects FormatJSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	default:
		return FormatJSON, fmt.Errorf("monitor: unknown frame format %q", s)
	}
}

// Hex is a byte string. It is hex text in JSON and a byte string in CBOR.
type Hex []byte

// MarshalText implements encoding.TextMarshaler.
func (h Hex) MarshalText() ([]byte, error) {
	dst := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(dst, h)

	return dst, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hex) UnmarshalText(text []byte) error {
	dst := make([]byte, hex.DecodedLen(len(text)))
	if _, err := hex.Decode(dst, text); err != nil {
		return err
	}
	*h = dst

	return nil
}

// TelegramFrame is the envelope of a telegram.
type TelegramFrame struct {
	Role    string `json:"role,omitempty" cbor:"role,omitempty"`
	Src     uint8  `json:"src" cbor:"src"`
	Dest    uint8  `json:"dest" cbor:"dest"`
	Service uint16 `json:"service" cbor:"service"`
	Data    Hex    `json:"data" cbor:"data"`
	CRC     uint8  `json:"crc" cbor:"crc"`
}

// Frame is one bus event as sent to monitor clients.
type Frame struct {
	// Type is "result" or "telegram".
	Type string `json:"type" cbor:"type"`
	// Stamp is the event time in unix milliseconds.
	Stamp int64 `json:"stamp" cbor:"stamp"`

	// Kind and Token are set for results.
	Kind  string  `json:"kind,omitempty" cbor:"kind,omitempty"`
	Token *uint64 `json:"token,omitempty" cbor:"token,omitempty"`
	// Reply is the payload of a reply result.
	Reply Hex `json:"reply,omitempty" cbor:"reply,omitempty"`

	// CrcOK is set for telegrams.
	CrcOK    *bool          `json:"crcOk,omitempty" cbor:"crcOk,omitempty"`
	Telegram *TelegramFrame `json:"telegram,omitempty" cbor:"telegram,omitempty"`
}

// NewFrame converts a bus event to a frame.
func NewFrame(ev bus.Event) Frame {
	f := Frame{
		Type:  ev.Type.String(),
		Stamp: ev.Time.UnixMilli(),
	}

	switch ev.Type {
	case bus.EventResult:
		res := ev.Result
		f.Kind = res.Kind.String()
		if res.Kind != ebus.ResultTelegramCrcError {
			seq := res.Token.Seq()
			f.Token = &seq
		}
		if data, ok := res.AsReply(); ok {
			f.Reply = Hex(data)
		}
		if !res.Telegram.IsNone() {
			f.Telegram = newTelegramFrame(res.Telegram.Telegram)
			f.Telegram.Role = res.Telegram.Role().String()
		}
	case bus.EventTelegram:
		crcOK := ev.CrcOK
		f.CrcOK = &crcOK
		f.Telegram = newTelegramFrame(ev.Telegram)
	}

	return f
}

func newTelegramFrame(t ebus.Telegram) *TelegramFrame {
	return &TelegramFrame{
		Src:     t.Src,
		Dest:    t.Dest,
		Service: t.Service,
		Data:    Hex(t.Data.Bytes()),
		CRC:     t.CRC,
	}
}

// Encode encodes f in the given format.
func (f *Frame) Encode(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.Marshal(f)
	case FormatCBOR:
		return encMode.Marshal(f)
	default:
		return nil, fmt.Errorf("monitor: unknown frame format %d", format)
	}
}

var encMode cbor.EncMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("monitor: CBOR encoder initialization failed: " + err.Error())
	}
}
