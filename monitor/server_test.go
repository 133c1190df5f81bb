package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-ebus/bus"
	"github.com/arloliu/go-ebus/ebus"
)

// chanSource is a Source backed by a single channel.
type chanSource struct {
	ch chan bus.Event
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan bus.Event, 16)}
}

func (s *chanSource) Subscribe() (<-chan bus.Event, func()) {
	return s.ch, func() {}
}

func newTestServer(t *testing.T, src Source, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()

	srv, err := NewServer(context.Background(), src, opts...)
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Close()
		ts.Close()
	})

	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func telegramEvent(t *testing.T) bus.Event {
	t.Helper()

	tg, err := ebus.NewTelegram(0x10, 0x08, 0x0700, []byte{0x01, 0x02}, ebus.TelegramFlags{})
	require.NoError(t, err)
	tg.CRC = 0xCF

	return bus.Event{
		Type:     bus.EventTelegram,
		Time:     time.UnixMilli(1700000000000),
		Telegram: tg,
		CrcOK:    true,
	}
}

func TestServer_JSON(t *testing.T) {
	src := newChanSource()
	srv, ts := newTestServer(t, src)

	conn := dial(t, ts, "")
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	src.ch <- telegramEvent(t)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.JSONEq(t,
		`{"type":"telegram","stamp":1700000000000,"crcOk":true,
		  "telegram":{"src":16,"dest":8,"service":1792,"data":"0102","crc":207}}`,
		string(data))
}

func TestServer_CBOR(t *testing.T) {
	src := newChanSource()
	srv, ts := newTestServer(t, src)

	conn := dial(t, ts, "?format=cbor")
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	src.ch <- telegramEvent(t)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)

	var f Frame
	require.NoError(t, cbor.Unmarshal(data, &f))
	assert.Equal(t, "telegram", f.Type)
	require.NotNil(t, f.CrcOK)
	assert.True(t, *f.CrcOK)
	require.NotNil(t, f.Telegram)
	assert.Equal(t, uint8(0x10), f.Telegram.Src)
	assert.Equal(t, Hex{0x01, 0x02}, f.Telegram.Data)
}

func TestServer_MixedFormats(t *testing.T) {
	src := newChanSource()
	srv, ts := newTestServer(t, src)

	jsonConn := dial(t, ts, "?format=json")
	cborConn := dial(t, ts, "?format=CBOR")
	require.Eventually(t, func() bool { return srv.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	src.ch <- bus.Event{
		Type: bus.EventResult,
		Time: time.Now(),
		Result: ebus.ProcessResult{
			Kind: ebus.ResultTimeout,
		},
	}

	for _, conn := range []*websocket.Conn{jsonConn, cborConn} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, _, err := conn.ReadMessage()
		require.NoError(t, err)
	}
}

func TestServer_BadFormat(t *testing.T) {
	_, ts := newTestServer(t, newChanSource())

	resp, err := http.Get(ts.URL + "/ws?format=xml")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_NotStarted(t *testing.T) {
	srv, err := NewServer(context.Background(), newChanSource())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, srv.Close())
}

func TestServer_StartTwice(t *testing.T) {
	srv, _ := newTestServer(t, newChanSource())
	require.ErrorIs(t, srv.Start(), ErrServerStarted)
}

func TestServer_ClientDisconnect(t *testing.T) {
	src := newChanSource()
	srv, ts := newTestServer(t, src)

	conn := dial(t, ts, "")
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return srv.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServer_CloseDisconnectsClients(t *testing.T) {
	src := newChanSource()
	srv, ts := newTestServer(t, src)

	conn := dial(t, ts, "")
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Close())
	assert.Zero(t, srv.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestServer_Ping(t *testing.T) {
	src := newChanSource()
	srv, ts := newTestServer(t, src, WithPingInterval(10*time.Millisecond))

	conn := dial(t, ts, "")
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}

		return nil
	})

	// control frames are handled while reading
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(time.Second):
		require.FailNow(t, "no ping received")
	}
}

func TestNewServer_Options(t *testing.T) {
	src := newChanSource()

	for _, opt := range []Option{
		WithPingInterval(0),
		WithWriteTimeout(-time.Second),
		WithClientBuffer(0),
		WithLogger(nil),
	} {
		_, err := NewServer(context.Background(), src, opt)
		require.Error(t, err)
	}

	_, err := NewServer(context.Background(), nil)
	require.Error(t, err)
}

func TestNewFrame_Result(t *testing.T) {
	mt, err := ebus.NewMasterTelegram(0x10, 0x08, 0x0700, nil, ebus.TelegramFlags{ExpectReply: true})
	require.NoError(t, err)

	ev := bus.Event{
		Type: bus.EventResult,
		Time: time.UnixMilli(42),
		Result: ebus.ProcessResult{
			Kind:     ebus.ResultReply,
			Telegram: mt,
			Data:     ebus.MustBuffer([]byte{0xAB, 0xCD}),
		},
	}

	f := NewFrame(ev)
	assert.Equal(t, "result", f.Type)
	assert.Equal(t, int64(42), f.Stamp)
	assert.Equal(t, "reply", f.Kind)
	require.NotNil(t, f.Token)
	assert.Equal(t, Hex{0xAB, 0xCD}, f.Reply)
	require.NotNil(t, f.Telegram)
	assert.Equal(t, "request", f.Telegram.Role)
	assert.Nil(t, f.CrcOK)

	data, err := f.Encode(FormatJSON)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "abcd", decoded["reply"])
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("cbor")
	require.NoError(t, err)
	assert.Equal(t, FormatCBOR, f)
	assert.Equal(t, "cbor", f.String())

	_, err = ParseFormat("msgpack")
	require.Error(t, err)
}
