package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-ebus/ebus"
)

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(nil, &out))
	assert.Contains(t, out.String(), "listen")
	assert.Contains(t, out.String(), "crc")

	out.Reset()
	require.Error(t, run([]string{"bogus"}, &out))
	assert.Contains(t, out.String(), "Usage")
}

func TestRun_Crc(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "telegram", args: []string{"crc", "10 31 05 03 02 4A 7C"}, want: "0x64\n"},
		{name: "prefixed", args: []string{"crc", "0x10", "0x08", "0x07", "0x00", "0x02", "0x01", "0x02"}, want: "0xCF\n"},
		{name: "compact", args: []string{"crc", "10FE070400"}, want: "0xD2\n"},
		{name: "data polynomial", args: []string{"crc", "--data", "0F 00"}, want: "0x90\n"},
		{name: "explicit polynomial", args: []string{"crc", "--poly", "0x5C", "0F", "00"}, want: "0x90\n"},
		{name: "escaped", args: []string{"crc", "--escape", "10 31 05 03 02 AA A9"}, want: "wire: 10 31 05 03 02 A9 01 A9 00\n0x72\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, run(tt.args, &out))
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestRun_CrcErrors(t *testing.T) {
	var out bytes.Buffer
	require.Error(t, run([]string{"crc"}, &out))
	require.Error(t, run([]string{"crc", "zz"}, &out))
	require.Error(t, run([]string{"crc", "--poly", "0x100", "00"}, &out))
	require.Error(t, run([]string{"crc", "--nope"}, &out))
	require.NoError(t, run([]string{"crc", "--help"}, &out))
}

func TestParseHexBytes(t *testing.T) {
	bs, err := parseHexBytes([]string{"0xA", "0B0c", "  0d  0E "})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0A, 0x0B, 0x0C, 0x0D, 0x0E}, bs)

	bs, err = parseHexBytes([]string{""})
	require.NoError(t, err)
	assert.Empty(t, bs)

	_, err = parseHexBytes([]string{"0xZZ"})
	require.Error(t, err)
}

func TestParseSendRequest(t *testing.T) {
	req, err := parseSendRequest("0x08", "0xB509", "0d 01", false)
	require.NoError(t, err)
	assert.Equal(t, byte(0x08), req.dest)
	assert.Equal(t, uint16(0xB509), req.service)
	assert.Equal(t, []byte{0x0D, 0x01}, req.data)

	mt, err := req.telegram(0x31)
	require.NoError(t, err)
	assert.True(t, mt.Flags.ExpectReply)
	assert.Equal(t, byte(0x31), mt.Src)

	req, err = parseSendRequest("0xFE", "0x0704", "", false)
	require.NoError(t, err)
	mt, err = req.telegram(0x31)
	require.NoError(t, err)
	assert.False(t, mt.Flags.ExpectReply)
	assert.Equal(t, ebus.BroadcastAddr, mt.Dest)

	_, err = parseSendRequest("", "0x0700", "", false)
	require.Error(t, err)
	_, err = parseSendRequest("0x08", "0x10000", "", false)
	require.Error(t, err)
	_, err = parseSendRequest("0x108", "0x0700", "", false)
	require.Error(t, err)

	req, err = parseSendRequest("0x08", "0x0700", "00112233445566778899AABBCCDDEEFF", true)
	require.NoError(t, err)
	_, err = req.telegram(0x31)
	require.ErrorIs(t, err, ebus.ErrBufferOverflow)
}

func TestRun_SendValidation(t *testing.T) {
	var out bytes.Buffer
	require.Error(t, run([]string{"send"}, &out))
	require.Error(t, run([]string{"send", "--dest", "0x08", "--address", "0x15"}, &out))
}
